// Package interceptor runs an ordered pipeline of transforms over one payload.
package interceptor

import (
	"context"
	"sync"
)

// Func transforms a payload. The output of one stage is the input of the next.
type Func[T any] func(ctx context.Context, v T) (T, error)

// Interceptor is an append-only list of stages applied as a waterfall.
type Interceptor[T any] struct {
	mu     sync.RWMutex
	stages []Func[T]
}

// New creates an empty pipeline.
func New[T any]() *Interceptor[T] {
	return &Interceptor[T]{}
}

// Use appends a stage.
func (i *Interceptor[T]) Use(fn Func[T]) {
	if fn == nil {
		return
	}
	i.mu.Lock()
	i.stages = append(i.stages, fn)
	i.mu.Unlock()
}

// Len returns the number of stages.
func (i *Interceptor[T]) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.stages)
}

// Run applies every stage left to right. An empty pipeline returns v unchanged.
// The first failing stage stops the pipeline.
func (i *Interceptor[T]) Run(ctx context.Context, v T) (T, error) {
	i.mu.RLock()
	stages := make([]Func[T], len(i.stages))
	copy(stages, i.stages)
	i.mu.RUnlock()

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return v, err
		}

		next, err := stage(ctx, v)
		if err != nil {
			return v, err
		}
		v = next
	}

	return v, nil
}
