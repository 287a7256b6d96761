// Package progress aggregates transfer progress reported by concurrent
// sub-transfers into one loaded/total/speed stream.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/stefando/resumableupload/internal/errs"
	"github.com/stefando/resumableupload/internal/timer"
)

// DefaultInterval is the watch interval used when none is given.
const DefaultInterval = time.Second

// Sample is one progress report from a sub-transfer.
type Sample struct {
	Loaded int64
	Total  int64
}

// Event is the aggregate emitted to watchers on every tick.
type Event struct {
	Loaded     int64
	Total      int64
	Duration   time.Duration
	Speed      float64 // bytes per second
	SpeedLabel string
}

// Handler receives aggregate events.
type Handler func(Event)

type slot struct {
	Sample
	// spied is false for entries registered through Remember
	spied bool
}

// Aggregator combines per-slot samples. Each Spy call opens a slot for one
// concurrent sub-transfer; Remember records a finished one without a spy.
type Aggregator struct {
	mu        sync.Mutex
	slots     []slot
	timer     *timer.Timer
	ownTimer  bool
	watching  []timer.ID
	last      int64
	destroyed bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTimer shares an existing timer instead of creating one.
func WithTimer(t *timer.Timer) Option {
	return func(a *Aggregator) {
		if t != nil {
			a.timer = t
			a.ownTimer = false
		}
	}
}

// New creates an empty aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		timer:    timer.New(),
		ownTimer: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Remember registers the final numbers of a sub-transfer that needs no spy,
// for example a chunk served from cache.
func (a *Aggregator) Remember(loaded, total int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.slots = append(a.slots, slot{Sample: Sample{Loaded: loaded, Total: total}})
}

// Spy opens a new slot and returns the callback that feeds it.
// Calls after Destroy are ignored.
func (a *Aggregator) Spy() func(Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return func(Sample) {}
	}
	index := len(a.slots)
	a.slots = append(a.slots, slot{spied: true})

	return func(s Sample) {
		a.mu.Lock()
		defer a.mu.Unlock()

		if a.destroyed || index >= len(a.slots) {
			return
		}
		a.slots[index].Sample = s
	}
}

// Snapshot sums every slot.
func (a *Aggregator) Snapshot() Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sumLocked()
}

func (a *Aggregator) sumLocked() Sample {
	return Sample{
		Loaded: lo.SumBy(a.slots, func(s slot) int64 { return s.Loaded }),
		Total:  lo.SumBy(a.slots, func(s slot) int64 { return s.Total }),
	}
}

// Watch calls handler every interval with the aggregate. interval must be at
// least timer.MinInterval; zero selects DefaultInterval.
func (a *Aggregator) Watch(handler Handler, interval time.Duration) (timer.ID, error) {
	if handler == nil {
		return 0, errs.Validation("handler", "handler is nil")
	}
	if interval == 0 {
		interval = DefaultInterval
	}

	a.mu.Lock()
	destroyed := a.destroyed
	a.mu.Unlock()
	if destroyed {
		return 0, errs.ErrUseAfterDestroy
	}

	id, err := a.timer.Add(func(elapsed time.Duration) {
		handler(a.Measure(elapsed))
	}, interval)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	a.watching = append(a.watching, id)
	a.mu.Unlock()

	if err := a.timer.Play(); err != nil {
		return 0, err
	}
	return id, nil
}

// Measure computes an event for a tick that came elapsed after the previous
// one. Speed is the loaded delta since the previous measure divided by elapsed.
func (a *Aggregator) Measure(elapsed time.Duration) Event {
	a.mu.Lock()
	sum := a.sumLocked()
	delta := sum.Loaded - a.last
	a.last = sum.Loaded
	a.mu.Unlock()

	var speed float64
	if elapsed > 0 {
		speed = float64(delta) / elapsed.Seconds()
	}

	return Event{
		Loaded:     sum.Loaded,
		Total:      sum.Total,
		Duration:   elapsed,
		Speed:      speed,
		SpeedLabel: SpeedLabel(speed),
	}
}

// Timer returns the timer driving Watch.
func (a *Aggregator) Timer() *timer.Timer {
	return a.timer
}

// Destroy detaches every slot and stops watching.
func (a *Aggregator) Destroy() {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.destroyed = true
	a.slots = nil
	watching := a.watching
	a.watching = nil
	a.mu.Unlock()

	if a.ownTimer {
		a.timer.Destroy()
		return
	}
	for _, id := range watching {
		a.timer.Remove(id)
	}
}

// SpeedLabel renders a bytes-per-second figure, e.g. "1.5 MiB/s".
func SpeedLabel(speed float64) string {
	if speed < 0 {
		return fmt.Sprintf("-%s/s", humanize.IBytes(uint64(-speed)))
	}
	return fmt.Sprintf("%s/s", humanize.IBytes(uint64(speed)))
}
