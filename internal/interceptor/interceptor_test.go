package interceptor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterceptor_Empty(t *testing.T) {
	req := require.New(t)
	i := New[int]()

	out, err := i.Run(context.Background(), 7)
	req.NoError(err)
	req.Equal(7, out)
}

func TestInterceptor_Waterfall(t *testing.T) {
	req := require.New(t)
	i := New[[]string]()

	i.Use(func(_ context.Context, v []string) ([]string, error) {
		return append(v, "a"), nil
	})
	i.Use(func(_ context.Context, v []string) ([]string, error) {
		return append(v, "b"), nil
	})
	i.Use(nil)
	req.Equal(2, i.Len())

	out, err := i.Run(context.Background(), []string{"in"})
	req.NoError(err)
	req.Equal([]string{"in", "a", "b"}, out)
}

func TestInterceptor_StageError(t *testing.T) {
	req := require.New(t)
	i := New[int]()
	boom := errors.New("boom")

	reached := false
	i.Use(func(_ context.Context, v int) (int, error) { return v + 1, nil })
	i.Use(func(_ context.Context, v int) (int, error) { return 0, boom })
	i.Use(func(_ context.Context, v int) (int, error) {
		reached = true
		return v, nil
	})

	_, err := i.Run(context.Background(), 1)
	req.ErrorIs(err, boom)
	req.False(reached)
}

func TestInterceptor_CancelledContext(t *testing.T) {
	req := require.New(t)
	i := New[int]()
	i.Use(func(_ context.Context, v int) (int, error) { return v * 2, nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := i.Run(ctx, 1)
	req.ErrorIs(err, context.Canceled)
}
