package async_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/pkg/async"
)

func TestPoolExecute(t *testing.T) {
	t.Run("collects every result by name", func(t *testing.T) {
		pool := async.NewPool(2)
		tasks := []async.Task{
			{Name: "one", Run: func(ctx context.Context) (any, error) { return 1, nil }},
			{Name: "two", Run: func(ctx context.Context) (any, error) { return 2, nil }},
			{Name: "three", Run: func(ctx context.Context) (any, error) { return 3, nil }},
		}

		results := pool.Execute(context.Background(), tasks)

		require.Len(t, results, 3)
		assert.Equal(t, 1, results["one"].Data)
		assert.Equal(t, 3, results["three"].Data)
		assert.NoError(t, async.FirstError(tasks, results))
	})

	t.Run("pool can be reused", func(t *testing.T) {
		pool := async.NewPool(3)
		var calls atomic.Int32
		task := async.Task{Name: "count", Run: func(ctx context.Context) (any, error) {
			calls.Add(1)
			return nil, nil
		}}

		pool.Execute(context.Background(), []async.Task{task})
		pool.Execute(context.Background(), []async.Task{task})

		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("reports errors and panics", func(t *testing.T) {
		pool := async.NewPool(2)
		boom := errors.New("boom")
		tasks := []async.Task{
			{Name: "ok", Run: func(ctx context.Context) (any, error) { return "fine", nil }},
			{Name: "fails", Run: func(ctx context.Context) (any, error) { return nil, boom }},
			{Name: "panics", Run: func(ctx context.Context) (any, error) { panic("bad") }},
		}

		results := pool.Execute(context.Background(), tasks)

		assert.ErrorIs(t, results["fails"].Err, boom)
		assert.ErrorContains(t, results["panics"].Err, "panicked")
		assert.ErrorIs(t, async.FirstError(tasks, results), boom)
	})

	t.Run("cancelled context skips tasks", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results := async.NewPool(1).Execute(ctx, []async.Task{
			{Name: "skipped", Run: func(ctx context.Context) (any, error) { return "ran", nil }},
		})

		assert.ErrorIs(t, results["skipped"].Err, context.Canceled)
	})
}
