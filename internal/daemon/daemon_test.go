package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery(t *testing.T) {
	t.Run("rejects sub-second intervals", func(t *testing.T) {
		_, err := Every(context.Background(), 500*time.Millisecond, "fast", func(context.Context) {})
		require.ErrorIs(t, err, ErrInvalidInterval)
	})

	t.Run("requires a function", func(t *testing.T) {
		_, err := Every(context.Background(), time.Second, "nil", nil)
		require.Error(t, err)
	})

	t.Run("runs until stopped", func(t *testing.T) {
		var calls atomic.Int32
		stop, err := Every(context.Background(), time.Second, "tick", func(context.Context) {
			calls.Add(1)
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
		stop()
		seen := calls.Load()
		time.Sleep(1500 * time.Millisecond)
		assert.Equal(t, seen, calls.Load())
	})

	t.Run("stops with its context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var calls atomic.Int32
		stop, err := Every(ctx, time.Second, "ctx", func(ctx context.Context) {
			calls.Add(1)
		})
		require.NoError(t, err)
		cancel()
		stop()
		time.Sleep(1500 * time.Millisecond)
		assert.Zero(t, calls.Load())
	})
}
