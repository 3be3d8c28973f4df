package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 30 * time.Second, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	assert.WithinDuration(t, time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC), s.nextTick(now), 0)

	onBoundary := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	assert.WithinDuration(t, onBoundary.Add(30*time.Second), s.nextTick(onBoundary), 0, "boundary should advance a full interval")
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)

	assert.WithinDuration(t, now.Add(time.Minute), s.nextTick(now), 0)
	assert.WithinDuration(t, now, s.bucketStart(now), 0, "unaligned bucket should be the tick itself")
}

func TestRunInvokesTickUntilCancelled(t *testing.T) {
	s := New(Options{Name: "test", Interval: 10 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, at time.Time) error {
			if calls.Add(1) >= 3 {
				cancel()
			}
			return errors.New("tick errors are logged, not fatal")
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestRunHonoursStartupDelayCancel(t *testing.T) {
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx, func(context.Context, time.Time) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
