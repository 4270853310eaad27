package watch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerFiresAfterInitialDeadline(t *testing.T) {
	var started int32

	s := NewScheduler(func(ctx context.Context) bool {
		atomic.AddInt32(&started, 1)
		return true
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)

	s.NotifyChange()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&started) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerRetriesWhenBusy(t *testing.T) {
	var attempts int32

	s := NewScheduler(func(ctx context.Context) bool {
		n := atomic.AddInt32(&attempts, 1)
		return n >= 2
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)

	s.NotifyChange()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) >= 2
	}, 8*time.Second, 10*time.Millisecond)
}

func TestSchedulerCoalescesMultipleNotifies(t *testing.T) {
	var started int32

	s := NewScheduler(func(ctx context.Context) bool {
		atomic.AddInt32(&started, 1)
		return true
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)

	for i := 0; i < 10; i++ {
		s.NotifyChange()
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&started) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(1300 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&started))
}
