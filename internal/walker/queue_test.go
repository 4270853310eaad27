package walker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePopsDeepestFirst(t *testing.T) {
	q := newWorkQueue()

	q.push(1, 2, PhaseScan)
	q.push(2, 5, PhaseScan)
	q.push(3, 3, PhaseUpload)

	item, ok := q.popDeepest()
	require.True(t, ok)
	assert.Equal(t, 2, item.node)
	assert.Equal(t, 5, item.depth)

	item, ok = q.popDeepest()
	require.True(t, ok)
	assert.Equal(t, 3, item.node)

	item, ok = q.popDeepest()
	require.True(t, ok)
	assert.Equal(t, 1, item.node)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newWorkQueue()

	done := make(chan workItem, 1)

	go func() {
		item, ok := q.popDeepest()
		if ok {
			done <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)

	select {
	case <-done:
		t.Fatal("popDeepest returned before any item was pushed")
	default:
	}

	q.push(7, 1, PhaseUpload)

	select {
	case item := <-done:
		assert.Equal(t, 7, item.node)
	case <-time.After(time.Second):
		t.Fatal("popDeepest never woke after push")
	}
}

func TestQueueCloseWakesBlockedPoppers(t *testing.T) {
	q := newWorkQueue()

	results := make(chan bool, 4)

	for i := 0; i < 4; i++ {
		go func() {
			_, ok := q.popDeepest()
			results <- ok
		}()
	}

	time.Sleep(10 * time.Millisecond)
	q.close()

	for i := 0; i < 4; i++ {
		select {
		case ok := <-results:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("a popDeepest call never returned after close")
		}
	}
}

func TestQueueCloseDrainsRemainingItemsBeforeReturningFalse(t *testing.T) {
	q := newWorkQueue()

	q.push(1, 1, PhaseScan)
	q.close()

	item, ok := q.popDeepest()
	require.True(t, ok)
	assert.Equal(t, 1, item.node)

	_, ok = q.popDeepest()
	assert.False(t, ok)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "SCAN", PhaseScan.String())
	assert.Equal(t, "UPLOAD", PhaseUpload.String())
}
