package walker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatusSlotsStartIdle(t *testing.T) {
	slots := newStatusSlots(3)
	require.Len(t, slots, 3)

	for i, s := range slots {
		assert.Equal(t, i, s.status.WorkerID)
		assert.Equal(t, WorkerIdle, s.status.State)
	}
}

func TestWalkerStatusReflectsSetStatus(t *testing.T) {
	w := &Walker{statuses: newStatusSlots(2)}

	w.setStatus(0, WorkerScanning, "/a/b", 0)
	w.setStatus(1, WorkerUploading, "/a/b/c.bin", 4096)

	got := w.Status()

	assert.Equal(t, ProcessorStatus{WorkerID: 0, State: WorkerScanning, Path: "/a/b"}, got[0])
	assert.Equal(t, ProcessorStatus{WorkerID: 1, State: WorkerUploading, Path: "/a/b/c.bin", BytesDone: 4096}, got[1])
}

func TestWorkerStateString(t *testing.T) {
	assert.Equal(t, "idle", WorkerIdle.String())
	assert.Equal(t, "scanning", WorkerScanning.String())
	assert.Equal(t, "uploading", WorkerUploading.String())
}
