package walker

import "sync"

// WorkerState is one worker goroutine's current activity, mirroring the
// states threadstatus_t tracks in upload.cc.
type WorkerState int

const (
	WorkerIdle WorkerState = iota
	WorkerScanning
	WorkerUploading
)

func (s WorkerState) String() string {
	switch s {
	case WorkerScanning:
		return "scanning"
	case WorkerUploading:
		return "uploading"
	default:
		return "idle"
	}
}

// ProcessorStatus is one worker's current activity snapshot: which
// directory it's processing, in which phase, and how many bytes of the
// current file it has uploaded so far. Grounded on upload.cc's
// threadstatus_t, which a status display polls directly.
type ProcessorStatus struct {
	WorkerID  int
	State     WorkerState
	Path      string
	BytesDone uint64
}

// statusSlot holds one worker's latest ProcessorStatus behind its own
// mutex, so a status poll never contends with another worker's update.
type statusSlot struct {
	mu     sync.Mutex
	status ProcessorStatus
}

func newStatusSlots(workers int) []*statusSlot {
	slots := make([]*statusSlot, workers)
	for i := range slots {
		slots[i] = &statusSlot{status: ProcessorStatus{WorkerID: i, State: WorkerIdle}}
	}

	return slots
}

func (w *Walker) setStatus(workerID int, state WorkerState, path string, bytesDone uint64) {
	slot := w.statuses[workerID]

	slot.mu.Lock()
	slot.status = ProcessorStatus{WorkerID: workerID, State: state, Path: path, BytesDone: bytesDone}
	slot.mu.Unlock()
}

// Status returns a snapshot of every worker's current activity, safe to
// call concurrently with a run in progress.
func (w *Walker) Status() []ProcessorStatus {
	out := make([]ProcessorStatus, len(w.statuses))

	for i, slot := range w.statuses {
		slot.mu.Lock()
		out[i] = slot.status
		slot.mu.Unlock()
	}

	return out
}
