package watch

import (
	"context"
	"sync"
	"time"

	"github.com/coldvault/vaultengine/internal/vlog"
)

var log = vlog.GetContextLoggerFunc("watch")

// InitialDeadline is the delay from the first coalesced change to the
// scheduler attempting a backup start.
const InitialDeadline = time.Second

// RetryDeadline is the delay the scheduler reschedules to when a start
// attempt reports the engine already busy.
const RetryDeadline = 5 * time.Second

// StartFunc attempts to start a backup for whatever roots have touched
// state. Returning false means "busy, try again later" (mirrors
// startUploadTouchedRoots's bool return in upload.cc).
type StartFunc func(ctx context.Context) (started bool)

// Scheduler is the dedicated backup-trigger goroutine described in spec
// §4.5: it sleeps on a deadline, and when the deadline elapses with
// pending touches, calls StartFunc.
type Scheduler struct {
	mu       sync.Mutex
	deadline time.Time
	pending  bool

	start StartFunc
	now   func() time.Time

	wake chan struct{}
}

// NewScheduler constructs a Scheduler that calls start when its deadline
// fires.
func NewScheduler(start StartFunc) *Scheduler {
	return &Scheduler{start: start, now: time.Now, wake: make(chan struct{}, 1)}
}

// NotifyChange arms the deadline at now+InitialDeadline if it isn't
// already set, mirroring Scheduler::notifyChange.
func (s *Scheduler) NotifyChange() {
	s.mu.Lock()
	armed := s.pending
	if !armed {
		s.pending = true
		s.deadline = s.now().Add(InitialDeadline)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run blocks, driving the scheduler loop until ctx is cancelled. On
// deadline elapse, it calls start; if start returns false (busy), the
// deadline reschedules to RetryDeadline instead of clearing.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if s.pending {
			wait = time.Until(s.deadline)
		} else {
			wait = time.Hour
		}
		s.mu.Unlock()

		if wait < 0 {
			wait = 0
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	if !pending {
		return
	}

	if s.start(ctx) {
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()

		return
	}

	log(ctx).Debugw("backup start reported busy, rescheduling", "delay", RetryDeadline)

	s.mu.Lock()
	s.deadline = s.now().Add(RetryDeadline)
	s.mu.Unlock()
}
