package watch

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/coldvault/vaultengine/internal/filter"
)

// FsWatcher abstracts fsnotify's *fsnotify.Watcher, the idiom used
// throughout the pack to keep tests free of real inotify/kqueue/
// ReadDirectoryChangesW handles.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (f *fsnotifyWrapper) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWrapper) Remove(name string) error      { return f.w.Remove(name) }
func (f *fsnotifyWrapper) Close() error                  { return f.w.Close() }
func (f *fsnotifyWrapper) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWrapper) Errors() <-chan error          { return f.w.Errors }

// Monitor watches one backup root's directory tree, feeding touches into
// its Tree via a Greylist, and arming a Scheduler. Grounded on
// UploadManager::handleChangeNotification: the change source here is
// fsnotify rather than inotify/FSEvents/ReadDirectoryChangesW directly,
// but the coalescing and touch-forwarding logic is the same.
type Monitor struct {
	root      string
	tree      *Tree
	filt      *filter.Filter
	greylist  *Greylist
	scheduler *Scheduler
	watcher   FsWatcher
}

// coalescesByDefault reports whether this OS should grey-list-coalesce
// change events: macOS and Windows coalesce, Linux does not.
func coalescesByDefault() bool {
	return runtime.GOOS == "darwin" || runtime.GOOS == "windows"
}

// NewMonitor creates a Monitor for root, recursively watching every
// existing subdirectory. filt may be nil, in which case every touch is
// admitted.
func NewMonitor(root string, tree *Tree, filt *filter.Filter, scheduler *Scheduler) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create filesystem watcher")
	}

	m := &Monitor{
		root:      root,
		tree:      tree,
		filt:      filt,
		greylist:  NewGreylist(coalescesByDefault()),
		scheduler: scheduler,
		watcher:   &fsnotifyWrapper{w: w},
	}

	if err := m.addTreeRecursive(root); err != nil {
		w.Close() //nolint:errcheck

		return nil, err
	}

	return m, nil
}

func (m *Monitor) addTreeRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort: skip unreadable subtrees
		}

		if d.IsDir() {
			if addErr := m.watcher.Add(path); addErr != nil {
				return nil //nolint:nilerr
			}
		}

		return nil
	})
}

// Run drains the watcher's event and error channels until ctx is
// cancelled, converting each event into a touch on the tree (via the
// grey list) and a scheduler notification.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.watcher.Close() //nolint:errcheck

			return

		case ev, ok := <-m.watcher.Events():
			if !ok {
				return
			}

			m.handleEvent(ctx, ev)

		case err, ok := <-m.watcher.Errors():
			if !ok {
				return
			}

			log(ctx).Warnw("filesystem watcher error", "error", err)
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	// A newly created directory needs its own watch so descendants are seen.
	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := m.watcher.Add(ev.Name); err != nil {
				log(ctx).Debugw("failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
	}

	if m.greylist.Notify(m.root, ev.Name) {
		m.touchFiltered(ctx, ev.Name)
	}

	m.scheduler.NotifyChange()
}

// touchFiltered forwards path to the tree only if the configured filter
// still admits it; a touch the filter rejects is logged and dropped
// rather than silently queued for a scan that would just re-reject it.
func (m *Monitor) touchFiltered(ctx context.Context, path string) {
	if m.filt != nil && !m.filt.Admit(path, filepath.Base(path), "") {
		log(ctx).Debugw("dropping touch outside filter", "path", path)
		return
	}

	m.tree.TouchPath(path)
}

// SweepGreylist re-touches any grey-list entry older than GreylistMaxAge.
// The engine's CDP goroutine should call this every GreylistSweepInterval.
func (m *Monitor) SweepGreylist(ctx context.Context) {
	expired := m.greylist.Sweep()
	for _, e := range expired {
		m.touchFiltered(ctx, e.FileName)
	}

	if len(expired) > 0 {
		m.scheduler.NotifyChange()
	}
}
