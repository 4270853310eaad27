package walker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/coldvault/vaultengine/internal/filter"
	"github.com/coldvault/vaultengine/internal/fsident"
	"github.com/coldvault/vaultengine/internal/metacache"
	"github.com/coldvault/vaultengine/internal/objclient"
	"github.com/coldvault/vaultengine/internal/objfmt"
	"github.com/coldvault/vaultengine/internal/vaulterr"
	"github.com/coldvault/vaultengine/internal/vlog"
)

var log = vlog.GetContextLoggerFunc("walker")

// PartialPublishInterval bounds how often an in-progress run re-publishes
// ancestor directories as partial snapshots.
const PartialPublishInterval = 60 * time.Second

// CDPChecker lets the walker consult the CDP watch tree's queued flag for
// the cache-shortcut decision in SCAN. A nil CDPChecker skips that check
// entirely, so the shortcut depends only on the cache's unchanged verdict
// - the behavior a CDP-less one-shot backup run needs, since there is no
// watch tree to report a path as freshly touched.
type CDPChecker interface {
	IsQueued(path string) bool
}

// PartialObserver is notified whenever the walker publishes a partial
// snapshot object for a non-root ancestor.
type PartialObserver interface {
	OnPartialSnapshot(path string, hash objfmt.ObjSeq, treesize uint64)
}

// Result is the outcome of walking one backup root to completion.
type Result struct {
	RootHash      objfmt.ObjSeq
	TreeSize      uint64
	OwnerUser     string
	OwnerGroup    string
	FilesWalked   int64
	BytesUploaded int64
}

// Walker drives one backup root's parallel SCAN/UPLOAD run.
type Walker struct {
	root     string
	cache    *metacache.Store
	client   *objclient.Client
	filt     *filter.Filter
	cdp      CDPChecker
	observer PartialObserver
	workers  int

	arena     *arena
	queue     *workQueue
	cancelled atomic.Bool
	statuses  []*statusSlot

	lastPublish atomic.Int64 // unix nano

	filesWalked   atomic.Int64
	bytesUploaded atomic.Int64

	errOnce  sync.Once
	firstErr error
}

// New constructs a Walker for one backup root.
func New(root string, cache *metacache.Store, client *objclient.Client, filt *filter.Filter, workers int) *Walker {
	if workers <= 0 {
		workers = 2
	}

	return &Walker{
		root:     root,
		cache:    cache,
		client:   client,
		filt:     filt,
		workers:  workers,
		arena:    newArena(),
		queue:    newWorkQueue(),
		statuses: newStatusSlots(workers),
	}
}

// SetCDPChecker wires the watch tree so SCAN can take the cache shortcut.
func (w *Walker) SetCDPChecker(c CDPChecker) { w.cdp = c }

// SetPartialObserver wires a callback invoked whenever a partial
// snapshot is published mid-run.
func (w *Walker) SetPartialObserver(o PartialObserver) { w.observer = o }

// Cancel sets the atomic cancellation flag consulted by every SCAN,
// UPLOAD, and retry loop, then closes the work queue so every blocked
// worker wakes and exits instead of waiting on children that will never
// report complete.
func (w *Walker) Cancel() {
	w.cancelled.Store(true)
	w.queue.close()
}

func (w *Walker) isCancelled() bool { return w.cancelled.Load() }

// Run walks w.root to completion, returning the final root objseq and
// treesize. It blocks until every worker has drained the queue.
func (w *Walker) Run(ctx context.Context) (Result, error) {
	info, err := fsident.Lstat(w.root)
	if err != nil {
		return Result{}, errors.Wrap(err, "stat backup root")
	}

	rootIdx := w.arena.alloc(&dirstate{
		name:     filepath.Base(w.root),
		path:     w.root,
		depth:    0,
		parent:   noParent,
		identity: info.Identity,
	})

	w.queue.push(rootIdx, 0, PhaseScan)

	g, gctx := errgroup.WithContext(ctx)

	stopWatcher := make(chan struct{})
	defer close(stopWatcher)

	go func() {
		select {
		case <-gctx.Done():
			w.Cancel()
		case <-stopWatcher:
		}
	}()

	for i := 0; i < w.workers; i++ {
		workerID := i

		g.Go(func() error {
			return w.workerLoop(gctx, workerID)
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	root := w.arena.get(rootIdx)
	root.mu.Lock()
	defer root.mu.Unlock()

	if !root.done {
		if w.isCancelled() {
			return Result{}, vaulterr.ErrCancelled
		}

		return Result{}, errors.New("walker: root directory never completed UPLOAD")
	}

	return Result{
		RootHash:      root.rootHash,
		TreeSize:      root.rootTreeSize,
		OwnerUser:     root.owner,
		OwnerGroup:    root.group,
		FilesWalked:   w.filesWalked.Load(),
		BytesUploaded: w.bytesUploaded.Load(),
	}, w.loadErr()
}

func (w *Walker) workerLoop(ctx context.Context, workerID int) error {
	defer w.setStatus(workerID, WorkerIdle, "", 0)

	for {
		w.setStatus(workerID, WorkerIdle, "", 0)

		item, ok := w.queue.popDeepest()
		if !ok {
			return w.loadErr()
		}

		if w.isCancelled() {
			continue // drain without executing once cancelled
		}

		path := w.arena.get(item.node).path

		var err error

		switch item.phase {
		case PhaseScan:
			w.setStatus(workerID, WorkerScanning, path, 0)
			err = w.scan(ctx, item.node, item.depth)
		case PhaseUpload:
			w.setStatus(workerID, WorkerUploading, path, 0)
			err = w.upload(ctx, workerID, item.node, item.depth)
		}

		if err != nil {
			w.recordErr(err)
			w.queue.close()

			return err
		}
	}
}

func (w *Walker) recordErr(err error) {
	w.errOnce.Do(func() {
		w.firstErr = err
	})
}

func (w *Walker) loadErr() error {
	if w.firstErr != nil {
		return w.firstErr
	}

	return nil
}

// listDir reads dir's immediate children, returning their absolute paths
// and identities, skipping entries the filesystem itself refuses to
// stat (logged and treated as ErrFilesystem, never fatal to the run).
func (w *Walker) listDir(ctx context.Context, dir string) ([]fsident.Info, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read directory %s", dir)
	}

	infos := make([]fsident.Info, 0, len(entries))
	paths := make([]string, 0, len(entries))

	for _, e := range entries {
		abs := filepath.Join(dir, e.Name())

		info, err := fsident.Lstat(abs)
		if err != nil {
			log(ctx).Warnw("skipping unreadable entry", "path", abs, "error", err)
			continue
		}

		info.Name = e.Name()
		infos = append(infos, info)
		paths = append(paths, abs)
	}

	return infos, paths, nil
}
