package walker

import (
	"context"

	"github.com/coldvault/vaultengine/internal/fsident"
	"github.com/coldvault/vaultengine/internal/objfmt"
)

// scan implements the SCAN half of the per-directory state machine,
// grounded on Upload::dirstate_t::process_scan in upload.cc.
//
// It lists idx's directory entries. Each subdirectory the filter admits
// becomes a child dirstate; if the cache reports that child's identity is
// unchanged and the CDP tree does not have it queued, the child is
// resolved directly from the cache without a scan/upload of its own (the
// cache-shortcut path). Otherwise the child is counted as pending and its
// own SCAN is enqueued at child-depth.
//
// If every child resolved via the shortcut, SCAN falls straight through to
// scheduling this directory's own UPLOAD; otherwise UPLOAD waits until
// every pending child reports complete.
func (w *Walker) scan(ctx context.Context, idx, depth int) error {
	if w.isCancelled() {
		return nil
	}

	d := w.arena.get(idx)

	infos, paths, err := w.listDir(ctx, d.path)
	if err != nil {
		log(ctx).Warnw("scan: cannot list directory", "path", d.path, "error", err)
		return nil // ErrFilesystem policy: skip this entry's subtree, never abort the run
	}

	for i, info := range infos {
		path := paths[i]

		if !info.IsDir {
			continue // files are handled during this directory's own UPLOAD
		}

		if !w.filt.Admit(path, info.Name, "") {
			continue
		}

		if w.tryShortcut(ctx, d, info, path) {
			continue
		}

		childIdx := w.arena.alloc(&dirstate{
			name:     info.Name,
			path:     path,
			depth:    depth + 1,
			parent:   idx,
			identity: info.Identity,
			owner:    info.Owner,
			group:    info.Group,
		})

		d.addPendingChild()

		w.queue.push(childIdx, depth+1, PhaseScan)
	}

	if !d.hasPendingChildren() {
		w.queue.push(idx, depth, PhaseUpload)
	}

	return nil
}

// tryShortcut attempts the cache shortcut: if the CDP tree
// reports this path is not queued for re-scan and the metadata cache
// confirms its identity is unchanged since the last run, the cached
// objseq and treesize are pushed straight onto the parent's entries, with
// no SCAN or UPLOAD of the child's own subtree. A nil CDPChecker (no CDP
// watcher wired, e.g. a first or config-driven full run) always returns
// false, so every subtree is freshly walked.
func (w *Walker) tryShortcut(ctx context.Context, parent *dirstate, info fsident.Info, path string) bool {
	if w.cdp != nil && w.cdp.IsQueued(path) {
		return false
	}

	cached, unchanged, found, err := w.cache.ReadObj(ctx, info.Identity)
	if err != nil {
		log(ctx).Warnw("scan: cache lookup failed, falling back to full scan", "path", path, "error", err)
		return false
	}

	if !found || !unchanged {
		return false
	}

	lom := objfmt.EncodePosixDir(info.Name, info.Owner, info.Group, info.Mode,
		info.Identity.MTime, info.Identity.CTime)

	parent.addEntry(info.Name, objfmt.DirChild{
		LoR:      cached.Hash,
		LoM:      lom,
		TreeSize: cached.TreeSize,
	})

	return true
}
