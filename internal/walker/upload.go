package walker

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/coldvault/vaultengine/internal/fsident"
	"github.com/coldvault/vaultengine/internal/metacache"
	"github.com/coldvault/vaultengine/internal/objfmt"
)

// fileDataPayloadSize is the largest chunk of raw file bytes that still
// fits under ChunkSize once WrapFileData's 2-byte header is added.
const fileDataPayloadSize = objfmt.ChunkSize - 2

// upload implements the UPLOAD half of the per-directory state machine,
// grounded on Upload::dirstate_t::process_upload in upload.cc: hash and
// ship each file child's data, encode this directory's own object(s),
// then hand the result up to the parent.
func (w *Walker) upload(ctx context.Context, workerID, idx, depth int) error {
	if w.isCancelled() {
		return nil
	}

	d := w.arena.get(idx)

	infos, paths, err := w.listDir(ctx, d.path)
	if err != nil {
		log(ctx).Warnw("upload: cannot list directory", "path", d.path, "error", err)
		return w.finishDirectory(ctx, idx, d, true)
	}

	for i, info := range infos {
		if w.isCancelled() {
			return nil
		}

		if info.IsDir {
			continue // subdirectory entries arrive via addEntry when the child completes
		}

		path := paths[i]

		if !w.filt.Admit(path, info.Name, "") {
			continue
		}

		if err := w.uploadFile(ctx, workerID, d, info, path); err != nil {
			log(ctx).Warnw("upload: skipping unreadable file", "path", path, "error", err)
			continue
		}

		w.filesWalked.Add(1)
	}

	return w.finishDirectory(ctx, idx, d, false)
}

// uploadFile resolves one file child: reused verbatim from the cache if
// its identity is unchanged, otherwise split into ChunkSize-bounded
// file-data objects, each tested/uploaded through the object client, with
// the cache updated only after every chunk is confirmed stored - never
// record a cache entry for data the server has not acknowledged.
func (w *Walker) uploadFile(ctx context.Context, workerID int, d *dirstate, info fsident.Info, path string) error {
	if cached, unchanged, found, err := w.cache.ReadObj(ctx, info.Identity); err == nil && found && unchanged {
		d.addEntry(info.Name, objfmt.DirChild{
			LoR:      cached.Hash,
			LoM:      encodePosixFileEntry(info),
			TreeSize: cached.TreeSize,
		})

		return nil
	}

	seq, treesize, err := w.uploadFileData(ctx, workerID, path)
	if err != nil {
		return err
	}

	d.addEntry(info.Name, objfmt.DirChild{
		LoR:      seq,
		LoM:      encodePosixFileEntry(info),
		TreeSize: treesize,
	})

	return w.cache.Insert(ctx, metacache.CObject{Identity: info.Identity, Hash: seq, TreeSize: treesize})
}

// uploadFileData streams path in fileDataPayloadSize chunks, testing and
// uploading each as a file-data object under the test-before-post
// at-most-once discipline.
func (w *Walker) uploadFileData(ctx context.Context, workerID int, path string) (objfmt.ObjSeq, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var seq objfmt.ObjSeq

	var treesize uint64

	var fileBytesDone uint64

	buf := make([]byte, fileDataPayloadSize)

	for {
		if w.isCancelled() {
			return nil, 0, nil
		}

		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			obj := objfmt.WrapFileData(buf[:n])

			h := objfmt.Sum(obj)

			present, err := w.client.TestObject(ctx, h)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "test file-data object for %s", path)
			}

			if !present {
				h, err = w.client.UploadObject(ctx, obj)
				if err != nil {
					return nil, 0, errors.Wrapf(err, "upload file-data object for %s", path)
				}
			}

			seq = append(seq, h)
			treesize += uint64(len(obj))

			w.bytesUploaded.Add(int64(n))

			fileBytesDone += uint64(n)
			w.setStatus(workerID, WorkerUploading, path, fileBytesDone)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}

		if readErr != nil {
			return nil, 0, errors.Wrapf(readErr, "read %s", path)
		}
	}

	return seq, treesize, nil
}

func encodePosixFileEntry(info fsident.Info) []byte {
	return objfmt.EncodePosixFile(info.Name, info.Owner, info.Group, info.Mode,
		info.Identity.MTime, info.Identity.CTime, info.Size)
}

// finishDirectory encodes d's accumulated entries into one or more
// directory objects, tests/uploads each against the object store, and
// back-tracks completion to the parent (or, for the root, marks d done
// for Run to collect). partial marks the directory object itself as
// incomplete (kind 0xDD rather than 0xDE), used when this directory's own
// listing failed outright.
//
// Each object's hash is first compared against the corresponding index of
// d's previously cached objseq (when the cache holds an unchanged record
// for d.identity): an exact match means the server already has it from a
// prior run, so the HEAD/POST round trip is skipped entirely. Otherwise
// it falls back to the same test-before-post discipline uploadFileData
// uses for file-data objects. The freshly computed objseq is then upserted
// into the cache under d.identity, the missing half of the cache shortcut
// tryShortcut relies on in scan.go.
func (w *Walker) finishDirectory(ctx context.Context, idx int, d *dirstate, partial bool) error {
	children := toDirChildren(d.sortedEntries())

	objects, treesizes, err := objfmt.EncodeDirAll(children, partial)
	if err != nil {
		return errors.Wrapf(err, "encode directory object for %s", d.path)
	}

	prevCached, prevUnchanged, prevFound, err := w.cache.ReadObj(ctx, d.identity)
	if err != nil {
		log(ctx).Warnw("finishDirectory: cache lookup failed, uploading unconditionally", "path", d.path, "error", err)
	}

	var seq objfmt.ObjSeq

	var treesize uint64

	for i, obj := range objects {
		h := objfmt.Sum(obj)

		if prevFound && prevUnchanged && i < len(prevCached.Hash) && prevCached.Hash[i] == h {
			seq = append(seq, h)
			treesize += treesizes[i]

			continue
		}

		present, err := w.client.TestObject(ctx, h)
		if err != nil {
			return errors.Wrapf(err, "test directory object for %s", d.path)
		}

		if !present {
			h, err = w.client.UploadObject(ctx, obj)
			if err != nil {
				return errors.Wrapf(err, "upload directory object for %s", d.path)
			}
		}

		seq = append(seq, h)
		treesize += treesizes[i]
	}

	d.mu.Lock()
	d.done = true
	d.rootHash = seq
	d.rootTreeSize = treesize
	d.mu.Unlock()

	if err := w.cache.Insert(ctx, metacache.CObject{Identity: d.identity, Hash: seq, TreeSize: treesize}); err != nil {
		log(ctx).Warnw("finishDirectory: cache update failed", "path", d.path, "error", err)
	}

	if w.shouldPublishPartial() {
		w.publishPartial(d, seq, treesize)
	}

	if d.parent == noParent {
		w.queue.close() // root UPLOAD done: the run is complete, wake every blocked worker
		return nil
	}

	parent := w.arena.get(d.parent)

	lom := objfmt.EncodePosixDir(d.name, d.owner, d.group, 0o755, time.Now(), time.Now())

	parent.addEntry(d.name, objfmt.DirChild{LoR: seq, LoM: lom, TreeSize: treesize})

	if parent.childCompleted() {
		w.queue.push(d.parent, parent.depth, PhaseUpload)
	}

	return nil
}

func toDirChildren(entries []namedChild) []objfmt.DirChild {
	out := make([]objfmt.DirChild, len(entries))
	for i, e := range entries {
		out[i] = e.DirChild
	}

	return out
}

// shouldPublishPartial throttles mid-run partial-snapshot publication to
// PartialPublishInterval.
func (w *Walker) shouldPublishPartial() bool {
	if w.observer == nil {
		return false
	}

	now := time.Now().UnixNano()
	last := w.lastPublish.Load()

	if now-last < int64(PartialPublishInterval) {
		return false
	}

	return w.lastPublish.CompareAndSwap(last, now)
}

func (w *Walker) publishPartial(d *dirstate, seq objfmt.ObjSeq, treesize uint64) {
	w.observer.OnPartialSnapshot(d.path, seq, treesize)
}
