// Package snapshot implements the snapshot committer: assembling the
// device root object from each backup root's latest objseq and
// publishing it to the device's history endpoint.
//
// Grounded directly on UploadManager::handleSnapshotNotification in
// upload.cc: the per-root LoM(tag 0x02) assembly with slash-to-underscore
// name substitution, mode 06666, and the encode_dir/object-client/history
// POST sequence that follows it.
package snapshot

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/coldvault/vaultengine/internal/objclient"
	"github.com/coldvault/vaultengine/internal/objfmt"
	"github.com/coldvault/vaultengine/internal/vlog"
)

var log = vlog.GetContextLoggerFunc("snapshot")

// RootResult is one upload root's contribution to the device root object:
// the objseq its own directory upload produced, the treesize that
// objseq's final object reported, and whether that run was only partial.
type RootResult struct {
	Path     string
	Hash     objfmt.ObjSeq
	TreeSize uint64
	Partial  bool
	Owner    string
	Group    string
}

// Committer assembles and publishes device root objects.
type Committer struct {
	client        *objclient.Client
	devicePath    string // e.g. "mydevice" (url-encoded device name) or the user-scoped variant
	now           func() time.Time
	pathSeparator byte
}

// New constructs a Committer that publishes to
// POST /devices/{devicePath}/history.
func New(client *objclient.Client, devicePath string, pathSeparator byte) *Committer {
	return &Committer{client: client, devicePath: devicePath, now: time.Now, pathSeparator: pathSeparator}
}

// slug derives the device-root LoM entry name from a root path by
// replacing path separators with underscores, since a raw separator in
// an entry name breaks the web client.
func (c *Committer) slug(path string) string {
	return strings.ReplaceAll(path, string(c.pathSeparator), "_")
}

// Commit assembles one device root object from results (one LoM entry per
// configured upload root), uploads its constituent pieces, and POSTs the
// device-history entry. Returns the hash of the first device-root object
// (the "root" field of the history POST) and the HTTP status of that POST.
//
// If any result is Partial, the overall snapshot is published with
// type=p; only when every root completed a full run is it type=c.
func (c *Committer) Commit(ctx context.Context, results []RootResult) (objfmt.Hash, int, error) {
	if len(results) == 0 {
		return objfmt.Hash{}, 0, errors.New("snapshot: no upload roots to commit")
	}

	now := c.now()
	partial := false

	children := make([]objfmt.DirChild, 0, len(results))

	for _, r := range results {
		if r.Partial {
			partial = true
		}

		lom := objfmt.EncodePosixDir(c.slug(r.Path), r.Owner, r.Group, 0o6666, now, now)

		children = append(children, objfmt.DirChild{
			LoR:      r.Hash,
			LoM:      lom,
			TreeSize: r.TreeSize,
		})
	}

	objects, _, err := objfmt.EncodeDirAll(children, partial)
	if err != nil {
		return objfmt.Hash{}, 0, errors.Wrap(err, "encode device root object")
	}

	var deviceRootSeq objfmt.ObjSeq

	for _, obj := range objects {
		h, err := c.client.UploadObject(ctx, obj)
		if err != nil {
			return objfmt.Hash{}, 0, errors.Wrap(err, "upload device root object")
		}

		deviceRootSeq = append(deviceRootSeq, h)
	}

	root := deviceRootSeq[0]

	status, err := c.client.PostHistory(ctx, c.devicePath, now, root, partial)
	if err != nil {
		return root, 0, errors.Wrap(err, "post device history")
	}

	if status != 201 {
		log(ctx).Warnw("device history POST did not commit",
			"status", status, "root", root.String())
	}

	return root, status, nil
}
