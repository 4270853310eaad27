package metacache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldvault/vaultengine/internal/fsident"
	"github.com/coldvault/vaultengine/internal/objfmt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(context.Background(), dbPath)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestReadObjUnknownIdentity(t *testing.T) {
	s := newTestStore(t)

	_, _, found, err := s.ReadObj(context.Background(), fsident.Identity{Dev: 1, Ino: 2})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInsertThenReadObjUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mtime := time.Unix(1700000000, 0)
	ctime := time.Unix(1700000001, 0)

	id := fsident.Identity{Dev: 1, Ino: 42, MTime: mtime, CTime: ctime}
	obj := CObject{Identity: id, Hash: objfmt.ObjSeq{objfmt.Sum([]byte("x"))}, TreeSize: 100}

	require.NoError(t, s.Insert(ctx, obj))

	got, unchanged, found, err := s.ReadObj(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, unchanged)
	assert.Equal(t, obj.Hash, got.Hash)
	assert.Equal(t, obj.TreeSize, got.TreeSize)
}

func TestReadObjChangedMTimeIsNotUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mtime := time.Unix(1700000000, 0)
	ctime := time.Unix(1700000001, 0)

	id := fsident.Identity{Dev: 1, Ino: 42, MTime: mtime, CTime: ctime}
	obj := CObject{Identity: id, Hash: objfmt.ObjSeq{objfmt.Sum([]byte("x"))}, TreeSize: 100}
	require.NoError(t, s.Insert(ctx, obj))

	changed := id
	changed.MTime = mtime.Add(time.Second)

	_, unchanged, found, err := s.ReadObj(ctx, changed)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, unchanged)
}

func TestUpdateOverwritesExistingEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := fsident.Identity{Dev: 1, Ino: 7, MTime: time.Unix(1, 0), CTime: time.Unix(1, 0)}
	first := CObject{Identity: id, Hash: objfmt.ObjSeq{objfmt.Sum([]byte("a"))}, TreeSize: 1}
	require.NoError(t, s.Insert(ctx, first))

	second := CObject{Identity: id, Hash: objfmt.ObjSeq{objfmt.Sum([]byte("b"))}, TreeSize: 2}
	require.NoError(t, s.Update(ctx, second))

	got, _, found, err := s.ReadObj(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, second.Hash, got.Hash)
	assert.Equal(t, uint64(2), got.TreeSize)
}

func TestClearCacheDropsAllEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := fsident.Identity{Dev: 1, Ino: 1, MTime: time.Unix(1, 0), CTime: time.Unix(1, 0)}
	require.NoError(t, s.Insert(ctx, CObject{Identity: id, Hash: objfmt.ObjSeq{objfmt.Sum([]byte("a"))}, TreeSize: 1}))

	require.NoError(t, s.ClearCache(ctx))

	_, _, found, err := s.ReadObj(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQuiesceThenReadObjStillWorks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := fsident.Identity{Dev: 2, Ino: 2, MTime: time.Unix(5, 0), CTime: time.Unix(5, 0)}
	require.NoError(t, s.Insert(ctx, CObject{Identity: id, Hash: objfmt.ObjSeq{objfmt.Sum([]byte("a"))}, TreeSize: 9}))

	require.NoError(t, s.Quiesce(ctx))

	got, unchanged, found, err := s.ReadObj(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, unchanged)
	assert.Equal(t, uint64(9), got.TreeSize)
}

func TestWindowsIdentityDoesNotCollideWithPosix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	posix := fsident.Identity{Dev: 5, Ino: 9, MTime: time.Unix(1, 0), CTime: time.Unix(1, 0)}
	win := fsident.Identity{VolumeSerial: 5, FileID: 9, WriteTime: time.Unix(1, 0), CreationTime: time.Unix(1, 0)}

	require.NoError(t, s.Insert(ctx, CObject{Identity: posix, Hash: objfmt.ObjSeq{objfmt.Sum([]byte("p"))}, TreeSize: 1}))
	require.NoError(t, s.Insert(ctx, CObject{Identity: win, Hash: objfmt.ObjSeq{objfmt.Sum([]byte("w"))}, TreeSize: 2}))

	gotP, _, found, err := s.ReadObj(ctx, posix)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1), gotP.TreeSize)

	gotW, _, found, err := s.ReadObj(ctx, win)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(2), gotW.TreeSize)
}
