// Package metacache implements the persistent identity→object-sequence
// cache: a small embedded key/value store mapping filesystem identity to
// the previously computed objseq and treesize, so successive backups
// walk only what changed.
//
// Grounded on SQLiteStore in the onedrive sync package for the overall
// shape (modernc.org/sqlite driver, WAL pragmas, goose-embedded
// migrations, prepared statements grouped by operation) and on
// Upload::dirstate_t's cache lookups in upload_posix.cc for the
// unchanged-identity semantics read_obj must implement.
package metacache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/coldvault/vaultengine/internal/fsident"
	"github.com/coldvault/vaultengine/internal/objfmt"
	"github.com/coldvault/vaultengine/internal/vlog"
)

var log = vlog.GetContextLoggerFunc("metacache")

const walJournalSizeLimit = 64 * 1024 * 1024

// CObject is the cached record for one filesystem identity.
type CObject struct {
	Identity fsident.Identity
	Hash     objfmt.ObjSeq
	TreeSize uint64
}

// Store is the embedded metadata cache. Safe for concurrent use by
// multiple walker workers.
type Store struct {
	mu   sync.RWMutex
	path string
	db   *sql.DB

	stmtGet    *sql.Stmt
	stmtUpsert *sql.Stmt
	stmtClear  *sql.Stmt
}

// Open creates or opens the cache database at path, applying migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	s := &Store{path: path}

	if err := s.reopen(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) reopen(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return errors.Wrap(err, "open metadata cache")
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close() //nolint:errcheck

			return errors.Wrapf(err, "set pragma %q", p)
		}
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck

		return err
	}

	stmtGet, err := db.PrepareContext(ctx, `
		SELECT mtime_unixnano, ctime_unixnano, hash, treesize
		FROM cobjects WHERE identity_key = ?`)
	if err != nil {
		db.Close() //nolint:errcheck

		return errors.Wrap(err, "prepare get statement")
	}

	stmtUpsert, err := db.PrepareContext(ctx, `
		INSERT INTO cobjects (identity_key, mtime_unixnano, ctime_unixnano, hash, treesize, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity_key) DO UPDATE SET
			mtime_unixnano = excluded.mtime_unixnano,
			ctime_unixnano = excluded.ctime_unixnano,
			hash           = excluded.hash,
			treesize       = excluded.treesize,
			updated_at     = excluded.updated_at`)
	if err != nil {
		db.Close() //nolint:errcheck

		return errors.Wrap(err, "prepare upsert statement")
	}

	stmtClear, err := db.PrepareContext(ctx, `DELETE FROM cobjects`)
	if err != nil {
		db.Close() //nolint:errcheck

		return errors.Wrap(err, "prepare clear statement")
	}

	s.db = db
	s.stmtGet = stmtGet
	s.stmtUpsert = stmtUpsert
	s.stmtClear = stmtClear

	return nil
}

// identityKey canonicalizes an Identity into the cache's primary key. The
// POSIX and Windows halves of Identity are mutually exclusive in
// practice, so concatenating both is collision-free across platforms and
// stable across runs on one platform.
func identityKey(id fsident.Identity) string {
	return fmt.Sprintf("p:%d:%d|w:%d:%d", id.Dev, id.Ino, id.VolumeSerial, id.FileID)
}

func encodeHash(seq objfmt.ObjSeq) []byte {
	out := make([]byte, len(seq)*objfmt.HashSize)
	for i, h := range seq {
		copy(out[i*objfmt.HashSize:], h[:])
	}

	return out
}

func decodeHash(b []byte) (objfmt.ObjSeq, error) {
	if len(b)%objfmt.HashSize != 0 {
		return nil, errors.Errorf("metacache: corrupt hash column (%d bytes)", len(b))
	}

	seq := make(objfmt.ObjSeq, len(b)/objfmt.HashSize)
	for i := range seq {
		copy(seq[i][:], b[i*objfmt.HashSize:])
	}

	return seq, nil
}

// ReadObj looks up id, reporting whether the cached record's mtime/ctime
// (or write-time/creation-time on Windows) exactly match the identity's
// current values - the basis of the walker's cache shortcut.
func (s *Store) ReadObj(ctx context.Context, id fsident.Identity) (obj CObject, unchanged bool, found bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mtimeNS, ctimeNS int64
	var hashBlob []byte
	var treesize uint64

	row := s.stmtGet.QueryRowContext(ctx, identityKey(id))

	switch scanErr := row.Scan(&mtimeNS, &ctimeNS, &hashBlob, &treesize); scanErr {
	case sql.ErrNoRows:
		return CObject{}, false, false, nil
	case nil:
		// fall through
	default:
		return CObject{}, false, false, errors.Wrap(scanErr, "read cache entry")
	}

	hash, err := decodeHash(hashBlob)
	if err != nil {
		return CObject{}, false, false, err
	}

	obj = CObject{Identity: id, Hash: hash, TreeSize: treesize}

	cachedMTime := time.Unix(0, mtimeNS)
	cachedCTime := time.Unix(0, ctimeNS)

	currentMTime, currentCTime := currentTimes(id)

	unchanged = cachedMTime.Equal(currentMTime) && cachedCTime.Equal(currentCTime)

	return obj, unchanged, true, nil
}

// currentTimes picks the POSIX or Windows time pair out of id, whichever
// is populated.
func currentTimes(id fsident.Identity) (mtime, ctime time.Time) {
	if !id.WriteTime.IsZero() || !id.CreationTime.IsZero() {
		return id.WriteTime, id.CreationTime
	}

	return id.MTime, id.CTime
}

// Insert and Update both upsert by identity - the cache does not
// distinguish a fresh entry from a replaced one.
func (s *Store) Insert(ctx context.Context, obj CObject) error {
	return s.upsert(ctx, obj)
}

func (s *Store) Update(ctx context.Context, obj CObject) error {
	return s.upsert(ctx, obj)
}

func (s *Store) upsert(ctx context.Context, obj CObject) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mtime, ctime := currentTimes(obj.Identity)

	_, err := s.stmtUpsert.ExecContext(ctx,
		identityKey(obj.Identity),
		mtime.UnixNano(),
		ctime.UnixNano(),
		encodeHash(obj.Hash),
		obj.TreeSize,
		nowUnixNano(),
	)
	if err != nil {
		return errors.Wrap(err, "upsert cache entry")
	}

	return nil
}

// nowUnixNano is split out so it stays the single non-deterministic call
// in the package, kept trivial to audit.
func nowUnixNano() int64 {
	return time.Now().UnixNano()
}

// ChangeCache switches the backing database file to newPath, used on
// device re-registration.
func (s *Store) ChangeCache(ctx context.Context, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		log(ctx).Warnw("close previous cache db", "error", err)
	}

	s.path = newPath

	return s.reopen(ctx)
}

// ClearCache drops every cached entry without changing the backing file.
func (s *Store) ClearCache(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.stmtClear.ExecContext(ctx); err != nil {
		return errors.Wrap(err, "clear cache")
	}

	return nil
}

// Quiesce closes the database handle; the next operation transparently
// reopens it.
func (s *Store) Quiesce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "quiesce metadata cache")
	}

	return s.reopen(ctx)
}

// Close releases the database handle permanently.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}
