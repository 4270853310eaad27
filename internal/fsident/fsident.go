// Package fsident captures the filesystem-identity tuple the metadata
// cache keys on: device-id/inode/mtime/ctime on POSIX, volume-serial/
// file-id/write-time/creation-time on Windows. The platform-specific
// Stat implementation lives in fsident_unix.go and
// fsident_windows.go; this file holds the shared Identity type and the
// filter-facing Info used by the walker.
//
// Grounded on dirstate_t::scan/upload's lstat()/stat64() calls in
// upload_posix.cc, which feed dev_t+ino_t+mtime+ctime into the cache
// lookup key.
package fsident

import "time"

// Identity names one filesystem object uniquely enough to detect changes
// across runs. Equality is by value; POSIX populates Dev/Ino/MTime/CTime,
// Windows populates VolumeSerial/FileID/WriteTime/CreationTime - the
// unused half of the struct stays zero on each platform.
type Identity struct {
	// POSIX fields.
	Dev   uint64
	Ino   uint64
	MTime time.Time
	CTime time.Time

	// Windows fields.
	VolumeSerial uint64
	FileID       uint64
	WriteTime    time.Time
	CreationTime time.Time
}

// Info is everything the walker needs about one directory entry beyond
// its name: its identity for cache lookups, whether it is a directory,
// and its size (files only).
type Info struct {
	Name     string
	Identity Identity
	IsDir    bool
	Size     uint64
	Mode     uint32
	Owner    string
	Group    string
}

// Equal reports whether two identities refer to the same unchanged
// filesystem object - the basis for the cache's "unchanged" verdict.
func (id Identity) Equal(o Identity) bool {
	return id.Dev == o.Dev && id.Ino == o.Ino &&
		id.MTime.Equal(o.MTime) && id.CTime.Equal(o.CTime) &&
		id.VolumeSerial == o.VolumeSerial && id.FileID == o.FileID &&
		id.WriteTime.Equal(o.WriteTime) && id.CreationTime.Equal(o.CreationTime)
}
