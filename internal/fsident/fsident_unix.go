//go:build !windows

package fsident

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/pkg/errors"

	"github.com/coldvault/vaultengine/internal/vaulterr"
)

// Lstat captures a POSIX filesystem entry's identity and metadata without
// following symlinks, mirroring lstat()'s use in dirstate_t::scan in
// upload_posix.cc.
func Lstat(path string) (Info, error) {
	var st unix.Stat_t

	if err := unix.Lstat(path, &st); err != nil {
		return Info{}, errors.Wrapf(vaulterr.ErrFilesystem, "lstat %s: %v", path, err)
	}

	return Info{
		IsDir: st.Mode&unix.S_IFMT == unix.S_IFDIR,
		Size:  uint64(st.Size), //nolint:gosec // kernel-reported size is never negative
		Mode:  uint32(st.Mode & 0o7777),
		Identity: Identity{
			Dev:   uint64(st.Dev), //nolint:gosec
			Ino:   st.Ino,
			MTime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
			CTime: time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
		},
	}, nil
}
