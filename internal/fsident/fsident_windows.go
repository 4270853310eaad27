//go:build windows

package fsident

import (
	"time"

	"golang.org/x/sys/windows"

	"github.com/pkg/errors"

	"github.com/coldvault/vaultengine/internal/vaulterr"
)

// Lstat captures a Windows filesystem entry's identity (volume serial,
// file id, write time, creation time) via GetFileInformationByHandle,
// the platform counterpart of fsident_unix.go's lstat()-based Identity.
func Lstat(path string) (Info, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Info{}, errors.Wrapf(vaulterr.ErrFilesystem, "path %s: %v", path, err)
	}

	h, err := windows.CreateFile(
		p,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return Info{}, errors.Wrapf(vaulterr.ErrFilesystem, "open %s: %v", path, err)
	}
	defer windows.CloseHandle(h) //nolint:errcheck

	var fi windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &fi); err != nil {
		return Info{}, errors.Wrapf(vaulterr.ErrFilesystem, "stat %s: %v", path, err)
	}

	fileID := uint64(fi.FileIndexHigh)<<32 | uint64(fi.FileIndexLow)

	return Info{
		IsDir: fi.FileAttributes&windows.FILE_ATTRIBUTE_DIRECTORY != 0,
		Size:  uint64(fi.FileSizeHigh)<<32 | uint64(fi.FileSizeLow),
		Mode:  fi.FileAttributes,
		Identity: Identity{
			VolumeSerial: uint64(fi.VolumeSerialNumber),
			FileID:       fileID,
			WriteTime:    time.Unix(0, fi.LastWriteTime.Nanoseconds()),
			CreationTime: time.Unix(0, fi.CreationTime.Nanoseconds()),
		},
	}, nil
}
