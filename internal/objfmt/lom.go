package objfmt

import (
	"time"

	"github.com/pkg/errors"
)

// EntryKind is the type tag of a LoM (list-of-metadata) record.
type EntryKind uint8

// Tag values for the four supported metadata record shapes.
const (
	KindPosixFile EntryKind = 0x01
	KindPosixDir  EntryKind = 0x02
	KindWinFile   EntryKind = 0x11
	KindWinDir    EntryKind = 0x12
)

// Entry is one decoded LoM record, fields populated according to Kind.
// Both POSIX and Windows shapes share this struct; only the fields the kind
// uses are meaningful (mirrors FSDir::dirent_t in objparser.hh, which
// comments each field with the subset of types it applies to).
type Entry struct {
	Kind EntryKind
	Name string

	// POSIX fields.
	Owner string
	Group string
	Mode  uint32

	// Windows fields.
	FileAttributes uint32
	SDDL           string

	MTime time.Time
	CTime time.Time // POSIX only
	BTime time.Time // Windows only (birth/creation time)

	Size uint64 // files only
}

// EncodePosixFile serializes a 0x01 record.
func EncodePosixFile(name, owner, group string, mode uint32, mtime, ctime time.Time, size uint64) []byte {
	var w buffer
	w.u8(uint8(KindPosixFile))
	w.str(name)
	w.str(owner)
	w.str(group)
	w.u32(mode & 0xFFF)
	w.u64(uint64(mtime.Unix()))
	w.u64(uint64(ctime.Unix()))
	w.u64(size)

	return w.b
}

// EncodePosixDir serializes a 0x02 record.
func EncodePosixDir(name, owner, group string, mode uint32, mtime, ctime time.Time) []byte {
	var w buffer
	w.u8(uint8(KindPosixDir))
	w.str(name)
	w.str(owner)
	w.str(group)
	w.u32(mode & 0xFFF)
	w.u64(uint64(mtime.Unix()))
	w.u64(uint64(ctime.Unix()))

	return w.b
}

// EncodeWinFile serializes a 0x11 record.
func EncodeWinFile(name, owner string, attrs uint32, sddl string, mtime, btime time.Time, size uint64) []byte {
	var w buffer
	w.u8(uint8(KindWinFile))
	w.str(name)
	w.str(owner)
	w.u32(attrs)
	w.str(sddl)
	w.u64(uint64(mtime.Unix()))
	w.u64(uint64(btime.Unix()))
	w.u64(size)

	return w.b
}

// EncodeWinDir serializes a 0x12 record.
func EncodeWinDir(name, owner string, attrs uint32, sddl string, mtime, btime time.Time) []byte {
	var w buffer
	w.u8(uint8(KindWinDir))
	w.str(name)
	w.str(owner)
	w.u32(attrs)
	w.str(sddl)
	w.u64(uint64(mtime.Unix()))
	w.u64(uint64(btime.Unix()))

	return w.b
}

// DecodeEntry parses one LoM record starting at r's current offset,
// advancing r past it. Mirrors lom_entry_extract_name plus the per-tag
// field lists in objparser.hh/upload.cc.
func DecodeEntry(r *reader) (Entry, error) {
	tag, err := r.u8()
	if err != nil {
		return Entry{}, err
	}

	e := Entry{Kind: EntryKind(tag)}

	e.Name, err = r.str()
	if err != nil {
		return Entry{}, err
	}

	switch e.Kind {
	case KindPosixFile:
		if err := decodePosixCommon(r, &e); err != nil {
			return Entry{}, err
		}

		size, err := r.u64()
		if err != nil {
			return Entry{}, err
		}

		e.Size = size

	case KindPosixDir:
		if err := decodePosixCommon(r, &e); err != nil {
			return Entry{}, err
		}

	case KindWinFile:
		if err := decodeWinCommon(r, &e); err != nil {
			return Entry{}, err
		}

		size, err := r.u64()
		if err != nil {
			return Entry{}, err
		}

		e.Size = size

	case KindWinDir:
		if err := decodeWinCommon(r, &e); err != nil {
			return Entry{}, err
		}

	default:
		return Entry{}, errors.Errorf("unknown LoM tag 0x%02x", tag)
	}

	return e, nil
}

func decodePosixCommon(r *reader, e *Entry) error {
	var err error

	if e.Owner, err = r.str(); err != nil {
		return err
	}

	if e.Group, err = r.str(); err != nil {
		return err
	}

	mode, err := r.u32()
	if err != nil {
		return err
	}

	e.Mode = mode

	mtime, err := r.u64()
	if err != nil {
		return err
	}

	e.MTime = time.Unix(int64(mtime), 0).UTC()

	ctime, err := r.u64()
	if err != nil {
		return err
	}

	e.CTime = time.Unix(int64(ctime), 0).UTC()

	return nil
}

func decodeWinCommon(r *reader, e *Entry) error {
	var err error

	if e.Owner, err = r.str(); err != nil {
		return err
	}

	attrs, err := r.u32()
	if err != nil {
		return err
	}

	e.FileAttributes = attrs

	if e.SDDL, err = r.str(); err != nil {
		return err
	}

	mtime, err := r.u64()
	if err != nil {
		return err
	}

	e.MTime = time.Unix(int64(mtime), 0).UTC()

	btime, err := r.u64()
	if err != nil {
		return err
	}

	e.BTime = time.Unix(int64(btime), 0).UTC()

	return nil
}

// Name extracts just the name field from an encoded LoM record without
// decoding the rest, mirroring lom_entry_extract_name's minimal-work
// contract (used by the walker only to sort entries by name).
func Name(lom []byte) (string, error) {
	r := newReader(lom)

	if _, err := r.u8(); err != nil {
		return "", err
	}

	return r.str()
}
