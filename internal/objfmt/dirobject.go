package objfmt

import (
	"github.com/coldvault/vaultengine/internal/vaulterr"
)

// ChunkSize bounds both file-data object payloads and directory object
// encodings. Exactly 8 MiB, header included.
const ChunkSize = 8 * 1024 * 1024

// Kind tags for the object header's second byte.
const (
	kindFileData    = 0xFD
	kindDirComplete = 0xDE
	kindDirPartial  = 0xDD

	versionByte = 0x00
)

// DirChild is one pending entry awaiting inclusion in a directory object:
// the object sequence a LoM record's LoR points at, the already-encoded LoM
// bytes, and the treesize of the subtree that child represents. Grounded on
// dirobj_t in upload.cc.
type DirChild struct {
	LoR      ObjSeq
	LoM      []byte
	TreeSize uint64
}

// EncodeDir greedily packs as many leading children as fit within
// ChunkSize into one directory object, mirroring encodeDirObjs in
// upload.cc exactly (same running-size accounting, same off-by-one
// boundary at "< ChunkSize"). Returns the encoded bytes, the object's own
// treesize field, and how many leading children were consumed - callers
// loop, dropping consumed children and re-encoding, until none remain.
//
// Returns vaulterr.ErrOversizedEntry if even the first child alone cannot
// fit (a file whose directory listing alone exceeds the chunk size).
func EncodeDir(children []DirChild, partial bool) (object []byte, treesize uint64, consumed int, err error) {
	const headSizeBase = 1 + 1 + 8 + 4 // version + kind + treesize + LoR count

	headSize := headSizeBase
	lomSize := 0
	sum := uint64(0)
	n := 0

	for n < len(children) {
		c := children[n]
		hsAdd := 4 + len(c.LoR)*HashSize
		lsAdd := len(c.LoM)

		if headSize+hsAdd+lomSize+lsAdd >= ChunkSize {
			break
		}

		headSize += hsAdd
		lomSize += lsAdd
		sum += c.TreeSize
		n++
	}

	if n == 0 {
		return nil, 0, 0, vaulterr.ErrOversizedEntry
	}

	sum += uint64(headSize + lomSize)

	var w buffer
	w.u8(versionByte)

	if partial {
		w.u8(kindDirPartial)
	} else {
		w.u8(kindDirComplete)
	}

	w.u64(sum)
	w.u32(uint32(n))

	for i := 0; i < n; i++ {
		w.objSeq(children[i].LoR)
	}

	for i := 0; i < n; i++ {
		w.raw(children[i].LoM)
	}

	return w.b, sum, n, nil
}

// EncodeDirAll repeatedly calls EncodeDir over the full children slice
// until every entry has been consumed, producing the objseq of directory
// objects needed when a single listing does not fit in one ChunkSize.
func EncodeDirAll(children []DirChild, partial bool) (objects [][]byte, treesizes []uint64, err error) {
	for len(children) > 0 {
		obj, ts, n, err := EncodeDir(children, partial)
		if err != nil {
			return nil, nil, err
		}

		objects = append(objects, obj)
		treesizes = append(treesizes, ts)
		children = children[n:]
	}

	return objects, treesizes, nil
}

// DecodedDir is the result of parsing a directory object.
type DecodedDir struct {
	Partial  bool
	TreeSize uint64
	Children []DirChild
}

// DecodeDir parses a directory object produced by EncodeDir, symmetric
// with it.
func DecodeDir(obj []byte) (DecodedDir, error) {
	r := newReader(obj)

	ver, err := r.u8()
	if err != nil {
		return DecodedDir{}, err
	}

	if ver != versionByte {
		return DecodedDir{}, vaulterr.ErrMalformed
	}

	kind, err := r.u8()
	if err != nil {
		return DecodedDir{}, err
	}

	var d DecodedDir

	switch kind {
	case kindDirComplete:
		d.Partial = false
	case kindDirPartial:
		d.Partial = true
	default:
		return DecodedDir{}, vaulterr.ErrMalformed
	}

	d.TreeSize, err = r.u64()
	if err != nil {
		return DecodedDir{}, err
	}

	n, err := r.u32()
	if err != nil {
		return DecodedDir{}, err
	}

	lors := make([]ObjSeq, n)

	for i := range lors {
		lors[i], err = r.objSeq()
		if err != nil {
			return DecodedDir{}, err
		}
	}

	d.Children = make([]DirChild, n)

	for i := range d.Children {
		start := r.ofs

		if _, err := DecodeEntry(r); err != nil {
			return DecodedDir{}, err
		}

		d.Children[i] = DirChild{
			LoR: lors[i],
			LoM: append([]byte(nil), r.b[start:r.ofs]...),
		}
	}

	return d, nil
}

// IsFileDataHeader reports whether the first two bytes of obj mark it as
// a file-data object (version 0x00, kind 0xFD).
func IsFileDataHeader(obj []byte) bool {
	return len(obj) >= 2 && obj[0] == versionByte && obj[1] == kindFileData
}

// WrapFileData prepends the file-data object header to a raw chunk.
// Callers must ensure len(payload)+2 <= ChunkSize.
func WrapFileData(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, versionByte, kindFileData)
	out = append(out, payload...)

	return out
}

// UnwrapFileData strips and validates the file-data object header,
// returning the raw chunk bytes.
func UnwrapFileData(obj []byte) ([]byte, error) {
	if !IsFileDataHeader(obj) {
		return nil, vaulterr.ErrMalformed
	}

	return obj[2:], nil
}
