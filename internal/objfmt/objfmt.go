// Package objfmt implements the versioned binary object wire format: the
// header bytes, the big-endian integer and length-prefixed string encoding,
// the list-of-references (LoR) object-hash sequences, and the list-of-
// metadata (LoM) per-entry records. The format is a stable external
// interface: two implementations given the same logical inputs must
// produce byte-identical objects, because content addressing depends on
// it.
//
// Grounded on src/backup/upload.cc's anonymous-namespace ser() helpers and
// src/objparser/objparser.hh's des<T> template family, translated from
// push_back-style serialization into a growable []byte buffer and an
// offset-tracking reader, the idiomatic Go equivalents.
package objfmt

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/coldvault/vaultengine/internal/vaulterr"
)

// HashSize is the length in bytes of a SHA-256 digest.
const HashSize = sha256.Size

// Hash names an object by the SHA-256 of its encoded bytes.
type Hash [HashSize]byte

// Sum computes the Hash of b.
func Sum(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// String renders the hash as lowercase hex, the form used in the object
// namespace ("/object/{hex}").
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (never a valid object name).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash parses a lowercase hex SHA-256 digest.
func ParseHash(s string) (Hash, error) {
	var h Hash

	b, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.Wrap(err, "malformed object hash")
	}

	if len(b) != HashSize {
		return h, errors.Errorf("malformed object hash: want %d bytes, got %d", HashSize, len(b))
	}

	copy(h[:], b)

	return h, nil
}

// ObjSeq is an ordered sequence of object hashes composing one logical
// entity (a file's chunked data, or a directory split across objects).
// Concatenation order is significant: the same logical entity always
// produces the same ObjSeq.
type ObjSeq []Hash

// Equal reports whether two sequences name the same hashes in the same order.
func (s ObjSeq) Equal(o ObjSeq) bool {
	if len(s) != len(o) {
		return false
	}

	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}

	return true
}

// buffer accumulates a big-endian-encoded object body.
type buffer struct {
	b []byte
}

func (w *buffer) u8(v uint8) {
	w.b = append(w.b, v)
}

func (w *buffer) u16(v uint16) {
	w.b = append(w.b, byte(v>>8), byte(v))
}

func (w *buffer) u32(v uint32) {
	w.b = append(w.b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (w *buffer) u64(v uint64) {
	w.b = append(w.b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (w *buffer) str(s string) {
	w.u32(uint32(len(s)))
	w.b = append(w.b, s...)
}

func (w *buffer) raw(b []byte) {
	w.b = append(w.b, b...)
}

// objSeq writes a LoR entry: uint32 count followed by count*32 raw hash bytes.
func (w *buffer) objSeq(s ObjSeq) {
	w.u32(uint32(len(s)))

	for _, h := range s {
		w.raw(h[:])
	}
}

// reader consumes a big-endian-encoded object body, tracking its offset.
type reader struct {
	b   []byte
	ofs int
}

func newReader(b []byte) *reader {
	return &reader{b: b}
}

func (r *reader) need(n int) error {
	if len(r.b) < r.ofs+n {
		return errors.Wrap(vaulterr.ErrMalformed, "object ended early")
	}

	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}

	v := r.b[r.ofs]
	r.ofs++

	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}

	v := uint32(r.b[r.ofs])<<24 | uint32(r.b[r.ofs+1])<<16 | uint32(r.b[r.ofs+2])<<8 | uint32(r.b[r.ofs+3])
	r.ofs += 4

	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}

	v := uint64(0)
	for i := range 8 {
		v = v<<8 | uint64(r.b[r.ofs+i])
	}

	r.ofs += 8

	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}

	if err := r.need(int(n)); err != nil {
		return "", err
	}

	s := string(r.b[r.ofs : r.ofs+int(n)])
	r.ofs += int(n)

	return s, nil
}

func (r *reader) objSeq() (ObjSeq, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}

	if err := r.need(int(n) * HashSize); err != nil {
		return nil, err
	}

	seq := make(ObjSeq, n)

	for i := range seq {
		copy(seq[i][:], r.b[r.ofs:r.ofs+HashSize])
		r.ofs += HashSize
	}

	return seq, nil
}

func (r *reader) remaining() []byte {
	return r.b[r.ofs:]
}

func (r *reader) atEnd() bool {
	return r.ofs >= len(r.b)
}
