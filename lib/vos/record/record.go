// Package record defines the byte layout of the two record kinds stored in
// the object trees.
//
// Key-record (one per distribution key):
//
//	+-------+-------+---------+-----------+---------------+-----------+
//	| csize | ctype | keysize | root [16] | csum (rounded) | key bytes |
//	+-------+-------+---------+-----------+---------------+-----------+
//	   u16     u16     u32
//
// Index-record (one per value version):
//
//	+-------+-------+-----+-------+-----+---------------+---------------+
//	| csize | ctype | pad | rsize | nr  | csum (rounded) | rsize*nr data |
//	+-------+-------+-----+-------+-----+---------------+---------------+
//	   u16     u16    u32    u64    u64
//
// All integers are little endian. The checksum region is padded to
// SizeRoundUnit so the payload starts aligned.
package record

import (
	"encoding/binary"
	"errors"
	"math"
	"math/bits"
)

// ErrRecordSizeMismatch is returned when a record's header disagrees with its
// length.
var ErrRecordSizeMismatch = errors.New("record: size mismatch")

const (
	// SizeRoundUnit is the alignment of the checksum region.
	SizeRoundUnit = 8
	// KeyHeaderSize is the fixed part of a key-record.
	KeyHeaderSize = 24
	// IndexHeaderSize is the fixed part of an index-record.
	IndexHeaderSize = 24
	// RootSize is the size of the embedded subtree root.
	RootSize = 16

	// MaxCsumSize is the largest checksum the u16 header field can describe.
	MaxCsumSize = math.MaxUint16
	// MaxKeySize is the largest key the u32 header field can describe.
	MaxKeySize = math.MaxUint32
	// MaxPayloadSize bounds rsize*nr so an index-record size fits an int.
	MaxPayloadSize = math.MaxInt - IndexHeaderSize - MaxCsumSize - SizeRoundUnit
)

// SizeRound rounds n up to a multiple of SizeRoundUnit.
func SizeRound(n int) int {
	return (n + SizeRoundUnit - 1) / SizeRoundUnit * SizeRoundUnit
}

// KeyRecSize returns the size of a key-record.
func KeyRecSize(csLen, keyLen int) int {
	return KeyHeaderSize + SizeRound(csLen) + keyLen
}

// PayloadSize returns rsize*nr, or false if the product overflows or
// exceeds MaxPayloadSize.
func PayloadSize(rsize, nr uint64) (int, bool) {
	hi, n := bits.Mul64(rsize, nr)
	if hi != 0 || n > MaxPayloadSize {
		return 0, false
	}
	return int(n), true
}

// IndexRecSize returns the size of an index-record holding nr units of
// rsize bytes. The caller checks the payload with PayloadSize first.
func IndexRecSize(csLen int, rsize, nr uint64) int {
	n, _ := PayloadSize(rsize, nr)
	return IndexHeaderSize + SizeRound(csLen) + n
}

// --------------------------------------------------------------------------
// Key-record
// --------------------------------------------------------------------------

// KeyRec is a view onto an encoded key-record.
type KeyRec []byte

// EncodeKeyRec writes a key-record into buf, which must hold
// KeyRecSize(len(csum), len(key)) bytes.
func EncodeKeyRec(buf []byte, csType uint16, csum, key, root []byte) KeyRec {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(csum)))
	binary.LittleEndian.PutUint16(buf[2:4], csType)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(key)))
	copy(buf[8:KeyHeaderSize], root)

	off := KeyHeaderSize
	n := copy(buf[off:], csum)
	clear(buf[off+n : off+SizeRound(len(csum))])
	off += SizeRound(len(csum))
	copy(buf[off:], key)
	return KeyRec(buf)
}

func (r KeyRec) CsumSize() int    { return int(binary.LittleEndian.Uint16(r[0:2])) }
func (r KeyRec) CsumType() uint16 { return binary.LittleEndian.Uint16(r[2:4]) }
func (r KeyRec) KeySize() int     { return int(binary.LittleEndian.Uint32(r[4:8])) }

// Root returns the embedded subtree root. The slice aliases the record.
func (r KeyRec) Root() []byte { return r[8:KeyHeaderSize] }

// SetRoot overwrites the embedded subtree root.
func (r KeyRec) SetRoot(root []byte) { copy(r[8:KeyHeaderSize], root) }

// Csum returns the checksum bytes, or nil if the record has none.
func (r KeyRec) Csum() []byte {
	n := r.CsumSize()
	if n == 0 {
		return nil
	}
	return r[KeyHeaderSize : KeyHeaderSize+n]
}

// Key returns the key bytes stored after the rounded checksum.
func (r KeyRec) Key() []byte {
	off := KeyHeaderSize + SizeRound(r.CsumSize())
	return r[off : off+r.KeySize()]
}

// Validate checks that the header describes exactly len(r) bytes.
func (r KeyRec) Validate() error {
	if len(r) < KeyHeaderSize || KeyRecSize(r.CsumSize(), r.KeySize()) != len(r) {
		return ErrRecordSizeMismatch
	}
	return nil
}

// --------------------------------------------------------------------------
// Index-record
// --------------------------------------------------------------------------

// IndexRec is a view onto an encoded index-record.
type IndexRec []byte

// EncodeIndexRec writes an index-record into buf, which must hold
// IndexRecSize(len(csum), rsize, nr) bytes. data must be rsize*nr bytes.
func EncodeIndexRec(buf []byte, csType uint16, csum []byte, rsize, nr uint64, data []byte) IndexRec {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(csum)))
	binary.LittleEndian.PutUint16(buf[2:4], csType)
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	binary.LittleEndian.PutUint64(buf[8:16], rsize)
	binary.LittleEndian.PutUint64(buf[16:24], nr)

	off := IndexHeaderSize
	n := copy(buf[off:], csum)
	clear(buf[off+n : off+SizeRound(len(csum))])
	off += SizeRound(len(csum))
	copy(buf[off:], data)
	return IndexRec(buf)
}

func (r IndexRec) CsumSize() int    { return int(binary.LittleEndian.Uint16(r[0:2])) }
func (r IndexRec) CsumType() uint16 { return binary.LittleEndian.Uint16(r[2:4]) }
func (r IndexRec) RSize() uint64    { return binary.LittleEndian.Uint64(r[8:16]) }
func (r IndexRec) Nr() uint64       { return binary.LittleEndian.Uint64(r[16:24]) }

// Csum returns the checksum bytes, or nil if the record has none.
func (r IndexRec) Csum() []byte {
	n := r.CsumSize()
	if n == 0 {
		return nil
	}
	return r[IndexHeaderSize : IndexHeaderSize+n]
}

// Data returns the payload stored after the rounded checksum.
func (r IndexRec) Data() []byte {
	return r[IndexHeaderSize+SizeRound(r.CsumSize()):]
}

// Validate checks that the payload is exactly rsize*nr bytes. A record with
// rsize 0 (a punched extent) must not carry a payload.
func (r IndexRec) Validate() error {
	if len(r) < IndexHeaderSize {
		return ErrRecordSizeMismatch
	}
	off := IndexHeaderSize + SizeRound(r.CsumSize())
	if off > len(r) {
		return ErrRecordSizeMismatch
	}
	payload := uint64(len(r) - off)
	if r.RSize() == 0 {
		if payload != 0 {
			return ErrRecordSizeMismatch
		}
		return nil
	}
	if payload%r.RSize() != 0 || payload/r.RSize() != r.Nr() {
		return ErrRecordSizeMismatch
	}
	return nil
}
