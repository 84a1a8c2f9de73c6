package vos

import (
	"fmt"
	"math"

	"github.com/BiyanKilani/daos/lib/btr"
	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/BiyanKilani/daos/lib/vos/record"
)

// EpochMax is the largest epoch.
const EpochMax uint64 = math.MaxUint64

// EpochRange is an inclusive epoch interval. Writes happen at Lo, reads
// return the newest version inside [Lo, Hi].
type EpochRange struct {
	Lo uint64
	Hi uint64
}

// Contains reports whether e lies inside the range.
func (r EpochRange) Contains(e uint64) bool { return e >= r.Lo && e <= r.Hi }

func (r EpochRange) String() string { return fmt.Sprintf("[%d, %d]", r.Lo, r.Hi) }

// Csum is a checksum stored next to a key or value.
type Csum struct {
	Type uint16
	Buf  []byte
}

func (c *Csum) len() int {
	if c == nil {
		return 0
	}
	return len(c.Buf)
}

func (c *Csum) parts() (uint16, []byte) {
	if c == nil {
		return 0, nil
	}
	return c.Type, c.Buf
}

func csumFrom(typ uint16, buf []byte) *Csum {
	if buf == nil {
		return nil
	}
	return &Csum{Type: typ, Buf: append([]byte(nil), buf...)}
}

// IOVec is a value buffer.
type IOVec struct {
	Buf []byte
}

// Recx describes a value extent: Nr units of RSize bytes starting at Index.
// RSize 0 marks a punched extent.
type Recx struct {
	RSize uint64
	Index uint64
	Nr    uint64
}

// --------------------------------------------------------------------------
// Bundles
// --------------------------------------------------------------------------

// KeyBundle carries the key side of a tree operation.
//
// For the key class Key holds the distribution key. For the index class Idx
// and Epr.Lo form the record key; lookups use the whole range.
type KeyBundle struct {
	Key []byte
	Epr *EpochRange
	Idx uint64
}

// RecBundle carries the record side of a tree operation. On insert it holds
// the checksum and value to store; trees fill in MemID, Btr (key class) and
// Recx (index class) on the way back. A non-nil MemID on insert into the key
// class is adopted instead of allocating a new record.
type RecBundle struct {
	Csum  *Csum
	Iov   *IOVec
	MemID umem.MemID
	Btr   *btr.Root
	Recx  *Recx
}

// KeyRecSize returns the size of the key-record for kb and rb.
func KeyRecSize(kb *KeyBundle, rb *RecBundle) int {
	return record.KeyRecSize(rb.Csum.len(), len(kb.Key))
}

// IndexRecSize returns the size of the index-record for rb.
func IndexRecSize(rb *RecBundle) int {
	return record.IndexRecSize(rb.Csum.len(), rb.Recx.RSize, rb.Recx.Nr)
}
