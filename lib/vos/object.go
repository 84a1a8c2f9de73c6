package vos

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/BiyanKilani/daos/lib/btr"
)

// ObjectID identifies an object inside a container.
type ObjectID struct {
	Hi uint64
	Lo uint64
}

// UnitOID is an object shard, the unit stored by one engine.
type UnitOID struct {
	ID    ObjectID
	Shard uint32
}

// unitOIDSize is the size of an encoded UnitOID.
const unitOIDSize = 20

func (o UnitOID) String() string {
	return fmt.Sprintf("%x.%x.%d", o.ID.Hi, o.ID.Lo, o.Shard)
}

// Bytes encodes the identifier in big endian, so byte order equals Compare order.
func (o UnitOID) Bytes() []byte {
	buf := make([]byte, unitOIDSize)
	o.put(buf)
	return buf
}

func (o UnitOID) put(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], o.ID.Hi)
	binary.BigEndian.PutUint64(buf[8:16], o.ID.Lo)
	binary.BigEndian.PutUint32(buf[16:20], o.Shard)
}

func unitOIDFrom(buf []byte) UnitOID {
	return UnitOID{
		ID: ObjectID{
			Hi: binary.BigEndian.Uint64(buf[0:8]),
			Lo: binary.BigEndian.Uint64(buf[8:16]),
		},
		Shard: binary.BigEndian.Uint32(buf[16:20]),
	}
}

// Compare orders identifiers by Hi, Lo and then Shard.
func (o UnitOID) Compare(other UnitOID) int {
	if c := cmp.Compare(o.ID.Hi, other.ID.Hi); c != 0 {
		return c
	}
	if c := cmp.Compare(o.ID.Lo, other.ID.Lo); c != 0 {
		return c
	}
	return cmp.Compare(o.Shard, other.Shard)
}

// --------------------------------------------------------------------------
// Object descriptor
// --------------------------------------------------------------------------

// Object is the descriptor of a stored object: its identifier, the root of
// its key tree and the epochs needed for punch handling.
//
// A punch at epoch P hides every version written at or before P from reads
// at epochs >= P. An update after P revives the object. An object that was
// punched and not revived is a zombie and gets reclaimed by
// Container.Aggregate.
//
// Thread-safety: the epoch fields are atomic, the rest is immutable.
type Object struct {
	ID      UnitOID
	KeyRoot btr.Root
	Serial  uint64

	punch  atomic.Uint64 // 0 = never punched
	latest atomic.Uint64 // highest update epoch
}

// PunchEpoch returns the epoch of the latest punch, or 0.
func (o *Object) PunchEpoch() uint64 { return o.punch.Load() }

// LatestEpoch returns the highest epoch the object was updated at.
func (o *Object) LatestEpoch() uint64 { return o.latest.Load() }

// IsNew reports whether the object has no key tree yet.
func (o *Object) IsNew() bool { return o == nil || o.KeyRoot.IsZero() }

// IsZombie reports whether the object is punched and not revived as seen
// from epoch.
func (o *Object) IsZombie(epoch uint64) bool {
	p := o.punch.Load()
	return p != 0 && epoch >= p && o.latest.Load() <= p
}

// visible reports whether a version written at epoch e is seen by a read at
// epoch hi.
func (o *Object) visible(e, hi uint64) bool {
	p := o.punch.Load()
	return p == 0 || hi < p || e > p
}

// noteUpdate raises the latest epoch and returns the previous value.
func (o *Object) noteUpdate(epoch uint64) uint64 {
	for {
		old := o.latest.Load()
		if epoch <= old || o.latest.CompareAndSwap(old, epoch) {
			return old
		}
	}
}

func (o *Object) String() string {
	return fmt.Sprintf("object{%s, serial: %d, punch: %d, latest: %d}",
		o.ID, o.Serial, o.PunchEpoch(), o.LatestEpoch())
}
