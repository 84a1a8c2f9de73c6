package vos

import (
	"fmt"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// IterType selects the entity level an iterator walks.
type IterType int

const (
	IterContainer IterType = iota + 1 // containers of a pool
	IterObject                        // objects of a container
	IterDKey                          // distribution keys of an object
	IterRecx                          // value versions of a distribution key
)

func (t IterType) String() string {
	switch t {
	case IterContainer:
		return "container"
	case IterObject:
		return "object"
	case IterDKey:
		return "dkey"
	case IterRecx:
		return "recx"
	default:
		return "unknown"
	}
}

// IterState is the position state of an iterator.
type IterState int

const (
	IterStateNone IterState = iota // prepared, not probed
	IterStateOK                    // positioned on an entry
	IterStateEnd                   // ran past the last entry
)

// IterParam selects what to iterate. Which fields are required depends on
// the type: Pool for containers, Container for objects, Cache, Container
// and OID for dkeys, additionally DKey for recx. Epr (nil = all epochs)
// filters objects, keys and versions by visibility.
type IterParam struct {
	Pool      *Pool
	Container *Container
	Cache     *ObjCache
	OID       UnitOID
	DKey      []byte
	Epr       *EpochRange
}

// IterEntry is filled by Fetch. Only the fields of the iterator's level are
// set.
type IterEntry struct {
	Container uuid.UUID // IterContainer
	OID       UnitOID   // IterObject
	Key       []byte    // IterDKey
	Epoch     uint64    // IterRecx
	Recx      Recx      // IterRecx
	Csum      *Csum     // IterDKey, IterRecx
	Value     []byte    // IterRecx
}

// Anchor is an opaque resume position returned by Fetch. Probing with an
// anchor positions the iterator at that entry or, if it is gone, at the next
// one.
type Anchor []byte

// IsZero reports whether the anchor is unset, which probes the first entry.
func (a Anchor) IsZero() bool { return len(a) == 0 }

// iterOps is implemented by each iterator level.
type iterOps interface {
	// probe positions at or after anchor, returning ErrNoMoreEntries if
	// nothing is left.
	probe(anchor Anchor) error
	// next moves to the following entry or returns ErrNoMoreEntries.
	next() error
	// fetch copies the current entry and returns its anchor.
	fetch(entry *IterEntry) (Anchor, error)
	// finish releases resources; it is called once.
	finish() error
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

// Iterator walks one entity level with the probe/next/fetch protocol:
//
//	it, err := vos.Prepare(vos.IterObject, &vos.IterParam{Container: co})
//	defer it.Finish()
//
//	for err = it.Probe(nil); err == nil; err = it.Next() {
//	    var e vos.IterEntry
//	    anchor, err := it.Fetch(&e)
//	    ...
//	}
//	// errors.Is(err, vos.ErrNoMoreEntries) at the end
//
// Thread-safety: an Iterator must be used by one goroutine.
type Iterator struct {
	typ      IterType
	state    IterState
	ops      iterOps
	finished bool
}

// Prepare creates an iterator of the given type in state IterStateNone.
// Iterators below the object level hold an object reference until Finish.
func Prepare(typ IterType, param *IterParam) (*Iterator, error) {
	if param == nil {
		return nil, ErrInvalidArgument
	}

	var (
		ops iterOps
		err error
	)
	switch typ {
	case IterContainer:
		ops, err = newContIter(param)
	case IterObject:
		ops, err = newObjIter(param)
	case IterDKey:
		ops, err = newKeyIter(param)
	case IterRecx:
		ops, err = newRecxIter(param)
	default:
		return nil, fmt.Errorf("%w: iterator type %d", ErrInvalidArgument, typ)
	}
	if err != nil {
		return nil, err
	}
	return &Iterator{typ: typ, state: IterStateNone, ops: ops}, nil
}

// Type returns the iterator type.
func (it *Iterator) Type() IterType { return it.typ }

// State returns the current state.
func (it *Iterator) State() IterState { return it.state }

// Probe positions the iterator at anchor, or at the first entry for a zero
// anchor. It may be called in any state before Finish.
func (it *Iterator) Probe(anchor Anchor) error {
	if it.finished {
		return ErrInvalidState
	}
	return it.move(it.ops.probe(anchor))
}

// Next moves to the following entry. It is only valid after a successful
// Probe.
func (it *Iterator) Next() error {
	switch {
	case it.finished || it.state == IterStateNone:
		return ErrInvalidState
	case it.state == IterStateEnd:
		return ErrNoMoreEntries
	}
	return it.move(it.ops.next())
}

func (it *Iterator) move(err error) error {
	switch {
	case err == nil:
		it.state = IterStateOK
	case isNoMore(err):
		it.state = IterStateEnd
		return ErrNoMoreEntries
	}
	return err
}

// Fetch copies the current entry into entry and returns its anchor.
func (it *Iterator) Fetch(entry *IterEntry) (Anchor, error) {
	switch {
	case it.finished || it.state == IterStateNone:
		return nil, ErrInvalidState
	case it.state == IterStateEnd:
		return nil, ErrNoMoreEntries
	case entry == nil:
		return nil, ErrInvalidArgument
	}
	*entry = IterEntry{}
	return it.ops.fetch(entry)
}

// Finish releases the iterator. It may be called in any state and more
// than once.
func (it *Iterator) Finish() error {
	if it.finished {
		return nil
	}
	it.finished = true
	return it.ops.finish()
}
