package vos

import (
	"encoding/binary"
	"errors"

	"github.com/BiyanKilani/daos/lib/btr"
	"github.com/google/uuid"
)

func isNoMore(err error) bool {
	return errors.Is(err, ErrNoMoreEntries) || isEnd(err)
}

// epochFilter returns the read epoch of an optional range.
func epochFilter(epr *EpochRange) (lo, hi uint64) {
	if epr == nil {
		return 0, EpochMax
	}
	return epr.Lo, epr.Hi
}

// --------------------------------------------------------------------------
// Containers
// --------------------------------------------------------------------------

type contIter struct {
	pool *Pool
	cur  *Container
}

func newContIter(param *IterParam) (iterOps, error) {
	if param.Pool == nil {
		return nil, ErrInvalidArgument
	}
	return &contIter{pool: param.Pool}, nil
}

func (i *contIter) probe(anchor Anchor) error {
	var id uuid.UUID
	if !anchor.IsZero() {
		if len(anchor) != len(id) {
			return ErrInvalidArgument
		}
		copy(id[:], anchor)
	}
	i.cur = i.pool.containerAtOrAfter(id, false)
	if i.cur == nil {
		return ErrNoMoreEntries
	}
	return nil
}

func (i *contIter) next() error {
	i.cur = i.pool.containerAtOrAfter(i.cur.id, true)
	if i.cur == nil {
		return ErrNoMoreEntries
	}
	return nil
}

func (i *contIter) fetch(entry *IterEntry) (Anchor, error) {
	entry.Container = i.cur.id
	return Anchor(append([]byte(nil), i.cur.id[:]...)), nil
}

func (i *contIter) finish() error { return nil }

// --------------------------------------------------------------------------
// Objects
// --------------------------------------------------------------------------

// objIter walks the object index in (shard, oid) order. Its anchor is the
// shard number followed by the encoded identifier.
type objIter struct {
	co    *Container
	hi    uint64
	shard int
	cur   *Object
}

func newObjIter(param *IterParam) (iterOps, error) {
	if param.Container == nil {
		return nil, ErrInvalidArgument
	}
	_, hi := epochFilter(param.Epr)
	return &objIter{co: param.Container, hi: hi}, nil
}

func (i *objIter) seek(shard int, oid UnitOID, strict bool) error {
	for {
		s, obj := i.co.objectAtOrAfter(shard, oid, strict)
		if obj == nil {
			i.cur = nil
			return ErrNoMoreEntries
		}
		shard = s
		i.shard, i.cur = s, obj
		if !obj.IsZombie(i.hi) {
			return nil
		}
		oid, strict = obj.ID, true
	}
}

func (i *objIter) probe(anchor Anchor) error {
	if anchor.IsZero() {
		return i.seek(0, UnitOID{}, false)
	}
	if len(anchor) != 4+unitOIDSize {
		return ErrInvalidArgument
	}
	shard := int(binary.BigEndian.Uint32(anchor[:4]))
	return i.seek(shard, unitOIDFrom(anchor[4:]), false)
}

func (i *objIter) next() error {
	return i.seek(i.shard, i.cur.ID, true)
}

func (i *objIter) fetch(entry *IterEntry) (Anchor, error) {
	entry.OID = i.cur.ID
	anchor := make(Anchor, 4+unitOIDSize)
	binary.BigEndian.PutUint32(anchor[:4], uint32(i.shard))
	i.cur.ID.put(anchor[4:])
	return anchor, nil
}

func (i *objIter) finish() error { return nil }

// --------------------------------------------------------------------------
// Shared base for the object-level iterators
// --------------------------------------------------------------------------

// refIter holds the object reference of a dkey or recx iterator.
type refIter struct {
	cache *ObjCache
	ref   *ObjectRef
	lo    uint64
	hi    uint64
}

func newRefIter(param *IterParam) (*refIter, error) {
	if param.Cache == nil || param.Container == nil {
		return nil, ErrInvalidArgument
	}
	ref, err := param.Cache.Acquire(param.Container, param.OID)
	if err != nil {
		return nil, err
	}
	lo, hi := epochFilter(param.Epr)
	return &refIter{cache: param.Cache, ref: ref, lo: lo, hi: hi}, nil
}

func (r *refIter) finish() error {
	return r.cache.Release(r.ref)
}

// hasVisible reports whether the index tree rooted at root holds a version
// inside the epoch filter that is not hidden by a punch.
func (r *refIter) hasVisible(obj *Object, root btr.Root) (bool, error) {
	sub, err := btr.Open(r.ref.co.pool.forest, root, r.ref.co.pool.idxOps)
	if err != nil {
		return false, err
	}
	cur := sub.NewCursor()
	kb := &KeyBundle{}
	for err = cur.Probe(btr.ProbeFirst, nil); err == nil; err = cur.Next() {
		if _, err := cur.Fetch(kb, nil); err != nil {
			return false, err
		}
		if e := kb.Epr.Lo; e >= r.lo && e <= r.hi && obj.visible(e, r.hi) {
			return true, nil
		}
	}
	if isEnd(err) {
		return false, nil
	}
	return false, err
}

// --------------------------------------------------------------------------
// Distribution keys
// --------------------------------------------------------------------------

// keyIter walks the key tree of one object. Its anchor is the key itself.
type keyIter struct {
	*refIter
	cur *btr.Cursor[*KeyBundle, *RecBundle]
}

func newKeyIter(param *IterParam) (iterOps, error) {
	base, err := newRefIter(param)
	if err != nil {
		return nil, err
	}
	return &keyIter{refIter: base}, nil
}

// settle skips keys without visible versions, starting at the current one.
func (i *keyIter) settle(err error) error {
	obj := i.ref.obj
	for ; err == nil; err = i.cur.Next() {
		rb := &RecBundle{}
		if _, err = i.cur.Fetch(nil, rb); err != nil {
			break
		}
		ok, verr := i.hasVisible(obj, *rb.Btr)
		if verr != nil {
			return verr
		}
		if ok {
			return nil
		}
	}
	return err
}

func (i *keyIter) probe(anchor Anchor) error {
	i.ref.mu.RLock()
	defer i.ref.mu.RUnlock()

	if i.ref.obj == nil || i.ref.obj.IsZombie(i.hi) {
		return ErrNoMoreEntries
	}
	i.cur = i.ref.tree.NewCursor()
	if anchor.IsZero() {
		return i.settle(i.cur.Probe(btr.ProbeFirst, nil))
	}
	return i.settle(i.cur.ProbeHKey(btr.ProbeGE, anchor))
}

func (i *keyIter) next() error {
	i.ref.mu.RLock()
	defer i.ref.mu.RUnlock()
	return i.settle(i.cur.Next())
}

func (i *keyIter) fetch(entry *IterEntry) (Anchor, error) {
	i.ref.mu.RLock()
	defer i.ref.mu.RUnlock()

	kb := &KeyBundle{}
	rb := &RecBundle{}
	hkey, err := i.cur.Fetch(kb, rb)
	if err != nil {
		return nil, err
	}
	entry.Key = kb.Key
	entry.Csum = rb.Csum
	return Anchor(append([]byte(nil), hkey...)), nil
}

// --------------------------------------------------------------------------
// Value versions
// --------------------------------------------------------------------------

// recxIter walks the index tree of one distribution key in (index, epoch)
// order. Its anchor is the 16 byte index key.
type recxIter struct {
	*refIter
	dkey []byte
	sub  *indexTree
	cur  *btr.Cursor[*KeyBundle, *RecBundle]
}

func newRecxIter(param *IterParam) (iterOps, error) {
	if len(param.DKey) == 0 {
		return nil, ErrInvalidArgument
	}
	base, err := newRefIter(param)
	if err != nil {
		return nil, err
	}
	return &recxIter{refIter: base, dkey: append([]byte(nil), param.DKey...)}, nil
}

// open looks up the index tree of the key. A missing object or key yields
// an empty iterator.
func (i *recxIter) open() error {
	if i.sub != nil {
		return nil
	}
	obj := i.ref.obj
	if obj == nil || obj.IsZombie(i.hi) {
		return ErrNoMoreEntries
	}
	rb := &RecBundle{}
	if err := i.ref.tree.Lookup(&KeyBundle{Key: i.dkey}, rb); err != nil {
		return err
	}
	sub, err := btr.Open(i.ref.co.pool.forest, *rb.Btr, i.ref.co.pool.idxOps)
	if err != nil {
		return err
	}
	i.sub = sub
	i.cur = sub.NewCursor()
	return nil
}

func (i *recxIter) settle(err error) error {
	obj := i.ref.obj
	kb := &KeyBundle{}
	for ; err == nil; err = i.cur.Next() {
		if _, err = i.cur.Fetch(kb, nil); err != nil {
			break
		}
		if e := kb.Epr.Lo; e >= i.lo && e <= i.hi && obj.visible(e, i.hi) {
			return nil
		}
	}
	return err
}

func (i *recxIter) probe(anchor Anchor) error {
	i.ref.mu.RLock()
	defer i.ref.mu.RUnlock()

	if err := i.open(); err != nil {
		return err
	}
	if anchor.IsZero() {
		return i.settle(i.cur.Probe(btr.ProbeFirst, nil))
	}
	if len(anchor) != indexKeySize {
		return ErrInvalidArgument
	}
	return i.settle(i.cur.ProbeHKey(btr.ProbeGE, anchor))
}

func (i *recxIter) next() error {
	i.ref.mu.RLock()
	defer i.ref.mu.RUnlock()
	return i.settle(i.cur.Next())
}

func (i *recxIter) fetch(entry *IterEntry) (Anchor, error) {
	i.ref.mu.RLock()
	defer i.ref.mu.RUnlock()

	kb := &KeyBundle{}
	rb := &RecBundle{}
	hkey, err := i.cur.Fetch(kb, rb)
	if err != nil {
		return nil, err
	}
	entry.Epoch = kb.Epr.Lo
	entry.Recx = *rb.Recx
	entry.Csum = rb.Csum
	entry.Value = rb.Iov.Buf
	return Anchor(append([]byte(nil), hkey...)), nil
}
