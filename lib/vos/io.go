package vos

import (
	"errors"
	"fmt"

	"github.com/BiyanKilani/daos/lib/btr"
	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/BiyanKilani/daos/lib/vos/record"
)

// FetchResult is the version returned by ObjFetch.
type FetchResult struct {
	Epoch uint64
	Recx  Recx
	Csum  *Csum
	Data  []byte
}

// ObjUpdate writes one value extent of dkey at epoch. The object is created
// on first write, the key-record and its index tree on the first write of
// dkey. Writing the same (dkey, index, epoch) twice overwrites the version.
// A write after a punch revives the object.
func ObjUpdate(cache *ObjCache, co *Container, oid UnitOID, epoch uint64,
	dkey []byte, recx Recx, csum *Csum, value []byte) error {

	if epoch == 0 || len(dkey) == 0 || uint64(len(dkey)) > record.MaxKeySize {
		return ErrInvalidArgument
	}
	if err := checkCsum(csum); err != nil {
		return err
	}
	want, ok := record.PayloadSize(recx.RSize, recx.Nr)
	if !ok {
		return fmt.Errorf("%w: extent %d x %d too large", ErrInvalidArgument, recx.Nr, recx.RSize)
	}
	if len(value) != want {
		return fmt.Errorf("%w: %d bytes for %d x %d", ErrRecordSizeMismatch, len(value), recx.Nr, recx.RSize)
	}

	ref, err := cache.Acquire(co, oid)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Release(ref) }()

	ref.mu.Lock()
	defer ref.mu.Unlock()

	p := co.pool
	return p.mem.Update(func(tx *umem.Tx) error {
		if ref.obj == nil {
			obj, err := co.createObject(tx, oid)
			if err != nil {
				return err
			}
			tree, err := btr.Open(p.forest, obj.KeyRoot, p.keyOps)
			if err != nil {
				return err
			}
			ref.obj, ref.tree = obj, tree
			tx.OnAbort(func() { ref.obj, ref.tree = nil, nil })
		}
		obj := ref.obj

		// key level first, then the index tree below it
		krb := &RecBundle{}
		if err := ref.tree.Insert(tx, &KeyBundle{Key: dkey}, krb); err != nil {
			return fmt.Errorf("insert dkey: %w", err)
		}
		sub, err := btr.Open(p.forest, *krb.Btr, p.idxOps)
		if err != nil {
			return err
		}
		ikb := &KeyBundle{Idx: recx.Index, Epr: &EpochRange{Lo: epoch, Hi: epoch}}
		irb := &RecBundle{
			Csum: csum,
			Iov:  &IOVec{Buf: value},
			Recx: &Recx{RSize: recx.RSize, Index: recx.Index, Nr: recx.Nr},
		}
		if err := sub.Insert(tx, ikb, irb); err != nil {
			return fmt.Errorf("insert extent: %w", err)
		}

		if prev := obj.noteUpdate(epoch); prev < epoch {
			tx.OnAbort(func() { obj.latest.Store(prev) })
		}
		if pe := obj.PunchEpoch(); pe != 0 && epoch > pe {
			tx.OnCommit(func() { co.unqueueZombie(obj) })
		}
		return nil
	})
}

// ObjFetch returns the newest version of extent idx of dkey inside epr.
func ObjFetch(cache *ObjCache, co *Container, oid UnitOID, epr EpochRange,
	dkey []byte, idx uint64) (*FetchResult, error) {

	if len(dkey) == 0 || epr.Lo > epr.Hi {
		return nil, ErrInvalidArgument
	}

	ref, err := cache.Acquire(co, oid)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cache.Release(ref) }()

	ref.mu.RLock()
	defer ref.mu.RUnlock()

	obj := ref.obj
	if obj == nil || obj.IsZombie(epr.Hi) {
		return nil, fmt.Errorf("%w: object %s", ErrNonexist, oid)
	}

	krb := &RecBundle{}
	if err := ref.tree.Lookup(&KeyBundle{Key: dkey}, krb); err != nil {
		return nil, err
	}
	sub, err := btr.Open(co.pool.forest, *krb.Btr, co.pool.idxOps)
	if err != nil {
		return nil, err
	}

	// newest version at or below (idx, epr.Hi)
	cur := sub.NewCursor()
	ikb := &KeyBundle{Idx: idx, Epr: &EpochRange{Lo: epr.Hi, Hi: epr.Hi}}
	irb := &RecBundle{}
	if err := cur.Probe(btr.ProbeLE, ikb); err != nil {
		return nil, err
	}
	if _, err := cur.Fetch(ikb, irb); err != nil {
		return nil, err
	}
	if ikb.Idx != idx || ikb.Epr.Lo < epr.Lo || !obj.visible(ikb.Epr.Lo, epr.Hi) {
		return nil, ErrNonexist
	}
	if irb.Recx.RSize == 0 {
		// punched extent
		return nil, ErrNonexist
	}

	return &FetchResult{
		Epoch: ikb.Epr.Lo,
		Recx:  *irb.Recx,
		Csum:  irb.Csum,
		Data:  irb.Iov.Buf,
	}, nil
}

// ObjPunch punches the object at epoch. Reads at epoch or later no longer
// see versions written at or before epoch, and the object is queued for
// reclamation until it is written again.
func ObjPunch(cache *ObjCache, co *Container, oid UnitOID, epoch uint64) error {
	if epoch == 0 {
		return ErrInvalidArgument
	}

	ref, err := cache.Acquire(co, oid)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Release(ref) }()

	ref.mu.Lock()
	defer ref.mu.Unlock()

	obj := ref.obj
	if obj == nil {
		return fmt.Errorf("%w: object %s", ErrNonexist, oid)
	}

	return co.pool.mem.Update(func(tx *umem.Tx) error {
		prev := obj.punch.Load()
		if epoch <= prev {
			return nil
		}
		obj.punch.Store(epoch)
		tx.OnAbort(func() { obj.punch.Store(prev) })
		tx.OnCommit(func() {
			if obj.IsZombie(EpochMax) {
				co.queueZombie(obj)
			}
		})
		return nil
	})
}

// isEnd reports whether err means a cursor ran off the tree.
func isEnd(err error) bool {
	return errors.Is(err, btr.ErrNonexist)
}
