package vos

import (
	"cmp"
	"encoding/binary"
	"fmt"

	"github.com/BiyanKilani/daos/lib/btr"
	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/BiyanKilani/daos/lib/vos/record"
)

// --------------------------------------------------------------------------
// Tree classes
// --------------------------------------------------------------------------

const (
	// ClassKey orders distribution keys by their raw bytes. Its leaves are
	// key-records embedding the root of an index tree.
	ClassKey = btr.ClassBegin + 0
	// ClassIndex orders value versions by (index, epoch), index major. Its
	// leaves are index-records.
	ClassIndex = btr.ClassBegin + 1
)

// indexKeySize is the size of an index tree hkey.
const indexKeySize = 16

func init() {
	for _, c := range []btr.Class{
		{ID: ClassKey, Name: "vos-key"},
		{ID: ClassIndex, Name: "vos-index", Compare: compareIndexKey},
	} {
		if err := btr.RegisterClass(c); err != nil {
			panic(err)
		}
	}
}

func encodeIndexKey(idx, epoch uint64) []byte {
	buf := make([]byte, indexKeySize)
	binary.BigEndian.PutUint64(buf[0:8], idx)
	binary.BigEndian.PutUint64(buf[8:16], epoch)
	return buf
}

func decodeIndexKey(hkey []byte) (idx, epoch uint64) {
	return binary.BigEndian.Uint64(hkey[0:8]), binary.BigEndian.Uint64(hkey[8:16])
}

func compareIndexKey(a, b []byte) int {
	ai, ae := decodeIndexKey(a)
	bi, be := decodeIndexKey(b)
	if c := cmp.Compare(ai, bi); c != 0 {
		return c
	}
	return cmp.Compare(ae, be)
}

// keyTree is a tree of the key class, indexTree one of the index class.
type (
	keyTree   = btr.Tree[*KeyBundle, *RecBundle]
	indexTree = btr.Tree[*KeyBundle, *RecBundle]
)

// --------------------------------------------------------------------------
// Key class
// --------------------------------------------------------------------------

type keyOps struct {
	p *Pool
}

func (o *keyOps) Class() btr.ClassID { return ClassKey }

func (o *keyOps) HKey(kb *KeyBundle) ([]byte, error) {
	if len(kb.Key) == 0 {
		return nil, ErrInvalidArgument
	}
	return kb.Key, nil
}

// RecAlloc stores a key-record and creates its (empty) index tree in the
// same transaction. The new root is returned in rb.Btr.
func (o *keyOps) RecAlloc(tx *umem.Tx, kb *KeyBundle, rb *RecBundle) (umem.MemID, error) {
	if uint64(len(kb.Key)) > record.MaxKeySize {
		return umem.NilMemID, fmt.Errorf("%w: key of %d bytes", ErrInvalidArgument, len(kb.Key))
	}
	if err := checkCsum(rb.Csum); err != nil {
		return umem.NilMemID, err
	}
	size := KeyRecSize(kb, rb)
	mem := tx.Arena()

	id := rb.MemID
	if id.IsNil() {
		var err error
		if id, err = tx.Alloc(size); err != nil {
			return umem.NilMemID, err
		}
	} else if mem.Size(id) != size {
		return umem.NilMemID, ErrRecordSizeMismatch
	}

	root, err := o.p.forest.Create(tx, ClassIndex, o.p.opts.TreeOrder)
	if err != nil {
		return umem.NilMemID, err
	}
	var rbuf [btr.RootSize]byte
	btr.EncodeRoot(rbuf[:], root)

	csType, csBuf := rb.Csum.parts()
	record.EncodeKeyRec(mem.Deref(id), csType, csBuf, kb.Key, rbuf[:])
	o.p.trackRecord(tx, size)

	rb.MemID = id
	rb.Btr = &root
	return id, nil
}

func (o *keyOps) RecFree(tx *umem.Tx, rec *btr.Record) error {
	kr := record.KeyRecAt(tx.Arena(), rec.MemID)
	if err := kr.Validate(); err != nil {
		return err
	}
	root := btr.DecodeRoot(kr.Root())
	if err := btr.Destroy(o.p.forest, tx, root, o.p.idxOps); err != nil {
		return err
	}
	o.p.untrackRecord(tx, len(kr))
	return tx.Free(rec.MemID)
}

func (o *keyOps) RecFetch(mem *umem.Arena, rec *btr.Record, kb *KeyBundle, rb *RecBundle) error {
	kr := record.KeyRecAt(mem, rec.MemID)
	if err := kr.Validate(); err != nil {
		return err
	}
	if kb != nil {
		kb.Key = append([]byte(nil), kr.Key()...)
	}
	if rb != nil {
		root := btr.DecodeRoot(kr.Root())
		rb.Btr = &root
		rb.MemID = rec.MemID
		rb.Csum = csumFrom(kr.CsumType(), kr.Csum())
	}
	return nil
}

// RecUpdate leaves an existing key-record untouched and returns its subtree.
func (o *keyOps) RecUpdate(tx *umem.Tx, rec *btr.Record, kb *KeyBundle, rb *RecBundle) error {
	kr := record.KeyRecAt(tx.Arena(), rec.MemID)
	if err := kr.Validate(); err != nil {
		return err
	}
	root := btr.DecodeRoot(kr.Root())
	rb.Btr = &root
	rb.MemID = rec.MemID
	return nil
}

// --------------------------------------------------------------------------
// Index class
// --------------------------------------------------------------------------

type indexOps struct {
	p *Pool
}

func (o *indexOps) Class() btr.ClassID { return ClassIndex }

func (o *indexOps) HKey(kb *KeyBundle) ([]byte, error) {
	if kb.Epr == nil {
		return nil, ErrInvalidArgument
	}
	return encodeIndexKey(kb.Idx, kb.Epr.Lo), nil
}

// checkCsum rejects checksums the record header cannot describe.
func checkCsum(cs *Csum) error {
	if cs.len() > record.MaxCsumSize {
		return fmt.Errorf("%w: checksum of %d bytes", ErrInvalidArgument, cs.len())
	}
	return nil
}

// checkValue checks that the value is exactly rsize*nr bytes and that the
// record can be encoded.
func checkValue(rb *RecBundle) error {
	if rb.Recx == nil {
		return ErrInvalidArgument
	}
	if err := checkCsum(rb.Csum); err != nil {
		return err
	}
	want, ok := record.PayloadSize(rb.Recx.RSize, rb.Recx.Nr)
	if !ok {
		return fmt.Errorf("%w: extent %d x %d too large", ErrInvalidArgument, rb.Recx.Nr, rb.Recx.RSize)
	}
	var n int
	if rb.Iov != nil {
		n = len(rb.Iov.Buf)
	}
	if n != want {
		return ErrRecordSizeMismatch
	}
	return nil
}

func (o *indexOps) encode(buf []byte, rb *RecBundle) {
	var data []byte
	if rb.Iov != nil {
		data = rb.Iov.Buf
	}
	csType, csBuf := rb.Csum.parts()
	record.EncodeIndexRec(buf, csType, csBuf, rb.Recx.RSize, rb.Recx.Nr, data)
}

func (o *indexOps) RecAlloc(tx *umem.Tx, kb *KeyBundle, rb *RecBundle) (umem.MemID, error) {
	if err := checkValue(rb); err != nil {
		return umem.NilMemID, err
	}
	size := IndexRecSize(rb)
	id, err := tx.Alloc(size)
	if err != nil {
		return umem.NilMemID, err
	}
	o.encode(tx.Arena().Deref(id), rb)
	o.p.trackRecord(tx, size)

	rb.MemID = id
	rb.Recx.Index = kb.Idx
	return id, nil
}

func (o *indexOps) RecFree(tx *umem.Tx, rec *btr.Record) error {
	o.p.untrackRecord(tx, tx.Arena().Size(rec.MemID))
	return tx.Free(rec.MemID)
}

func (o *indexOps) RecFetch(mem *umem.Arena, rec *btr.Record, kb *KeyBundle, rb *RecBundle) error {
	ir := record.IndexRecAt(mem, rec.MemID)
	if err := ir.Validate(); err != nil {
		return err
	}
	idx, epoch := decodeIndexKey(rec.Key)
	if kb != nil {
		kb.Idx = idx
		kb.Epr = &EpochRange{Lo: epoch, Hi: epoch}
	}
	if rb != nil {
		rb.MemID = rec.MemID
		rb.Recx = &Recx{RSize: ir.RSize(), Index: idx, Nr: ir.Nr()}
		rb.Iov = &IOVec{Buf: append([]byte(nil), ir.Data()...)}
		rb.Csum = csumFrom(ir.CsumType(), ir.Csum())
	}
	return nil
}

// RecUpdate overwrites a version written twice at the same epoch. Records of
// equal size are rewritten in place, others are reallocated.
func (o *indexOps) RecUpdate(tx *umem.Tx, rec *btr.Record, kb *KeyBundle, rb *RecBundle) error {
	if err := checkValue(rb); err != nil {
		return err
	}
	mem := tx.Arena()
	size := IndexRecSize(rb)

	if mem.Size(rec.MemID) == size {
		if err := tx.AddRange(rec.MemID); err != nil {
			return err
		}
		o.encode(mem.Deref(rec.MemID), rb)
		rb.MemID = rec.MemID
		rb.Recx.Index = kb.Idx
		return nil
	}

	id, err := o.RecAlloc(tx, kb, rb)
	if err != nil {
		return err
	}
	if err := o.RecFree(tx, rec); err != nil {
		return err
	}
	old := rec.MemID
	rec.MemID = id
	tx.OnAbort(func() { rec.MemID = old })
	return nil
}
