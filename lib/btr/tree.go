package btr

import (
	"github.com/BiyanKilani/daos/lib/umem"
)

// Tree is an open handle onto one tree.
//
// Thread-safety: a Tree may be shared between goroutines. Readers take the
// tree's read lock, Insert and Delete its write lock, for the duration of a
// single call.
type Tree[K, V any] struct {
	forest *Forest
	ops    Ops[K, V]
	st     *treeState
}

// Open returns a handle onto an existing tree.
func Open[K, V any](f *Forest, root Root, ops Ops[K, V]) (*Tree[K, V], error) {
	if ops.Class() != root.Class {
		return nil, ErrClassMismatch
	}
	st, err := f.lookup(root)
	if err != nil {
		return nil, err
	}
	return &Tree[K, V]{forest: f, ops: ops, st: st}, nil
}

// Root returns the descriptor of the tree.
func (t *Tree[K, V]) Root() Root {
	if t.st == nil {
		return Root{}
	}
	return t.st.root
}

// Close invalidates the handle. The tree itself is untouched.
func (t *Tree[K, V]) Close() {
	t.st = nil
}

func (t *Tree[K, V]) state() (*treeState, error) {
	if t.st == nil || t.st.dead {
		return nil, ErrClosed
	}
	return t.st, nil
}

// Len returns the number of records.
func (t *Tree[K, V]) Len() int {
	st, err := t.state()
	if err != nil {
		return 0
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.bt.Len()
}

// Insert adds a record or updates the existing one with the same hkey.
// The in-memory index is restored if tx aborts.
func (t *Tree[K, V]) Insert(tx *umem.Tx, key K, val V) error {
	st, err := t.state()
	if err != nil {
		return err
	}
	hkey, err := t.ops.HKey(key)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if rec, ok := st.bt.Get(&Record{Key: hkey}); ok {
		return t.ops.RecUpdate(tx, rec, key, val)
	}

	mem, err := t.ops.RecAlloc(tx, key, val)
	if err != nil {
		return err
	}
	rec := &Record{Key: append([]byte(nil), hkey...), MemID: mem}
	st.bt.ReplaceOrInsert(rec)
	tx.OnAbort(func() {
		st.mu.Lock()
		st.bt.Delete(rec)
		st.mu.Unlock()
	})
	return nil
}

// Lookup fetches the record for key into key and val.
func (t *Tree[K, V]) Lookup(key K, val V) error {
	st, err := t.state()
	if err != nil {
		return err
	}
	hkey, err := t.ops.HKey(key)
	if err != nil {
		return err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	rec, ok := st.bt.Get(&Record{Key: hkey})
	if !ok {
		return ErrNonexist
	}
	return t.ops.RecFetch(t.forest.mem, rec, key, val)
}

// Delete removes the record for key and frees its leaf.
func (t *Tree[K, V]) Delete(tx *umem.Tx, key K) error {
	st, err := t.state()
	if err != nil {
		return err
	}
	hkey, err := t.ops.HKey(key)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.bt.Get(&Record{Key: hkey})
	if !ok {
		return ErrNonexist
	}
	if err := t.ops.RecFree(tx, rec); err != nil {
		return err
	}
	st.bt.Delete(rec)
	tx.OnAbort(func() {
		st.mu.Lock()
		st.bt.ReplaceOrInsert(rec)
		st.mu.Unlock()
	})
	return nil
}
