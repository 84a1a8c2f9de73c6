package btr

import (
	"sync"

	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/google/btree"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultOrder is used by Forest.Create when order is 0.
const DefaultOrder = 16

// treeState is the in-memory index of one tree.
//
// Thread-safety: mu guards bt and dead.
type treeState struct {
	mu    sync.RWMutex
	root  Root
	class Class
	bt    *btree.BTreeG[*Record]
	dead  bool
}

// Forest holds every tree allocated from one arena.
//
// Thread-safety: the tree table is a concurrent map, it is never locked while
// a tree lock is held.
type Forest struct {
	mem   *umem.Arena
	trees *xsync.MapOf[umem.MemID, *treeState]
}

// NewForest creates an empty forest on mem.
func NewForest(mem *umem.Arena) *Forest {
	return &Forest{
		mem:   mem,
		trees: xsync.NewMapOf[umem.MemID, *treeState](),
	}
}

// Arena returns the arena of the forest.
func (f *Forest) Arena() *umem.Arena { return f.mem }

// Len returns the number of live trees.
func (f *Forest) Len() int { return f.trees.Size() }

// Create allocates an empty tree of the given class inside tx.
func (f *Forest) Create(tx *umem.Tx, class ClassID, order uint32) (Root, error) {
	c, ok := LookupClass(class)
	if !ok {
		plog.Warningf("create with unregistered tree class %d", class)
		return Root{}, ErrUnknownClass
	}
	if order == 0 {
		order = DefaultOrder
	}

	node, err := tx.Alloc(RootSize)
	if err != nil {
		return Root{}, err
	}
	root := Root{Class: class, Order: order, Node: node}
	EncodeRoot(f.mem.Deref(node), root)

	degree := int(order) / 2
	if degree < 2 {
		degree = 2
	}
	st := &treeState{
		root:  root,
		class: c,
		bt: btree.NewG[*Record](degree, func(a, b *Record) bool {
			return c.Compare(a.Key, b.Key) < 0
		}),
	}
	f.trees.Store(node, st)
	tx.OnAbort(func() { f.trees.Delete(node) })
	return root, nil
}

func (f *Forest) lookup(root Root) (*treeState, error) {
	st, ok := f.trees.Load(root.Node)
	if !ok {
		return nil, ErrNonexist
	}
	if st.root.Class != root.Class {
		return nil, ErrClassMismatch
	}
	return st, nil
}

// Destroy frees every record of the tree through ops and then the tree
// itself. The tree disappears from the forest when tx commits.
func Destroy[K, V any](f *Forest, tx *umem.Tx, root Root, ops Ops[K, V]) error {
	if ops.Class() != root.Class {
		return ErrClassMismatch
	}
	st, err := f.lookup(root)
	if err != nil {
		return err
	}

	st.mu.RLock()
	recs := make([]*Record, 0, st.bt.Len())
	st.bt.Ascend(func(r *Record) bool {
		recs = append(recs, r)
		return true
	})
	st.mu.RUnlock()

	for _, r := range recs {
		if err := ops.RecFree(tx, r); err != nil {
			return err
		}
	}
	if err := tx.Free(root.Node); err != nil {
		return err
	}

	tx.OnCommit(func() {
		f.trees.Delete(root.Node)
		st.mu.Lock()
		st.bt.Clear(false)
		st.dead = true
		st.mu.Unlock()
	})
	return nil
}
