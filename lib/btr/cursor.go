package btr

// ProbeOp selects how a cursor is positioned.
type ProbeOp int

const (
	ProbeFirst ProbeOp = iota // smallest record
	ProbeLast                 // largest record
	ProbeEQ                   // exact match
	ProbeGE                   // first record >= key
	ProbeGT                   // first record > key
	ProbeLE                   // last record <= key
	ProbeLT                   // last record < key
)

// Cursor walks the records of a tree in hkey order.
//
// The cursor remembers the hkey of its position and re-seeks on every move,
// so it stays usable while other goroutines modify the tree. A cursor itself
// must be used by one goroutine.
type Cursor[K, V any] struct {
	t     *Tree[K, V]
	hkey  []byte
	valid bool
}

// NewCursor returns an unpositioned cursor.
func (t *Tree[K, V]) NewCursor() *Cursor[K, V] {
	return &Cursor[K, V]{t: t}
}

// Valid reports whether the cursor is positioned on a record.
func (c *Cursor[K, V]) Valid() bool { return c.valid }

// HKey returns the hkey of the current position. The slice is reused by the
// next move.
func (c *Cursor[K, V]) HKey() []byte { return c.hkey }

// Probe positions the cursor relative to key. The key is ignored for
// ProbeFirst and ProbeLast.
func (c *Cursor[K, V]) Probe(op ProbeOp, key K) error {
	if op == ProbeFirst || op == ProbeLast {
		return c.ProbeHKey(op, nil)
	}
	hkey, err := c.t.ops.HKey(key)
	if err != nil {
		return err
	}
	return c.ProbeHKey(op, hkey)
}

// ProbeHKey positions the cursor relative to a raw hkey.
func (c *Cursor[K, V]) ProbeHKey(op ProbeOp, hkey []byte) error {
	st, err := c.t.state()
	if err != nil {
		return err
	}

	st.mu.RLock()
	rec, ok := seek(st, op, hkey)
	st.mu.RUnlock()

	return c.set(rec, ok)
}

// Next moves to the following record.
func (c *Cursor[K, V]) Next() error {
	if !c.valid {
		return ErrNonexist
	}
	return c.ProbeHKey(ProbeGT, c.hkey)
}

// Prev moves to the preceding record.
func (c *Cursor[K, V]) Prev() error {
	if !c.valid {
		return ErrNonexist
	}
	return c.ProbeHKey(ProbeLT, c.hkey)
}

// Fetch decodes the current record into key and val and returns its hkey.
// It fails with ErrNonexist if the record was deleted in the meantime.
func (c *Cursor[K, V]) Fetch(key K, val V) ([]byte, error) {
	if !c.valid {
		return nil, ErrNonexist
	}
	st, err := c.t.state()
	if err != nil {
		return nil, err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	rec, ok := st.bt.Get(&Record{Key: c.hkey})
	if !ok {
		return nil, ErrNonexist
	}
	if err := c.t.ops.RecFetch(c.t.forest.mem, rec, key, val); err != nil {
		return nil, err
	}
	return c.hkey, nil
}

func (c *Cursor[K, V]) set(rec *Record, ok bool) error {
	if !ok {
		c.valid = false
		return ErrNonexist
	}
	c.hkey = append(c.hkey[:0], rec.Key...)
	c.valid = true
	return nil
}

// seek must be called with st.mu held.
func seek(st *treeState, op ProbeOp, hkey []byte) (*Record, bool) {
	pivot := &Record{Key: hkey}
	cmp := st.class.Compare

	var found *Record
	switch op {
	case ProbeFirst:
		return st.bt.Min()
	case ProbeLast:
		return st.bt.Max()
	case ProbeEQ:
		return st.bt.Get(pivot)
	case ProbeGE, ProbeGT:
		st.bt.AscendGreaterOrEqual(pivot, func(r *Record) bool {
			if op == ProbeGT && cmp(r.Key, hkey) == 0 {
				return true
			}
			found = r
			return false
		})
	case ProbeLE, ProbeLT:
		st.bt.DescendLessOrEqual(pivot, func(r *Record) bool {
			if op == ProbeLT && cmp(r.Key, hkey) == 0 {
				return true
			}
			found = r
			return false
		})
	}
	return found, found != nil
}
