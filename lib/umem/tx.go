package umem

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

type undoRange struct {
	id   MemID
	data []byte
}

// Tx is an arena transaction.
//
// Allocations take effect immediately and are released again on abort.
// Frees are deferred until commit. AddRange snapshots an allocation so that
// in-place writes are rolled back on abort. OnAbort and OnCommit register
// callbacks for DRAM state that mirrors arena contents; abort callbacks run
// in reverse registration order.
//
// Thread-safety: a Tx must be used by one goroutine. Only one Tx per arena is
// open at a time, Begin blocks until the previous one finished.
type Tx struct {
	a        *Arena
	allocs   []MemID
	frees    []MemID
	undo     []undoRange
	onAbort  []func()
	onCommit []func()
	done     bool
}

// Begin starts a transaction.
func (a *Arena) Begin() *Tx {
	a.txMu.Lock()
	return &Tx{a: a}
}

// Arena returns the arena the transaction belongs to.
func (tx *Tx) Arena() *Arena { return tx.a }

// Alloc allocates zeroed memory that is released again if the transaction
// aborts.
func (tx *Tx) Alloc(size int) (MemID, error) {
	if tx.done {
		return NilMemID, ErrTxClosed
	}
	id, err := tx.a.Alloc(size)
	if err != nil {
		return NilMemID, err
	}
	tx.allocs = append(tx.allocs, id)
	return id, nil
}

// Free schedules id to be freed on commit.
func (tx *Tx) Free(id MemID) error {
	if tx.done {
		return ErrTxClosed
	}
	if tx.a.Size(id) == 0 {
		return ErrInvalidMemID
	}
	tx.frees = append(tx.frees, id)
	return nil
}

// AddRange snapshots the current contents of id. On abort the snapshot is
// copied back.
func (tx *Tx) AddRange(id MemID) error {
	if tx.done {
		return ErrTxClosed
	}
	buf := tx.a.Deref(id)
	if buf == nil {
		return ErrInvalidMemID
	}
	tx.undo = append(tx.undo, undoRange{id: id, data: append([]byte(nil), buf...)})
	return nil
}

// OnAbort registers fn to run if the transaction aborts.
func (tx *Tx) OnAbort(fn func()) {
	if !tx.done {
		tx.onAbort = append(tx.onAbort, fn)
	}
}

// OnCommit registers fn to run after the transaction committed.
func (tx *Tx) OnCommit(fn func()) {
	if !tx.done {
		tx.onCommit = append(tx.onCommit, fn)
	}
}

// Commit applies the deferred frees and runs the commit callbacks.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	tx.done = true
	defer tx.a.txMu.Unlock()

	var firstErr error
	for _, id := range tx.frees {
		if err := tx.a.Free(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, fn := range tx.onCommit {
		fn()
	}
	if firstErr != nil {
		plog.Warningf("commit freed an invalid id: %v", firstErr)
	}
	return firstErr
}

// Abort rolls back the transaction. Calling Abort on a finished transaction
// is a no-op.
func (tx *Tx) Abort() {
	if tx.done {
		return
	}
	tx.done = true
	defer tx.a.txMu.Unlock()

	for i := len(tx.onAbort) - 1; i >= 0; i-- {
		tx.onAbort[i]()
	}
	for i := len(tx.undo) - 1; i >= 0; i-- {
		u := tx.undo[i]
		if buf := tx.a.Deref(u.id); buf != nil {
			copy(buf, u.data)
		}
	}
	for _, id := range tx.allocs {
		_ = tx.a.Free(id)
	}
}
