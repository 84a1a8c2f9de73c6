package umem

import (
	"errors"
	"sync"
)

// --------------------------------------------------------------------------
// Errors and constants
// --------------------------------------------------------------------------

var (
	// ErrOutOfSpace is returned when an allocation would exceed Options.MaxBytes.
	ErrOutOfSpace = errors.New("umem: out of space")
	// ErrInvalidMemID is returned for nil, freed or foreign handles.
	ErrInvalidMemID = errors.New("umem: invalid memory id")
	// ErrTxClosed is returned when a committed or aborted transaction is used.
	ErrTxClosed = errors.New("umem: transaction closed")
)

const (
	// Alignment of every allocation.
	Alignment = 8
	// DefaultChunkSize is the size of one arena chunk (1 MiB).
	DefaultChunkSize = 1 << 20
	// maxChunkSize keeps offsets inside the lower half of a MemID.
	maxChunkSize = 1 << 31
)

// AlignSize rounds n up to the allocation alignment.
func AlignSize(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// --------------------------------------------------------------------------
// Arena
// --------------------------------------------------------------------------

// Options configures an Arena.
type Options struct {
	ChunkSize int   // Bytes per chunk (0 = DefaultChunkSize)
	MaxBytes  int64 // Upper bound for live allocated bytes (0 = unlimited)
}

// DefaultOptions returns the default arena options.
func DefaultOptions() *Options {
	return &Options{
		ChunkSize: DefaultChunkSize,
	}
}

// Stats describes the arena usage.
type Stats struct {
	BytesReserved  int64 `json:"bytes_reserved"`  // chunk memory
	BytesAllocated int64 `json:"bytes_allocated"` // live allocations, aligned
	BytesFreed     int64 `json:"bytes_freed"`     // cumulative
	LiveAllocs     int64 `json:"live_allocs"`
	TotalAllocs    int64 `json:"total_allocs"`
	Chunks         int   `json:"chunks"`
}

// Arena is a chunked bump allocator with per-size free lists.
//
// Thread-safety: Alloc, Free, Deref and Size are safe for concurrent use.
// Transactions started with Begin are serialised.
type Arena struct {
	opts Options

	mu     sync.RWMutex
	chunks [][]byte
	cur    int             // chunk used for bumping, -1 before the first
	head   int             // bump offset in chunks[cur]
	free   map[int][]MemID // aligned size -> free handles
	sizes  map[MemID]int   // live handle -> requested size
	stats  Stats

	txMu sync.Mutex
}

// NewArena creates an empty arena. A nil opts uses DefaultOptions.
func NewArena(opts *Options) *Arena {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkSize > maxChunkSize {
		o.ChunkSize = maxChunkSize
	}
	o.ChunkSize = AlignSize(o.ChunkSize)

	return &Arena{
		opts:  o,
		cur:   -1,
		free:  make(map[int][]MemID),
		sizes: make(map[MemID]int),
	}
}

// Alloc allocates size bytes of zeroed memory outside of a transaction.
func (a *Arena) Alloc(size int) (MemID, error) {
	if size <= 0 {
		return NilMemID, ErrInvalidMemID
	}
	aligned := AlignSize(size)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opts.MaxBytes > 0 && a.stats.BytesAllocated+int64(aligned) > a.opts.MaxBytes {
		return NilMemID, ErrOutOfSpace
	}

	var id MemID
	if list := a.free[aligned]; len(list) > 0 {
		id = list[len(list)-1]
		a.free[aligned] = list[:len(list)-1]
		clear(a.view(id, aligned))
	} else {
		id = a.bump(aligned)
	}

	a.sizes[id] = size
	a.stats.BytesAllocated += int64(aligned)
	a.stats.LiveAllocs++
	a.stats.TotalAllocs++
	return id, nil
}

// bump carves aligned bytes from the current chunk, starting a new chunk if
// needed. Oversized allocations get a dedicated chunk.
func (a *Arena) bump(aligned int) MemID {
	if aligned > a.opts.ChunkSize {
		a.chunks = append(a.chunks, make([]byte, aligned))
		a.stats.BytesReserved += int64(aligned)
		return makeMemID(len(a.chunks)-1, 0)
	}

	if a.cur < 0 || a.head+aligned > len(a.chunks[a.cur]) {
		a.chunks = append(a.chunks, make([]byte, a.opts.ChunkSize))
		a.stats.BytesReserved += int64(a.opts.ChunkSize)
		a.cur = len(a.chunks) - 1
		a.head = 0
		plog.Debugf("arena grew to %d chunks", len(a.chunks))
	}

	id := makeMemID(a.cur, a.head)
	a.head += aligned
	return id
}

// Free returns the allocation to its size-class free list.
func (a *Arena) Free(id MemID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeLocked(id)
}

func (a *Arena) freeLocked(id MemID) error {
	size, ok := a.sizes[id]
	if !ok {
		return ErrInvalidMemID
	}
	aligned := AlignSize(size)

	delete(a.sizes, id)
	a.free[aligned] = append(a.free[aligned], id)
	a.stats.BytesAllocated -= int64(aligned)
	a.stats.BytesFreed += int64(aligned)
	a.stats.LiveAllocs--
	return nil
}

// Deref returns the bytes of a live allocation, exactly as long as the size
// passed to Alloc. It returns nil for invalid handles.
func (a *Arena) Deref(id MemID) []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()

	size, ok := a.sizes[id]
	if !ok {
		return nil
	}
	return a.view(id, size)
}

// Size returns the requested size of a live allocation, or 0.
func (a *Arena) Size(id MemID) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sizes[id]
}

// Stats returns a snapshot of the arena usage.
func (a *Arena) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.stats
	s.Chunks = len(a.chunks)
	return s
}

func (a *Arena) view(id MemID, size int) []byte {
	off := id.offset()
	return a.chunks[id.chunk()][off : off+size : off+size]
}

// Update runs fn inside a transaction. The transaction is committed if fn
// returns nil and aborted otherwise; fn's error is returned unchanged.
func (a *Arena) Update(fn func(tx *Tx) error) error {
	tx := a.Begin()
	if err := fn(tx); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}
