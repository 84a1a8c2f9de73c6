package vos

import (
	"fmt"
	"sync"

	"github.com/BiyanKilani/daos/lib/btr"
	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/BiyanKilani/daos/lib/vos/util"
	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

const (
	// DefaultOIShards is the default number of object index shards per container.
	DefaultOIShards = 16
	// DefaultTreeOrder is the order of key and index trees.
	DefaultTreeOrder = 16
)

// PoolOptions configures a Pool.
type PoolOptions struct {
	ID             uuid.UUID // Pool identifier (zero = random)
	ArenaChunkSize int       // Arena chunk size in bytes (0 = umem default)
	MaxBytes       int64     // Arena capacity (0 = unlimited)
	OIShards       int       // Object index shards per container
	TreeOrder      uint32    // Order of key and index trees
}

// DefaultPoolOptions returns the default pool options.
func DefaultPoolOptions() *PoolOptions {
	return &PoolOptions{
		ArenaChunkSize: umem.DefaultChunkSize,
		OIShards:       DefaultOIShards,
		TreeOrder:      DefaultTreeOrder,
	}
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// Pool is one storage pool: an arena, the trees allocated from it and the
// containers stored in it.
//
// Thread-safety: all methods are safe for concurrent use. mu guards the
// container index; open handles live in a concurrent map.
type Pool struct {
	id     uuid.UUID
	opts   PoolOptions
	mem    *umem.Arena
	forest *btr.Forest
	keyOps *keyOps
	idxOps *indexOps
	hist   *util.SizeHistogram

	mu      sync.RWMutex
	conts   *btree.BTreeG[*Container]
	handles *xsync.MapOf[uuid.UUID, *Container]
	closed  bool
}

// CreatePool creates an empty pool. A nil opts uses DefaultPoolOptions.
func CreatePool(opts *PoolOptions) (*Pool, error) {
	if opts == nil {
		opts = DefaultPoolOptions()
	}
	o := *opts
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.OIShards <= 0 {
		o.OIShards = DefaultOIShards
	}
	if o.TreeOrder == 0 {
		o.TreeOrder = DefaultTreeOrder
	}

	mem := umem.NewArena(&umem.Options{ChunkSize: o.ArenaChunkSize, MaxBytes: o.MaxBytes})
	p := &Pool{
		id:     o.ID,
		opts:   o,
		mem:    mem,
		forest: btr.NewForest(mem),
		hist:   util.NewSizeHistogram(),
		conts: btree.NewG[*Container](8, func(a, b *Container) bool {
			return uuidLess(a.id, b.id)
		}),
		handles: xsync.NewMapOf[uuid.UUID, *Container](),
	}
	p.keyOps = &keyOps{p: p}
	p.idxOps = &indexOps{p: p}

	plog.Infof("created pool %s (%d object index shards)", p.id, o.OIShards)
	return p, nil
}

// ID returns the pool identifier.
func (p *Pool) ID() uuid.UUID { return p.id }

// Arena returns the pool's arena.
func (p *Pool) Arena() *umem.Arena { return p.mem }

func uuidLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// trackRecord counts a record allocated in tx.
func (p *Pool) trackRecord(tx *umem.Tx, size int) {
	p.hist.AddSample(size)
	tx.OnAbort(func() { p.hist.RemoveSample(size) })
}

// untrackRecord forgets a record once tx, which frees it, commits.
func (p *Pool) untrackRecord(tx *umem.Tx, size int) {
	tx.OnCommit(func() { p.hist.RemoveSample(size) })
}

// CreateContainer adds an empty container.
func (p *Pool) CreateContainer(id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrInvalidState
	}
	if _, ok := p.conts.Get(&Container{id: id}); ok {
		return fmt.Errorf("%w: container %s", ErrExist, id)
	}
	p.conts.ReplaceOrInsert(newContainer(p, id))

	plog.Infof("created container %s in pool %s", id, p.id)
	return nil
}

// OpenContainer returns a handle to an existing container. Every open must
// be paired with CloseContainer.
func (p *Pool) OpenContainer(id uuid.UUID) (*Container, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrInvalidState
	}
	co, ok := p.conts.Get(&Container{id: id})
	if !ok {
		return nil, fmt.Errorf("%w: container %s", ErrNonexist, id)
	}

	// serialized with the destroy claim on the same key
	var err error
	p.handles.Compute(id, func(cur *Container, loaded bool) (*Container, bool) {
		if co.destroyed.Load() {
			err = fmt.Errorf("%w: container %s", ErrNonexist, id)
			return cur, !loaded
		}
		co.opens++
		return co, false
	})
	if err != nil {
		return nil, err
	}
	return co, nil
}

// CloseContainer releases a handle returned by OpenContainer.
func (p *Pool) CloseContainer(co *Container) error {
	if co == nil || co.pool != p {
		return ErrInvalidArgument
	}

	var err error
	p.handles.Compute(co.id, func(cur *Container, loaded bool) (*Container, bool) {
		if !loaded || cur.opens == 0 {
			err = ErrInvalidArgument
			return cur, !loaded
		}
		cur.opens--
		return cur, cur.opens == 0
	})
	return err
}

// DestroyContainer removes a closed container and all of its objects. It
// fails with ErrBusy while handles are open or references are cached as held.
func (p *Pool) DestroyContainer(cache *ObjCache, id uuid.UUID) error {
	p.mu.Lock()
	co, ok := p.conts.Get(&Container{id: id})
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: container %s", ErrNonexist, id)
	}
	if _, open := p.handles.Load(id); open {
		return fmt.Errorf("%w: container %s is open", ErrBusy, id)
	}

	destroy := func() error {
		if err := p.claimDestroy(co); err != nil {
			return err
		}
		objs := co.objects()
		err := p.mem.Update(func(tx *umem.Tx) error {
			for _, obj := range objs {
				if err := btr.Destroy(p.forest, tx, obj.KeyRoot, p.keyOps); err != nil {
					return fmt.Errorf("destroy %s: %w", obj.ID, err)
				}
			}
			return nil
		})
		if err != nil {
			co.destroyed.Store(false)
			return err
		}

		p.mu.Lock()
		p.conts.Delete(co)
		p.mu.Unlock()
		return nil
	}

	var err error
	if cache != nil {
		err = cache.evictContainerAndRun(co, destroy)
	} else {
		err = destroy()
	}
	if err != nil {
		return err
	}

	plog.Infof("destroyed container %s (%d objects)", id, co.Len())
	return nil
}

// claimDestroy marks co destroyed unless a handle is open. It runs on the
// handle map entry of co, so an OpenContainer either completes first or sees
// the mark.
func (p *Pool) claimDestroy(co *Container) error {
	var err error
	p.handles.Compute(co.id, func(cur *Container, loaded bool) (*Container, bool) {
		switch {
		case loaded:
			err = fmt.Errorf("%w: container %s is open", ErrBusy, co.id)
		case !co.destroyed.CompareAndSwap(false, true):
			err = fmt.Errorf("%w: container %s", ErrNonexist, co.id)
		}
		return cur, !loaded
	})
	return err
}

// Containers returns the identifiers of all containers in order.
func (p *Pool) Containers() []uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]uuid.UUID, 0, p.conts.Len())
	p.conts.Ascend(func(co *Container) bool {
		out = append(out, co.id)
		return true
	})
	return out
}

// containerAtOrAfter returns the first container with an id >= id, or the
// first one after id if strict is set.
func (p *Pool) containerAtOrAfter(id uuid.UUID, strict bool) *Container {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var found *Container
	p.conts.AscendGreaterOrEqual(&Container{id: id}, func(co *Container) bool {
		if strict && co.id == id {
			return true
		}
		found = co
		return false
	})
	return found
}

// Close closes the pool. It fails with ErrBusy while containers are open.
func (p *Pool) Close() error {
	if n := p.handles.Size(); n > 0 {
		return fmt.Errorf("%w: %d containers open", ErrBusy, n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	plog.Infof("closed pool %s", p.id)
	return nil
}

// --------------------------------------------------------------------------
// Info
// --------------------------------------------------------------------------

// RecordSizes summarises the sizes of all stored records.
type RecordSizes struct {
	Count       int64     `json:"count"`
	TotalBytes  int64     `json:"total_bytes"`
	AverageSize int       `json:"average_size"`
	MedianSize  int       `json:"median_size"`
	P99Size     int       `json:"p99_size"`
	Boundaries  []int     `json:"boundaries"`
	Percentages []float64 `json:"percentages"`
}

// PoolInfo describes a pool.
type PoolInfo struct {
	ID         uuid.UUID              `json:"id"`
	Containers int                    `json:"containers"`
	Objects    int                    `json:"objects"`
	OpenConts  int                    `json:"open_containers"`
	Trees      int                    `json:"trees"`
	Arena      umem.Stats             `json:"arena"`
	Records    RecordSizes            `json:"records"`
	ShardStats util.DistributionStats `json:"shard_stats"`
}

// Info returns a snapshot of the pool's usage.
func (p *Pool) Info() PoolInfo {
	p.mu.RLock()
	info := PoolInfo{
		ID:         p.id,
		Containers: p.conts.Len(),
	}
	shardSizes := make([]float64, p.opts.OIShards)
	p.conts.Ascend(func(co *Container) bool {
		for i, n := range co.shardSizes() {
			shardSizes[i] += float64(n)
			info.Objects += n
		}
		return true
	})
	p.mu.RUnlock()

	bounds, pct := p.hist.SizeDistribution()
	info.OpenConts = p.handles.Size()
	info.Trees = p.forest.Len()
	info.Arena = p.mem.Stats()
	info.ShardStats = util.NewDistributionStats(shardSizes)
	info.Records = RecordSizes{
		Count:       p.hist.GetCount(),
		TotalBytes:  p.hist.TotalSize(),
		AverageSize: p.hist.AverageSize(),
		MedianSize:  p.hist.MedianEstimate(),
		P99Size:     p.hist.GetPercentileEstimate(99),
		Boundaries:  bounds,
		Percentages: pct,
	}
	return info
}
