package vos

import (
	"container/list"
	"fmt"
	"io"
	"sync"

	"github.com/BiyanKilani/daos/lib/btr"
	"github.com/BiyanKilani/daos/lib/vos/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Object reference
// --------------------------------------------------------------------------

type cacheKey struct {
	co  uuid.UUID
	oid UnitOID
}

func (k cacheKey) hash() uint64 {
	var buf [16 + unitOIDSize]byte
	copy(buf[:16], k.co[:])
	k.oid.put(buf[16:])
	return util.Crc64(buf[:])
}

// ObjectRef is an open handle onto one object's key tree.
//
// References are owned by the cache and handed out by Acquire. A reference
// stays valid until it is released; it is never evicted while held.
//
// Thread-safety: mu guards obj and tree. Writers hold it exclusively for a
// whole update, readers shared for a whole lookup.
type ObjectRef struct {
	key   cacheKey
	co    *Container
	cache *ObjCache

	mu   sync.RWMutex
	obj  *Object
	tree *keyTree

	// guarded by cache.mu
	refs   int
	elem   *list.Element
	bucket int
}

// OID returns the object identifier.
func (r *ObjectRef) OID() UnitOID { return r.key.oid }

// Container returns the owning container.
func (r *ObjectRef) Container() *Container { return r.co }

// Object returns the descriptor, or nil if the object does not exist yet.
func (r *ObjectRef) Object() *Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.obj
}

// IsNew reports whether the object has not been written yet.
func (r *ObjectRef) IsNew() bool {
	return r.Object().IsNew()
}

// open loads the descriptor and opens the key tree. A missing object leaves
// the reference empty.
func (r *ObjectRef) open() error {
	obj := r.co.lookupObject(r.key.oid)
	if obj == nil {
		return nil
	}
	tree, err := btr.Open(r.co.pool.forest, obj.KeyRoot, r.co.pool.keyOps)
	if err != nil {
		return fmt.Errorf("open key tree of %s: %w", obj.ID, err)
	}
	r.obj = obj
	r.tree = tree
	return nil
}

func (r *ObjectRef) close() {
	if r.tree != nil {
		r.tree.Close()
	}
	r.obj = nil
	r.tree = nil
}

// --------------------------------------------------------------------------
// Object cache
// --------------------------------------------------------------------------

const (
	// DefaultCacheSize is the default number of cached references.
	DefaultCacheSize = 1024
	// DefaultHashBuckets is the default number of hash buckets.
	DefaultHashBuckets = 256
)

// CacheOptions configures an ObjCache.
type CacheOptions struct {
	CacheSize   int // Maximum number of references
	HashBuckets int // Number of hash buckets
}

// DefaultCacheOptions returns the default cache options.
func DefaultCacheOptions() *CacheOptions {
	return &CacheOptions{
		CacheSize:   DefaultCacheSize,
		HashBuckets: DefaultHashBuckets,
	}
}

// CacheStats is a snapshot of the cache counters.
type CacheStats struct {
	Capacity  int    `json:"capacity"`
	Filled    int    `json:"filled"`
	RefsHeld  int    `json:"refs_held"` // distinct entries currently referenced
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Exhausted uint64 `json:"exhausted"`
}

// ObjCache bounds the number of open object references.
//
// Every reference sits on the LRU list, which owns it, and in one hash
// bucket, which only indexes it. Acquire moves a reference to the front; a
// miss on a full cache evicts the unreferenced entry closest to the back.
//
// Thread-safety: all methods are safe for concurrent use. A single mutex
// guards the list, the buckets and the counters. It is held while a missed
// reference is opened, which only reads the container's object index.
type ObjCache struct {
	mu       sync.Mutex
	capacity int
	lru      *list.List
	buckets  []map[cacheKey]*ObjectRef
	refsHeld int // entries with a non-zero refcount
	closed   bool

	set       *metrics.Set
	hits      *metrics.Counter
	misses    *metrics.Counter
	evictions *metrics.Counter
	exhausted *metrics.Counter
}

// NewObjCache creates an empty cache. A nil opts uses DefaultCacheOptions.
func NewObjCache(opts *CacheOptions) (*ObjCache, error) {
	if opts == nil {
		opts = DefaultCacheOptions()
	}
	if opts.CacheSize <= 0 || opts.HashBuckets <= 0 {
		return nil, fmt.Errorf("%w: cache size %d, buckets %d", ErrInvalidArgument, opts.CacheSize, opts.HashBuckets)
	}

	c := &ObjCache{
		capacity: opts.CacheSize,
		lru:      list.New(),
		buckets:  make([]map[cacheKey]*ObjectRef, opts.HashBuckets),
		set:      metrics.NewSet(),
	}
	for i := range c.buckets {
		c.buckets[i] = make(map[cacheKey]*ObjectRef)
	}

	c.hits = c.set.NewCounter("vos_obj_cache_hits_total")
	c.misses = c.set.NewCounter("vos_obj_cache_misses_total")
	c.evictions = c.set.NewCounter("vos_obj_cache_evictions_total")
	c.exhausted = c.set.NewCounter("vos_obj_cache_exhausted_total")
	c.set.NewGauge("vos_obj_cache_capacity", func() float64 { return float64(c.capacity) })
	c.set.NewGauge("vos_obj_cache_filled", func() float64 { return float64(c.Stats().Filled) })
	c.set.NewGauge("vos_obj_cache_refs_held", func() float64 { return float64(c.Stats().RefsHeld) })

	plog.Debugf("object cache created: capacity %d, %d buckets", opts.CacheSize, opts.HashBuckets)
	return c, nil
}

// Acquire returns the reference for (co, oid), opening it on a miss. The
// reference must be given back with Release.
func (c *ObjCache) Acquire(co *Container, oid UnitOID) (*ObjectRef, error) {
	if co == nil {
		return nil, ErrInvalidArgument
	}
	key := cacheKey{co: co.id, oid: oid}
	bucket := int(key.hash() % uint64(len(c.buckets)))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrInvalidState
	}
	if co.destroyed.Load() {
		return nil, ErrNonexist
	}

	if ref, ok := c.buckets[bucket][key]; ok {
		if ref.refs == 0 {
			c.refsHeld++
		}
		ref.refs++
		c.lru.MoveToFront(ref.elem)
		c.hits.Inc()
		return ref, nil
	}
	c.misses.Inc()

	if c.lru.Len() >= c.capacity {
		victim := c.victimLocked()
		if victim == nil {
			c.exhausted.Inc()
			return nil, ErrCacheExhausted
		}
		c.removeLocked(victim)
	}

	ref := &ObjectRef{key: key, co: co, cache: c, bucket: bucket}
	if err := ref.open(); err != nil {
		return nil, err
	}
	ref.refs = 1
	c.refsHeld++
	ref.elem = c.lru.PushFront(ref)
	c.buckets[bucket][key] = ref

	plog.Debugf("cached %s of container %s", oid, co.id)
	return ref, nil
}

// Release gives back a reference obtained from Acquire. Once the last holder
// released it the entry is evictable.
func (c *ObjCache) Release(ref *ObjectRef) error {
	if ref == nil {
		return ErrInvalidRelease
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ref.cache != c || ref.refs <= 0 {
		return ErrInvalidRelease
	}
	ref.refs--
	if ref.refs == 0 {
		c.refsHeld--
	}
	return nil
}

// victimLocked returns the least recently used unreferenced entry.
func (c *ObjCache) victimLocked() *ObjectRef {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		if ref := e.Value.(*ObjectRef); ref.refs == 0 {
			return ref
		}
	}
	return nil
}

func (c *ObjCache) removeLocked(ref *ObjectRef) {
	c.lru.Remove(ref.elem)
	delete(c.buckets[ref.bucket], ref.key)
	ref.elem = nil
	ref.close()
	c.evictions.Inc()
	plog.Debugf("evicted %s of container %s", ref.key.oid, ref.key.co)
}

// Evict drops the entry for (co, oid). It fails with ErrBusy if the entry is
// held; a missing entry is not an error.
func (c *ObjCache) Evict(co *Container, oid UnitOID) error {
	return c.evictAndRun(co, oid, nil)
}

// evictAndRun evicts (co, oid) and runs fn before the cache lock is dropped,
// so that no reference to the object can be opened while fn runs. fn must
// not call back into the cache.
func (c *ObjCache) evictAndRun(co *Container, oid UnitOID, fn func() error) error {
	key := cacheKey{co: co.id, oid: oid}
	bucket := int(key.hash() % uint64(len(c.buckets)))

	c.mu.Lock()
	defer c.mu.Unlock()

	if ref, ok := c.buckets[bucket][key]; ok {
		if ref.refs > 0 {
			return ErrBusy
		}
		c.removeLocked(ref)
	}
	if fn == nil {
		return nil
	}
	return fn()
}

// EvictContainer drops every unreferenced entry of co. It returns ErrBusy if
// some entries are still held; those stay cached.
func (c *ObjCache) EvictContainer(co *Container) error {
	return c.evictContainerAndRun(co, nil)
}

func (c *ObjCache) evictContainerAndRun(co *Container, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	busy := 0
	for e := c.lru.Front(); e != nil; {
		next := e.Next()
		if ref := e.Value.(*ObjectRef); ref.co == co {
			if ref.refs > 0 {
				busy++
			} else {
				c.removeLocked(ref)
			}
		}
		e = next
	}
	if busy > 0 {
		return fmt.Errorf("%w: %d references of container %s held", ErrBusy, busy, co.id)
	}
	if fn == nil {
		return nil
	}
	return fn()
}

// Close evicts every entry and makes further Acquire calls fail. It returns
// ErrBusy, and keeps the cache open, if any reference is held.
func (c *ObjCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if c.refsHeld > 0 {
		return fmt.Errorf("%w: %d entries held", ErrBusy, c.refsHeld)
	}
	for e := c.lru.Front(); e != nil; {
		next := e.Next()
		c.removeLocked(e.Value.(*ObjectRef))
		e = next
	}
	c.closed = true
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *ObjCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Capacity:  c.capacity,
		Filled:    c.lru.Len(),
		RefsHeld:  c.refsHeld,
		Hits:      c.hits.Get(),
		Misses:    c.misses.Get(),
		Evictions: c.evictions.Get(),
		Exhausted: c.exhausted.Get(),
	}
}

// WritePrometheus writes the cache metrics in Prometheus text format.
func (c *ObjCache) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}
