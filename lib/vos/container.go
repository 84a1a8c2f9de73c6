package vos

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/BiyanKilani/daos/lib/btr"
	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/BiyanKilani/daos/lib/vos/util"
	"github.com/google/btree"
	"github.com/google/uuid"
)

// oiShard is one shard of a container's object index.
//
// Thread-safety: mu guards objs.
type oiShard struct {
	mu   sync.RWMutex
	objs *btree.BTreeG[*Object]
}

// Container is a set of objects inside a pool.
//
// The object index is split into shards; an object lives in the shard
// chosen by jump consistent hashing of the CRC64 of its identifier.
//
// Thread-safety: all methods are safe for concurrent use. Shard locks are
// leaf locks, nothing else is acquired while one is held.
type Container struct {
	id        uuid.UUID
	pool      *Pool
	shards    []*oiShard
	serial    atomic.Uint64
	destroyed atomic.Bool
	opens     int // guarded by the pool's handle table

	zmu      sync.Mutex
	zombies  *util.MapHeap      // serial -> punch epoch
	bySerial map[uint64]UnitOID // queued serials
}

func newContainer(p *Pool, id uuid.UUID) *Container {
	co := &Container{
		id:       id,
		pool:     p,
		shards:   make([]*oiShard, p.opts.OIShards),
		zombies:  util.NewMapHeap(),
		bySerial: make(map[uint64]UnitOID),
	}
	for i := range co.shards {
		co.shards[i] = &oiShard{
			objs: btree.NewG[*Object](16, func(a, b *Object) bool {
				return a.ID.Compare(b.ID) < 0
			}),
		}
	}
	return co
}

// ID returns the container identifier.
func (co *Container) ID() uuid.UUID { return co.id }

// Pool returns the pool holding the container.
func (co *Container) Pool() *Pool { return co.pool }

func (co *Container) shardOf(oid UnitOID) int {
	var buf [unitOIDSize]byte
	oid.put(buf[:])
	return int(util.JumpConsistentHash(util.Crc64(buf[:]), int32(len(co.shards))))
}

// lookupObject returns the descriptor of oid, or nil.
func (co *Container) lookupObject(oid UnitOID) *Object {
	s := co.shards[co.shardOf(oid)]
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, _ := s.objs.Get(&Object{ID: oid})
	return obj
}

// createObject adds a descriptor with an empty key tree inside tx.
func (co *Container) createObject(tx *umem.Tx, oid UnitOID) (*Object, error) {
	root, err := co.pool.forest.Create(tx, ClassKey, co.pool.opts.TreeOrder)
	if err != nil {
		return nil, err
	}
	obj := &Object{ID: oid, KeyRoot: root, Serial: co.serial.Add(1)}

	s := co.shards[co.shardOf(oid)]
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objs.Get(obj); ok {
		return nil, fmt.Errorf("%w: object %s", ErrExist, oid)
	}
	s.objs.ReplaceOrInsert(obj)
	tx.OnAbort(func() {
		s.mu.Lock()
		s.objs.Delete(obj)
		s.mu.Unlock()
	})
	return obj, nil
}

// removeObject drops obj from the index once tx commits.
func (co *Container) removeObject(tx *umem.Tx, obj *Object) {
	tx.OnCommit(func() {
		s := co.shards[co.shardOf(obj.ID)]
		s.mu.Lock()
		s.objs.Delete(obj)
		s.mu.Unlock()
	})
}

// objects returns a snapshot of all descriptors in (shard, oid) order.
func (co *Container) objects() []*Object {
	var out []*Object
	for _, s := range co.shards {
		s.mu.RLock()
		s.objs.Ascend(func(obj *Object) bool {
			out = append(out, obj)
			return true
		})
		s.mu.RUnlock()
	}
	return out
}

// objectAtOrAfter returns the first descriptor at or after (shard, oid) in
// iteration order, or strictly after it if strict is set.
func (co *Container) objectAtOrAfter(shard int, oid UnitOID, strict bool) (int, *Object) {
	for ; shard < len(co.shards); shard++ {
		s := co.shards[shard]
		var found *Object
		s.mu.RLock()
		s.objs.AscendGreaterOrEqual(&Object{ID: oid}, func(obj *Object) bool {
			if strict && obj.ID == oid {
				return true
			}
			found = obj
			return false
		})
		s.mu.RUnlock()
		if found != nil {
			return shard, found
		}
		oid, strict = UnitOID{}, false
	}
	return shard, nil
}

// Len returns the number of objects.
func (co *Container) Len() int {
	n := 0
	for _, c := range co.shardSizes() {
		n += c
	}
	return n
}

func (co *Container) shardSizes() []int {
	out := make([]int, len(co.shards))
	for i, s := range co.shards {
		s.mu.RLock()
		out[i] = s.objs.Len()
		s.mu.RUnlock()
	}
	return out
}

// --------------------------------------------------------------------------
// Zombie reclamation
// --------------------------------------------------------------------------

func (co *Container) queueZombie(obj *Object) {
	co.zmu.Lock()
	defer co.zmu.Unlock()
	co.zombies.AddItem(obj.Serial, obj.PunchEpoch())
	co.bySerial[obj.Serial] = obj.ID
}

func (co *Container) unqueueZombie(obj *Object) {
	co.zmu.Lock()
	defer co.zmu.Unlock()
	co.zombies.RemoveByKey(obj.Serial)
	delete(co.bySerial, obj.Serial)
}

// Zombies returns the number of punched objects waiting for reclamation.
func (co *Container) Zombies() int {
	co.zmu.Lock()
	defer co.zmu.Unlock()
	return co.zombies.Len()
}

// Aggregate reclaims zombie objects punched at or before upTo, oldest punch
// first. Objects that are still referenced through cache are skipped and
// stay queued. It returns the number of reclaimed objects.
func (co *Container) Aggregate(cache *ObjCache, upTo uint64) (int, error) {
	var (
		reclaimed int
		skipped   []*util.Item
	)
	defer func() {
		co.zmu.Lock()
		for _, it := range skipped {
			co.zombies.AddItem(it.Key, it.Priority)
		}
		co.zmu.Unlock()
	}()

	for {
		co.zmu.Lock()
		it, ok := co.zombies.Peek()
		if !ok || it.Priority > upTo {
			co.zmu.Unlock()
			break
		}
		item := *it
		oid := co.bySerial[item.Key]
		co.zombies.RemoveByKey(item.Key)
		co.zmu.Unlock()

		done, err := co.reclaim(cache, oid, item.Key)
		switch {
		case errors.Is(err, ErrBusy):
			plog.Warningf("skipping reclamation of %s in container %s: object in use", oid, co.id)
			skipped = append(skipped, &item)
		case err != nil:
			skipped = append(skipped, &item)
			return reclaimed, fmt.Errorf("reclaim %s: %w", oid, err)
		case done:
			reclaimed++
		}
	}

	if reclaimed > 0 {
		plog.Infof("reclaimed %d objects in container %s", reclaimed, co.id)
	}
	return reclaimed, nil
}

// reclaim destroys one zombie while no reference to it can be opened. It
// reports false if the object was revived or is already gone.
func (co *Container) reclaim(cache *ObjCache, oid UnitOID, serial uint64) (bool, error) {
	done := false
	run := func() error {
		obj := co.lookupObject(oid)
		if obj != nil && obj.Serial == serial && obj.IsZombie(EpochMax) {
			err := co.pool.mem.Update(func(tx *umem.Tx) error {
				if err := btr.Destroy(co.pool.forest, tx, obj.KeyRoot, co.pool.keyOps); err != nil {
					return err
				}
				co.removeObject(tx, obj)
				return nil
			})
			if err != nil {
				return err
			}
			done = true
		}
		co.zmu.Lock()
		delete(co.bySerial, serial)
		co.zmu.Unlock()
		return nil
	}

	var err error
	if cache == nil {
		err = run()
	} else {
		err = cache.evictAndRun(co, oid, run)
	}
	return done, err
}
