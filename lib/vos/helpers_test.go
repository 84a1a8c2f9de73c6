package vos

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	pool  *Pool
	cache *ObjCache
	co    *Container
}

func newTestEnv(t *testing.T, cacheSize int, popts *PoolOptions) *testEnv {
	t.Helper()

	pool, err := CreatePool(popts)
	require.NoError(t, err)
	cache, err := NewObjCache(&CacheOptions{CacheSize: cacheSize, HashBuckets: 7})
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, pool.CreateContainer(id))
	co, err := pool.OpenContainer(id)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = pool.CloseContainer(co)
	})
	return &testEnv{pool: pool, cache: cache, co: co}
}

func oidOf(n uint64) UnitOID {
	return UnitOID{ID: ObjectID{Hi: 0xd405, Lo: n}}
}

func (e *testEnv) update(t *testing.T, oid UnitOID, epoch uint64, dkey string, idx uint64, value string) {
	t.Helper()
	recx := Recx{RSize: 1, Index: idx, Nr: uint64(len(value))}
	require.NoError(t, ObjUpdate(e.cache, e.co, oid, epoch, []byte(dkey), recx, nil, []byte(value)))
}

func (e *testEnv) fetch(oid UnitOID, lo, hi uint64, dkey string, idx uint64) (*FetchResult, error) {
	return ObjFetch(e.cache, e.co, oid, EpochRange{Lo: lo, Hi: hi}, []byte(dkey), idx)
}

// lruOrder returns the cached identifiers, most recently used first.
func (c *ObjCache) lruOrder() []UnitOID {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]UnitOID, 0, c.lru.Len())
	for e := c.lru.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*ObjectRef).key.oid)
	}
	return out
}

// checkCache verifies that the LRU list and the buckets index the same
// references and that the counters match.
func checkCache(t *testing.T, c *ObjCache) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	inBuckets := 0
	for _, b := range c.buckets {
		inBuckets += len(b)
	}
	require.Equal(t, c.lru.Len(), inBuckets, "list and hash index disagree")
	require.LessOrEqual(t, c.lru.Len(), c.capacity)

	held := 0
	for e := c.lru.Front(); e != nil; e = e.Next() {
		ref := e.Value.(*ObjectRef)
		require.Same(t, ref, c.buckets[ref.bucket][ref.key])
		require.GreaterOrEqual(t, ref.refs, 0)
		if ref.refs > 0 {
			held++
		}
	}
	require.Equal(t, c.refsHeld, held)
}
