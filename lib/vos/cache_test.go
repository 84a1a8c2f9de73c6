package vos

import (
	"bytes"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestNewObjCacheInvalid(t *testing.T) {
	_, err := NewObjCache(&CacheOptions{CacheSize: 0, HashBuckets: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewObjCache(&CacheOptions{CacheSize: 1, HashBuckets: 0})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	c, err := NewObjCache(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultCacheSize, c.Stats().Capacity)
}

func TestAcquireUnique(t *testing.T) {
	env := newTestEnv(t, 4, nil)
	c := env.cache

	a1, err := c.Acquire(env.co, oidOf(1))
	require.NoError(t, err)
	a2, err := c.Acquire(env.co, oidOf(1))
	require.NoError(t, err)
	b, err := c.Acquire(env.co, oidOf(2))
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.True(t, a1.IsNew())
	assert.Equal(t, oidOf(1), a1.OID())
	assert.Same(t, env.co, a1.Container())

	s := c.Stats()
	assert.Equal(t, 2, s.Filled)
	assert.Equal(t, 2, s.RefsHeld, "entries held, not references")
	assert.EqualValues(t, 1, s.Hits)
	assert.EqualValues(t, 2, s.Misses)

	for _, r := range []*ObjectRef{a1, a2, b} {
		require.NoError(t, c.Release(r))
	}
	assert.Zero(t, c.Stats().RefsHeld)
	checkCache(t, c)
}

func TestCapacityTwoScenario(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	c := env.cache
	A, B, C, D := oidOf(0xa), oidOf(0xb), oidOf(0xc), oidOf(0xd)

	a, err := c.Acquire(env.co, A)
	require.NoError(t, err)
	b, err := c.Acquire(env.co, B)
	require.NoError(t, err)
	require.NoError(t, c.Release(a))

	// A is the only unreferenced entry and gets evicted
	cref, err := c.Acquire(env.co, C)
	require.NoError(t, err)
	assert.Equal(t, []UnitOID{C, B}, c.lruOrder())
	assert.EqualValues(t, 1, c.Stats().Evictions)

	// everything held
	_, err = c.Acquire(env.co, D)
	assert.ErrorIs(t, err, ErrCacheExhausted)
	assert.EqualValues(t, 1, c.Stats().Exhausted)

	// B is least recently used but pinned, C goes
	require.NoError(t, c.Release(cref))
	d, err := c.Acquire(env.co, D)
	require.NoError(t, err)
	assert.Equal(t, []UnitOID{D, B}, c.lruOrder())

	require.NoError(t, c.Release(b))
	require.NoError(t, c.Release(d))
	checkCache(t, c)
}

func TestLRUOrderFollowsAcquire(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	c := env.cache

	for _, n := range []uint64{1, 2, 3, 1} {
		r, err := c.Acquire(env.co, oidOf(n))
		require.NoError(t, err)
		require.NoError(t, c.Release(r))
	}
	assert.Equal(t, []UnitOID{oidOf(1), oidOf(3), oidOf(2)}, c.lruOrder())

	// 2 is least recent
	r, err := c.Acquire(env.co, oidOf(4))
	require.NoError(t, err)
	require.NoError(t, c.Release(r))
	assert.Equal(t, []UnitOID{oidOf(4), oidOf(1), oidOf(3)}, c.lruOrder())
}

func TestDoubleRelease(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	c := env.cache

	r, err := c.Acquire(env.co, oidOf(1))
	require.NoError(t, err)
	require.NoError(t, c.Release(r))
	assert.ErrorIs(t, c.Release(r), ErrInvalidRelease)
	assert.ErrorIs(t, c.Release(nil), ErrInvalidRelease)

	other, err := NewObjCache(nil)
	require.NoError(t, err)
	r, err = c.Acquire(env.co, oidOf(1))
	require.NoError(t, err)
	assert.ErrorIs(t, other.Release(r), ErrInvalidRelease)
	require.NoError(t, c.Release(r))

	assert.Zero(t, c.Stats().RefsHeld)
	checkCache(t, c)
}

func TestEvict(t *testing.T) {
	env := newTestEnv(t, 4, nil)
	c := env.cache

	r, err := c.Acquire(env.co, oidOf(1))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Evict(env.co, oidOf(1)), ErrBusy)

	require.NoError(t, c.Release(r))
	require.NoError(t, c.Evict(env.co, oidOf(1)))
	assert.Zero(t, c.Stats().Filled)

	// missing entries are fine
	require.NoError(t, c.Evict(env.co, oidOf(99)))
}

func TestEvictContainer(t *testing.T) {
	env := newTestEnv(t, 8, nil)
	c := env.cache

	id := uuid.New()
	require.NoError(t, env.pool.CreateContainer(id))
	other, err := env.pool.OpenContainer(id)
	require.NoError(t, err)
	defer env.pool.CloseContainer(other)

	for n := uint64(0); n < 3; n++ {
		r, err := c.Acquire(env.co, oidOf(n))
		require.NoError(t, err)
		require.NoError(t, c.Release(r))
		r, err = c.Acquire(other, oidOf(n))
		require.NoError(t, err)
		require.NoError(t, c.Release(r))
	}
	held, err := c.Acquire(env.co, oidOf(0))
	require.NoError(t, err)

	assert.ErrorIs(t, c.EvictContainer(env.co), ErrBusy)
	assert.Equal(t, 4, c.Stats().Filled, "held entry and other container stay")

	require.NoError(t, c.Release(held))
	require.NoError(t, c.EvictContainer(env.co))
	assert.Equal(t, 3, c.Stats().Filled)
	checkCache(t, c)
}

func TestCacheClose(t *testing.T) {
	env := newTestEnv(t, 4, nil)
	c := env.cache

	r, err := c.Acquire(env.co, oidOf(1))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Close(), ErrBusy)

	require.NoError(t, c.Release(r))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Zero(t, c.Stats().Filled)

	_, err = c.Acquire(env.co, oidOf(1))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAcquireOpensExistingObject(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	env.update(t, oidOf(1), 1, "dkey", 0, "v")

	// push the object out of the single slot and open it again
	r, err := env.cache.Acquire(env.co, oidOf(2))
	require.NoError(t, err)
	require.NoError(t, env.cache.Release(r))

	r, err = env.cache.Acquire(env.co, oidOf(1))
	require.NoError(t, err)
	defer env.cache.Release(r)

	require.False(t, r.IsNew())
	assert.Equal(t, oidOf(1), r.Object().ID)
	assert.Equal(t, 1, r.tree.Len())
}

func TestConcurrentAcquire(t *testing.T) {
	env := newTestEnv(t, 16, nil)
	c := env.cache

	const workers = 8
	refs := make([]*ObjectRef, workers)
	var start sync.WaitGroup
	start.Add(1)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			start.Wait()
			r, err := c.Acquire(env.co, oidOf(7))
			refs[w] = r
			return err
		})
	}
	start.Done()
	require.NoError(t, g.Wait())

	for _, r := range refs[1:] {
		assert.Same(t, refs[0], r)
	}
	assert.Equal(t, 1, c.Stats().RefsHeld)
	assert.Equal(t, 1, c.Stats().Filled)

	// churn: acquire/release pairs never exceed capacity or leak refs
	var churn errgroup.Group
	for w := 0; w < workers; w++ {
		churn.Go(func() error {
			for i := 0; i < 200; i++ {
				r, err := c.Acquire(env.co, oidOf(uint64((w*31+i)%24)))
				if err != nil {
					// at most 9 of 16 entries are held, never exhausted
					return err
				}
				if err := c.Release(r); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, churn.Wait())

	for _, r := range refs {
		require.NoError(t, c.Release(r))
	}
	assert.Zero(t, c.Stats().RefsHeld)
	checkCache(t, c)
}

func TestWritePrometheus(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	r, err := env.cache.Acquire(env.co, oidOf(1))
	require.NoError(t, err)
	defer env.cache.Release(r)

	var buf bytes.Buffer
	env.cache.WritePrometheus(&buf)
	out := buf.String()
	for _, name := range []string{
		"vos_obj_cache_hits_total 0",
		"vos_obj_cache_misses_total 1",
		"vos_obj_cache_evictions_total 0",
		"vos_obj_cache_exhausted_total 0",
		"vos_obj_cache_filled 1",
		"vos_obj_cache_refs_held 1",
		"vos_obj_cache_capacity 2",
	} {
		assert.Contains(t, out, name)
	}
}

func TestRefsHeldCountsEntries(t *testing.T) {
	env := newTestEnv(t, 4, nil)
	c := env.cache

	a1, err := c.Acquire(env.co, oidOf(1))
	require.NoError(t, err)
	a2, err := c.Acquire(env.co, oidOf(1))
	require.NoError(t, err)
	b, err := c.Acquire(env.co, oidOf(2))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Stats().RefsHeld)
	checkCache(t, c)

	require.NoError(t, c.Release(a1))
	assert.Equal(t, 2, c.Stats().RefsHeld, "A is still referenced once")
	require.NoError(t, c.Release(a2))
	assert.Equal(t, 1, c.Stats().RefsHeld)

	// still busy while B is held
	assert.ErrorIs(t, c.Close(), ErrBusy)
	require.NoError(t, c.Release(b))
	assert.Zero(t, c.Stats().RefsHeld)
	checkCache(t, c)
	require.NoError(t, c.Close())
}
