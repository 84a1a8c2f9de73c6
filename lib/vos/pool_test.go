package vos

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/BiyanKilani/daos/lib/btr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerLifecycle(t *testing.T) {
	pool, err := CreatePool(nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, pool.ID())

	id := uuid.New()
	require.NoError(t, pool.CreateContainer(id))
	assert.ErrorIs(t, pool.CreateContainer(id), ErrExist)

	_, err = pool.OpenContainer(uuid.New())
	assert.ErrorIs(t, err, ErrNonexist)

	co1, err := pool.OpenContainer(id)
	require.NoError(t, err)
	co2, err := pool.OpenContainer(id)
	require.NoError(t, err)
	assert.Same(t, co1, co2)
	assert.Equal(t, id, co1.ID())
	assert.Same(t, pool, co1.Pool())

	assert.ErrorIs(t, pool.DestroyContainer(nil, id), ErrBusy)
	assert.ErrorIs(t, pool.Close(), ErrBusy)

	require.NoError(t, pool.CloseContainer(co1))
	assert.ErrorIs(t, pool.DestroyContainer(nil, id), ErrBusy, "still open once")
	require.NoError(t, pool.CloseContainer(co2))
	assert.ErrorIs(t, pool.CloseContainer(co2), ErrInvalidArgument)

	require.NoError(t, pool.DestroyContainer(nil, id))
	assert.ErrorIs(t, pool.DestroyContainer(nil, id), ErrNonexist)
	assert.Empty(t, pool.Containers())

	require.NoError(t, pool.Close())
	assert.ErrorIs(t, pool.CreateContainer(uuid.New()), ErrInvalidState)
}

func TestContainersOrdered(t *testing.T) {
	pool, err := CreatePool(nil)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool)
	for i := 0; i < 20; i++ {
		id := uuid.New()
		ids[id] = true
		require.NoError(t, pool.CreateContainer(id))
	}

	list := pool.Containers()
	require.Len(t, list, 20)
	for i := 1; i < len(list); i++ {
		assert.True(t, uuidLess(list[i-1], list[i]))
	}
	for _, id := range list {
		assert.True(t, ids[id])
	}
}

func TestDestroyContainerFreesEverything(t *testing.T) {
	env := newTestEnv(t, 8, &PoolOptions{OIShards: 4})
	for n := uint64(0); n < 10; n++ {
		for k := 0; k < 3; k++ {
			env.update(t, oidOf(n), 1, fmt.Sprintf("key-%d", k), 0, "value")
		}
	}
	assert.Equal(t, 10, env.co.Len())
	assert.Equal(t, 40, env.pool.Info().Trees)

	held, err := env.cache.Acquire(env.co, oidOf(3))
	require.NoError(t, err)
	require.NoError(t, env.pool.CloseContainer(env.co))

	err = env.pool.DestroyContainer(env.cache, env.co.ID())
	assert.ErrorIs(t, err, ErrBusy, "reference held")

	require.NoError(t, env.cache.Release(held))
	require.NoError(t, env.pool.DestroyContainer(env.cache, env.co.ID()))

	info := env.pool.Info()
	assert.Zero(t, info.Containers)
	assert.Zero(t, info.Trees)
	assert.Zero(t, info.Arena.LiveAllocs)
	assert.Zero(t, info.Records.Count)
	assert.Zero(t, env.cache.Stats().Filled)

	_, err = env.cache.Acquire(env.co, oidOf(3))
	assert.ErrorIs(t, err, ErrNonexist)
}

func TestDestroyClaimExcludesOpen(t *testing.T) {
	pool, err := CreatePool(nil)
	require.NoError(t, err)
	id := uuid.New()
	require.NoError(t, pool.CreateContainer(id))

	co, err := pool.OpenContainer(id)
	require.NoError(t, err)
	assert.ErrorIs(t, pool.claimDestroy(co), ErrBusy)
	assert.False(t, co.destroyed.Load())
	require.NoError(t, pool.CloseContainer(co))

	// claimed but still indexed: opens must not hand it out
	require.NoError(t, pool.claimDestroy(co))
	_, err = pool.OpenContainer(id)
	assert.ErrorIs(t, err, ErrNonexist)
	assert.ErrorIs(t, pool.claimDestroy(co), ErrNonexist)
	_, open := pool.handles.Load(id)
	assert.False(t, open)
}

func TestConcurrentOpenDestroy(t *testing.T) {
	pool, err := CreatePool(nil)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		id := uuid.New()
		require.NoError(t, pool.CreateContainer(id))

		var (
			wg         sync.WaitGroup
			co         *Container
			openErr    error
			destroyErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			co, openErr = pool.OpenContainer(id)
		}()
		go func() {
			defer wg.Done()
			destroyErr = pool.DestroyContainer(nil, id)
		}()
		wg.Wait()

		if openErr == nil {
			require.ErrorIs(t, destroyErr, ErrBusy, "round %d", i)
			require.False(t, co.destroyed.Load(), "round %d", i)
			require.NoError(t, pool.CloseContainer(co))
			require.NoError(t, pool.DestroyContainer(nil, id))
		} else {
			require.ErrorIs(t, openErr, ErrNonexist, "round %d", i)
			require.NoError(t, destroyErr, "round %d", i)
		}
	}
	assert.Empty(t, pool.Containers())
}

func TestPoolInfo(t *testing.T) {
	env := newTestEnv(t, 64, &PoolOptions{OIShards: 8})
	for n := uint64(0); n < 200; n++ {
		env.update(t, oidOf(n), 1, "dkey", 0, "0123456789abcdef")
	}

	info := env.pool.Info()
	assert.Equal(t, env.pool.ID(), info.ID)
	assert.Equal(t, 1, info.Containers)
	assert.Equal(t, 1, info.OpenConts)
	assert.Equal(t, 200, info.Objects)
	assert.Equal(t, 400, info.Trees)
	assert.EqualValues(t, 400, info.Records.Count)
	assert.Len(t, info.Records.Percentages, len(info.Records.Boundaries)+1)
	assert.Greater(t, info.Arena.BytesAllocated, int64(0))

	// every shard got some objects
	assert.Greater(t, info.ShardStats.Min, 0.0)
	assert.InDelta(t, 25.0, info.ShardStats.Mean, 0.001)
}

func TestShardPlacementStable(t *testing.T) {
	env := newTestEnv(t, 8, &PoolOptions{OIShards: 8})
	for n := uint64(0); n < 100; n++ {
		oid := oidOf(n)
		s := env.co.shardOf(oid)
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, 8)
		require.Equal(t, s, env.co.shardOf(oid))
	}
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, RetCSuccess, Code(nil))
	assert.Equal(t, RetCCacheExhausted, Code(ErrCacheExhausted))
	assert.Equal(t, RetCNonexist, Code(fmt.Errorf("lookup: %w", btr.ErrNonexist)))
	assert.Equal(t, RetCInternalError, Code(errors.New("other")))
	assert.Equal(t, RetCBusy, Code(NewError(RetCBusy, "busy")))

	e := AsError(fmt.Errorf("wrapped: %w", ErrInvalidRelease))
	assert.Equal(t, RetCInvalidRelease, e.Code)
	assert.ErrorIs(t, e, ErrInvalidRelease)
	assert.Contains(t, e.Error(), "code 3")
	assert.Nil(t, AsError(nil))
}
