package umem

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignSize(t *testing.T) {
	for n := 0; n < 100; n++ {
		r := AlignSize(n)
		assert.Zero(t, r%Alignment, "AlignSize(%d)", n)
		assert.GreaterOrEqual(t, r, n)
		assert.Less(t, r-n, Alignment)
	}
}

func TestAllocDeref(t *testing.T) {
	a := NewArena(&Options{ChunkSize: 256})

	id, err := a.Alloc(13)
	require.NoError(t, err)
	require.False(t, id.IsNil())

	buf := a.Deref(id)
	require.Len(t, buf, 13)
	assert.Equal(t, make([]byte, 13), buf, "fresh memory is zeroed")
	assert.Equal(t, 13, a.Size(id))

	copy(buf, "hello, world!")
	assert.Equal(t, "hello, world!", string(a.Deref(id)))

	// writes past the end must not reach the neighbour
	other, err := a.Alloc(8)
	require.NoError(t, err)
	_ = append(a.Deref(id), 'x')
	assert.Equal(t, make([]byte, 8), a.Deref(other))

	assert.Nil(t, a.Deref(NilMemID))
}

func TestAllocSpansChunks(t *testing.T) {
	a := NewArena(&Options{ChunkSize: 64})

	ids := make([]MemID, 0, 20)
	for i := 0; i < 20; i++ {
		id, err := a.Alloc(24)
		require.NoError(t, err)
		a.Deref(id)[0] = byte(i)
		ids = append(ids, id)
	}
	for i, id := range ids {
		assert.Equal(t, byte(i), a.Deref(id)[0])
	}

	big, err := a.Alloc(1000)
	require.NoError(t, err)
	assert.Len(t, a.Deref(big), 1000)

	// bumping continues in the regular chunk after an oversized allocation
	next, err := a.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, byte(19), a.Deref(ids[19])[0])
	assert.NotEqual(t, big.chunk(), next.chunk())
	assert.Greater(t, a.Stats().Chunks, 1)
}

func TestFreeReuse(t *testing.T) {
	a := NewArena(nil)

	id, err := a.Alloc(20)
	require.NoError(t, err)
	copy(a.Deref(id), "dirty")
	require.NoError(t, a.Free(id))
	assert.Nil(t, a.Deref(id))
	assert.ErrorIs(t, a.Free(id), ErrInvalidMemID)

	// same size class reuses the slot and hands out zeroed memory
	again, err := a.Alloc(17)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, make([]byte, 17), a.Deref(again))

	s := a.Stats()
	assert.EqualValues(t, 1, s.LiveAllocs)
	assert.EqualValues(t, 2, s.TotalAllocs)
	assert.EqualValues(t, 24, s.BytesAllocated)
	assert.EqualValues(t, 24, s.BytesFreed)
}

func TestOutOfSpace(t *testing.T) {
	a := NewArena(&Options{MaxBytes: 64})

	_, err := a.Alloc(64)
	require.NoError(t, err)
	_, err = a.Alloc(1)
	assert.ErrorIs(t, err, ErrOutOfSpace)

	_, err = a.Alloc(0)
	assert.ErrorIs(t, err, ErrInvalidMemID)
}

func TestConcurrentAlloc(t *testing.T) {
	a := NewArena(&Options{ChunkSize: 4096})

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	results := make([][]MemID, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := a.Alloc(16)
				if err != nil {
					t.Error(err)
					return
				}
				a.Deref(id)[0] = byte(w)
				results[w] = append(results[w], id)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[MemID]bool)
	for w, ids := range results {
		for _, id := range ids {
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
			assert.Equal(t, byte(w), a.Deref(id)[0])
		}
	}
	assert.EqualValues(t, workers*perWorker, a.Stats().LiveAllocs)
}
