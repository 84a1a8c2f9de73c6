package bench

import (
	"testing"

	"github.com/BiyanKilani/daos/lib/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config {
	return &config{
		engine:    common.DefaultEngineConfig(),
		threads:   4,
		objects:   8,
		keys:      16,
		valueSize: 32,
	}
}

func TestPopulateAndIterate(t *testing.T) {
	c := testConfig()
	e, err := newEngine(c)
	require.NoError(t, err)
	defer e.close()

	require.NoError(t, e.populate(c))

	info := e.pool.Info()
	assert.Equal(t, c.objects, info.Objects)
	assert.Equal(t, int64(c.objects*c.keys*2), info.Records.Count)

	for o := 0; o < c.objects; o++ {
		n, err := iterateKeys(e, oid(o))
		require.NoError(t, err)
		assert.Equal(t, c.keys, n)
	}
	assert.Equal(t, 0, e.cache.Stats().RefsHeld)
}

func TestShouldSkip(t *testing.T) {
	c := &config{skip: []string{"update", " fetch"}}
	assert.True(t, c.shouldSkip("update"))
	assert.True(t, c.shouldSkip("fetch"))
	assert.False(t, c.shouldSkip("iterate"))
}
