package common

import (
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfig(t *testing.T) {
	c := DefaultEngineConfig()
	require.NoError(t, c.Validate())

	co := c.CacheOptions()
	assert.Equal(t, c.CacheSize, co.CacheSize)
	assert.Equal(t, c.HashBuckets, co.HashBuckets)

	po := c.PoolOptions()
	assert.Equal(t, c.OIShards, po.OIShards)
	assert.Equal(t, c.ArenaChunkSize, po.ArenaChunkSize)

	s := c.String()
	assert.Contains(t, s, "OBJECT CACHE")
	assert.Contains(t, s, "unlimited")
}

func TestEngineConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *EngineConfig)
	}{
		{"cache size", func(c *EngineConfig) { c.CacheSize = 0 }},
		{"buckets", func(c *EngineConfig) { c.HashBuckets = -1 }},
		{"shards", func(c *EngineConfig) { c.OIShards = 0 }},
		{"chunk size", func(c *EngineConfig) { c.ArenaChunkSize = -1 }},
		{"capacity", func(c *EngineConfig) { c.MaxBytes = -1 }},
		{"log level", func(c *EngineConfig) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultEngineConfig()
			tt.modify(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]logger.LogLevel{
		"debug": logger.DEBUG,
		"INFO":  logger.INFO,
		"warn":  logger.WARNING,
		"error": logger.ERROR,
	} {
		got, err := ParseLogLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}

func TestInitLoggers(t *testing.T) {
	c := DefaultEngineConfig()
	c.LogLevel = "debug"
	require.NoError(t, InitLoggers(c))

	l, ok := CreateLogger("vos").(*vosLogger)
	require.True(t, ok)
	assert.Equal(t, logger.INFO, l.level)

	c.LogLevel = "nope"
	assert.Error(t, InitLoggers(c))
}
