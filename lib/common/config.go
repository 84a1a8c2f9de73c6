package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BiyanKilani/daos/lib/umem"
	"github.com/BiyanKilani/daos/lib/vos"
)

// --------------------------------------------------------------------------
// Engine configuration struct
// --------------------------------------------------------------------------

// EngineConfig holds the tunables of an in-process engine.
type EngineConfig struct {
	// object cache
	CacheSize   int
	HashBuckets int

	// pool layout
	OIShards       int
	ArenaChunkSize int
	MaxBytes       int64

	// Logging configuration
	LogLevel string
}

// DefaultEngineConfig returns the configuration used when no flag or
// environment variable overrides a value.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		CacheSize:      vos.DefaultCacheSize,
		HashBuckets:    vos.DefaultHashBuckets,
		OIShards:       vos.DefaultOIShards,
		ArenaChunkSize: umem.DefaultChunkSize,
		LogLevel:       "info",
	}
}

// CacheOptions converts the config to object cache options.
func (c *EngineConfig) CacheOptions() *vos.CacheOptions {
	return &vos.CacheOptions{
		CacheSize:   c.CacheSize,
		HashBuckets: c.HashBuckets,
	}
}

// PoolOptions converts the config to pool options.
func (c *EngineConfig) PoolOptions() *vos.PoolOptions {
	return &vos.PoolOptions{
		ArenaChunkSize: c.ArenaChunkSize,
		MaxBytes:       c.MaxBytes,
		OIShards:       c.OIShards,
		TreeOrder:      vos.DefaultTreeOrder,
	}
}

// Validate checks the values the engine constructors would reject.
func (c *EngineConfig) Validate() error {
	switch {
	case c.CacheSize <= 0:
		return fmt.Errorf("cache size must be positive, got %d", c.CacheSize)
	case c.HashBuckets <= 0:
		return fmt.Errorf("hash buckets must be positive, got %d", c.HashBuckets)
	case c.OIShards <= 0:
		return fmt.Errorf("object index shards must be positive, got %d", c.OIShards)
	case c.ArenaChunkSize < 0:
		return fmt.Errorf("arena chunk size must not be negative, got %d", c.ArenaChunkSize)
	case c.MaxBytes < 0:
		return fmt.Errorf("arena capacity must not be negative, got %d", c.MaxBytes)
	}
	_, err := ParseLogLevel(c.LogLevel)
	return err
}

// String returns a formatted string representation of the configuration
func (c *EngineConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Object Cache")
	addField("Cache Size", strconv.Itoa(c.CacheSize))
	addField("Hash Buckets", strconv.Itoa(c.HashBuckets))

	addSection("Pool")
	addField("Object Index Shards", strconv.Itoa(c.OIShards))
	addField("Arena Chunk Size", fmt.Sprintf("%d bytes", c.ArenaChunkSize))
	if c.MaxBytes > 0 {
		addField("Arena Capacity", fmt.Sprintf("%d bytes", c.MaxBytes))
	} else {
		addField("Arena Capacity", "unlimited")
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
