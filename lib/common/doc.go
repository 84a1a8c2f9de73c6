// Package common holds configuration and logging shared by the command
// line tools.
//
// Key Components:
//
//   - EngineConfig: tunables of an in-process engine (object cache size and
//     hash buckets, object index shards, arena chunk size and capacity, log
//     level) with conversions to vos.CacheOptions and vos.PoolOptions.
//
//   - Logger: a dragonboat logger.ILogger implementation with the
//     "LEVEL | package | message" format. InitLoggers installs it as the
//     global factory and applies the configured level to the vos, umem, btr
//     and cmd loggers.
package common
