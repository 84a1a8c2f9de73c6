// Package cmd implements the vos command line tool. It runs an in-process
// engine (pool, containers and object cache) and offers commands to inspect
// and measure it.
//
// The package is organized into several subpackages:
//
//   - bench: in-process benchmarks of the cache, update, fetch and iterator paths
//   - dump: builds a populated pool and prints it level by level
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as an environment variable VOS_<FLAG>
// (e.g. VOS_CACHE_SIZE=4096), read from the process or from .env files.
//
// See vos -help for a list of all commands.
package cmd
