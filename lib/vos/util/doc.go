// Package util provides small building blocks shared by the vos packages.
//
// The package contains:
//   - functions: CRC64 and jump consistent hashing (cache buckets, object index shards)
//   - mapheap: a keyed min-heap used as the zombie reclamation queue
//   - statistics: a record size histogram and shard distribution statistics
//
// None of the types here are tied to a pool or container; callers own the
// synchronisation unless a type documents otherwise.
package util
