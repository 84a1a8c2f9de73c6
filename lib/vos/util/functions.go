package util

import (
	"hash/crc64"
)

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// crc64Table is computed once, MakeTable is not free.
var crc64Table = crc64.MakeTable(crc64.ECMA)

// Crc64 generates the CRC64 (ECMA) hash of a key.
// It is used to pick object cache buckets and object index shards.
func Crc64(key []byte) uint64 {
	return crc64.Checksum(key, crc64Table)
}

// JumpConsistentHash maps a 64-bit key onto one of numBuckets buckets
// (Lamping & Veach, "A Fast, Minimal Memory, Consistent Hash Algorithm").
// Growing numBuckets from n to n+1 moves only 1/(n+1) of the keys.
//
// It returns -1 if numBuckets is not positive.
func JumpConsistentHash(key uint64, numBuckets int32) int32 {
	if numBuckets <= 0 {
		return -1
	}

	var b, j int64 = -1, 0
	for j < int64(numBuckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int32(b)
}
