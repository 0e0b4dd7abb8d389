package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// GenerateSeed creates a random seed for hash functions that must differ between instances.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// UintKey is a 64 bit hash value used to index shards and groups
type UintKey uint64

// HashString hashes a string with FNV-1a, mixing in the given seed
func HashString(s string, seed uint64) UintKey {
	hash := uint64(fnvOffset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= fnvPrime64
	}
	return UintKey(hash)
}

// HashUint64 hashes the little endian bytes of v with FNV-1a, mixing in the given seed.
// The result only depends on v and seed, so every goroutine computes the same value.
func HashUint64(v uint64, seed uint64) UintKey {
	hash := uint64(fnvOffset64) ^ seed
	for i := 0; i < 8; i++ {
		hash ^= v & 0xff
		hash *= fnvPrime64
		v >>= 8
	}
	return UintKey(hash)
}

// Bucket maps a key onto [0, n). Like the shard selection of the page cache it
// drops the low 7 bits first, which FNV mixes worst.
func Bucket(key UintKey, n int) int {
	if n <= 1 {
		return 0
	}
	return int((uint64(key) >> 7) % uint64(n))
}
