// Package util provides small building blocks shared by the cache engines,
// the partition fabric and the backends.
//
// The package contains:
//   - functions: seeded FNV-1a hashing for strings and block numbers, seed generation
//   - mapheap: a min-heap with key-based access, used as the recency index of the page cache
//   - statistics: distribution statistics and a size histogram for cache reports
//   - affinity: binding the calling OS thread to a CPU set (linux only, no-op elsewhere)
//
// None of the types in this package are safe for concurrent use unless their
// documentation says otherwise.
package util
