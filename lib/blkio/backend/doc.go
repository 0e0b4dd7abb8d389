// Package backend contains the Capability implementations below the page cache.
//
//   - Memory: a sparse in-memory device, thread-safe
//   - File: a device backed by an os.File, thread-safe
//   - Async: wraps any synchronous capability and serves AccessAsync from a
//     pool of worker goroutines
//   - Cached: a single-node cached capability in front of a cache.Cache
//
// Memory and File zero-fill regions that were never written and reject
// accesses beyond their configured size with blkio.ErrOutOfRange.
package backend
