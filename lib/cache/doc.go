// Package cache defines the contract of a single-node page cache.
//
// A Cache sits in front of a backing blkio.Capability and is shared by all
// members of one thread group, so implementations must be thread-safe. The
// partitioned fabric (package part) only ever talks to a group cache through
// the Cache interface and does not depend on the replacement policy:
//
//	n, err := c.Access(buf, off, blkio.Read)
//
// Key Components:
//
//   - Cache Interface: synchronous access, statistics (Info) and Close.
//
//   - Options: size, sharding and the backing device of a cache instance.
//     A Factory turns Options into a Cache, which lets the fabric create the
//     cache of a group lazily without knowing the engine.
//
//   - Implementation Identifiers: the engines shipped with this module
//     (currently "paged", see engines/paged).
//
// Caches never hold dirty data. Writes go to the backing device before they
// complete, so a cache can drop any page at any time.
package cache
