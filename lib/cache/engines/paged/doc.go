// Package paged implements the default page cache engine.
//
// The cache is divided into shards. Each shard owns a concurrent page map
// (xsync.MapOf) and a recency index (util.MapHeap), so unrelated pages never
// contend on the same lock. A page is identified by its page number
// (offset / blkio.PageSize); the shard of a page is chosen by hashing that
// number.
//
// Reads are served from cached pages. A miss allocates the page, fills it
// from the backing device and publishes it only once the fill completed.
// Writes are write-through: the backing device is updated while the page lock
// is held, then the cached copy. Because a cache never holds dirty data,
// eviction simply forgets the least recently used page of a shard.
//
// Hit, miss and eviction counts and the distribution of access sizes are
// tracked in a go-metrics registry, see Metrics.
package paged
