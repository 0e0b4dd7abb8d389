package paged

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/cache"
	"github.com/ValentinKolb/pcache/lib/cache/engines/paged/internal"
	"github.com/ValentinKolb/pcache/lib/common"
	"github.com/ValentinKolb/pcache/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger(common.LoggerCache)

// --------------------------------------------------------------------------
// Core paged cache structure
// --------------------------------------------------------------------------

// pagedImpl implements cache.Cache with sharded pages and per-shard LRU eviction
type pagedImpl struct {
	name     string
	backing  blkio.Capability
	seed     uint64
	shards   []*internal.Shard
	capacity int64
	tick     atomic.Uint64 // logical clock of page accesses
	closed   atomic.Bool

	registry  metrics.Registry
	hits      metrics.Counter
	misses    metrics.Counter
	evictions metrics.Counter
	sizes     metrics.Histogram
}

// New creates a paged cache with the given options.
//
// Thread-safety: This function is not thread-safe and should only be called once
// per cache during initialization.
func New(opts *cache.Options) (cache.Cache, error) {
	if opts == nil || opts.Backing == nil {
		return nil, blkio.NewError(blkio.RetCInvalidOperation, "paged cache needs a backing capability")
	}

	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}
	totalPages := max(opts.Size/blkio.PageSize, int64(numShards))
	perShard := int((totalPages + int64(numShards) - 1) / int64(numShards))

	hasher := createIdentityHasher()
	shards := make([]*internal.Shard, numShards)
	for i := range shards {
		shards[i] = internal.NewShard(perShard, hasher)
	}

	registry := metrics.NewRegistry()
	c := &pagedImpl{
		name:      opts.Name,
		backing:   opts.Backing,
		seed:      util.GenerateSeed(),
		shards:    shards,
		capacity:  int64(perShard) * int64(numShards) * blkio.PageSize,
		registry:  registry,
		hits:      metrics.NewRegisteredCounter("hits", registry),
		misses:    metrics.NewRegisteredCounter("misses", registry),
		evictions: metrics.NewRegisteredCounter("evictions", registry),
		sizes:     metrics.NewRegisteredHistogram("access_size", registry, metrics.NewUniformSample(1028)),
	}

	log.Debugf("created paged cache %q: %d shards of %d pages", c.name, numShards, perShard)
	return c, nil
}

// Factory is a cache.Factory creating paged caches
func Factory(opts *cache.Options) (cache.Cache, error) {
	return New(opts)
}

// createIdentityHasher creates a hash function that combines a key with a seed
func createIdentityHasher() func(util.UintKey, uint64) uint64 {
	return func(key util.UintKey, mapSeed uint64) uint64 {
		return uint64(key) ^ mapSeed
	}
}

// pageKey hashes a page number to the key of the shard maps
func (c *pagedImpl) pageKey(no uint64) util.UintKey {
	return util.HashUint64(no, c.seed)
}

// --------------------------------------------------------------------------
// Cache Interface Methods
// --------------------------------------------------------------------------

// Access reads or writes len(buf) bytes at off page by page.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *pagedImpl) Access(buf []byte, off int64, m blkio.Method) (int, error) {
	if c.closed.Load() {
		return 0, blkio.ErrClosed
	}
	if off < 0 || off > blkio.MaxFileSize {
		return 0, blkio.NewError(blkio.RetCOutOfRange, fmt.Sprintf("offset %d out of range", off))
	}
	if m != blkio.Read && m != blkio.Write {
		return 0, blkio.NewError(blkio.RetCInvalidOperation, fmt.Sprintf("unknown method %d", m))
	}
	c.sizes.Update(int64(len(buf)))

	done := 0
	for done < len(buf) {
		pos := off + int64(done)
		no := uint64(pos / blkio.PageSize)
		inPage := int(pos % blkio.PageSize)
		chunk := buf[done : done+min(len(buf)-done, blkio.PageSize-inPage)]

		var err error
		if m == blkio.Read {
			err = c.readPage(no, inPage, chunk)
		} else {
			err = c.writePage(no, inPage, chunk)
		}
		if err != nil {
			return done, err
		}
		done += len(chunk)
	}
	return done, nil
}

// readPage copies the cached bytes [inPage, inPage+len(chunk)) of page no into chunk
func (c *pagedImpl) readPage(no uint64, inPage int, chunk []byte) error {
	for {
		page, created, err := c.getPage(no, false)
		if err != nil {
			return err
		}
		if created {
			err = page.Err
			if err == nil {
				copy(chunk, page.Data[inPage:])
			}
			page.Mu.Unlock()
			return err
		}

		// waits for a concurrent fill
		page.Mu.RLock()
		if page.Err != nil {
			// the filling goroutine failed and dropped the page, try again
			page.Mu.RUnlock()
			continue
		}
		copy(chunk, page.Data[inPage:])
		page.Mu.RUnlock()
		return nil
	}
}

// writePage writes chunk through to the backing device and updates the cached page
func (c *pagedImpl) writePage(no uint64, inPage int, chunk []byte) error {
	fullPage := inPage == 0 && len(chunk) == blkio.PageSize
	for {
		page, created, err := c.getPage(no, fullPage)
		if err != nil {
			return err
		}
		if !created {
			page.Mu.Lock()
		}
		if page.Err != nil {
			page.Mu.Unlock()
			if created {
				return page.Err
			}
			continue
		}
		if !created && !c.isCached(no, page) {
			// evicted before we got the lock, a newer copy may have been filled
			page.Mu.Unlock()
			continue
		}

		_, err = c.backing.Access(chunk, int64(no)*blkio.PageSize+int64(inPage), blkio.Write)
		if err == nil {
			copy(page.Data[inPage:], chunk)
		} else {
			// the device may hold a partial write, the cached copy is no longer trustworthy
			page.Err = err
			c.drop(no, page)
		}
		page.Mu.Unlock()
		return err
	}
}

// getPage returns page no, creating and filling it on a miss. A newly created
// page is returned write locked, an existing one unlocked. With noFill the page
// is created without reading the backing device because the caller overwrites
// it completely before releasing the lock.
func (c *pagedImpl) getPage(no uint64, noFill bool) (*internal.Page, bool, error) {
	key := c.pageKey(no)
	shard := internal.GetShard(key, c.shards)

	page, loaded := shard.Pages.LoadOrCompute(key, func() *internal.Page {
		p := &internal.Page{No: no}
		p.Mu.Lock()
		return p
	})

	tick := c.tick.Add(1)
	if loaded {
		c.hits.Inc(1)
		c.evict(shard, shard.Touch(no, tick))
		return page, false, nil
	}

	c.misses.Inc(1)
	if !noFill {
		if _, err := c.backing.Access(page.Data[:], int64(no)*blkio.PageSize, blkio.Read); err != nil {
			page.Err = fmt.Errorf("fill page %d: %w", no, err)
			shard.Pages.Delete(key)
			log.Warningf("cache %q: %v", c.name, page.Err)
			return page, true, nil
		}
	}

	c.evict(shard, shard.Touch(no, tick))
	return page, true, nil
}

// evict removes victim pages from shard. Pages stay valid for goroutines that
// still hold them, because nothing in a page is ever dirty. A locked page is
// being filled or written through and stays cached, otherwise a refill could
// read the device before the write lands.
func (c *pagedImpl) evict(shard *internal.Shard, victims []uint64) {
	for _, no := range victims {
		key := c.pageKey(no)
		page, ok := shard.Pages.Load(key)
		if !ok {
			continue
		}
		if !page.Mu.TryLock() {
			shard.Retain(no, c.tick.Add(1))
			continue
		}
		shard.Pages.Compute(key, func(old *internal.Page, loaded bool) (*internal.Page, bool) {
			return old, !loaded || old == page
		})
		page.Mu.Unlock()
		c.evictions.Inc(1)
	}
}

// isCached reports whether page is the cached instance of page no
func (c *pagedImpl) isCached(no uint64, page *internal.Page) bool {
	key := c.pageKey(no)
	cur, ok := internal.GetShard(key, c.shards).Pages.Load(key)
	return ok && cur == page
}

// drop forgets page no if it is still the cached instance
func (c *pagedImpl) drop(no uint64, page *internal.Page) {
	key := c.pageKey(no)
	shard := internal.GetShard(key, c.shards)
	shard.Pages.Compute(key, func(old *internal.Page, loaded bool) (*internal.Page, bool) {
		return old, !loaded || old == page
	})
	shard.Forget(no)
}

// Info returns statistics about the cache.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *pagedImpl) Info() cache.Info {
	var pages int
	sizes := make([]float64, len(c.shards))
	for i, shard := range c.shards {
		n := shard.Pages.Size()
		pages += n
		sizes[i] = float64(n)
	}

	sample := c.sizes.Snapshot()
	return cache.Info{
		Type:          cache.ImplPaged,
		CapacityBytes: c.capacity,
		SizeBytes:     int64(pages) * blkio.PageSize,
		Pages:         pages,
		Hits:          c.hits.Count(),
		Misses:        c.misses.Count(),
		Evictions:     c.evictions.Count(),
		Shards:        util.NewDistributionStats(sizes),
		Metadata: map[string]interface{}{
			"name":           c.name,
			"shards":         len(c.shards),
			"accesses":       sample.Count(),
			"mean_access":    sample.Mean(),
			"p99_access":     sample.Percentile(0.99),
			"backing_cap_id": c.backing.ID(),
		},
	}
}

// Metrics returns the go-metrics registry of the cache
func (c *pagedImpl) Metrics() metrics.Registry {
	return c.registry
}

// Close drops every page
func (c *pagedImpl) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, shard := range c.shards {
		shard.Reset()
	}
	log.Debugf("closed paged cache %q", c.name)
	return nil
}
