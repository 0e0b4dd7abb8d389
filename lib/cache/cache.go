package cache

import (
	"fmt"
	"runtime"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/util"
	"github.com/dustin/go-humanize"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplPaged Implementation = "paged"
)

// Info describes the state of a cache
type Info struct {
	Type          Implementation         `json:"type"`
	CapacityBytes int64                  `json:"capacity_bytes"`
	SizeBytes     int64                  `json:"size_bytes"`
	Pages         int                    `json:"pages"`
	Hits          int64                  `json:"hits"`
	Misses        int64                  `json:"misses"`
	Evictions     int64                  `json:"evictions"`
	Shards        util.DistributionStats `json:"shards"`
	Metadata      interface{}            `json:"metadata"`
}

// HitRatio returns hits / (hits + misses), or 0 without accesses
func (i Info) HitRatio() float64 {
	total := i.Hits + i.Misses
	if total == 0 {
		return 0
	}
	return float64(i.Hits) / float64(total)
}

func (i Info) String() string {
	return fmt.Sprintf("%s cache: %s of %s in %d pages, hits=%d misses=%d (%.1f%%) evictions=%d shard quality=%.2f",
		i.Type,
		humanize.IBytes(uint64(i.SizeBytes)),
		humanize.IBytes(uint64(i.CapacityBytes)),
		i.Pages, i.Hits, i.Misses, 100*i.HitRatio(), i.Evictions,
		i.Shards.DistributionQuality)
}

// Options configures a cache instance
type Options struct {
	Size      int64            // capacity in bytes, at least one page per shard is kept
	NumShards int              // number of independently locked shards (0 = auto)
	Backing   blkio.Capability // device the cache reads from and writes through to
	NodeID    int              // NUMA node the cache memory belongs to
	Name      string           // used in log messages and metric names
}

// DefaultOptions returns options for a 64 MiB cache over backing
func DefaultOptions(backing blkio.Capability) *Options {
	return &Options{
		Size:      64 << 20,
		NumShards: runtime.NumCPU(),
		Backing:   backing,
	}
}

// Factory creates a cache from options
type Factory func(opts *Options) (Cache, error)

// --------------------------------------------------------------------------
// Cache Interface
// --------------------------------------------------------------------------

// Cache is a thread-safe page cache over a backing device
type Cache interface {

	// Access reads or writes len(buf) bytes at off through the cache and
	// returns the number of bytes transferred. Errors of the backing device are returned unchanged.
	Access(buf []byte, off int64, m blkio.Method) (n int, err error)

	// Info returns statistics about the cache.
	Info() (info Info)

	// Close drops all cached pages. Access fails with blkio.ErrClosed afterwards.
	Close() (err error)
}
