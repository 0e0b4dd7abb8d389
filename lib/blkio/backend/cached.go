package backend

import (
	"fmt"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/cache"
)

// Cached is the single-node cached capability: every access goes through one
// cache.Cache. Asynchronous requests are served immediately and completed in
// the same AccessAsync call.
//
// Thread-safety: Access is thread-safe, the other methods belong to the owning goroutine.
type Cached struct {
	blkio.Base
	cache cache.Cache
	cb    blkio.Callback
}

// NewCached creates a capability over c
func NewCached(c cache.Cache, nodeID int) *Cached {
	cc := &Cached{
		Base:  blkio.NewBase(nodeID),
		cache: c,
	}
	blkio.Register(cc)
	return cc
}

// Cache returns the cache behind the capability
func (c *Cached) Cache() cache.Cache { return c.cache }

// Access reads or writes through the cache
func (c *Cached) Access(buf []byte, off int64, m blkio.Method) (int, error) {
	return c.cache.Access(buf, off, m)
}

// AccessAsync performs every request and invokes the callback once with all of them
func (c *Cached) AccessAsync(reqs []blkio.Request, statuses []blkio.Status) int {
	completed := make([]*blkio.Request, len(reqs))
	for i := range reqs {
		req := reqs[i]
		req.Validate()
		req.CapID = c.ID()
		if _, err := blkio.AccessSegments(c.cache.Access, &req); err != nil {
			req.Err = fmt.Errorf("%s at %d: %w", req.Method, req.Offset, err)
		}
		if i < len(statuses) {
			code := blkio.StatusOK
			if req.Err != nil {
				code = blkio.StatusFail
			}
			statuses[i] = blkio.Status{Code: code}
		}
		completed[i] = &req
	}

	if c.cb != nil && len(completed) > 0 {
		c.cb.Invoke(completed)
	}
	return len(completed)
}

func (c *Cached) SetCallback(cb blkio.Callback) bool {
	c.cb = cb
	return true
}

func (c *Cached) Callback() blkio.Callback { return c.cb }
func (c *Cached) SupportAIO() bool         { return true }

// Cleanup unregisters the capability, the cache stays open
func (c *Cached) Cleanup() error {
	blkio.Unregister(c)
	return nil
}
