package internal

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Page Type (one cached block of the backing device)
// --------------------------------------------------------------------------

// Page stores the data of one page of the backing device.
//
// A new page is published in the shard map while its creator holds Mu for
// writing, so every other goroutine sees it only after it was filled.
type Page struct {
	Mu   sync.RWMutex
	No   uint64
	Data [blkio.PageSize]byte
	Err  error // set if filling the page failed, the page is then dropped
}

func (p *Page) String() string {
	return fmt.Sprintf("Page{No: %d, Off: %d}", p.No, p.No*blkio.PageSize)
}

// --------------------------------------------------------------------------
// Shard Type (partition of the cache)
// --------------------------------------------------------------------------

// Shard represents a partition of the cache
// Each shard has its own page map and recency index
type Shard struct {
	Pages    *xsync.MapOf[util.UintKey, *Page]
	Capacity int // maximum number of pages

	mu      sync.Mutex
	recency *util.MapHeap
}

// NewShard creates a new shard holding at most capacity pages
func NewShard(capacity int, hasher func(util.UintKey, uint64) uint64) *Shard {
	return &Shard{
		Pages:    xsync.NewMapOfWithHasher[util.UintKey, *Page](hasher),
		Capacity: max(1, capacity),
		recency:  util.NewMapHeap(),
	}
}

// Touch records an access of page no at tick and returns the pages that have
// to leave the shard to stay within its capacity
func (s *Shard) Touch(no uint64, tick uint64) (victims []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recency.Touch(no, tick)
	for s.recency.Len() > s.Capacity {
		victim, _, ok := s.recency.PopMin()
		if !ok {
			break
		}
		victims = append(victims, victim)
	}
	return victims
}

// Retain puts page no back into the recency index at tick without evicting
// anything, the shard may exceed its capacity until the next Touch
func (s *Shard) Retain(no uint64, tick uint64) {
	s.mu.Lock()
	s.recency.Touch(no, tick)
	s.mu.Unlock()
}

// Forget removes page no from the recency index
func (s *Shard) Forget(no uint64) {
	s.mu.Lock()
	s.recency.Remove(no)
	s.mu.Unlock()
}

// Tracked returns the number of pages in the recency index
func (s *Shard) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recency.Len()
}

// Reset drops all pages
func (s *Shard) Reset() {
	s.mu.Lock()
	s.recency = util.NewMapHeap()
	s.mu.Unlock()
	s.Pages.Clear()
}

// GetShard returns the appropriate shard for a given key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	return shards[util.Bucket(key, len(shards))]
}
