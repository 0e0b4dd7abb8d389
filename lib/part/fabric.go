package part

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/cache"
	"github.com/ValentinKolb/pcache/lib/cache/engines/paged"
	"github.com/ValentinKolb/pcache/lib/common"
	"github.com/ValentinKolb/pcache/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(common.LoggerPart)

// --------------------------------------------------------------------------
// Thread groups
// --------------------------------------------------------------------------

// ThreadGroup is a set of coordinators sharing one cache
type ThreadGroup struct {
	ID      int
	members []*Coordinator // slot -> coordinator
	cache   cache.Cache    // created by the first member passing Init
}

// Size returns the number of member slots
func (g *ThreadGroup) Size() int { return len(g.members) }

// Member returns the coordinator in slot, nil if the slot is still free
func (g *ThreadGroup) Member(slot int) *Coordinator { return g.members[slot] }

// Cache returns the group cache, nil before the first member initialized.
// It must not be called concurrently with Init of a member.
func (g *ThreadGroup) Cache() cache.Cache { return g.cache }

// --------------------------------------------------------------------------
// Fabric
// --------------------------------------------------------------------------

// Fabric is the shared context of all coordinators of one partitioned cache:
// the group table, the init barrier and the metrics. It replaces any process
// wide state, several fabrics can exist side by side.
//
// Thread-safety: the group table and the barrier are guarded by mu. Route,
// Stats and WriteMetrics are thread-safe.
type Fabric struct {
	cfg    Config
	groups []*ThreadGroup
	coords []*Coordinator // thread id -> coordinator

	mu       sync.Mutex
	cond     *sync.Cond
	numInit  int
	closed   bool
	initErrs []error

	// requests sent by any coordinator whose reply was not processed yet
	outstanding atomic.Int64

	metrics *metrics.Set
}

// NewFabric creates the group table of a fabric. Caches are created lazily by
// the first coordinator of each group passing Init.
func NewFabric(cfg *Config) (*Fabric, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no fabric configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fabric configuration: %w", err)
	}

	f := &Fabric{
		cfg:     *cfg,
		groups:  make([]*ThreadGroup, cfg.NumGroups),
		coords:  make([]*Coordinator, cfg.NumThreads),
		metrics: metrics.NewSet(),
	}
	if f.cfg.CacheFactory == nil {
		f.cfg.CacheFactory = paged.Factory
	}
	f.cond = sync.NewCond(&f.mu)

	for i := range f.groups {
		f.groups[i] = &ThreadGroup{
			ID:      i,
			members: make([]*Coordinator, f.cfg.groupSize(i)),
		}
	}
	f.metrics.NewGauge("pcache_fabric_outstanding_requests", func() float64 {
		return float64(f.outstanding.Load())
	})

	log.Infof("created fabric: %d threads in %d groups (%s), cache %d bytes, delivery %s",
		cfg.NumThreads, cfg.NumGroups, cfg.Assignment, cfg.CacheSize, cfg.Delivery)
	return f, nil
}

// Config returns a copy of the fabric configuration
func (f *Fabric) Config() Config { return f.cfg }

// NumGroups returns the number of thread groups
func (f *Fabric) NumGroups() int { return len(f.groups) }

// Group returns thread group id
func (f *Fabric) Group(id int) *ThreadGroup { return f.groups[id] }

// Coordinator returns the coordinator of thread, nil if it was not created yet
func (f *Fabric) Coordinator(thread int) *Coordinator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coords[thread]
}

// GroupOf returns the group and slot a thread is assigned to
func (f *Fabric) GroupOf(thread int) (group, slot int) {
	return f.cfg.groupOf(thread)
}

// Route returns the group whose cache owns the block of req. The result only
// depends on the offset, so every coordinator routes a block to the same group.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (f *Fabric) Route(req *blkio.Request) int {
	return f.routeOffset(req.Offset)
}

func (f *Fabric) routeOffset(off int64) int {
	return util.Bucket(RouteHash(off, f.cfg.BlockSize), len(f.groups))
}

// RouteHash hashes the number of the block containing off
func RouteHash(off, blockSize int64) util.UintKey {
	return util.HashUint64(uint64(off/blockSize), 0)
}

// NewCoordinator creates the coordinator of thread and places it in its group slot
func (f *Fabric) NewCoordinator(thread int) (*Coordinator, error) {
	if thread < 0 || thread >= f.cfg.NumThreads {
		return nil, fmt.Errorf("thread id %d out of range [0,%d)", thread, f.cfg.NumThreads)
	}
	groupID, slot := f.cfg.groupOf(thread)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, blkio.ErrClosed
	}
	group := f.groups[groupID]
	if group.members[slot] != nil {
		return nil, fmt.Errorf("slot %d of group %d is already taken by thread %d", slot, groupID, group.members[slot].threadID)
	}

	c := newCoordinator(f, thread, group, slot)
	group.members[slot] = c
	f.coords[thread] = c
	blkio.Register(c)

	log.Infof("thread %d: group %d slot %d of %d", thread, groupID, slot, len(group.members))
	return c, nil
}

// initGroup creates the cache of group if absent and passes the init barrier.
// It returns once every thread of the fabric passed.
func (f *Fabric) initGroup(group *ThreadGroup) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	if group.cache == nil && !f.closed {
		group.cache, err = f.cfg.CacheFactory(&cache.Options{
			Size:      f.cfg.CacheSize / int64(len(f.groups)),
			NumShards: f.cfg.CacheShards,
			Backing:   f.cfg.Backing,
			NodeID:    min(group.ID, blkio.MaxNodeID),
			Name:      fmt.Sprintf("group-%d", group.ID),
		})
		if err != nil {
			err = fmt.Errorf("create cache of group %d: %w", group.ID, err)
			f.initErrs = append(f.initErrs, err)
		}
	}

	f.numInit++
	f.cond.Broadcast()
	for f.numInit < f.cfg.NumThreads {
		f.cond.Wait()
	}

	if err == nil && group.cache == nil {
		err = fmt.Errorf("group %d has no cache: %w", group.ID, errors.Join(f.initErrs...))
	}
	return err
}

// Close closes every group cache and unregisters the coordinators.
// Coordinators must have finished Cleanup.
func (f *Fabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for _, g := range f.groups {
		if g.cache != nil {
			if err := g.cache.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close cache of group %d: %w", g.ID, err))
			}
		}
	}
	for _, c := range f.coords {
		if c != nil {
			blkio.Unregister(c)
		}
	}
	log.Infof("closed fabric")
	return errors.Join(errs...)
}

// WriteMetrics writes the fabric metrics in Prometheus text format
func (f *Fabric) WriteMetrics(w io.Writer) {
	f.metrics.WritePrometheus(w)
}

// Outstanding returns the number of requests of any coordinator whose reply was not processed yet
func (f *Fabric) Outstanding() int64 {
	return f.outstanding.Load()
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats aggregates the counters of all coordinators and groups
type Stats struct {
	Threads []ThreadStats `json:"threads"`
	Groups  []cache.Info  `json:"groups"`
	Total   ThreadStats   `json:"total"`

	// Load rates how evenly the processed requests are spread over the threads
	Load util.DistributionStats `json:"load"`
}

// Stats collects the statistics of the fabric
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (f *Fabric) Stats() Stats {
	f.mu.Lock()
	coords := append([]*Coordinator(nil), f.coords...)
	var caches []cache.Cache
	for _, g := range f.groups {
		if g.cache != nil {
			caches = append(caches, g.cache)
		}
	}
	f.mu.Unlock()

	var s Stats
	var load []float64
	s.Total.ThreadID, s.Total.GroupID = -1, -1
	for _, c := range coords {
		if c == nil {
			continue
		}
		ts := c.Stats()
		s.Threads = append(s.Threads, ts)
		s.Total.add(ts)
		load = append(load, float64(ts.ProcessedRequests))
	}
	for _, c := range caches {
		s.Groups = append(s.Groups, c.Info())
	}
	s.Load = util.NewDistributionStats(load)
	return s
}
