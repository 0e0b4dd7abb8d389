package part

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/msg"
	"github.com/ValentinKolb/pcache/lib/util"
	"github.com/VictoriaMetrics/metrics"
)

// maxPumpDepth bounds how deep the retry backoff nests queue processing
const maxPumpDepth = 8

// --------------------------------------------------------------------------
// Coordinator
// --------------------------------------------------------------------------

// Coordinator is the partitioned cache as seen by one worker goroutine. It
// implements blkio.Capability.
//
// Requests are routed by block to the group owning the block and served by a
// member of that group from the group cache. Replies travel back to the
// coordinator that issued the request, which hands them to its callback. A
// coordinator only makes progress while its owner calls into it, so every
// worker has to keep calling AccessAsync, Wait4Complete or Cleanup.
//
// Thread-safety: a Coordinator belongs to one goroutine. Only Stats,
// Outstanding and the identity getters may be called from other goroutines.
type Coordinator struct {
	blkio.Base
	fabric   *Fabric
	cfg      *Config
	threadID int
	group    *ThreadGroup
	slot     int

	requests *msg.Queue[blkio.Request]
	replies  *msg.Queue[blkio.Reply]

	reqSenders   []*msg.Sender[blkio.Request] // group -> sender over the members' request queues
	replySenders []*msg.Sender[blkio.Reply]   // thread -> sender over its reply queue

	cb          blkio.Callback
	initialized bool
	cleanedUp   bool
	unpin       func()

	finishedThreads atomic.Int32 // threads of the fabric that entered Cleanup
	outstanding     atomic.Int64 // own requests whose reply was not processed yet

	reqDepth   int // nesting of ProcessRequests
	replyDepth int // nesting of ProcessReplies

	syncPending int
	syncErr     error

	// buffers of the outermost ProcessRequests / ProcessReplies
	reqBuf   []blkio.Request
	replyBuf []blkio.Reply
	recvBuf  []blkio.Reply
	doneBuf  []blkio.Request
	donePtrs []*blkio.Request

	m coordMetrics
}

type coordMetrics struct {
	processed      *metrics.Counter
	remote         *metrics.Counter
	droppedReqs    *metrics.Counter
	droppedReplies *metrics.Counter
	completed      *metrics.Counter
	failed         *metrics.Counter
	bytes          *metrics.Counter
	batch          *metrics.Histogram
}

func newCoordinator(f *Fabric, thread int, group *ThreadGroup, slot int) *Coordinator {
	c := &Coordinator{
		Base:     blkio.NewBase(min(group.ID, blkio.MaxNodeID)),
		fabric:   f,
		cfg:      &f.cfg,
		threadID: thread,
		group:    group,
		slot:     slot,
		requests: msg.NewQueue[blkio.Request](f.cfg.RequestQueueSize),
		replies:  msg.NewQueue[blkio.Reply](f.cfg.ReplyQueueSize),
		reqBuf:   make([]blkio.Request, f.cfg.BufSize),
		replyBuf: make([]blkio.Reply, f.cfg.BufSize),
		recvBuf:  make([]blkio.Reply, f.cfg.BufSize),
		doneBuf:  make([]blkio.Request, f.cfg.BufSize),
		donePtrs: make([]*blkio.Request, 0, f.cfg.BufSize),
	}

	labels := fmt.Sprintf(`{thread="%d",group="%d"}`, thread, group.ID)
	set := f.metrics
	c.m = coordMetrics{
		processed:      set.NewCounter("pcache_processed_requests_total" + labels),
		remote:         set.NewCounter("pcache_remote_requests_total" + labels),
		droppedReqs:    set.NewCounter("pcache_dropped_requests_total" + labels),
		droppedReplies: set.NewCounter("pcache_dropped_replies_total" + labels),
		completed:      set.NewCounter("pcache_completed_requests_total" + labels),
		failed:         set.NewCounter("pcache_failed_requests_total" + labels),
		bytes:          set.NewCounter("pcache_serviced_bytes_total" + labels),
		batch:          set.NewHistogram("pcache_request_batch_size" + labels),
	}
	set.NewGauge("pcache_outstanding_requests"+labels, func() float64 {
		return float64(c.outstanding.Load())
	})
	return c
}

// ThreadID returns the thread id of the coordinator
func (c *Coordinator) ThreadID() int { return c.threadID }

// GroupID returns the group the coordinator is a member of
func (c *Coordinator) GroupID() int { return c.group.ID }

// Slot returns the position of the coordinator within its group
func (c *Coordinator) Slot() int { return c.slot }

// Outstanding returns the number of requests whose reply was not processed yet
func (c *Coordinator) Outstanding() int64 { return c.outstanding.Load() }

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Init creates the group cache if this is the first member of the group to
// initialize, then waits until every thread of the fabric called Init and
// builds the senders. It must be called by the goroutine that uses the coordinator.
func (c *Coordinator) Init() error {
	if c.initialized {
		return blkio.NewError(blkio.RetCInvalidOperation, fmt.Sprintf("thread %d is already initialized", c.threadID))
	}

	if c.cfg.PinThreads {
		cpus := util.GroupCPUs(c.group.ID, len(c.fabric.groups))
		unpin, err := util.PinThread(cpus)
		if err != nil {
			log.Warningf("thread %d: running unpinned: %v", c.threadID, err)
		} else {
			c.unpin = unpin
			log.Debugf("thread %d: pinned to cpus %v", c.threadID, cpus)
		}
	}

	if err := c.fabric.initGroup(c.group); err != nil {
		return err
	}

	// every coordinator exists once the barrier is passed
	c.reqSenders = make([]*msg.Sender[blkio.Request], len(c.fabric.groups))
	for i, g := range c.fabric.groups {
		dests := make([]msg.Destination[blkio.Request], len(g.members))
		for j, member := range g.members {
			dests[j] = member.requests
		}
		c.reqSenders[i] = msg.NewSender(c.cfg.BufSize, dests...)
	}
	c.replySenders = make([]*msg.Sender[blkio.Reply], len(c.fabric.coords))
	for i, other := range c.fabric.coords {
		c.replySenders[i] = msg.NewSender[blkio.Reply](c.cfg.BufSize, other.replies)
	}
	if c.cfg.Delivery == DeliveryRetry {
		for _, s := range c.reqSenders {
			s.SetBackoff(c.backoff)
		}
		for _, s := range c.replySenders {
			s.SetBackoff(c.backoff)
		}
	}

	c.initialized = true
	log.Debugf("thread %d: initialized", c.threadID)
	return nil
}

// Cleanup announces to every coordinator that this thread is done and keeps
// serving requests and replies until all threads announced it, the own queues
// and senders are empty and no request of the fabric is outstanding.
func (c *Coordinator) Cleanup() error {
	if !c.initialized {
		return blkio.NewError(blkio.RetCInvalidOperation, fmt.Sprintf("thread %d was never initialized", c.threadID))
	}
	if c.cleanedUp {
		return nil
	}

	log.Debugf("thread %d: start to clean up", c.threadID)
	for _, other := range c.fabric.coords {
		other.finishedThreads.Add(1)
	}

	rounds := 0
	for {
		c.ProcessRequests(c.cfg.CleanupBatch)
		c.ProcessReplies(c.cfg.CleanupBatch)
		c.flushSenders()
		if c.drained() {
			break
		}
		rounds++
		runtime.Gosched()
	}

	c.cleanedUp = true
	if c.unpin != nil {
		c.unpin()
		c.unpin = nil
	}
	log.Infof("thread %d: processed %d requests, cleanup took %d rounds", c.threadID, c.m.processed.Get(), rounds)
	return nil
}

// drained reports whether Cleanup may return
func (c *Coordinator) drained() bool {
	return c.requests.IsEmpty() &&
		c.replies.IsEmpty() &&
		int(c.finishedThreads.Load()) >= c.cfg.NumThreads &&
		c.pendingSends() == 0 &&
		c.fabric.outstanding.Load() == 0
}

func (c *Coordinator) requireInit() {
	if !c.initialized || c.cleanedUp {
		panic(fmt.Sprintf("part: thread %d used outside of Init and Cleanup", c.threadID))
	}
}

// --------------------------------------------------------------------------
// Capability Interface Methods
// --------------------------------------------------------------------------

func (c *Coordinator) SetCallback(cb blkio.Callback) bool {
	c.cb = cb
	return true
}

func (c *Coordinator) Callback() blkio.Callback { return c.cb }
func (c *Coordinator) SupportAIO() bool         { return true }

// AccessAsync routes reqs to their groups, then serves up to twice as many
// requests from the own queue and processes up to four times as many replies.
// It never waits for its own requests; it returns the number of replies processed.
//
// The CapID of every request in reqs is set to the id of the coordinator.
func (c *Coordinator) AccessAsync(reqs []blkio.Request, statuses []blkio.Status) int {
	c.requireInit()
	c.distributeReqs(reqs, statuses)

	n := len(reqs)
	if n == 0 {
		n = c.cfg.MinProcessReqs
	}
	c.ProcessRequests(2 * n)
	return c.ProcessReplies(4 * n)
}

// Access performs a synchronous access. Blocks owned by the own group are
// served directly from the group cache, the others are sent to their groups
// while the coordinator keeps serving its queues until all replies arrived.
// On failure the first error is returned and the byte count is 0.
func (c *Coordinator) Access(buf []byte, off int64, m blkio.Method) (int, error) {
	c.requireInit()
	if off < 0 || off+int64(len(buf)) > blkio.MaxFileSize {
		return 0, blkio.NewError(blkio.RetCOutOfRange, fmt.Sprintf("access [%d,%d) out of range", off, off+int64(len(buf))))
	}

	var (
		remote   []blkio.Request
		firstErr error
	)
	bs := c.cfg.BlockSize
	for done := 0; done < len(buf); {
		pos := off + int64(done)
		n := min(len(buf)-done, int(bs-pos%bs))
		chunk := buf[done : done+n]
		if c.fabric.routeOffset(pos) == c.group.ID {
			if _, err := c.group.cache.Access(chunk, pos, m); err != nil {
				if firstErr == nil {
					firstErr = err
				}
			} else {
				c.m.bytes.Add(n)
			}
		} else {
			req := blkio.NewRequest(chunk, pos, m)
			req.Sync = true
			remote = append(remote, req)
		}
		done += n
	}

	if len(remote) > 0 {
		if err := c.accessRemote(remote); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return 0, firstErr
	}
	return len(buf), nil
}

// accessRemote sends synchronous requests and serves the queues until their replies arrived
func (c *Coordinator) accessRemote(reqs []blkio.Request) error {
	prevErr := c.syncErr
	c.syncErr = nil
	defer func() { c.syncErr = prevErr }()

	statuses := make([]blkio.Status, len(reqs))
	c.syncPending += len(reqs)
	c.distributeReqs(reqs, statuses)

	var err error
	for _, s := range statuses {
		if s.Code == blkio.StatusFail {
			c.syncPending--
			err = blkio.NewError(blkio.RetCQueueFull, "request queues of the owning group are full")
		}
	}

	for c.syncPending > 0 && c.outstanding.Load() > 0 {
		if c.pump(c.cfg.BufSize) == 0 {
			runtime.Gosched()
		}
	}
	if c.syncPending > 0 {
		// nothing is outstanding anymore, the missing replies were dropped
		c.syncPending = 0
		err = blkio.NewError(blkio.RetCQueueFull, "reply queue was full, replies were dropped")
	}

	if c.syncErr != nil {
		return c.syncErr
	}
	return err
}

// FlushRequests pushes every buffered request and reply to its destination
func (c *Coordinator) FlushRequests() {
	c.requireInit()
	c.flushSenders()
}

// Wait4Complete serves the queues until at most n own requests are outstanding
func (c *Coordinator) Wait4Complete(n int) {
	c.requireInit()
	for c.outstanding.Load() > int64(n) {
		if c.pump(c.cfg.MinProcessReqs) == 0 {
			runtime.Gosched()
		}
	}
}

// --------------------------------------------------------------------------
// Request and reply processing
// --------------------------------------------------------------------------

// distributeReqs sends every request to the group owning its block
func (c *Coordinator) distributeReqs(reqs []blkio.Request, statuses []blkio.Status) {
	var dropped int
	for i := range reqs {
		req := &reqs[i]
		req.Validate()
		c.checkBlock(req)
		req.CapID = c.ID()

		group := c.fabric.Route(req)
		if group != c.group.ID {
			c.m.remote.Inc()
		}

		c.outstanding.Add(1)
		c.fabric.outstanding.Add(1)
		code := blkio.StatusPending
		if !c.sendRequest(group, reqs[i:i+1]) {
			c.outstanding.Add(-1)
			c.fabric.outstanding.Add(-1)
			c.m.droppedReqs.Inc()
			dropped++
			code = blkio.StatusFail
			log.Debugf("thread %d: the request buffer for group %d is full, dropped %s", c.threadID, group, req)
		}
		if i < len(statuses) {
			statuses[i] = blkio.Status{Code: code}
		}
	}

	for _, s := range c.reqSenders {
		s.Flush()
	}
	if dropped > 0 {
		log.Warningf("thread %d: dropped %d of %d requests, request queues are full", c.threadID, dropped, len(reqs))
	}
}

// checkBlock panics if req crosses a block boundary, such a request would be
// cached by more than one group
func (c *Coordinator) checkBlock(req *blkio.Request) {
	if req.Size == 0 {
		return
	}
	bs := c.cfg.BlockSize
	if req.Offset/bs != (req.End()-1)/bs {
		panic(fmt.Sprintf("part: %s crosses a block boundary (block size %d)", req, bs))
	}
}

func (c *Coordinator) sendRequest(group int, req []blkio.Request) bool {
	s := c.reqSenders[group]
	if c.cfg.Delivery == DeliveryRetry {
		s.SendCached(req)
		return true
	}
	return s.TrySendCached(req) == len(req)
}

func (c *Coordinator) sendReply(thread int, reply []blkio.Reply) bool {
	s := c.replySenders[thread]
	if c.cfg.Delivery == DeliveryRetry {
		s.SendCached(reply)
		return true
	}
	return s.TrySendCached(reply) == len(reply)
}

// ProcessRequests serves up to limit requests from the own request queue
// through the group cache and sends the replies to the issuing coordinators.
// It returns the number of requests served.
func (c *Coordinator) ProcessRequests(limit int) int {
	c.requireInit()

	reqs, replies := c.reqBuf, c.replyBuf
	if c.reqDepth > 0 {
		reqs = make([]blkio.Request, c.cfg.BufSize)
		replies = make([]blkio.Reply, c.cfg.BufSize)
	}
	c.reqDepth++
	defer func() { c.reqDepth-- }()

	processed := 0
	for processed < limit && !c.requests.IsEmpty() {
		n := c.requests.Fetch(reqs[:min(len(reqs), limit-processed)])
		if n == 0 {
			break
		}
		for i := range reqs[:n] {
			req := &reqs[i]
			_, err := blkio.AccessSegments(c.group.cache.Access, req)
			if err != nil {
				err = fmt.Errorf("thread %d: %s of %d bytes at %d: %w", c.threadID, req.Method, req.Size, req.Offset, err)
			}
			replies[i] = blkio.NewReply(req, err)
		}
		c.m.processed.Add(n)
		c.m.batch.Update(float64(n))

		c.reply(replies[:n])
		clear(reqs[:n])
		clear(replies[:n])
		processed += n
	}
	return processed
}

// reply sends replies to the coordinators that issued the requests
func (c *Coordinator) reply(replies []blkio.Reply) {
	for i := range replies {
		origin := c.origin(replies[i].CapID)
		if origin == nil {
			c.fabric.outstanding.Add(-1)
			c.m.droppedReplies.Inc()
			log.Errorf("thread %d: no coordinator with id %d, dropped reply", c.threadID, replies[i].CapID)
			continue
		}
		if !c.sendReply(origin.threadID, replies[i:i+1]) {
			origin.outstanding.Add(-1)
			c.fabric.outstanding.Add(-1)
			c.m.droppedReplies.Inc()
			log.Warningf("thread %d: the reply buffer for thread %d is full, dropped reply", c.threadID, origin.threadID)
		}
	}
	for _, s := range c.replySenders {
		s.Flush()
	}
}

// origin resolves the capability id of a request to its coordinator in this fabric
func (c *Coordinator) origin(capID int) *Coordinator {
	capability, ok := blkio.Lookup(capID)
	if !ok {
		return nil
	}
	origin, ok := capability.(*Coordinator)
	if !ok || origin.fabric != c.fabric {
		return nil
	}
	return origin
}

// ProcessReplies handles up to limit replies from the own reply queue. The
// callback is invoked once per fetched batch with the completed requests,
// which are only valid during the call. It returns the number of replies handled.
func (c *Coordinator) ProcessReplies(limit int) int {
	c.requireInit()

	recv, done, ptrs := c.recvBuf, c.doneBuf, c.donePtrs
	if c.replyDepth > 0 {
		recv = make([]blkio.Reply, c.cfg.BufSize)
		done = make([]blkio.Request, c.cfg.BufSize)
		ptrs = make([]*blkio.Request, 0, c.cfg.BufSize)
	}
	c.replyDepth++
	defer func() { c.replyDepth-- }()

	processed := 0
	for processed < limit && !c.replies.IsEmpty() {
		n := c.replies.Fetch(recv[:min(len(recv), limit-processed)])
		if n == 0 {
			break
		}

		ptrs = ptrs[:0]
		var bytes int64
		for i := range recv[:n] {
			rep := &recv[i]
			if rep.Success {
				bytes += rep.Size
			} else {
				c.m.failed.Inc()
				log.Warningf("thread %d: access error: %v", c.threadID, rep.Err)
			}

			if rep.Sync {
				c.syncPending--
				if !rep.Success && c.syncErr == nil {
					c.syncErr = rep.Err
				}
				continue
			}
			done[i] = rep.Request()
			ptrs = append(ptrs, &done[i])
		}

		c.outstanding.Add(-int64(n))
		c.m.completed.Add(n)
		c.m.bytes.Add(int(bytes))

		// the batch stays outstanding in the fabric until the callback
		// returned, it may submit new requests while peers are in Cleanup
		if len(ptrs) > 0 && c.cb != nil {
			c.cb.Invoke(ptrs)
		}
		c.fabric.outstanding.Add(-int64(n))
		clear(recv[:n])
		clear(done[:n])
		clear(ptrs)
		processed += n
	}
	return processed
}

// pump serves the own queues once and flushes the senders
func (c *Coordinator) pump(batch int) int {
	served := c.ProcessRequests(batch)
	served += c.ProcessReplies(batch)
	c.flushSenders()
	return served
}

// backoff is called by saturated senders under DeliveryRetry. Serving the
// own queues lets the coordinators blocked on this one make progress.
func (c *Coordinator) backoff() {
	if c.reqDepth+c.replyDepth < maxPumpDepth {
		c.ProcessReplies(c.cfg.BufSize)
		c.ProcessRequests(c.cfg.BufSize)
	}
	runtime.Gosched()
}

func (c *Coordinator) flushSenders() {
	for _, s := range c.reqSenders {
		s.Flush()
	}
	for _, s := range c.replySenders {
		s.Flush()
	}
}

func (c *Coordinator) pendingSends() int {
	pending := 0
	for _, s := range c.reqSenders {
		pending += s.Pending()
	}
	for _, s := range c.replySenders {
		pending += s.Pending()
	}
	return pending
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// ThreadStats are the counters of one coordinator
type ThreadStats struct {
	ThreadID          int    `json:"thread_id"`
	GroupID           int    `json:"group_id"`
	ProcessedRequests uint64 `json:"processed_requests"`
	RemoteRequests    uint64 `json:"remote_requests"`
	DroppedRequests   uint64 `json:"dropped_requests"`
	DroppedReplies    uint64 `json:"dropped_replies"`
	CompletedRequests uint64 `json:"completed_requests"`
	FailedRequests    uint64 `json:"failed_requests"`
	ServicedBytes     uint64 `json:"serviced_bytes"`
	Outstanding       int64  `json:"outstanding"`
}

func (s *ThreadStats) add(o ThreadStats) {
	s.ProcessedRequests += o.ProcessedRequests
	s.RemoteRequests += o.RemoteRequests
	s.DroppedRequests += o.DroppedRequests
	s.DroppedReplies += o.DroppedReplies
	s.CompletedRequests += o.CompletedRequests
	s.FailedRequests += o.FailedRequests
	s.ServicedBytes += o.ServicedBytes
	s.Outstanding += o.Outstanding
}

func (s ThreadStats) String() string {
	return fmt.Sprintf("thread %d (group %d): processed=%d remote=%d completed=%d failed=%d dropped requests=%d dropped replies=%d bytes=%d",
		s.ThreadID, s.GroupID, s.ProcessedRequests, s.RemoteRequests, s.CompletedRequests,
		s.FailedRequests, s.DroppedRequests, s.DroppedReplies, s.ServicedBytes)
}

// Stats returns the counters of the coordinator
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *Coordinator) Stats() ThreadStats {
	return ThreadStats{
		ThreadID:          c.threadID,
		GroupID:           c.group.ID,
		ProcessedRequests: c.m.processed.Get(),
		RemoteRequests:    c.m.remote.Get(),
		DroppedRequests:   c.m.droppedReqs.Get(),
		DroppedReplies:    c.m.droppedReplies.Get(),
		CompletedRequests: c.m.completed.Get(),
		FailedRequests:    c.m.failed.Get(),
		ServicedBytes:     c.m.bytes.Get(),
		Outstanding:       c.outstanding.Load(),
	}
}
