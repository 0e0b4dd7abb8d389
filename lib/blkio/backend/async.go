package backend

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/common"
	"github.com/ValentinKolb/pcache/lib/msg"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger(common.LoggerBackend)

// AsyncOptions configures an Async capability
type AsyncOptions struct {
	Workers   int // number of worker goroutines (0 = runtime.NumCPU())
	QueueSize int // maximum number of submitted requests not yet picked up by a worker
	BatchSize int // requests a worker takes from the queue at once
}

// DefaultAsyncOptions returns the default options
func DefaultAsyncOptions() *AsyncOptions {
	return &AsyncOptions{
		Workers:   runtime.NumCPU(),
		QueueSize: 1024,
		BatchSize: 16,
	}
}

// Async serves AccessAsync of a thread-safe synchronous capability from a pool of
// worker goroutines. Completed requests are collected in a completion stream
// and handed to the callback on the goroutine that owns the Async, during
// AccessAsync and Wait4Complete.
//
// Thread-safety: Access is thread-safe if the inner capability is. All other
// methods must be called by the owning goroutine.
type Async struct {
	blkio.Base
	inner blkio.Capability
	opts  AsyncOptions

	queue  *msg.BlockingQueue[*blkio.Request]
	done   *msg.LockFreeMPSC[*blkio.Request]
	group  *errgroup.Group
	cancel context.CancelFunc

	cb          blkio.Callback
	outstanding int
	completed   []*blkio.Request
}

// NewAsync wraps inner. The worker pool is started by Init.
func NewAsync(inner blkio.Capability, opts *AsyncOptions) *Async {
	if opts == nil {
		opts = DefaultAsyncOptions()
	}
	o := *opts
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultAsyncOptions().QueueSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1
	}

	a := &Async{
		Base:  blkio.NewBase(inner.NodeID()),
		inner: inner,
		opts:  o,
	}
	blkio.Register(a)
	return a
}

// Init starts the worker goroutines
func (a *Async) Init() error {
	if a.group != nil {
		return blkio.NewError(blkio.RetCInvalidOperation, "async capability already initialized")
	}

	a.queue = msg.NewBlockingQueue[*blkio.Request](a.opts.QueueSize)
	a.done = msg.NewLockFreeMPSC[*blkio.Request]()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < a.opts.Workers; i++ {
		a.group.Go(func() error {
			return a.worker(ctx)
		})
	}
	log.Debugf("async capability %d: started %d workers over capability %d", a.ID(), a.opts.Workers, a.inner.ID())
	return nil
}

// worker executes queued requests until the queue is closed and drained
func (a *Async) worker(ctx context.Context) error {
	batch := make([]*blkio.Request, a.opts.BatchSize)
	for {
		n := a.queue.FetchWait(ctx, batch)
		if n == 0 {
			return nil
		}
		for _, req := range batch[:n] {
			if _, err := blkio.AccessSegments(a.inner.Access, req); err != nil {
				req.Err = fmt.Errorf("%s at %d: %w", req.Method, req.Offset, err)
			}
			a.done.Push(req)
		}
		clear(batch[:n])
	}
}

// Access forwards to the inner capability
func (a *Async) Access(buf []byte, off int64, m blkio.Method) (int, error) {
	return a.inner.Access(buf, off, m)
}

// AccessAsync queues reqs for the workers. It waits only while the queue is full.
func (a *Async) AccessAsync(reqs []blkio.Request, statuses []blkio.Status) int {
	if a.group == nil {
		log.Errorf("async capability %d: AccessAsync before Init", a.ID())
		blkio.SetStatuses(statuses, len(reqs), blkio.StatusFail)
		return 0
	}

	submitted := make([]*blkio.Request, len(reqs))
	for i := range reqs {
		req := reqs[i]
		req.Validate()
		req.CapID = a.ID()
		submitted[i] = &req
	}

	added := a.queue.AddWait(context.Background(), submitted)
	a.outstanding += added
	blkio.SetStatuses(statuses, added, blkio.StatusPending)
	if added < len(reqs) {
		log.Warningf("async capability %d: queue closed, %d requests failed", a.ID(), len(reqs)-added)
		for i := added; i < len(reqs) && i < len(statuses); i++ {
			statuses[i] = blkio.Status{Code: blkio.StatusFail}
		}
	}

	return a.collect(false, 0)
}

// collect hands finished requests to the callback. With wait it blocks until
// at most limit requests are outstanding.
func (a *Async) collect(wait bool, limit int) int {
	delivered := 0
	for {
		for {
			req, ok := a.done.TryRecv()
			if !ok {
				break
			}
			a.completed = append(a.completed, req)
		}
		if len(a.completed) == 0 && wait && a.outstanding > limit {
			req, ok := <-a.done.Recv()
			if !ok {
				return delivered
			}
			a.completed = append(a.completed, req)
			continue
		}
		if len(a.completed) == 0 {
			return delivered
		}

		batch := a.completed
		a.completed = a.completed[:0:0]
		a.outstanding -= len(batch)
		delivered += len(batch)
		if a.cb != nil {
			a.cb.Invoke(batch)
		}
		if !wait || a.outstanding <= limit {
			return delivered
		}
	}
}

func (a *Async) SetCallback(cb blkio.Callback) bool {
	a.cb = cb
	return true
}

func (a *Async) Callback() blkio.Callback { return a.cb }
func (a *Async) SupportAIO() bool         { return true }

// Outstanding returns the number of submitted requests whose completion was not delivered yet
func (a *Async) Outstanding() int { return a.outstanding }

// Wait4Complete delivers completions until at most n requests are outstanding
func (a *Async) Wait4Complete(n int) {
	if a.group == nil {
		return
	}
	a.collect(true, max(n, 0))
}

// Cleanup waits for every submitted request and stops the workers.
// The inner capability is not cleaned up.
func (a *Async) Cleanup() error {
	defer blkio.Unregister(a)
	if a.group == nil {
		return nil
	}

	a.Wait4Complete(0)
	a.queue.Close()
	err := a.group.Wait()
	a.cancel()
	a.done.Close()
	a.group = nil
	return err
}
