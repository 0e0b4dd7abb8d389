package blkio

// --------------------------------------------------------------------------
// Status
// --------------------------------------------------------------------------

// StatusCode is the outcome of submitting one request asynchronously
type StatusCode int8

const (
	StatusOK          StatusCode = 0
	StatusPending     StatusCode = -1
	StatusFail        StatusCode = -2
	StatusUnsupported StatusCode = -3
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusPending:
		return "pending"
	case StatusFail:
		return "fail"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Status is the per request result of AccessAsync
type Status struct {
	Code     StatusCode
	PrivData int64
}

// SetStatuses sets the first n entries of statuses to code. statuses may be nil.
func SetStatuses(statuses []Status, n int, code StatusCode) {
	for i := 0; i < n && i < len(statuses); i++ {
		statuses[i] = Status{Code: code}
	}
}

// --------------------------------------------------------------------------
// Callback
// --------------------------------------------------------------------------

// Callback receives completed requests. Each request has Err set if its access failed.
type Callback interface {
	Invoke(reqs []*Request) int
}

// CallbackFunc adapts a function to the Callback interface
type CallbackFunc func(reqs []*Request) int

// Invoke calls f
func (f CallbackFunc) Invoke(reqs []*Request) int { return f(reqs) }

// --------------------------------------------------------------------------
// Capability
// --------------------------------------------------------------------------

// Capability is the I/O interface of every backend.
//
// A Capability is used by one goroutine at a time unless the implementation
// documents otherwise; thread-safe backends say so.
type Capability interface {
	// ID returns the process-wide id of the capability (see Registry).
	ID() int
	// NodeID returns the NUMA node the capability belongs to.
	NodeID() int

	// Init is called once by the goroutine that will use the capability. It may block.
	Init() error

	// Access performs a synchronous access of len(buf) bytes at off and returns
	// the number of bytes transferred.
	Access(buf []byte, off int64, m Method) (int, error)

	// AccessAsync submits requests. Completions are delivered later through the
	// callback. statuses, if not nil, receives one status per request. The
	// return value is the number of completions delivered during the call.
	AccessAsync(reqs []Request, statuses []Status) int

	// SetCallback registers the completion callback. It returns false if the
	// capability has no asynchronous support.
	SetCallback(cb Callback) bool
	// Callback returns the registered callback.
	Callback() Callback
	// SupportAIO reports whether AccessAsync is implemented.
	SupportAIO() bool

	// FlushRequests pushes requests buffered by AccessAsync towards the device.
	FlushRequests()
	// Wait4Complete waits until at most n submitted requests are still outstanding.
	Wait4Complete(n int)

	// Cleanup is called when the owning goroutine is done with the capability.
	Cleanup() error
}

// Base implements every Capability operation with the "unsupported" answer.
// Backends embed it and override what they support.
type Base struct {
	id     int
	nodeID int
}

// NewBase assigns the next process-wide capability id. The embedding backend
// still has to be stored with Register to be found by Lookup.
func NewBase(nodeID int) Base {
	if nodeID < 0 || nodeID > MaxNodeID {
		panic("blkio: node id out of range")
	}
	return Base{id: defaultRegistry.NextID(), nodeID: nodeID}
}

func (b *Base) ID() int     { return b.id }
func (b *Base) NodeID() int { return b.nodeID }
func (b *Base) Init() error { return nil }

func (b *Base) Access(_ []byte, _ int64, _ Method) (int, error) {
	return 0, ErrUnsupported
}

func (b *Base) AccessAsync(reqs []Request, statuses []Status) int {
	SetStatuses(statuses, len(reqs), StatusUnsupported)
	return 0
}

func (b *Base) SetCallback(_ Callback) bool { return false }
func (b *Base) Callback() Callback          { return nil }
func (b *Base) SupportAIO() bool            { return false }
func (b *Base) FlushRequests()              {}
func (b *Base) Wait4Complete(_ int)         {}
func (b *Base) Cleanup() error              { return nil }

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// AccessFunc is the signature of a synchronous access
type AccessFunc func(buf []byte, off int64, m Method) (int, error)

// AccessSegments performs every segment of req back to back through access
// and returns the total number of bytes transferred. It stops at the first error.
func AccessSegments(access AccessFunc, req *Request) (int64, error) {
	var done int64
	off := req.Offset
	for _, buf := range req.Bufs() {
		n, err := access(buf, off, req.Method)
		done += int64(n)
		if err != nil {
			return done, err
		}
		off += int64(len(buf))
	}
	return done, nil
}
