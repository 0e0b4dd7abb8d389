package blkio

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	PageSize    = 4096           // alignment unit of the page cache
	MaxBufSize  = 1 << 20        // largest segment of a non-extended request
	MaxFileSize = int64(1) << 47 // largest addressable offset
	MaxNodeID   = 255

	NumEmbeddedBufs = 4  // segments kept inline in a BufList
	MinAllocBufs    = 16 // capacity of the first heap allocation of a BufList
)

// Method is the access kind of a request
type Method uint8

const (
	Read Method = iota
	Write
)

func (m Method) String() string {
	switch m {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// BufList
// --------------------------------------------------------------------------

// BufList is a list of buffer segments. The first NumEmbeddedBufs segments
// are stored inline. Growing past that moves the list to a heap slice of
// MinAllocBufs entries, every further growth doubles it.
//
// Copies of a BufList share the heap slice, so a list must not be modified
// once it was handed to another goroutine.
type BufList struct {
	embedded [NumEmbeddedBufs][]byte
	heap     [][]byte
	n        int
	allocs   int
}

// Len returns the number of segments
func (l *BufList) Len() int { return l.n }

// Cap returns how many segments fit before the next allocation
func (l *BufList) Cap() int {
	if l.heap != nil {
		return len(l.heap)
	}
	return NumEmbeddedBufs
}

// Allocs returns how many heap allocations the list made so far
func (l *BufList) Allocs() int { return l.allocs }

// At returns segment i
func (l *BufList) At(i int) []byte {
	if i < 0 || i >= l.n {
		panic(fmt.Sprintf("blkio: segment %d out of range [0,%d)", i, l.n))
	}
	return l.active()[i]
}

// All returns the segments in order. The slice aliases the list.
func (l *BufList) All() [][]byte {
	return l.active()[:l.n]
}

// Size returns the sum of all segment lengths
func (l *BufList) Size() int64 {
	var size int64
	for _, b := range l.All() {
		size += int64(len(b))
	}
	return size
}

// Add appends a segment
func (l *BufList) Add(b []byte) {
	if l.n == l.Cap() {
		l.grow(0)
	}
	l.active()[l.n] = b
	l.n++
}

// AddFront prepends a segment
func (l *BufList) AddFront(b []byte) {
	if l.n == l.Cap() {
		l.grow(1)
	} else {
		s := l.active()
		copy(s[1:l.n+1], s[:l.n])
	}
	l.active()[0] = b
	l.n++
}

func (l *BufList) active() [][]byte {
	if l.heap != nil {
		return l.heap
	}
	return l.embedded[:]
}

// grow moves the segments into a larger heap slice, leaving shift free slots in front
func (l *BufList) grow(shift int) {
	newCap := MinAllocBufs
	if l.heap != nil {
		newCap = 2 * len(l.heap)
	}
	next := make([][]byte, newCap)
	copy(next[shift:], l.active()[:l.n])
	l.heap = next
	l.embedded = [NumEmbeddedBufs][]byte{}
	l.allocs++
}

// --------------------------------------------------------------------------
// Request
// --------------------------------------------------------------------------

// Request describes one block access
type Request struct {
	Offset   int64
	Size     int64
	Method   Method
	CapID    int  // id of the capability that issued the request (see Registry)
	NodeID   int  // NUMA node hint
	HighPrio bool // requests are high priority unless marked otherwise
	Sync     bool

	// Err is set on completed requests handed to a Callback
	Err error

	extended bool
	bufs     BufList
}

// NewRequest creates a single segment request over buf.
// It panics if buf is larger than MaxBufSize or off is out of range.
func NewRequest(buf []byte, off int64, m Method) Request {
	if len(buf) > MaxBufSize {
		panic(fmt.Sprintf("blkio: request size %d exceeds the maximum of %d", len(buf), MaxBufSize))
	}
	r := Request{
		Offset:   off,
		Size:     int64(len(buf)),
		Method:   m,
		HighPrio: true,
	}
	r.bufs.Add(buf)
	r.Validate()
	return r
}

// NewExtendedRequest creates a request that may carry many segments, which
// are accessed back to back starting at off.
func NewExtendedRequest(off int64, m Method, bufs ...[]byte) Request {
	r := Request{
		Offset:   off,
		Method:   m,
		HighPrio: true,
		extended: true,
	}
	for _, b := range bufs {
		r.AddBuf(b)
	}
	r.Validate()
	return r
}

// IsExtended reports whether the request may carry several segments
func (r *Request) IsExtended() bool { return r.extended }

// AddBuf appends a segment to an extended request
func (r *Request) AddBuf(b []byte) {
	r.requireExtended()
	r.bufs.Add(b)
	r.Size += int64(len(b))
}

// AddBufFront prepends a segment to an extended request; the offset moves back by len(b)
func (r *Request) AddBufFront(b []byte) {
	r.requireExtended()
	r.bufs.AddFront(b)
	r.Size += int64(len(b))
	r.Offset -= int64(len(b))
}

// NumBufs returns the number of segments
func (r *Request) NumBufs() int { return r.bufs.Len() }

// Buf returns segment i
func (r *Request) Buf(i int) []byte { return r.bufs.At(i) }

// Bufs returns all segments. The slice aliases the request.
func (r *Request) Bufs() [][]byte { return r.bufs.All() }

// BufList returns the segment list, for allocation statistics
func (r *Request) BufList() *BufList { return &r.bufs }

// End returns the first offset after the request
func (r *Request) End() int64 { return r.Offset + r.Size }

// Validate panics if the request violates the contract of the I/O layer
func (r *Request) Validate() {
	switch {
	case r.Offset < 0:
		panic(fmt.Sprintf("blkio: negative offset %d", r.Offset))
	case r.Offset > MaxFileSize:
		panic(fmt.Sprintf("blkio: offset %d beyond the maximum file size", r.Offset))
	case r.Size < 0:
		panic(fmt.Sprintf("blkio: negative size %d", r.Size))
	case r.End() > MaxFileSize:
		panic(fmt.Sprintf("blkio: request [%d,%d) ends beyond the maximum file size", r.Offset, r.End()))
	case !r.extended && r.Size > MaxBufSize:
		panic(fmt.Sprintf("blkio: request size %d exceeds the maximum of %d", r.Size, MaxBufSize))
	case r.NodeID < 0 || r.NodeID > MaxNodeID:
		panic(fmt.Sprintf("blkio: node id %d out of range", r.NodeID))
	}
}

func (r *Request) requireExtended() {
	if !r.extended {
		panic("blkio: only extended requests can carry several segments")
	}
}

func (r Request) String() string {
	return fmt.Sprintf("Request{%s off=%d size=%d bufs=%d cap=%d}", r.Method, r.Offset, r.Size, r.bufs.Len(), r.CapID)
}

// --------------------------------------------------------------------------
// Reply
// --------------------------------------------------------------------------

// Reply is the completion of one Request
type Reply struct {
	Offset  int64
	Size    int64
	Method  Method
	CapID   int
	Sync    bool
	Success bool
	Err     error

	extended bool
	bufs     BufList
}

// NewReply builds the reply for req. A nil err marks success.
func NewReply(req *Request, err error) Reply {
	return Reply{
		Offset:   req.Offset,
		Size:     req.Size,
		Method:   req.Method,
		CapID:    req.CapID,
		Sync:     req.Sync,
		Success:  err == nil,
		Err:      err,
		extended: req.extended,
		bufs:     req.bufs,
	}
}

// Request rebuilds the completed request, with Err carrying the status
func (r *Reply) Request() Request {
	return Request{
		Offset:   r.Offset,
		Size:     r.Size,
		Method:   r.Method,
		CapID:    r.CapID,
		HighPrio: true,
		Sync:     r.Sync,
		Err:      r.Err,
		extended: r.extended,
		bufs:     r.bufs,
	}
}
