package backend

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/puzpuzpuz/xsync/v3"
)

// memPage is one page of a Memory device
type memPage struct {
	mu   sync.RWMutex
	data [blkio.PageSize]byte
}

// Memory is a sparse in-memory device. Pages are allocated on first write.
//
// Thread-safety: Access is thread-safe, concurrent writes to the same page are serialized.
type Memory struct {
	blkio.Base
	size  int64
	pages *xsync.MapOf[int64, *memPage]
}

// NewMemory creates a device of size bytes (0 = blkio.MaxFileSize) on NUMA node nodeID
func NewMemory(size int64, nodeID int) *Memory {
	if size <= 0 {
		size = blkio.MaxFileSize
	}
	m := &Memory{
		Base:  blkio.NewBase(nodeID),
		size:  size,
		pages: xsync.NewMapOf[int64, *memPage](),
	}
	blkio.Register(m)
	return m
}

// Size returns the size of the device
func (m *Memory) Size() int64 { return m.size }

// Pages returns the number of allocated pages
func (m *Memory) Pages() int { return m.pages.Size() }

// Access reads or writes len(buf) bytes at off
func (m *Memory) Access(buf []byte, off int64, method blkio.Method) (int, error) {
	if err := checkRange(off, len(buf), m.size); err != nil {
		return 0, err
	}

	done := 0
	for done < len(buf) {
		pos := off + int64(done)
		pageNo := pos / blkio.PageSize
		inPage := int(pos % blkio.PageSize)
		n := min(len(buf)-done, blkio.PageSize-inPage)
		chunk := buf[done : done+n]

		switch method {
		case blkio.Read:
			if p, ok := m.pages.Load(pageNo); ok {
				p.mu.RLock()
				copy(chunk, p.data[inPage:])
				p.mu.RUnlock()
			} else {
				clear(chunk)
			}
		case blkio.Write:
			p, _ := m.pages.LoadOrCompute(pageNo, func() *memPage { return &memPage{} })
			p.mu.Lock()
			copy(p.data[inPage:], chunk)
			p.mu.Unlock()
		default:
			return done, blkio.NewError(blkio.RetCInvalidOperation, fmt.Sprintf("unknown method %d", method))
		}
		done += n
	}
	return done, nil
}

// Cleanup unregisters the device. The data stays readable through other references.
func (m *Memory) Cleanup() error {
	blkio.Unregister(m)
	return nil
}

// checkRange rejects accesses that end beyond size
func checkRange(off int64, n int, size int64) error {
	if off < 0 || off+int64(n) > size {
		return blkio.NewError(blkio.RetCOutOfRange, fmt.Sprintf("access [%d,%d) outside of device size %d", off, off+int64(n), size))
	}
	return nil
}
