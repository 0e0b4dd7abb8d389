package blkio

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry maps capability ids to live capabilities
type Registry struct {
	counter atomic.Int64
	caps    *xsync.MapOf[int, Capability]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{caps: xsync.NewMapOf[int, Capability]()}
}

// defaultRegistry is the process-wide table used by NewBase, Register and Lookup
var defaultRegistry = NewRegistry()

// NextID returns the next sequential id, starting at 0
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (r *Registry) NextID() int {
	return int(r.counter.Add(1) - 1)
}

// Store makes c findable under c.ID()
func (r *Registry) Store(c Capability) {
	r.caps.Store(c.ID(), c)
}

// Lookup resolves an id
func (r *Registry) Lookup(id int) (Capability, bool) {
	return r.caps.Load(id)
}

// Delete removes c if it is still the capability stored under its id
func (r *Registry) Delete(c Capability) {
	r.caps.Compute(c.ID(), func(old Capability, loaded bool) (Capability, bool) {
		return old, !loaded || old == c
	})
}

// Len returns the number of registered capabilities
func (r *Registry) Len() int {
	return r.caps.Size()
}

// Register stores c in the process-wide registry
func Register(c Capability) { defaultRegistry.Store(c) }

// Unregister removes c from the process-wide registry
func Unregister(c Capability) { defaultRegistry.Delete(c) }

// Lookup resolves an id in the process-wide registry
func Lookup(id int) (Capability, bool) { return defaultRegistry.Lookup(id) }
