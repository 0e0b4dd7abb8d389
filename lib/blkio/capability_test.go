package blkio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type baseOnly struct {
	Base
}

func TestBaseDefaults(t *testing.T) {
	c := &baseOnly{Base: NewBase(0)}

	_, err := c.Access(make([]byte, 1), 0, Read)
	assert.ErrorIs(t, err, ErrUnsupported)

	reqs := []Request{NewRequest(make([]byte, 1), 0, Read), NewRequest(make([]byte, 1), 1, Read)}
	statuses := make([]Status, len(reqs))
	assert.Equal(t, 0, c.AccessAsync(reqs, statuses))
	for _, s := range statuses {
		assert.Equal(t, StatusUnsupported, s.Code)
	}

	assert.False(t, c.SetCallback(CallbackFunc(func([]*Request) int { return 0 })))
	assert.Nil(t, c.Callback())
	assert.False(t, c.SupportAIO())
	assert.NoError(t, c.Init())
	assert.NoError(t, c.Cleanup())
}

func TestBaseIDsAreSequential(t *testing.T) {
	a := NewBase(0)
	b := NewBase(1)
	assert.Equal(t, a.ID()+1, b.ID())
	assert.Equal(t, 1, b.NodeID())
	assert.Panics(t, func() { NewBase(MaxNodeID + 1) })
}

func TestRegistry(t *testing.T) {
	c := &baseOnly{Base: NewBase(0)}
	Register(c)

	got, ok := Lookup(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got.(*baseOnly))

	Unregister(c)
	_, ok = Lookup(c.ID())
	assert.False(t, ok)
}

func TestRegistryDeleteKeepsReplacement(t *testing.T) {
	r := NewRegistry()
	a := &baseOnly{Base: Base{id: 1}}
	b := &baseOnly{Base: Base{id: 1}}

	r.Store(a)
	r.Store(b)
	r.Delete(a)

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, b, got.(*baseOnly))
	assert.Equal(t, 1, r.Len())
}

func TestAccessSegments(t *testing.T) {
	var offsets []int64
	access := func(buf []byte, off int64, _ Method) (int, error) {
		offsets = append(offsets, off)
		return len(buf), nil
	}

	req := NewExtendedRequest(100, Read, make([]byte, 10), make([]byte, 20), make([]byte, 5))
	n, err := AccessSegments(access, &req)
	require.NoError(t, err)
	assert.Equal(t, int64(35), n)
	assert.Equal(t, []int64{100, 110, 130}, offsets)
}

func TestAccessSegmentsStopsOnError(t *testing.T) {
	calls := 0
	access := func(buf []byte, _ int64, _ Method) (int, error) {
		calls++
		return 0, ErrOutOfRange
	}
	req := NewExtendedRequest(0, Read, make([]byte, 1), make([]byte, 1))
	_, err := AccessSegments(access, &req)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, 1, calls)
}
