package blkio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufListGrowth(t *testing.T) {
	var l BufList

	for i := 0; i < NumEmbeddedBufs; i++ {
		l.Add(make([]byte, 1))
	}
	assert.Equal(t, NumEmbeddedBufs, l.Len())
	assert.Equal(t, 0, l.Allocs(), "embedded segments must not allocate")

	l.Add(make([]byte, 1))
	assert.Equal(t, 1, l.Allocs())
	assert.Equal(t, MinAllocBufs, l.Cap())

	for l.Len() < MinAllocBufs {
		l.Add(make([]byte, 1))
	}
	assert.Equal(t, 1, l.Allocs())

	l.Add(make([]byte, 1))
	assert.Equal(t, 2, l.Allocs())
	assert.Equal(t, 2*MinAllocBufs, l.Cap())
	assert.Equal(t, int64(MinAllocBufs+1), l.Size())
}

func TestBufListAddFront(t *testing.T) {
	var l BufList
	for i := 0; i < 6; i++ {
		l.AddFront([]byte{byte(i)})
	}
	require.Equal(t, 6, l.Len())
	assert.Equal(t, 1, l.Allocs())
	for i := 0; i < 6; i++ {
		assert.Equal(t, byte(5-i), l.At(i)[0], "segment %d", i)
	}
}

func TestBufListAtOutOfRange(t *testing.T) {
	var l BufList
	assert.Panics(t, func() { l.At(0) })
}

func TestNewRequest(t *testing.T) {
	buf := make([]byte, PageSize)
	req := NewRequest(buf, 3*PageSize, Write)

	assert.Equal(t, int64(3*PageSize), req.Offset)
	assert.Equal(t, int64(PageSize), req.Size)
	assert.Equal(t, Write, req.Method)
	assert.True(t, req.HighPrio)
	assert.False(t, req.IsExtended())
	assert.Equal(t, 1, req.NumBufs())
	assert.Equal(t, int64(4*PageSize), req.End())
}

func TestRequestContractViolations(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"oversized", func() { NewRequest(make([]byte, MaxBufSize+1), 0, Read) }},
		{"negative offset", func() { NewRequest(make([]byte, 1), -1, Read) }},
		{"offset past max", func() { NewRequest(make([]byte, 1), MaxFileSize+1, Read) }},
		{"end past max", func() { NewRequest(make([]byte, 2), MaxFileSize-1, Read) }},
		{"extended end past max", func() {
			NewExtendedRequest(MaxFileSize-PageSize, Write, make([]byte, PageSize), make([]byte, 1))
		}},
		{"add to basic request", func() {
			req := NewRequest(make([]byte, 1), 0, Read)
			req.AddBuf(make([]byte, 1))
		}},
		{"node id", func() {
			req := NewRequest(make([]byte, 1), 0, Read)
			req.NodeID = MaxNodeID + 1
			req.Validate()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, tt.fn)
		})
	}
}

func TestRequestEndingAtMaxFileSize(t *testing.T) {
	assert.NotPanics(t, func() { NewRequest(make([]byte, PageSize), MaxFileSize-PageSize, Read) })
}

func TestExtendedRequest(t *testing.T) {
	req := NewExtendedRequest(2*PageSize, Read, make([]byte, PageSize), make([]byte, PageSize))
	assert.Equal(t, int64(2*PageSize), req.Size)

	req.AddBufFront(make([]byte, PageSize))
	assert.Equal(t, int64(PageSize), req.Offset)
	assert.Equal(t, int64(3*PageSize), req.Size)
	assert.Equal(t, int64(4*PageSize), req.End())

	// larger than a basic request is fine for extended ones
	big := NewExtendedRequest(0, Write, make([]byte, MaxBufSize), make([]byte, MaxBufSize))
	assert.Equal(t, int64(2*MaxBufSize), big.Size)
}

func TestReplyRoundTrip(t *testing.T) {
	buf := []byte("hello")
	req := NewRequest(buf, 42, Write)
	req.CapID = 7

	ok := NewReply(&req, nil)
	assert.True(t, ok.Success)
	back := ok.Request()
	assert.Equal(t, req.Offset, back.Offset)
	assert.Equal(t, req.Size, back.Size)
	assert.Equal(t, req.CapID, back.CapID)
	assert.Same(t, &buf[0], &back.Buf(0)[0], "reply must carry the origin buffer")
	assert.NoError(t, back.Err)

	failed := NewReply(&req, ErrOutOfRange)
	assert.False(t, failed.Success)
	back = failed.Request()
	assert.True(t, errors.Is(back.Err, ErrOutOfRange))
}

func TestErrorIs(t *testing.T) {
	err := NewError(RetCUnsupportedOperation, "no async support")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.NotErrorIs(t, err, ErrQueueFull)
	assert.Contains(t, err.Error(), "UnsupportedOperation")
}
