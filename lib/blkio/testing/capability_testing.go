package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ValentinKolb/pcache/lib/blkio"
)

// CapabilityFactory creates a new, not yet initialized capability
type CapabilityFactory func(t testing.TB) blkio.Capability

// RunCapabilityTests runs the conformance suite for a Capability implementation.
func RunCapabilityTests(t *testing.T, name string, factory CapabilityFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Identity", func(t *testing.T) {
			testIdentity(t, setup(t, factory))
		})

		t.Run("ReadWrite", func(t *testing.T) {
			testReadWrite(t, setup(t, factory))
		})

		t.Run("ZeroFill", func(t *testing.T) {
			testZeroFill(t, setup(t, factory))
		})

		t.Run("SpanningPages", func(t *testing.T) {
			testSpanningPages(t, setup(t, factory))
		})

		t.Run("AsyncExactlyOnce", func(t *testing.T) {
			testAsyncExactlyOnce(t, setup(t, factory))
		})

		t.Run("AsyncExtendedRequest", func(t *testing.T) {
			testAsyncExtendedRequest(t, setup(t, factory))
		})

		t.Run("Unsupported", func(t *testing.T) {
			testUnsupported(t, setup(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// setup creates and initializes a capability and registers its cleanup
func setup(t testing.TB, factory CapabilityFactory) blkio.Capability {
	t.Helper()
	c := factory(t)
	if err := c.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Cleanup(); err != nil {
			t.Errorf("Cleanup failed: %v", err)
		}
	})
	return c
}

// requireAIO skips the test if the capability has no asynchronous support
func requireAIO(t testing.TB, c blkio.Capability) {
	if !c.SupportAIO() {
		t.Skip("capability does not support asynchronous access")
	}
}

// pattern returns n bytes derived from seed
func pattern(seed, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(seed*31 + i)
	}
	return b
}

func mustAccess(t testing.TB, c blkio.Capability, buf []byte, off int64, m blkio.Method) {
	t.Helper()
	n, err := c.Access(buf, off, m)
	if err != nil {
		t.Fatalf("%s of %d bytes at %d failed: %v", m, len(buf), off, err)
	}
	if n != len(buf) {
		t.Fatalf("%s at %d transferred %d bytes, expected %d", m, off, n, len(buf))
	}
}

// collector records every request handed to the callback
type collector struct {
	calls int
	reqs  []blkio.Request
}

func (c *collector) Invoke(reqs []*blkio.Request) int {
	c.calls++
	for _, r := range reqs {
		c.reqs = append(c.reqs, *r)
	}
	return len(reqs)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testIdentity(t *testing.T, c blkio.Capability) {
	if c.NodeID() < 0 || c.NodeID() > blkio.MaxNodeID {
		t.Errorf("node id %d out of range", c.NodeID())
	}
	found, ok := blkio.Lookup(c.ID())
	if !ok {
		t.Fatalf("capability %d is not registered", c.ID())
	}
	if found.ID() != c.ID() {
		t.Errorf("lookup of %d returned capability %d", c.ID(), found.ID())
	}
}

func testReadWrite(t *testing.T, c blkio.Capability) {
	data := pattern(1, blkio.PageSize)
	mustAccess(t, c, data, 4*blkio.PageSize, blkio.Write)

	got := make([]byte, len(data))
	mustAccess(t, c, got, 4*blkio.PageSize, blkio.Read)
	if !bytes.Equal(data, got) {
		t.Errorf("read back different data")
	}

	// overwrite a part of the page
	mustAccess(t, c, []byte("overwritten"), 4*blkio.PageSize+100, blkio.Write)
	mustAccess(t, c, got, 4*blkio.PageSize, blkio.Read)
	copy(data[100:], "overwritten")
	if !bytes.Equal(data, got) {
		t.Errorf("partial overwrite not visible")
	}
}

func testZeroFill(t *testing.T, c blkio.Capability) {
	got := pattern(2, 3*blkio.PageSize)
	mustAccess(t, c, got, 1<<20, blkio.Read)
	if !bytes.Equal(got, make([]byte, len(got))) {
		t.Errorf("unwritten region did not read as zeros")
	}
}

func testSpanningPages(t *testing.T, c blkio.Capability) {
	off := int64(2*blkio.PageSize - 17)
	data := pattern(3, 2*blkio.PageSize+33)
	mustAccess(t, c, data, off, blkio.Write)

	got := make([]byte, len(data))
	mustAccess(t, c, got, off, blkio.Read)
	if !bytes.Equal(data, got) {
		t.Errorf("unaligned access spanning pages read back different data")
	}

	// a read of one of the inner pages sees the middle of the write
	page := make([]byte, blkio.PageSize)
	mustAccess(t, c, page, 2*blkio.PageSize, blkio.Read)
	if !bytes.Equal(page, data[17:17+blkio.PageSize]) {
		t.Errorf("aligned read of a written page differs")
	}
}

func testAsyncExactlyOnce(t *testing.T, c blkio.Capability) {
	requireAIO(t, c)

	col := &collector{}
	if !c.SetCallback(col) {
		t.Fatalf("SetCallback refused although SupportAIO is true")
	}
	if c.Callback() != blkio.Callback(col) {
		t.Errorf("Callback does not return the registered callback")
	}

	const n = 32
	reqs := make([]blkio.Request, n)
	for i := range reqs {
		reqs[i] = blkio.NewRequest(pattern(i, 512), int64(i)*blkio.PageSize, blkio.Write)
	}
	statuses := make([]blkio.Status, n)
	c.AccessAsync(reqs, statuses)
	for i, s := range statuses {
		if s.Code != blkio.StatusOK && s.Code != blkio.StatusPending {
			t.Errorf("request %d: unexpected status %s", i, s.Code)
		}
	}
	c.FlushRequests()
	c.Wait4Complete(0)

	seen := make(map[int64]int)
	for _, r := range col.reqs {
		if r.Err != nil {
			t.Errorf("request at %d failed: %v", r.Offset, r.Err)
		}
		if r.Method != blkio.Write || r.Size != 512 {
			t.Errorf("completed request does not match the submitted one: %s", r)
		}
		seen[r.Offset]++
	}
	for i := 0; i < n; i++ {
		if got := seen[int64(i)*blkio.PageSize]; got != 1 {
			t.Errorf("request %d completed %d times", i, got)
		}
	}

	// the data arrived
	for i := 0; i < n; i++ {
		got := make([]byte, 512)
		mustAccess(t, c, got, int64(i)*blkio.PageSize, blkio.Read)
		if !bytes.Equal(got, pattern(i, 512)) {
			t.Errorf("request %d: data not written", i)
		}
	}
}

func testAsyncExtendedRequest(t *testing.T, c blkio.Capability) {
	requireAIO(t, c)

	col := &collector{}
	c.SetCallback(col)

	segments := [][]byte{pattern(7, 100), pattern(8, blkio.PageSize), pattern(9, 50)}
	req := blkio.NewExtendedRequest(3*blkio.PageSize, blkio.Write, segments...)
	c.AccessAsync([]blkio.Request{req}, nil)
	c.Wait4Complete(0)

	if len(col.reqs) != 1 {
		t.Fatalf("expected one completion, got %d", len(col.reqs))
	}
	if col.reqs[0].Err != nil {
		t.Fatalf("extended request failed: %v", col.reqs[0].Err)
	}

	want := bytes.Join(segments, nil)
	got := make([]byte, len(want))
	mustAccess(t, c, got, 3*blkio.PageSize, blkio.Read)
	if !bytes.Equal(want, got) {
		t.Errorf("segments of an extended request were not written back to back")
	}
}

func testUnsupported(t *testing.T, c blkio.Capability) {
	if c.SupportAIO() {
		t.Skip("capability supports asynchronous access")
	}
	statuses := make([]blkio.Status, 1)
	c.AccessAsync([]blkio.Request{blkio.NewRequest(make([]byte, 1), 0, blkio.Read)}, statuses)
	if statuses[0].Code != blkio.StatusUnsupported {
		t.Errorf("expected status %s, got %s", blkio.StatusUnsupported, statuses[0].Code)
	}
	if c.SetCallback(&collector{}) {
		t.Errorf("SetCallback must fail without asynchronous support")
	}
}

// RunCapabilityBenchmarks runs the throughput benchmarks for a Capability implementation.
func RunCapabilityBenchmarks(b *testing.B, name string, factory CapabilityFactory) {
	b.Run(name, func(b *testing.B) {
		for _, m := range []blkio.Method{blkio.Write, blkio.Read} {
			b.Run(fmt.Sprintf("Sync%s", m), func(b *testing.B) {
				benchmarkSync(b, setup(b, factory), m)
			})
		}

		b.Run("AsyncWrite", func(b *testing.B) {
			benchmarkAsync(b, setup(b, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

const benchPages = 1024

func benchmarkSync(b *testing.B, c blkio.Capability, m blkio.Method) {
	buf := pattern(1, blkio.PageSize)
	b.SetBytes(blkio.PageSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Access(buf, int64(i%benchPages)*blkio.PageSize, m); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkAsync(b *testing.B, c blkio.Capability) {
	if !c.SupportAIO() {
		b.Skip("capability does not support asynchronous access")
	}
	c.SetCallback(blkio.CallbackFunc(func(reqs []*blkio.Request) int { return len(reqs) }))

	const batch = 32
	buf := pattern(1, blkio.PageSize)
	reqs := make([]blkio.Request, batch)
	b.SetBytes(blkio.PageSize)
	b.ResetTimer()
	for i := 0; i < b.N; i += batch {
		n := min(batch, b.N-i)
		for j := 0; j < n; j++ {
			reqs[j] = blkio.NewRequest(buf, int64((i+j)%benchPages)*blkio.PageSize, blkio.Write)
		}
		c.AccessAsync(reqs[:n], nil)
		c.Wait4Complete(batch)
	}
	c.Wait4Complete(0)
}
