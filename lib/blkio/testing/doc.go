// Package testing provides standardised tests and benchmarks for
// implementations of the blkio.Capability interface.
//
// The package contains:
//   - testing: a conformance suite for the synchronous and asynchronous access paths
//   - benchmark: throughput of page sized reads and writes
//
// The factory must return a fresh, not yet initialized capability over a
// device of at least 8 MiB whose unwritten regions read as zeros. The suite
// calls Init and Cleanup itself.
//
// Example usage:
//
//	factory := func(t testing.TB) blkio.Capability {
//		return backend.NewMemory(16<<20, 0)
//	}
//
//	blkiotesting.RunCapabilityTests(t, "Memory", factory)
//	blkiotesting.RunCapabilityBenchmarks(b, "Memory", factory)
package testing
