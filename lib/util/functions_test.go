package util

import "testing"

func TestHashUint64Deterministic(t *testing.T) {
	for v := uint64(0); v < 1000; v++ {
		if HashUint64(v, 7) != HashUint64(v, 7) {
			t.Fatalf("hash of %d not deterministic", v)
		}
	}
	if HashUint64(1, 0) == HashUint64(1, 1) {
		t.Error("seed should change the hash")
	}
}

func TestBucketSpread(t *testing.T) {
	const n = 4
	counts := make([]float64, n)
	for v := uint64(0); v < 10000; v++ {
		b := Bucket(HashUint64(v, 0), n)
		if b < 0 || b >= n {
			t.Fatalf("bucket %d out of range", b)
		}
		counts[b]++
	}
	if q := NewDistributionStats(counts).DistributionQuality; q < 0.8 {
		t.Errorf("poor bucket distribution %v (quality %.2f)", counts, q)
	}
	if Bucket(12345, 1) != 0 || Bucket(12345, 0) != 0 {
		t.Error("single bucket must always be 0")
	}
}

func TestHashString(t *testing.T) {
	if HashString("block", 0) != HashString("block", 0) {
		t.Error("HashString not deterministic")
	}
	if HashString("a", 0) == HashString("b", 0) {
		t.Error("different strings should hash differently")
	}
}
