package util

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if s.Mean != 5 || s.Min != 2 || s.Max != 9 {
		t.Errorf("unexpected stats %+v", s)
	}
	if math.Abs(s.StdDeviation-2) > 1e-9 {
		t.Errorf("expected std deviation 2, got %f", s.StdDeviation)
	}
	if (NewStats(nil) != Stats{}) {
		t.Error("stats of no samples should be zero")
	}
}

func TestDistributionQuality(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("even spread should have quality 1, got %f", even.DistributionQuality)
	}
	skewed := NewDistributionStats([]float64{40, 0, 0, 0})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("skewed spread should rate lower, got %f", skewed.DistributionQuality)
	}
}
