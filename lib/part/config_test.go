package part

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/pcache/lib/blkio/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	dev := backend.NewMemory(1<<20, 0)
	defer dev.Cleanup()

	tests := []struct {
		name   string
		modify func(c *Config)
		ok     bool
	}{
		{"default", func(c *Config) {}, true},
		{"no threads", func(c *Config) { c.NumThreads = 0 }, false},
		{"more groups than threads", func(c *Config) { c.NumThreads, c.NumGroups = 2, 3 }, false},
		{"unaligned block", func(c *Config) { c.BlockSize = 1000 }, false},
		{"huge block", func(c *Config) { c.BlockSize = 4 << 20 }, false},
		{"queue smaller than buffer", func(c *Config) { c.RequestQueueSize = 4 }, false},
		{"tiny cache", func(c *Config) { c.NumThreads, c.NumGroups, c.CacheSize = 4, 4, 4096 }, false},
		{"no backing", func(c *Config) { c.Backing = nil }, false},
		{"bad delivery", func(c *Config) { c.Delivery = 7 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(dev)
			cfg.NumThreads = 4
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParsePolicies(t *testing.T) {
	d, err := ParseDeliveryPolicy("Retry")
	require.NoError(t, err)
	assert.Equal(t, DeliveryRetry, d)
	_, err = ParseDeliveryPolicy("maybe")
	assert.Error(t, err)

	a, err := ParseAssignment("block")
	require.NoError(t, err)
	assert.Equal(t, AssignBlock, a)
	a, err = ParseAssignment("rr")
	require.NoError(t, err)
	assert.Equal(t, AssignRoundRobin, a)
	_, err = ParseAssignment("random")
	assert.Error(t, err)
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig(nil)
	out := cfg.String()
	for _, section := range []string{"FABRIC", "CACHE", "MESSAGING"} {
		assert.True(t, strings.Contains(out, section), "missing section %s", section)
	}
	assert.Contains(t, out, "64 MiB")
}

func TestGroupAssignment(t *testing.T) {
	tests := []struct {
		name       string
		threads    int
		groups     int
		assignment Assignment
		want       []int // group of each thread
		sizes      []int
	}{
		{"round-robin 4/2", 4, 2, AssignRoundRobin, []int{0, 1, 0, 1}, []int{2, 2}},
		{"round-robin 5/2", 5, 2, AssignRoundRobin, []int{0, 1, 0, 1, 0}, []int{3, 2}},
		{"block 4/2", 4, 2, AssignBlock, []int{0, 0, 1, 1}, []int{2, 2}},
		{"block 5/3", 5, 3, AssignBlock, []int{0, 0, 1, 1, 2}, []int{2, 2, 1}},
		{"block 4/3", 4, 3, AssignBlock, []int{0, 0, 1, 2}, []int{2, 1, 1}},
		{"block 3/3", 3, 3, AssignBlock, []int{0, 1, 2}, []int{1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{NumThreads: tt.threads, NumGroups: tt.groups, Assignment: tt.assignment}

			seen := make(map[[2]int]bool)
			for thread, want := range tt.want {
				group, slot := cfg.groupOf(thread)
				assert.Equal(t, want, group, "thread %d", thread)
				assert.Less(t, slot, cfg.groupSize(group), "thread %d", thread)
				assert.False(t, seen[[2]int{group, slot}], "slot taken twice")
				seen[[2]int{group, slot}] = true
			}
			total := 0
			for g, size := range tt.sizes {
				assert.Equal(t, size, cfg.groupSize(g), "group %d", g)
				total += size
			}
			assert.Equal(t, tt.threads, total)
		})
	}
}
