package part

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/cache"
	"github.com/ValentinKolb/pcache/lib/cache/engines/paged"
	"github.com/ValentinKolb/pcache/lib/common"
	"github.com/dustin/go-humanize"
)

// --------------------------------------------------------------------------
// Policies
// --------------------------------------------------------------------------

// DeliveryPolicy decides what happens to a message whose destination queues are full
type DeliveryPolicy int

const (
	// DeliveryDrop discards the message, logs it and counts it. Dropped
	// requests get blkio.StatusFail. Every message is delivered at most once.
	DeliveryDrop DeliveryPolicy = iota
	// DeliveryRetry keeps retrying and serves the own queues in between, so
	// every message is delivered exactly once at the price of waiting.
	DeliveryRetry
)

func (p DeliveryPolicy) String() string {
	switch p {
	case DeliveryDrop:
		return "drop"
	case DeliveryRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// ParseDeliveryPolicy parses "drop" or "retry"
func ParseDeliveryPolicy(s string) (DeliveryPolicy, error) {
	switch strings.ToLower(s) {
	case "drop":
		return DeliveryDrop, nil
	case "retry":
		return DeliveryRetry, nil
	default:
		return DeliveryDrop, fmt.Errorf("invalid delivery policy: %s. must be one of drop, retry", s)
	}
}

// Assignment decides which thread belongs to which group
type Assignment int

const (
	// AssignRoundRobin puts thread t into group t mod NumGroups
	AssignRoundRobin Assignment = iota
	// AssignBlock puts contiguous ranges of threads into the same group
	AssignBlock
)

func (a Assignment) String() string {
	switch a {
	case AssignRoundRobin:
		return "round-robin"
	case AssignBlock:
		return "block"
	default:
		return "unknown"
	}
}

// ParseAssignment parses "round-robin" or "block"
func ParseAssignment(s string) (Assignment, error) {
	switch strings.ToLower(s) {
	case "round-robin", "roundrobin", "rr":
		return AssignRoundRobin, nil
	case "block":
		return AssignBlock, nil
	default:
		return AssignRoundRobin, fmt.Errorf("invalid assignment: %s. must be one of round-robin, block", s)
	}
}

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// Config holds all parameters of a Fabric
type Config struct {
	NumThreads int   // number of coordinators, one per worker goroutine
	NumGroups  int   // number of thread groups, each with its own cache
	CacheSize  int64 // total cache size in bytes, split evenly over the groups
	BlockSize  int64 // routing unit, a multiple of blkio.PageSize

	BufSize          int // capacity of every Sender and of the processing batches
	RequestQueueSize int // capacity of the request queue of each coordinator
	ReplyQueueSize   int // capacity of the reply queue of each coordinator
	MinProcessReqs   int // requests processed by AccessAsync when called without requests
	CleanupBatch     int // slice size of the Cleanup drain loop

	Delivery   DeliveryPolicy
	Assignment Assignment
	PinThreads bool // lock each coordinator to an OS thread bound to the CPUs of its group

	CacheShards  int              // shards per group cache (0 = engine default)
	Backing      blkio.Capability // device below the group caches, must be thread-safe
	CacheFactory cache.Factory    // creates the cache of a group (nil = paged engine)
}

// DefaultConfig returns the default configuration for a fabric over backing
func DefaultConfig(backing blkio.Capability) *Config {
	return &Config{
		NumThreads:       runtime.NumCPU(),
		NumGroups:        1,
		CacheSize:        64 << 20,
		BlockSize:        blkio.PageSize,
		BufSize:          128,
		RequestQueueSize: 8192,
		ReplyQueueSize:   8192,
		MinProcessReqs:   100,
		CleanupBatch:     200,
		Delivery:         DeliveryDrop,
		Assignment:       AssignRoundRobin,
		Backing:          backing,
		CacheFactory:     paged.Factory,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	switch {
	case c.NumThreads <= 0:
		return fmt.Errorf("invalid number of threads: %d", c.NumThreads)
	case c.NumGroups <= 0:
		return fmt.Errorf("invalid number of groups: %d", c.NumGroups)
	case c.NumGroups > c.NumThreads:
		return fmt.Errorf("%d groups need at least as many threads, got %d", c.NumGroups, c.NumThreads)
	case c.BlockSize <= 0 || c.BlockSize%blkio.PageSize != 0 || c.BlockSize > blkio.MaxBufSize:
		return fmt.Errorf("block size %d must be a multiple of %d and at most %d", c.BlockSize, blkio.PageSize, blkio.MaxBufSize)
	case c.BufSize <= 0:
		return fmt.Errorf("invalid buffer size: %d", c.BufSize)
	case c.RequestQueueSize < c.BufSize || c.ReplyQueueSize < c.BufSize:
		return fmt.Errorf("queue sizes (%d, %d) must be at least the buffer size %d", c.RequestQueueSize, c.ReplyQueueSize, c.BufSize)
	case c.MinProcessReqs <= 0 || c.CleanupBatch <= 0:
		return fmt.Errorf("MinProcessReqs and CleanupBatch must be positive")
	case c.CacheSize < int64(c.NumGroups)*blkio.PageSize:
		return fmt.Errorf("cache size %d is smaller than one page per group", c.CacheSize)
	case c.Backing == nil:
		return fmt.Errorf("no backing capability")
	case c.Delivery != DeliveryDrop && c.Delivery != DeliveryRetry:
		return fmt.Errorf("invalid delivery policy: %d", c.Delivery)
	case c.Assignment != AssignRoundRobin && c.Assignment != AssignBlock:
		return fmt.Errorf("invalid assignment: %d", c.Assignment)
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var w common.ConfigWriter

	w.AddSection("Fabric")
	w.AddField("Threads", strconv.Itoa(c.NumThreads))
	w.AddField("Groups", strconv.Itoa(c.NumGroups))
	w.AddField("Assignment", c.Assignment.String())
	w.AddField("Pin Threads", strconv.FormatBool(c.PinThreads))

	w.AddSection("Cache")
	w.AddField("Total Size", humanize.IBytes(uint64(c.CacheSize)))
	w.AddField("Per Group", humanize.IBytes(uint64(c.CacheSize/int64(max(c.NumGroups, 1)))))
	w.AddField("Block Size", humanize.IBytes(uint64(c.BlockSize)))
	w.AddFieldf("Shards per Group", "%d", c.CacheShards)

	w.AddSection("Messaging")
	w.AddField("Delivery", c.Delivery.String())
	w.AddField("Sender Buffer", strconv.Itoa(c.BufSize))
	w.AddField("Request Queue", strconv.Itoa(c.RequestQueueSize))
	w.AddField("Reply Queue", strconv.Itoa(c.ReplyQueueSize))
	w.AddField("Min Process Reqs", strconv.Itoa(c.MinProcessReqs))
	w.AddField("Cleanup Batch", strconv.Itoa(c.CleanupBatch))

	return w.String()
}

// --------------------------------------------------------------------------
// Group assignment
// --------------------------------------------------------------------------

// groupOf returns the group and the slot within the group of a thread
func (c *Config) groupOf(thread int) (group, slot int) {
	switch c.Assignment {
	case AssignBlock:
		group = thread * c.NumGroups / c.NumThreads
		return group, thread - c.firstThread(group)
	default:
		return thread % c.NumGroups, thread / c.NumGroups
	}
}

// groupSize returns the exact number of threads assigned to group
func (c *Config) groupSize(group int) int {
	switch c.Assignment {
	case AssignBlock:
		return c.firstThread(group+1) - c.firstThread(group)
	default:
		return (c.NumThreads - group + c.NumGroups - 1) / c.NumGroups
	}
}

// firstThread returns the smallest thread of group under AssignBlock
func (c *Config) firstThread(group int) int {
	return (group*c.NumThreads + c.NumGroups - 1) / c.NumGroups
}
