package bench

import (
	"fmt"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/blkio/backend"
	"github.com/ValentinKolb/pcache/lib/common"
	"github.com/ValentinKolb/pcache/lib/part"
	"github.com/dustin/go-humanize"
)

// Config holds the workload parameters of a benchmark run
type Config struct {
	Threads    int
	Groups     int
	Assignment part.Assignment
	Delivery   part.DeliveryPolicy
	Pin        bool

	CacheSize int64
	BlockSize int64
	BufSize   int
	QueueSize int

	Backend  string // memory or file
	File     string
	FileSize int64

	Requests   int // per thread
	Batch      int
	Depth      int
	IOSize     int64
	WriteRatio float64
	Seed       uint64
}

// Validate checks the workload parameters. The fabric parameters are
// checked by part.Config.Validate.
func (c *Config) Validate() error {
	switch {
	case c.Backend != "memory" && c.Backend != "file":
		return fmt.Errorf("invalid backend: %s. must be one of memory, file", c.Backend)
	case c.Requests < 0:
		return fmt.Errorf("requests must not be negative")
	case c.Batch <= 0 || c.Depth <= 0:
		return fmt.Errorf("batch and depth must be positive")
	case c.IOSize <= 0 || c.IOSize > blkio.MaxBufSize:
		return fmt.Errorf("io size %d must be in (0,%d]", c.IOSize, blkio.MaxBufSize)
	case c.BlockSize%c.IOSize != 0:
		return fmt.Errorf("io size %d must divide the block size %d", c.IOSize, c.BlockSize)
	case c.FileSize < c.IOSize:
		return fmt.Errorf("file size %d is smaller than the io size %d", c.FileSize, c.IOSize)
	case c.WriteRatio < 0 || c.WriteRatio > 1:
		return fmt.Errorf("write ratio %.2f must be in [0,1]", c.WriteRatio)
	}
	return nil
}

// fabricConfig derives the fabric configuration for a run over backing
func (c *Config) fabricConfig(backing blkio.Capability) *part.Config {
	cfg := part.DefaultConfig(backing)
	cfg.NumThreads = c.Threads
	cfg.NumGroups = c.Groups
	cfg.Assignment = c.Assignment
	cfg.Delivery = c.Delivery
	cfg.PinThreads = c.Pin
	cfg.CacheSize = c.CacheSize
	cfg.BlockSize = c.BlockSize
	cfg.BufSize = c.BufSize
	cfg.RequestQueueSize = c.QueueSize
	cfg.ReplyQueueSize = c.QueueSize
	return cfg
}

// openBacking creates the device below the group caches
func (c *Config) openBacking() (blkio.Capability, error) {
	if c.Backend == "file" {
		f, err := backend.OpenFile(c.File, c.FileSize, 0)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return backend.NewMemory(c.FileSize, 0), nil
}

func (c *Config) String() string {
	w := common.ConfigWriter{}
	w.AddSection("workload")
	w.AddFieldf("Backend", "%s (%s)", c.Backend, humanize.IBytes(uint64(c.FileSize)))
	if c.Backend == "file" {
		w.AddField("File", c.File)
	}
	w.AddFieldf("Requests per thread", "%s", humanize.Comma(int64(c.Requests)))
	w.AddFieldf("Batch", "%d", c.Batch)
	w.AddFieldf("Depth", "%d", c.Depth)
	w.AddField("IO size", humanize.IBytes(uint64(c.IOSize)))
	w.AddFieldf("Write ratio", "%.2f", c.WriteRatio)
	w.AddFieldf("Seed", "%d", c.Seed)
	return w.String()
}
