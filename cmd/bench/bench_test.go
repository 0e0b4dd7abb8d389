package bench

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/part"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Threads:    4,
		Groups:     2,
		Assignment: part.AssignBlock,
		Delivery:   part.DeliveryRetry,
		CacheSize:  1 << 20,
		BlockSize:  blkio.PageSize,
		BufSize:    16,
		QueueSize:  64,
		Backend:    "memory",
		FileSize:   4 << 20,
		Requests:   2000,
		Batch:      8,
		Depth:      32,
		IOSize:     1024,
		WriteRatio: 0.5,
		Seed:       7,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		valid  bool
	}{
		{"default", func(c *Config) {}, true},
		{"unknown backend", func(c *Config) { c.Backend = "tape" }, false},
		{"io size does not divide block", func(c *Config) { c.IOSize = 3000 }, false},
		{"io size too large", func(c *Config) { c.IOSize = blkio.MaxBufSize + 1 }, false},
		{"no batch", func(c *Config) { c.Batch = 0 }, false},
		{"write ratio", func(c *Config) { c.WriteRatio = 1.5 }, false},
		{"tiny file", func(c *Config) { c.FileSize = 10 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig()
			tt.modify(c)
			if tt.valid {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}

func TestRun(t *testing.T) {
	c := testConfig()
	backing, err := c.openBacking()
	require.NoError(t, err)
	defer backing.Cleanup()

	fabric, err := part.NewFabric(c.fabricConfig(backing))
	require.NoError(t, err)
	defer fabric.Close()

	res, err := Run(fabric, c)
	require.NoError(t, err)

	total := int64(c.Threads * c.Requests)
	assert.Equal(t, total, res.Issued)
	assert.Equal(t, total, res.Completed, "retry delivers every request")
	assert.Zero(t, res.Rejected)
	assert.Zero(t, res.Failed)
	assert.Equal(t, total*c.IOSize, res.Bytes)
	assert.Greater(t, res.OpsPerSec(), 0.0)

	stats := fabric.Stats()
	assert.Equal(t, uint64(total), stats.Total.ProcessedRequests)
	assert.Zero(t, fabric.Outstanding())
}

func TestRunFileBackend(t *testing.T) {
	c := testConfig()
	c.Backend = "file"
	c.File = filepath.Join(t.TempDir(), "bench.img")
	c.Delivery = part.DeliveryDrop
	c.QueueSize = 1024
	c.Requests = 500

	backing, err := c.openBacking()
	require.NoError(t, err)
	defer backing.Cleanup()
	fabric, err := part.NewFabric(c.fabricConfig(backing))
	require.NoError(t, err)
	defer fabric.Close()

	res, err := Run(fabric, c)
	require.NoError(t, err)
	assert.Equal(t, res.Issued, res.Completed+res.Rejected+int64(fabric.Stats().Total.DroppedReplies))
}

func TestWriteResultToCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	c := testConfig()
	r := Result{Duration: 2e9, Completed: 1000, Bytes: 1 << 20}

	require.NoError(t, writeResultToCSV(path, c, r))
	require.NoError(t, writeResultToCSV(path, c, r))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "one header and two rows")
	assert.Equal(t, "Threads", rows[0][0])
	assert.Equal(t, "block", rows[1][2])
	assert.Equal(t, "500", rows[2][15])
}
