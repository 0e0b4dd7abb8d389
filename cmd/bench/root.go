package bench

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"
	"strconv"
	"time"

	cmdUtil "github.com/ValentinKolb/pcache/cmd/util"
	"github.com/ValentinKolb/pcache/lib/blkio"
	"github.com/ValentinKolb/pcache/lib/common"
	"github.com/ValentinKolb/pcache/lib/part"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger(common.LoggerBench)

var (
	benchConfig = &Config{}
	BenchCmd    = &cobra.Command{
		Use:     "bench",
		Short:   "Run a synthetic workload against a fabric",
		Long:    `Start one coordinator per thread and let every thread issue random block sized reads and writes. The configuration can be set via command line flags or environment variables. The format of the environment variables is PCACHE_<flag> (e.g. PCACHE_CACHE_SIZE=1GiB)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	key := "threads"
	BenchCmd.Flags().Int(key, runtime.NumCPU(), cmdUtil.WrapString("Number of worker threads, each with its own coordinator"))
	key = "groups"
	BenchCmd.Flags().Int(key, 1, cmdUtil.WrapString("Number of thread groups, each with its own cache"))
	key = "assignment"
	BenchCmd.Flags().String(key, "round-robin", cmdUtil.WrapString("How threads are assigned to groups (round-robin, block)"))
	key = "delivery"
	BenchCmd.Flags().String(key, "drop", cmdUtil.WrapString("What happens to messages for full queues (drop, retry)"))
	key = "pin"
	BenchCmd.Flags().Bool(key, false, cmdUtil.WrapString("Bind every thread to the CPUs of its group"))

	key = "cache-size"
	BenchCmd.Flags().String(key, "64MiB", cmdUtil.WrapString("Total cache size, split evenly over the groups"))
	key = "block-size"
	BenchCmd.Flags().String(key, "4KiB", cmdUtil.WrapString("Routing unit, a multiple of the page size"))
	key = "buf-size"
	BenchCmd.Flags().Int(key, 128, cmdUtil.WrapString("Capacity of every sender buffer"))
	key = "queue-size"
	BenchCmd.Flags().Int(key, 8192, cmdUtil.WrapString("Capacity of the request and reply queue of every thread"))

	key = "backend"
	BenchCmd.Flags().String(key, "memory", cmdUtil.WrapString("Device below the caches (memory, file)"))
	key = "file"
	BenchCmd.Flags().String(key, "pcache.bench", cmdUtil.WrapString("Path of the backing file for the file backend"))
	key = "file-size"
	BenchCmd.Flags().String(key, "256MiB", cmdUtil.WrapString("Size of the backing device, offsets are drawn from it"))

	key = "requests"
	BenchCmd.Flags().Int(key, 100_000, cmdUtil.WrapString("Requests issued per thread"))
	key = "batch"
	BenchCmd.Flags().Int(key, 32, cmdUtil.WrapString("Requests per AccessAsync call"))
	key = "depth"
	BenchCmd.Flags().Int(key, 256, cmdUtil.WrapString("Maximum number of outstanding requests per thread"))
	key = "io-size"
	BenchCmd.Flags().String(key, "4KiB", cmdUtil.WrapString("Size of every request, must divide the block size"))
	key = "write-ratio"
	BenchCmd.Flags().Float64(key, 0.3, cmdUtil.WrapString("Fraction of requests that are writes"))
	key = "seed"
	BenchCmd.Flags().Uint64(key, 1, cmdUtil.WrapString("Seed of the offset generator"))

	key = "metrics"
	BenchCmd.Flags().Bool(key, false, cmdUtil.WrapString("Print the metrics in Prometheus text format after the run"))
	key = "json"
	BenchCmd.Flags().Bool(key, false, cmdUtil.WrapString("Print the fabric statistics as JSON after the run"))
	key = "csv"
	BenchCmd.Flags().String(key, "", cmdUtil.WrapString("Optional path to append the result as a CSV row"))
}

// processConfig reads the command line flags and environment variables into benchConfig
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	c := benchConfig
	c.Threads = viper.GetInt("threads")
	c.Groups = viper.GetInt("groups")
	c.BufSize = viper.GetInt("buf-size")
	c.QueueSize = viper.GetInt("queue-size")
	c.Pin = viper.GetBool("pin")
	c.Backend = viper.GetString("backend")
	c.File = viper.GetString("file")
	c.Requests = viper.GetInt("requests")
	c.Batch = viper.GetInt("batch")
	c.Depth = viper.GetInt("depth")
	c.WriteRatio = viper.GetFloat64("write-ratio")
	c.Seed = viper.GetUint64("seed")

	if c.Assignment, err = part.ParseAssignment(viper.GetString("assignment")); err != nil {
		return err
	}
	if c.Delivery, err = part.ParseDeliveryPolicy(viper.GetString("delivery")); err != nil {
		return err
	}
	if c.CacheSize, err = cmdUtil.GetBytes("cache-size"); err != nil {
		return err
	}
	if c.BlockSize, err = cmdUtil.GetBytes("block-size"); err != nil {
		return err
	}
	if c.FileSize, err = cmdUtil.GetBytes("file-size"); err != nil {
		return err
	}
	if c.IOSize, err = cmdUtil.GetBytes("io-size"); err != nil {
		return err
	}
	return c.Validate()
}

func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	backing, err := benchConfig.openBacking()
	if err != nil {
		return err
	}
	defer func() {
		if err := backing.Cleanup(); err != nil {
			log.Errorf("cleanup of the backing device failed: %v", err)
		}
	}()

	cfg := benchConfig.fabricConfig(backing)
	fabric, err := part.NewFabric(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := fabric.Close(); err != nil {
			log.Errorf("closing the fabric failed: %v", err)
		}
	}()

	fmt.Println("Performance testing tool for pcache fabrics")
	fmt.Print(cfg.String())
	fmt.Print(benchConfig.String())
	fmt.Println()
	fmt.Println("starting workers...")

	res, err := Run(fabric, benchConfig)
	if err != nil {
		return err
	}

	stats := fabric.Stats()
	fmt.Println()
	fmt.Print(res.String())
	fmt.Println()
	for _, ts := range stats.Threads {
		fmt.Println(ts.String())
	}
	for _, info := range stats.Groups {
		fmt.Print(info.String())
	}
	fmt.Printf("load distribution quality: %.3f (min %.0f, max %.0f, stddev %.1f)\n",
		stats.Load.DistributionQuality, stats.Load.Min, stats.Load.Max, stats.Load.StdDeviation)

	if viper.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			return err
		}
	}
	if viper.GetBool("metrics") {
		fmt.Println()
		fabric.WriteMetrics(os.Stdout)
	}
	if path := viper.GetString("csv"); path != "" {
		if err := writeResultToCSV(path, benchConfig, res); err != nil {
			return err
		}
		fmt.Printf("result appended to %s\n", path)
	}
	return nil
}

// --------------------------------------------------------------------------
// Workload
// --------------------------------------------------------------------------

// Result summarizes a run
type Result struct {
	Duration  time.Duration
	Issued    int64
	Completed int64
	Rejected  int64 // requests that got StatusFail from AccessAsync
	Failed    int64 // completed requests with an error
	Bytes     int64
}

// OpsPerSec returns the completed requests per second
func (r Result) OpsPerSec() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Completed) / r.Duration.Seconds()
}

// BytesPerSec returns the transferred bytes per second
func (r Result) BytesPerSec() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Duration.Seconds()
}

func (r Result) String() string {
	w := common.ConfigWriter{}
	w.AddSection("result")
	w.AddField("Duration", r.Duration.String())
	w.AddFieldf("Issued", "%d", r.Issued)
	w.AddFieldf("Completed", "%d", r.Completed)
	w.AddFieldf("Rejected", "%d", r.Rejected)
	w.AddFieldf("Failed", "%d", r.Failed)
	w.AddFieldf("Throughput", "%s ops/sec", humanize.Commaf(float64(int64(r.OpsPerSec()))))
	w.AddFieldf("Bandwidth", "%s/s", humanize.IBytes(uint64(r.BytesPerSec())))
	return w.String()
}

// threadResult is owned by one worker goroutine
type threadResult struct {
	issued, completed, rejected, failed, bytes int64
}

// Run starts one goroutine per thread of the fabric and waits for all of
// them to issue their requests and clean up.
func Run(fabric *part.Fabric, c *Config) (Result, error) {
	coords := make([]*part.Coordinator, c.Threads)
	for i := range coords {
		coord, err := fabric.NewCoordinator(i)
		if err != nil {
			return Result{}, err
		}
		coords[i] = coord
	}

	results := make([]threadResult, c.Threads)
	start := time.Now()

	var g errgroup.Group
	for i, coord := range coords {
		g.Go(func() error {
			return worker(coord, c, rand.New(rand.NewPCG(c.Seed, uint64(i))), &results[i])
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Duration: time.Since(start)}
	for _, r := range results {
		res.Issued += r.issued
		res.Completed += r.completed
		res.Rejected += r.rejected
		res.Failed += r.failed
		res.Bytes += r.bytes
	}
	return res, nil
}

// worker issues c.Requests random requests through coord. Buffers are
// recycled by the callback, so at most c.Depth requests are outstanding.
func worker(coord *part.Coordinator, c *Config, rng *rand.Rand, res *threadResult) error {
	if err := coord.Init(); err != nil {
		return err
	}

	free := make([][]byte, c.Depth)
	for i := range free {
		free[i] = make([]byte, c.IOSize)
	}
	coord.SetCallback(blkio.CallbackFunc(func(reqs []*blkio.Request) int {
		for _, req := range reqs {
			res.completed++
			if req.Err != nil {
				res.failed++
			} else {
				res.bytes += req.Size
			}
			free = append(free, req.Buf(0))
		}
		return len(reqs)
	}))

	slots := c.FileSize / c.IOSize
	reqs := make([]blkio.Request, 0, c.Batch)
	statuses := make([]blkio.Status, c.Batch)
	for res.issued < int64(c.Requests) {
		if len(free) == 0 {
			if coord.Outstanding() > 0 {
				coord.AccessAsync(nil, nil)
				continue
			}
			// the replies of the missing buffers were dropped
			free = append(free, make([]byte, c.IOSize))
		}

		reqs = reqs[:0]
		for len(reqs) < c.Batch && len(free) > 0 && res.issued+int64(len(reqs)) < int64(c.Requests) {
			buf := free[len(free)-1]
			free = free[:len(free)-1]
			m := blkio.Read
			if rng.Float64() < c.WriteRatio {
				m = blkio.Write
			}
			reqs = append(reqs, blkio.NewRequest(buf, rng.Int64N(slots)*c.IOSize, m))
		}

		coord.AccessAsync(reqs, statuses[:len(reqs)])
		res.issued += int64(len(reqs))
		for i, s := range statuses[:len(reqs)] {
			if s.Code == blkio.StatusFail {
				res.rejected++
				free = append(free, reqs[i].Buf(0))
			}
		}
	}

	coord.Wait4Complete(0)
	if err := coord.Cleanup(); err != nil {
		return err
	}
	log.Debugf("thread %d: issued %d requests, %d completed", coord.ThreadID(), res.issued, res.completed)
	return nil
}

// --------------------------------------------------------------------------
// CSV
// --------------------------------------------------------------------------

// writeResultToCSV appends the result of a run to a CSV file, writing the header for a new file
func writeResultToCSV(csvPath string, c *Config, r Result) error {
	_, statErr := os.Stat(csvPath)
	file, err := os.OpenFile(csvPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if os.IsNotExist(statErr) {
		header := []string{
			"Threads", "Groups", "Assignment", "Delivery", "Backend",
			"CacheSize", "BlockSize", "IOSize", "WriteRatio", "Batch", "Depth",
			"DurationNs", "Completed", "Rejected", "Failed", "OpsPerSec", "BytesPerSec",
		}
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("failed to write CSV header: %v", err)
		}
	}

	row := []string{
		strconv.Itoa(c.Threads),
		strconv.Itoa(c.Groups),
		c.Assignment.String(),
		c.Delivery.String(),
		c.Backend,
		strconv.FormatInt(c.CacheSize, 10),
		strconv.FormatInt(c.BlockSize, 10),
		strconv.FormatInt(c.IOSize, 10),
		strconv.FormatFloat(c.WriteRatio, 'f', 2, 64),
		strconv.Itoa(c.Batch),
		strconv.Itoa(c.Depth),
		strconv.FormatInt(r.Duration.Nanoseconds(), 10),
		strconv.FormatInt(r.Completed, 10),
		strconv.FormatInt(r.Rejected, 10),
		strconv.FormatInt(r.Failed, 10),
		fmt.Sprintf("%.0f", r.OpsPerSec()),
		fmt.Sprintf("%.0f", r.BytesPerSec()),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %v", err)
	}
	return nil
}
