package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/pcache/cmd/bench"
	"github.com/ValentinKolb/pcache/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "pcache",
		Short: "partitioned NUMA-aware page cache",
		Long: fmt.Sprintf(`pcache (v%s)

A partitioned page cache library written in Go. Worker goroutines are
split into groups, each group owns a cache, and requests travel between
the workers over bounded message queues.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pcache",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pcache v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
