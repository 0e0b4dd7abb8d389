// Package cmd implements the command-line interface of pcache, the
// partitioned page cache. It provides a hierarchical command structure whose
// main purpose is driving a fabric of coordinators with synthetic load.
//
// The package is organized into several subpackages:
//
//   - bench: Runs a configurable workload against a fabric and reports throughput and statistics
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See pcache -help for a list of all commands.
package cmd
