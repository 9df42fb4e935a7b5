// Package cmd implements the command-line interface of dCMD. It provides
// commands for running the master and the workers of a job.
//
// The package is organized into several subpackages:
//
//   - master: Starts the master, waits for all workers and sends the commands of a script
//   - worker: Starts a worker that executes commands until the master sends exit
//   - perf: Runs master and workers in one process and measures the channel
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// A job on one machine:
//
//	dcmd master --world-size 3 --script job.txt &
//	dcmd worker --rank 1 &
//	dcmd worker --rank 2
//
// See dcmd -help for a list of all commands.
package cmd
