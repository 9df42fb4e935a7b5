package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dCMD/cmd/master"
	"github.com/ValentinKolb/dCMD/cmd/perf"
	"github.com/ValentinKolb/dCMD/cmd/util"
	"github.com/ValentinKolb/dCMD/cmd/worker"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dcmd",
		Short: "master/worker command channel",
		Long: fmt.Sprintf(`dCMD (v%s)

A command channel for multi-process jobs written in Go. One master (rank 0)
sends commands to WORLD_SIZE-1 workers over TCP or Unix sockets, every worker
failure stops the whole job.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dCMD",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dCMD v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(master.MasterCmd)
	RootCmd.AddCommand(worker.WorkerCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
