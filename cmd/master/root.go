package master

import (
	"fmt"
	"github.com/ValentinKolb/dCMD/cmd/util"
	"github.com/ValentinKolb/dCMD/rpc/client"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	Logger = util.Logger

	masterConfig = &common.MasterConfig{}

	// MasterCmd starts the master (rank 0) of a job
	MasterCmd = &cobra.Command{
		Use:   "master",
		Short: "Start the master of a job and send commands to the workers",
		Long: `Start the master of a job. The master waits until all WORLD_SIZE-1 workers joined and then sends the commands of the script to them.
Script lines have the form "RANK CMD [ARGS...]" where RANK is a worker rank or * for all workers and CMD is one of echo, sleep, fail, exit or custom.
After the last line every worker receives an exit command. The job stops as soon as any worker reports an error.
The configuration can be set via command line flags or environment variables. The format of the environment variables is DCMD_<flag> (e.g. DCMD_WORLD_SIZE=4)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupChannelFlags(MasterCmd)

	// add flags
	key := "world-size"
	MasterCmd.PersistentFlags().Int(key, 1, util.WrapString("Number of processes in the job including the master (env: WORLD_SIZE or DCMD_WORLD_SIZE)"))

	key = "listen-addr"
	MasterCmd.PersistentFlags().String(key, "0.0.0.0", util.WrapString("The address the master listens on (only for tcp)"))

	key = "poll-interval"
	MasterCmd.PersistentFlags().Int64(key, common.DefaultPollIntervalMillisecond, util.WrapString("Upper bound in milliseconds for each wait of the error listener, shutdown completes within one interval"))

	key = "script"
	MasterCmd.PersistentFlags().String(key, "", util.WrapString("Path of the command script (default: read from stdin)"))

	key = "grace"
	MasterCmd.PersistentFlags().Duration(key, time.Second, util.WrapString("How long to wait for late worker errors after the exit commands were sent"))

	key = "metrics-endpoint"
	MasterCmd.PersistentFlags().String(key, "", util.WrapString("Address to serve prometheus metrics on (e.g. :9100), empty disables the endpoint"))
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf, err := util.GetMasterConfig()
	if err != nil {
		return err
	}
	*masterConfig = *conf

	return common.InitLoggers(masterConfig.LogLevel)
}

// run executes a job
func run(_ *cobra.Command, _ []string) error {
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	// parse the script before any worker is waiting for commands
	steps, err := readScript(viper.GetString("script"))
	if err != nil {
		return err
	}

	channel, err := util.NewMasterChannel(*masterConfig)
	if err != nil {
		return err
	}
	defer channel.Close()

	Logger.Infof("Starting master")
	Logger.Infof("%s", masterConfig.String())

	if endpoint := viper.GetString("metrics-endpoint"); endpoint != "" {
		serveMetrics(endpoint)
	}

	// a signal aborts the barrier or the running job
	done := make(chan struct{})
	defer close(done)
	go closeOnSignal(channel, done)

	if err := channel.Init(); err != nil {
		return err
	}

	c := client.NewCommandClient(channel, s)
	Logger.Infof("Job %s started with %d workers", c.JobID(), masterConfig.WorldSize-1)

	start := time.Now()
	jobErr := runScript(c, steps)
	if jobErr == nil {
		jobErr = c.Broadcast(common.NewExitCommand())
	}

	// errors of the last commands may still be on their way
	if jobErr == nil {
		time.Sleep(viper.GetDuration("grace"))
		jobErr = c.Err()
	}

	if jobErr != nil {
		printReports(os.Stderr, channel)
		return fmt.Errorf("job %s failed: %w", c.JobID(), jobErr)
	}

	Logger.Infof("Job %s finished after %s", c.JobID(), time.Since(start))
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// readScript parses the script file or stdin if path is empty
func readScript(path string) ([]step, error) {
	if path == "" {
		return parseScript(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script: %v", err)
	}
	defer f.Close()

	return parseScript(f)
}

// closeOnSignal closes the channel on SIGINT or SIGTERM until done is closed
func closeOnSignal(channel transport.IMasterChannel, done <-chan struct{}) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		Logger.Warningf("Received %s, shutting down", sig)
		channel.Close()
	case <-done:
	}
}

// serveMetrics exposes all metrics in the prometheus text format
func serveMetrics(endpoint string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	go func() {
		Logger.Infof("Serving metrics on %s/metrics", endpoint)
		if err := http.ListenAndServe(endpoint, mux); err != nil {
			Logger.Errorf("Metrics endpoint stopped: %v", err)
		}
	}()
}

// printReports writes every error report the master observed
func printReports(w io.Writer, channel transport.IMasterChannel) {
	for _, report := range channel.Reports() {
		fmt.Fprintf(w, "%s [%s]\n", report, report.Kind)
	}
}
