package perf

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dCMD/cmd/util"
	"github.com/ValentinKolb/dCMD/rpc/client"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/serializer"
	"github.com/ValentinKolb/dCMD/rpc/server"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	Logger = util.Logger

	// PerfCmd runs a master and its workers in one process and measures the command throughput
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the command channel",
		Long:    "Starts a master and WORLD_SIZE-1 workers in this process, sends custom commands from one goroutine per worker and reports latency and throughput.",
		PreRunE: processPerfConfig,
		RunE:    run,
	}

	perfWorldSize   = 4
	perfMessages    = 1000
	perfPayloadSize = 1024
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// add flags
	key := "world-size"
	PerfCmd.Flags().Int(key, 4, util.WrapString("Number of processes in the job including the master"))
	key = "messages"
	PerfCmd.Flags().Int(key, 1000, util.WrapString("Number of commands sent to every worker"))
	key = "payload-size"
	PerfCmd.Flags().Int(key, 1024, util.WrapString("Size of the payload of every command (in bytes)"))
	key = "log-level"
	PerfCmd.Flags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	key = "verbose"
	PerfCmd.Flags().Bool(key, false, util.WrapString("Print every collected metric"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfWorldSize = viper.GetInt("world-size")
	perfMessages = viper.GetInt("messages")
	perfPayloadSize = viper.GetInt("payload-size")

	if perfWorldSize < 2 {
		return fmt.Errorf("world size must be at least 2, got %d", perfWorldSize)
	}
	if perfMessages < 1 || perfPayloadSize < 0 {
		return fmt.Errorf("messages must be positive and the payload size must not be negative")
	}

	return common.InitLoggers(viper.GetString("log-level"))
}

// result holds the measurements of one run
type result struct {
	elapsed  time.Duration
	sent     gometrics.Timer
	bytes    gometrics.Meter
	executed int64
}

func run(_ *cobra.Command, _ []string) error {
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	endpoint, err := localEndpoint()
	if err != nil {
		return err
	}

	masterConfig := common.MasterConfig{
		WorldSize:               uint32(perfWorldSize),
		Endpoint:                endpoint,
		PollIntervalMillisecond: 50,
		SetupTimeoutSecond:      10,
		Transport:               defaultTransport(),
	}

	fmt.Println("Performance testing tool for the command channel")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(masterConfig.String())
	fmt.Printf("Messages per worker: %d\n", perfMessages)
	fmt.Printf("Payload size: %d bytes\n", perfPayloadSize)
	fmt.Println()

	registry := gometrics.NewRegistry()
	res, err := runJob(masterConfig, s, registry)
	if err != nil {
		return err
	}

	printResult(res)

	if viper.GetBool("verbose") {
		gometrics.WriteOnce(registry, os.Stdout)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultToCSV(csvPath, res, masterConfig); err != nil {
			return err
		}
		fmt.Printf("Results written to %s\n", csvPath)
	}

	return nil
}

// runJob starts the master and the workers, sends all commands and waits until every
// worker executed them
func runJob(masterConfig common.MasterConfig, s serializer.IRPCSerializer, registry gometrics.Registry) (*result, error) {
	master, err := util.NewMasterChannel(masterConfig)
	if err != nil {
		return nil, err
	}
	defer master.Close()

	masterErr := make(chan error, 1)
	go func() { masterErr <- master.Init() }()

	res := &result{
		sent:  gometrics.GetOrRegisterTimer("master.send", registry),
		bytes: gometrics.GetOrRegisterMeter("master.payload-bytes", registry),
	}
	defer res.sent.Stop()
	defer res.bytes.Stop()

	var executed atomic.Int64
	workerDone := make(chan error, masterConfig.WorldSize-1)
	for r := common.Rank(1); uint32(r) < masterConfig.WorldSize; r++ {
		r := r
		go func() {
			workerDone <- runWorker(r, masterConfig, s, &executed)
		}()
	}

	if err := <-masterErr; err != nil {
		return nil, err
	}

	c := client.NewCommandClient(master, s)
	payload := make([]byte, perfPayloadSize)

	start := time.Now()

	// one sender per worker
	var senders sync.WaitGroup
	sendErrs := make(chan error, masterConfig.WorldSize-1)
	for r := common.Rank(1); uint32(r) < masterConfig.WorldSize; r++ {
		r := r
		senders.Add(1)
		go func() {
			defer senders.Done()
			cmd := common.NewCustomCommand(payload)
			for i := 0; i < perfMessages; i++ {
				var err error
				res.sent.Time(func() { err = c.Send(r, cmd) })
				if err != nil {
					sendErrs <- err
					return
				}
				res.bytes.Mark(int64(len(payload)))
			}
		}()
	}
	senders.Wait()
	close(sendErrs)
	if err := <-sendErrs; err != nil {
		return nil, err
	}

	if err := c.Broadcast(common.NewExitCommand()); err != nil {
		return nil, err
	}

	// a worker is done once it executed the exit command
	for i := uint32(1); i < masterConfig.WorldSize; i++ {
		if err := <-workerDone; err != nil {
			return nil, err
		}
	}
	res.elapsed = time.Since(start)
	res.executed = executed.Load()

	// releases the lingering workers
	if err := master.Close(); err != nil {
		return nil, err
	}

	return res, c.Err()
}

// runWorker joins the master and executes commands until the exit command
func runWorker(rank common.Rank, masterConfig common.MasterConfig, s serializer.IRPCSerializer, executed *atomic.Int64) error {
	config := common.WorkerConfig{
		Rank:               rank,
		MasterEndpoint:     masterConfig.Endpoint,
		SetupTimeoutSecond: masterConfig.SetupTimeoutSecond,
		Transport:          masterConfig.Transport,
	}

	channel, err := joinWorker(config)
	if err != nil {
		return err
	}

	srv := server.NewCommandServer(channel, s)
	srv.SetOutput(io.Discard)
	srv.HandleFunc(common.CmdTCustom, func(*common.Command) error {
		executed.Add(1)
		return nil
	})

	if err := srv.Serve(); err != nil {
		Logger.Errorf("Worker with rank %d stopped: %v", rank, err)
		channel.Close()
		return err
	}

	go func() {
		util.LingerUntilMasterCloses(channel, 10*time.Second)
		channel.Close()
	}()
	return nil
}

// joinWorker retries the join until the master listens
func joinWorker(config common.WorkerConfig) (transport.IWorkerChannel, error) {
	deadline := time.Now().Add(time.Duration(config.SetupTimeoutSecond) * time.Second)
	for {
		channel, err := util.NewWorkerChannel(config)
		if err != nil {
			return nil, err
		}
		err = channel.Init()
		if err == nil {
			return channel, nil
		}
		channel.Close()
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// localEndpoint returns an unused endpoint for the configured transport
func localEndpoint() (string, error) {
	switch viper.GetString("transport") {
	case "tcp":
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return "", err
		}
		defer ln.Close()
		return ln.Addr().String(), nil
	case "unix":
		dir, err := os.MkdirTemp("", "dcmd-perf")
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "dcmd.sock"), nil
	default:
		return "", fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// defaultTransport returns the socket options used for the benchmark
func defaultTransport() common.TransportConf {
	return common.TransportConf{
		SocketConf: common.SocketConf{WriteBufferSize: 512 * 1024, ReadBufferSize: 512 * 1024},
		TCPConf:    common.TCPConf{TCPNoDelay: true},
	}
}

// printResult prints the measurements in a formatted way
func printResult(res *result) {
	ps := res.sent.Percentiles([]float64{0.5, 0.95, 0.99})
	throughput := float64(res.executed) / res.elapsed.Seconds()

	fmt.Printf("%-20s%d commands in %s\t%.0f commands/sec\n", "executed", res.executed, res.elapsed, throughput)
	fmt.Printf("%-20smean %s\tp50 %s\tp95 %s\tp99 %s\tmax %s\n", "send latency",
		time.Duration(res.sent.Mean()), time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]), time.Duration(res.sent.Max()))
	fmt.Printf("%-20s%.2f MB/sec\n", "payload", res.bytes.RateMean()/(1024*1024))
}

// writeResultToCSV writes the benchmark result to a CSV file
func writeResultToCSV(csvPath string, res *result, config common.MasterConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"WorldSize", "Messages", "PayloadSize", "Serializer", "Transport",
		"Executed", "Elapsed", "CommandsPerSec", "MeanSendNs", "P99SendNs", "PayloadBytesPerSec",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	row := []string{
		strconv.FormatUint(uint64(config.WorldSize), 10),
		strconv.Itoa(perfMessages),
		strconv.Itoa(perfPayloadSize),
		viper.GetString("serializer"),
		viper.GetString("transport"),
		strconv.FormatInt(res.executed, 10),
		res.elapsed.String(),
		fmt.Sprintf("%.0f", float64(res.executed)/res.elapsed.Seconds()),
		fmt.Sprintf("%.0f", res.sent.Mean()),
		fmt.Sprintf("%.0f", res.sent.Percentile(0.99)),
		fmt.Sprintf("%.0f", res.bytes.RateMean()),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("failed to write result row: %v", err)
	}

	return nil
}
