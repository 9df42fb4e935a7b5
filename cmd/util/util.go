package util

import (
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/serializer"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"github.com/ValentinKolb/dCMD/rpc/transport/tcp"
	"github.com/ValentinKolb/dCMD/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// DefaultMasterPort is the port the master listens on if nothing else is configured
	DefaultMasterPort = 29500
)

var Logger = logger.GetLogger("cmd")

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupChannelFlags adds the flags shared by master and worker to a command
func SetupChannelFlags(cmd *cobra.Command) {
	key := "master-port"
	cmd.PersistentFlags().Int(key, DefaultMasterPort, WrapString("The port of the master (env: MASTER_PORT or DCMD_MASTER_PORT)"))

	key = "socket"
	cmd.PersistentFlags().String(key, "/tmp/dcmd.sock", WrapString("The socket path of the master (only for the unix transport)"))

	key = "setup-timeout"
	cmd.PersistentFlags().Int64(key, 0, WrapString("How many seconds to wait for all workers to join (0 waits forever)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time (in seconds, only for tcp, 0 keeps the OS default)"))
}

// InitConfig loads .env files and configures viper to read environment variables.
// Besides the DCMD_ prefixed names the classic launcher variables WORLD_SIZE, RANK,
// MASTER_ADDR and MASTER_PORT are honored.
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dcmd")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// the prefixed name wins over the launcher name
	_ = viper.BindEnv("world-size", "DCMD_WORLD_SIZE", "WORLD_SIZE")
	_ = viper.BindEnv("rank", "DCMD_RANK", "RANK")
	_ = viper.BindEnv("master-addr", "DCMD_MASTER_ADDR", "MASTER_ADDR")
	_ = viper.BindEnv("master-port", "DCMD_MASTER_PORT", "MASTER_PORT")
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetTransportConf reads the socket options from viper
func GetTransportConf() common.TransportConf {
	return common.TransportConf{
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}
}

// GetEndpoint returns the endpoint of the master for the configured transport.
// host is ignored for unix sockets.
func GetEndpoint(host string) (string, error) {
	switch viper.GetString("transport") {
	case "tcp":
		port := viper.GetInt("master-port")
		if port < 0 || port > 65535 {
			return "", fmt.Errorf("invalid master port %d", port)
		}
		return net.JoinHostPort(host, strconv.Itoa(port)), nil
	case "unix":
		return viper.GetString("socket"), nil
	default:
		return "", fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetMasterConfig reads the master configuration from viper
func GetMasterConfig() (*common.MasterConfig, error) {
	endpoint, err := GetEndpoint(viper.GetString("listen-addr"))
	if err != nil {
		return nil, err
	}

	worldSize := viper.GetInt("world-size")
	if worldSize < 1 {
		return nil, fmt.Errorf("world size must be at least 1, got %d", worldSize)
	}

	conf := &common.MasterConfig{
		WorldSize:               uint32(worldSize),
		Endpoint:                endpoint,
		PollIntervalMillisecond: viper.GetInt64("poll-interval"),
		SetupTimeoutSecond:      viper.GetInt64("setup-timeout"),
		Transport:               GetTransportConf(),
		LogLevel:                viper.GetString("log-level"),
	}
	return conf, conf.Validate()
}

// GetWorkerConfig reads the worker configuration from viper
func GetWorkerConfig() (*common.WorkerConfig, error) {
	endpoint, err := GetEndpoint(viper.GetString("master-addr"))
	if err != nil {
		return nil, err
	}

	rank := viper.GetInt("rank")
	if rank < 1 {
		return nil, fmt.Errorf("rank must be at least 1, got %d", rank)
	}

	conf := &common.WorkerConfig{
		Rank:               common.Rank(rank),
		MasterEndpoint:     endpoint,
		SetupTimeoutSecond: viper.GetInt64("setup-timeout"),
		Transport:          GetTransportConf(),
		LogLevel:           viper.GetString("log-level"),
	}
	return conf, conf.Validate()
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// NewMasterChannel creates the master channel for the configured transport
func NewMasterChannel(config common.MasterConfig) (transport.IMasterChannel, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPMasterChannel(config), nil
	case "unix":
		return unix.NewUnixMasterChannel(config), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// NewWorkerChannel creates the worker channel for the configured transport
func NewWorkerChannel(config common.WorkerConfig) (transport.IWorkerChannel, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPWorkerChannel(config), nil
	case "unix":
		return unix.NewUnixWorkerChannel(config), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// LingerUntilMasterCloses keeps the connection open until the master closes it or
// the timeout expires. Closing right after the exit command would be reported to the
// master as a failed worker while it still sends exit commands to the others.
func LingerUntilMasterCloses(channel transport.IWorkerChannel, timeout time.Duration) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, err := channel.ReceiveMessage(); err != nil {
				return
			}
			Logger.Warningf("Rank %d ignores a command received after exit", channel.Rank())
		}
	}()

	select {
	case <-closed:
	case <-time.After(timeout):
		Logger.Warningf("Master did not close the connection within %s", timeout)
		channel.Close()
		<-closed
	}
}
