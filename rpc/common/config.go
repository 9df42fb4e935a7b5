package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPollIntervalMillisecond bounds every wait of the master's error listener
	DefaultPollIntervalMillisecond = 500
)

// --------------------------------------------------------------------------
// Socket configuration (shared by master and worker)
// --------------------------------------------------------------------------

// SocketConf holds settings that apply to every stream socket
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds settings that only apply to TCP sockets
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// TransportConf bundles the socket settings
type TransportConf struct {
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// Master configuration
// --------------------------------------------------------------------------

// MasterConfig holds the already resolved configuration of the master process
type MasterConfig struct {
	// WorldSize is the number of processes in the job (master included)
	WorldSize uint32

	// Endpoint is the address to listen on (e.g. 0.0.0.0:29500 or /tmp/dcmd.sock)
	Endpoint string

	// PollIntervalMillisecond bounds each wait of the error listener.
	// Teardown completes within one interval. Zero means the default.
	PollIntervalMillisecond int64

	// SetupTimeoutSecond bounds the accept barrier, zero waits forever
	SetupTimeoutSecond int64

	Transport TransportConf

	// Logging configuration
	LogLevel string
}

// PollInterval returns the effective poll interval
func (c *MasterConfig) PollInterval() time.Duration {
	if c.PollIntervalMillisecond <= 0 {
		return DefaultPollIntervalMillisecond * time.Millisecond
	}
	return time.Duration(c.PollIntervalMillisecond) * time.Millisecond
}

// Validate checks the configuration for obvious mistakes
func (c *MasterConfig) Validate() error {
	if c.WorldSize < 1 {
		return fmt.Errorf("world size must be at least 1, got %d", c.WorldSize)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("no endpoint provided")
	}
	if c.SetupTimeoutSecond < 0 {
		return fmt.Errorf("setup timeout must not be negative")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *MasterConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Master")
	addField("World Size", strconv.FormatUint(uint64(c.WorldSize), 10))
	addField("Endpoint", c.Endpoint)
	addField("Poll Interval", c.PollInterval().String())
	addField("Setup Timeout", fmt.Sprintf("%d sec", c.SetupTimeoutSecond))

	addTransport(addSection, addField, c.Transport)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Worker configuration
// --------------------------------------------------------------------------

// WorkerConfig holds the already resolved configuration of a worker process
type WorkerConfig struct {
	// Rank of this worker, must be in [1, WorldSize)
	Rank Rank

	// MasterEndpoint is the address of the master (e.g. 10.0.0.1:29500)
	MasterEndpoint string

	// SetupTimeoutSecond bounds the join handshake, zero waits forever
	SetupTimeoutSecond int64

	Transport TransportConf

	// Logging configuration
	LogLevel string
}

// Validate checks the configuration for obvious mistakes
func (c *WorkerConfig) Validate() error {
	if c.Rank == MasterRank {
		return fmt.Errorf("rank 0 is reserved for the master")
	}
	if c.MasterEndpoint == "" {
		return fmt.Errorf("no master endpoint provided")
	}
	if c.SetupTimeoutSecond < 0 {
		return fmt.Errorf("setup timeout must not be negative")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *WorkerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Worker")
	addField("Rank", strconv.FormatUint(uint64(c.Rank), 10))
	addField("Master Endpoint", c.MasterEndpoint)
	addField("Setup Timeout", fmt.Sprintf("%d sec", c.SetupTimeoutSecond))

	addTransport(addSection, addField, c.Transport)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// addTransport writes the transport section shared by both configurations
func addTransport(addSection func(string), addField func(string, string), t TransportConf) {
	addSection("Transport")
	addField("Write Buffer", fmt.Sprintf("%d bytes", t.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", t.ReadBufferSize))
	addField("TCP No Delay", strconv.FormatBool(t.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", t.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", t.TCPLingerSec))
}
