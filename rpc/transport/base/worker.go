package base

import (
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific worker operations
type IClientConnector interface {
	// Connect establishes the connection to the master
	Connect(config common.WorkerConfig) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.WorkerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// workerChannel implements transport.IWorkerChannel. It is used from a single
// goroutine and starts none of its own.
type workerChannel struct {
	connector IClientConnector
	config    common.WorkerConfig
	conn      net.Conn
	closed    atomic.Bool
	closeOnce sync.Once
}

// -----------------------------------------------------------
// Channel Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseWorkerChannel creates a new worker channel with the specified connector
func NewBaseWorkerChannel(connector IClientConnector, config common.WorkerConfig) transport.IWorkerChannel {
	return &workerChannel{
		connector: connector,
		config:    config,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IWorkerChannel)
// --------------------------------------------------------------------------

func (w *workerChannel) Init() error {
	if err := w.config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrSetupFailure, err)
	}
	if w.closed.Load() {
		return fmt.Errorf("%w: channel is closed", common.ErrSetupFailure)
	}
	if w.conn != nil {
		return fmt.Errorf("%w: channel already initialized", common.ErrSetupFailure)
	}

	conn, err := w.connector.Connect(w.config)
	if err != nil {
		return fmt.Errorf("%w: failed to connect to %s: %w", common.ErrSetupFailure, w.config.MasterEndpoint, err)
	}

	if err := w.join(conn); err != nil {
		conn.Close()
		return fmt.Errorf("%w: rank %d failed to join %s: %w", common.ErrSetupFailure, w.config.Rank, w.config.MasterEndpoint, err)
	}

	w.conn = conn
	Logger.Infof("Worker with rank %d joined %s (%s)", w.config.Rank, w.config.MasterEndpoint, w.connector.GetName())
	return nil
}

func (w *workerChannel) ReceiveMessage() (common.RawMessage, error) {
	if w.conn == nil {
		return nil, common.ErrNotInitialized
	}

	data, err := readFrame(w.conn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to receive message: %w", common.ErrTransport, err)
	}

	framesReceived.Inc()
	return data, nil
}

func (w *workerChannel) SendError(text string) error {
	if w.conn == nil {
		return common.ErrNotInitialized
	}

	if err := writeFrame(w.conn, []byte(text)); err != nil {
		return fmt.Errorf("%w: failed to send error: %w", common.ErrTransport, err)
	}

	errorsSent.Inc()
	return nil
}

func (w *workerChannel) Rank() common.Rank {
	return w.config.Rank
}

func (w *workerChannel) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		if w.conn != nil {
			err = w.conn.Close()
		}
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// join announces the rank and blocks until the master releases the barrier
func (w *workerChannel) join(conn net.Conn) error {
	if err := w.connector.UpgradeConnection(conn, w.config); err != nil {
		return fmt.Errorf("failed to upgrade connection: %v", err)
	}

	if w.config.SetupTimeoutSecond > 0 {
		timeout := time.Duration(w.config.SetupTimeoutSecond) * time.Second
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}

	if err := writeRank(conn, w.config.Rank); err != nil {
		return fmt.Errorf("failed to send rank: %v", err)
	}

	if err := readConfirm(conn); err != nil {
		return fmt.Errorf("failed to receive confirmation: %v", err)
	}

	// Later reads block as long as the master is alive
	if w.config.SetupTimeoutSecond > 0 {
		return conn.SetDeadline(time.Time{})
	}
	return nil
}
