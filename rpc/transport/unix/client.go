package unix

import (
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"github.com/ValentinKolb/dCMD/rpc/transport/base"
	"net"
	"time"
)

// clientConnector implements the IClientConnector interface for Unix sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Connect(config common.WorkerConfig) (net.Conn, error) {
	if config.SetupTimeoutSecond > 0 {
		return net.DialTimeout("unix", config.MasterEndpoint, time.Duration(config.SetupTimeoutSecond)*time.Second)
	}
	return net.Dial("unix", config.MasterEndpoint)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.WorkerConfig) error {
	return upgradeUnix(conn, config.Transport)
}

// upgradeUnix applies the socket buffer sizes, the TCP options do not apply
func upgradeUnix(conn net.Conn, config common.TransportConf) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}

	if config.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(config.WriteBufferSize); err != nil {
			return err
		}
	}
	if config.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(config.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Worker Channel Factory Method
// --------------------------------------------------------------------------

// NewUnixWorkerChannel creates a new worker channel connecting over a Unix socket
func NewUnixWorkerChannel(config common.WorkerConfig) transport.IWorkerChannel {
	return base.NewBaseWorkerChannel(&clientConnector{}, config)
}
