package tcp

import (
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"github.com/ValentinKolb/dCMD/rpc/transport/base"
	"net"
	"time"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(config common.WorkerConfig) (net.Conn, error) {
	if config.SetupTimeoutSecond > 0 {
		return net.DialTimeout("tcp", config.MasterEndpoint, time.Duration(config.SetupTimeoutSecond)*time.Second)
	}
	return net.Dial("tcp", config.MasterEndpoint)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.WorkerConfig) error {
	return upgradeTCP(conn, config.Transport)
}

// --------------------------------------------------------------------------
// Worker Channel Factory Method
// --------------------------------------------------------------------------

// NewTCPWorkerChannel creates a new worker channel connecting over TCP
func NewTCPWorkerChannel(config common.WorkerConfig) transport.IWorkerChannel {
	return base.NewBaseWorkerChannel(&clientConnector{}, config)
}
