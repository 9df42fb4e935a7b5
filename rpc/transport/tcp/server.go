package tcp

import (
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"github.com/ValentinKolb/dCMD/rpc/transport/base"
	"net"
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(config common.MasterConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}

	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.MasterConfig) error {
	return upgradeTCP(conn, config.Transport)
}

// --------------------------------------------------------------------------
// Master Channel Factory Method
// --------------------------------------------------------------------------

// NewTCPMasterChannel creates a new master channel listening on a TCP socket
func NewTCPMasterChannel(config common.MasterConfig) transport.IMasterChannel {
	return base.NewBaseMasterChannel(&serverConnector{}, config)
}
