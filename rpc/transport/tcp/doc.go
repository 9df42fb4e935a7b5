// Package tcp implements the TCP connectors of the command channel. The channel
// logic itself lives in the base package, this package only creates the sockets
// and applies the socket options of common.TransportConf.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector (worker side)
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector (master side)
package tcp
