// Package unix implements the command channel connectors for Unix domain sockets.
// It is meant for jobs whose processes all run on the same machine. The endpoint
// of the master and the master endpoint of the workers is the socket path.
//
// Key Components:
//
//   - clientConnector: Connects a worker to the master's socket
//
//   - serverConnector: Creates the master's socket, removing a stale socket file first
package unix
