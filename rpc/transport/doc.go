// Package transport defines the interfaces of the command channel that connects
// one master process with N-1 worker processes in a star topology.
//
// The package focuses on:
//   - Defining clear contracts for the master and the worker side of the channel
//   - Keeping the channel independent of the concrete socket type (TCP, Unix sockets)
//
// Key Components:
//
//   - IMasterChannel: Owned by the master (rank 0). Runs the join barrier, sends
//     command messages to a chosen worker and listens for error reports of all
//     workers in the background. Any observed failure refuses all further sends.
//
//   - IWorkerChannel: Owned by a worker. Joins the barrier, receives command
//     messages and sends error reports upstream.
//
// The implementations live in the base package, tcp and unix only provide the
// socket specific connectors.
package transport
