// Package base implements the command channel between one master and N-1 workers
// independent of the specific socket type (TCP, Unix sockets, etc.). The tcp and
// unix packages extend it with protocol-specific connectors.
//
// Wire Protocol:
//
//   - Handshake (raw values, never frame wrapped): the worker sends its rank as a
//     4 byte big endian uint32. After all workers have joined, the master sends one
//     confirmation byte to every worker. Its value is ignored, its arrival releases
//     the worker.
//
//   - Frames: an 8 byte big endian uint64 length followed by that many payload bytes.
//     Command messages (master to worker) and error reports (worker to master) use
//     the same frame. Which one it is follows from the direction.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base channel with different network protocols.
//
//   - masterChannel: Accepts the workers in arrival order, sorts them into slots by
//     the rank they announce and releases them at once. A background listener fans
//     the error frames of all workers into a lock-free MPSC queue and waits on it
//     with a bounded timeout, so Close never waits longer than one poll interval.
//     The first report (sent by a worker or synthesized for a dead connection)
//     latches a failure that refuses every later SendMessage, for every rank.
//
//   - workerChannel: Joins the barrier, reads command frames and writes error frames.
//
// Thread Safety:
//
//	SendMessage may be called from any number of goroutines. Frames to the same
//	rank are serialized by a per-connection mutex. Only the listener's readers
//	read from worker connections, so reads and writes never share a direction.
//	The worker channel is meant to be used from a single goroutine.
package base
