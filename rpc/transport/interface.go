package transport

import (
	"github.com/ValentinKolb/dCMD/rpc/common"
)

// --------------------------------------------------------------------------
// Master Channel
// --------------------------------------------------------------------------

// IMasterChannel is the master side of the command channel
type IMasterChannel interface {
	// Init listens for the WorldSize-1 workers, assigns every connection to the
	// rank the worker announces and releases all workers at once when the last
	// one has joined. Afterward the background error listener is started.
	Init() error
	// SendMessage writes msg to the worker with the given rank.
	// It fails with common.ErrChannelFailure once any worker failure has been
	// observed and with common.ErrInvalidRank for rank 0 or ranks >= WorldSize.
	SendMessage(msg common.Message, rank common.Rank) error
	// Err returns the latched channel failure or nil
	Err() error
	// Reports returns all error reports observed so far
	Reports() []common.ErrorReport
	// Excluded reports whether the connection of rank failed and is no longer polled
	Excluded(rank common.Rank) bool
	// WorldSize returns the number of processes in the job
	WorldSize() uint32
	// Close stops the error listener and closes all worker connections
	Close() error
}

// --------------------------------------------------------------------------
// Worker Channel
// --------------------------------------------------------------------------

// IWorkerChannel is the worker side of the command channel
type IWorkerChannel interface {
	// Init connects to the master, announces the rank and blocks until the
	// master signals that all workers have joined
	Init() error
	// ReceiveMessage blocks until the next command message arrives
	ReceiveMessage() (common.RawMessage, error)
	// SendError reports a failure to the master. No acknowledgment is read.
	SendError(text string) error
	// Rank returns the rank of this worker
	Rank() common.Rank
	// Close closes the connection to the master
	Close() error
}
