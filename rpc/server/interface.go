package server

import (
	"github.com/ValentinKolb/dCMD/rpc/common"
)

// ICommandHandler is the interface for all command handlers
// It is responsible for executing a single command on the worker
type ICommandHandler interface {
	// Handle executes the command.
	// A returned error is reported to the master and ends the serve loop.
	Handle(cmd *common.Command) error
}

// HandlerFunc adapts an ordinary function to ICommandHandler
type HandlerFunc func(cmd *common.Command) error

func (f HandlerFunc) Handle(cmd *common.Command) error {
	return f(cmd)
}
