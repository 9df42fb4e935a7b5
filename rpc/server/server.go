package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/serializer"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

var Logger = logger.GetLogger("rpc")

// ErrCommandFailed is returned by Serve after a failure was reported to the master
var ErrCommandFailed = errors.New("command failed")

// CommandServer executes the commands a worker receives from the master
type CommandServer struct {
	channel    transport.IWorkerChannel
	serializer serializer.IRPCSerializer
	handlers   *xsync.MapOf[common.CommandType, ICommandHandler]
	out        io.Writer
}

// NewCommandServer creates a new command server on top of an initialized worker channel.
// The handlers for Echo, Sleep and Fail are registered, Exit is always handled by Serve.
//
// Usage:
//
//	s := server.NewCommandServer(channel, serializer.NewBinarySerializer())
//	s.HandleFunc(common.CmdTCustom, func(cmd *common.Command) error {
//		return train(cmd.Payload)
//	})
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewCommandServer(
	channel transport.IWorkerChannel,
	serializer serializer.IRPCSerializer,
) *CommandServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &CommandServer{
		channel:    channel,
		serializer: serializer,
		handlers:   xsync.NewMapOf[common.CommandType, ICommandHandler](),
		out:        os.Stdout,
	}
	s.registerDefaultHandlers()

	Logger.Infof("Created command server for rank %d", channel.Rank())
	return s
}

// Handle registers the handler for a command type, replacing any previous one
func (s *CommandServer) Handle(cmdType common.CommandType, handler ICommandHandler) {
	s.handlers.Store(cmdType, handler)
}

// HandleFunc registers a function as handler for a command type
func (s *CommandServer) HandleFunc(cmdType common.CommandType, fn func(cmd *common.Command) error) {
	s.Handle(cmdType, HandlerFunc(fn))
}

// SetOutput sets the writer used by the echo handler (default os.Stdout)
func (s *CommandServer) SetOutput(w io.Writer) {
	s.out = w
}

// Serve executes commands until an Exit command arrives (returns nil), a command
// fails or the connection to the master is lost.
//
// A command that cannot be decoded, has no handler or fails is reported to the master
// with SendError. The worker does not continue after that, Serve returns ErrCommandFailed.
func (s *CommandServer) Serve() error {
	rank := s.channel.Rank()

	for {
		data, err := s.channel.ReceiveMessage()
		if err != nil {
			return fmt.Errorf("rank %d lost the master: %w", rank, err)
		}

		var cmd common.Command
		if err := s.serializer.Deserialize(data, &cmd); err != nil {
			return s.fail(fmt.Sprintf("failed to deserialize command: %v", err))
		}

		if cmd.CmdType == common.CmdTExit {
			commandsExecutedCounter(cmd.CmdType).Inc()
			Logger.Infof("Rank %d received exit command %d", rank, cmd.ID)
			return nil
		}

		handler, ok := s.handlers.Load(cmd.CmdType)
		if !ok {
			return s.fail(fmt.Sprintf("unsupported command type: %s", cmd.CmdType))
		}

		Logger.Debugf("Rank %d executing %s command %d", rank, cmd.CmdType, cmd.ID)
		if err := handler.Handle(&cmd); err != nil {
			return s.fail(fmt.Sprintf("%s command %d failed: %v", cmd.CmdType, cmd.ID, err))
		}
		commandsExecutedCounter(cmd.CmdType).Inc()
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// fail reports the text to the master and returns the error that ends Serve
func (s *CommandServer) fail(text string) error {
	Logger.Errorf("Rank %d: %s", s.channel.Rank(), text)
	commandsFailed.Inc()

	err := fmt.Errorf("%w: %s", ErrCommandFailed, text)
	if sendErr := s.channel.SendError(text); sendErr != nil {
		return errors.Join(err, fmt.Errorf("failed to report error to master: %w", sendErr))
	}
	return err
}

// commandsExecutedCounter returns the counter of executed commands of the given type
func commandsExecutedCounter(t common.CommandType) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dcmd_commands_executed_total{type=%q}`, t.String()))
}

var commandsFailed = metrics.NewCounter("dcmd_commands_failed_total")
