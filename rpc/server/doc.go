// Package server implements the worker side of the command layer. A CommandServer
// receives commands over a transport.IWorkerChannel, dispatches them to registered
// handlers and reports every failure to the master.
//
// Key Components:
//
//   - ICommandHandler / HandlerFunc: contract for the code that executes one command type.
//
//   - CommandServer: The serve loop. Echo, Sleep and Fail have default handlers,
//     Exit ends the loop. Applications register their own handlers for CmdTCustom
//     or replace the defaults.
//
// Failure Model:
//
//	A worker never continues after a failed command. The error text is sent to the
//	master, which stops accepting commands for the whole job, and Serve returns
//	ErrCommandFailed. Losing the connection to the master ends Serve with the
//	transport error.
//
// Usage Example:
//
//	channel := tcp.NewTCPWorkerChannel(common.WorkerConfig{Rank: 1, MasterEndpoint: "10.0.0.1:29500"})
//	if err := channel.Init(); err != nil {
//	  panic(err)
//	}
//	defer channel.Close()
//
//	s := server.NewCommandServer(channel, serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  os.Exit(1)
//	}
//
// Thread Safety:
//
//	Serve must only be called from one goroutine. Handlers may be registered at any time.
package server
