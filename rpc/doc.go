// Package rpc provides the command channel between the master (rank 0) and the
// workers of a job. The master sends commands, the workers report failures back.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures used across the channel, including the Command
//     protocol, configuration structures, sentinel errors and logging.
//
//   - transport: The master and worker channels with pluggable socket types
//     (TCP, Unix sockets). base implements the framing, the join barrier and the
//     error listener independent of the socket type.
//
//   - serializer: Command serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Command objects and byte arrays.
//
//   - client: The master side CommandClient that stamps, encodes and sends commands.
//
//   - server: The worker side CommandServer that executes commands and reports
//     failures to the master.
package rpc
