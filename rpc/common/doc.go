// Package common provides core data structures and utilities shared across
// the command channel. It defines fundamental types, configuration structures,
// and protocol elements used by the other packages.
//
// The package focuses on:
//   - Rank addressing and error report definitions for the master/worker star
//   - The Message contract the channel expects from remote-operation payloads
//   - Command, the remote-operation message used by the client and server packages
//   - Configuration structures for master and worker processes
//   - Custom logging implementation integrated with Dragonboat's logger facade
//
// Key Components:
//
//   - Rank: Identifier of a process in the job. Rank 0 is the master and is
//     never a message destination.
//
//   - ErrorReport: A failure observed by the master, either sent by a worker
//     or synthesized when a worker connection dies.
//
//   - Message / RawMessage: The opaque payload contract. The channel only
//     needs the serialized bytes, it never looks inside.
//
//   - Err* sentinels: The error taxonomy (setup, transport, channel failure,
//     invalid rank), to be checked with errors.Is.
//
//   - MasterConfig / WorkerConfig: Already-resolved configuration handed to
//     the channels. The cmd package resolves them from flags and environment.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
