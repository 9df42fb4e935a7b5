// Package client implements the master side of the command layer. A CommandClient
// stamps commands with an id and the job id, serializes them and hands the bytes
// to a transport.IMasterChannel.
//
// Key Components:
//
//   - CommandClient: Sends single commands (Send) or the same command to every
//     worker (Broadcast). Echo, Sleep, Fail and Exit are shortcuts for the built-in
//     command types.
//
// Error Handling:
//
//	The client adds context to channel errors and wraps them,
//	so callers check them with errors.Is against the sentinels in rpc/common.
//	Once any worker failed, every send returns common.ErrChannelFailure.
//
// Usage Example:
//
//	channel := tcp.NewTCPMasterChannel(common.MasterConfig{WorldSize: 3, Endpoint: ":29500"})
//	if err := channel.Init(); err != nil {
//	  panic(err)
//	}
//	defer channel.Close()
//
//	c := client.NewCommandClient(channel, serializer.NewBinarySerializer())
//	if err := c.Broadcast(common.NewEchoCommand("hello")); err != nil {
//	  if errors.Is(err, common.ErrChannelFailure) {
//	    // a worker failed, the job is over
//	  }
//	}
//	_ = c.Broadcast(common.NewExitCommand())
//
// Thread Safety:
//
//	A CommandClient can be used concurrently from multiple goroutines. Commands sent
//	concurrently to the same rank are delivered as whole frames in an unspecified order.
package client
