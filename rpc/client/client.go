package client

import (
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/serializer"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"github.com/google/uuid"
	"sync/atomic"
	"time"
)

// CommandClient sends commands from the master to the workers. It owns no
// connections, the channel must be initialized by the caller.
type CommandClient struct {
	channel    transport.IMasterChannel
	serializer serializer.IRPCSerializer
	jobID      string
	nextID     atomic.Uint64
}

// NewCommandClient creates a new command client on top of an initialized master channel.
// Every command sent by the client is stamped with a fresh id and the job id of the client.
//
// Usage:
//
//	channel := tcp.NewTCPMasterChannel(config)
//	if err := channel.Init(); err != nil {
//		panic(err)
//	}
//	c := client.NewCommandClient(channel, serializer.NewBinarySerializer())
//	_ = c.Broadcast(common.NewEchoCommand("hello"))
func NewCommandClient(channel transport.IMasterChannel, serializer serializer.IRPCSerializer) *CommandClient {
	return &CommandClient{
		channel:    channel,
		serializer: serializer,
		jobID:      uuid.NewString(),
	}
}

// JobID returns the id stamped on every command of this client
func (c *CommandClient) JobID() string {
	return c.jobID
}

// Send sends a single command to the worker with the given rank
func (c *CommandClient) Send(rank common.Rank, cmd *common.Command) error {
	stamped, data, err := c.encode(cmd)
	if err != nil {
		return err
	}
	return c.send(rank, stamped, data)
}

// Broadcast sends the same command to every worker in ascending rank order.
// It stops at the first rank that cannot be reached.
func (c *CommandClient) Broadcast(cmd *common.Command) error {
	stamped, data, err := c.encode(cmd)
	if err != nil {
		return err
	}

	for _, rank := range workerRanks(c.channel.WorldSize()) {
		if err := c.send(rank, stamped, data); err != nil {
			return err
		}
	}
	return nil
}

// Echo asks the worker to print the arguments
func (c *CommandClient) Echo(rank common.Rank, args ...string) error {
	return c.Send(rank, common.NewEchoCommand(args...))
}

// Sleep asks the worker to sleep for the given duration
func (c *CommandClient) Sleep(rank common.Rank, d time.Duration) error {
	return c.Send(rank, common.NewSleepCommand(d.String()))
}

// Fail asks the worker to fail with the given reason
func (c *CommandClient) Fail(rank common.Rank, reason string) error {
	return c.Send(rank, common.NewFailCommand(reason))
}

// Exit asks the worker to leave its serve loop
func (c *CommandClient) Exit(rank common.Rank) error {
	return c.Send(rank, common.NewExitCommand())
}

// Err returns the failure latched by the channel or nil
func (c *CommandClient) Err() error {
	return c.channel.Err()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// encode stamps a copy of the command and serializes it
func (c *CommandClient) encode(cmd *common.Command) (*common.Command, []byte, error) {
	if cmd == nil {
		return nil, nil, fmt.Errorf("command is nil")
	}
	if cmd.CmdType == common.CmdTUnknown {
		return nil, nil, fmt.Errorf("command type is not set")
	}

	stamped := *cmd
	stamped.ID = c.nextID.Add(1)
	stamped.JobID = c.jobID

	data, err := c.serializer.Serialize(&stamped)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize %s command: %w", stamped.CmdType, err)
	}
	return &stamped, data, nil
}

func (c *CommandClient) send(rank common.Rank, cmd *common.Command, data []byte) error {
	if err := c.channel.SendMessage(common.RawMessage(data), rank); err != nil {
		return fmt.Errorf("failed to send %s command %d to rank %d: %w", cmd.CmdType, cmd.ID, rank, err)
	}

	commandsSentCounter(cmd.CmdType).Inc()
	Logger.Debugf("Sent %s command %d to rank %d (%d bytes)", cmd.CmdType, cmd.ID, rank, len(data))
	return nil
}
