package client

import (
	"bytes"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/serializer"
	"github.com/ValentinKolb/dCMD/rpc/server"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"github.com/ValentinKolb/dCMD/rpc/transport/tcp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"sync"
	"testing"
	"time"
)

// sentMessage is a frame recorded by the fake master channel
type sentMessage struct {
	rank common.Rank
	data []byte
}

// fakeMasterChannel records every message and fails on a configured rank
type fakeMasterChannel struct {
	worldSize uint32
	failRank  common.Rank
	sent      []sentMessage
}

func (c *fakeMasterChannel) Init() error { return nil }

func (c *fakeMasterChannel) SendMessage(msg common.Message, rank common.Rank) error {
	if rank == common.MasterRank || uint32(rank) >= c.worldSize {
		return common.ErrInvalidRank
	}
	if c.failRank != 0 && rank == c.failRank {
		return common.ErrTransport
	}
	c.sent = append(c.sent, sentMessage{rank: rank, data: append([]byte(nil), msg.Bytes()...)})
	return nil
}

func (c *fakeMasterChannel) Err() error { return nil }

func (c *fakeMasterChannel) Reports() []common.ErrorReport { return nil }

func (c *fakeMasterChannel) Excluded(common.Rank) bool { return false }

func (c *fakeMasterChannel) WorldSize() uint32 { return c.worldSize }

func (c *fakeMasterChannel) Close() error { return nil }

func decode(t *testing.T, data []byte) common.Command {
	t.Helper()
	var cmd common.Command
	require.NoError(t, serializer.NewBinarySerializer().Deserialize(data, &cmd))
	return cmd
}

func TestSendStampsCommands(t *testing.T) {
	channel := &fakeMasterChannel{worldSize: 3}
	c := NewCommandClient(channel, serializer.NewBinarySerializer())

	_, err := uuid.Parse(c.JobID())
	require.NoError(t, err, "job id is a uuid")

	cmd := common.NewEchoCommand("hello")
	require.NoError(t, c.Send(2, cmd))
	require.NoError(t, c.Sleep(1, 250*time.Millisecond))

	// the caller's command is not modified
	assert.Zero(t, cmd.ID)
	assert.Empty(t, cmd.JobID)

	require.Len(t, channel.sent, 2)
	first := decode(t, channel.sent[0].data)
	second := decode(t, channel.sent[1].data)

	assert.Equal(t, common.Rank(2), channel.sent[0].rank)
	assert.Equal(t, common.CmdTEcho, first.CmdType)
	assert.Equal(t, []string{"hello"}, first.Args)
	assert.Equal(t, c.JobID(), first.JobID)

	assert.Equal(t, common.CmdTSleep, second.CmdType)
	assert.Equal(t, []string{"250ms"}, second.Args)
	assert.Greater(t, second.ID, first.ID, "ids increase")
}

func TestBroadcast(t *testing.T) {
	channel := &fakeMasterChannel{worldSize: 4}
	c := NewCommandClient(channel, serializer.NewBinarySerializer())

	require.NoError(t, c.Broadcast(common.NewExitCommand()))

	require.Len(t, channel.sent, 3)
	for i, m := range channel.sent {
		assert.Equal(t, common.Rank(i+1), m.rank)
		assert.True(t, bytes.Equal(channel.sent[0].data, m.data), "every rank gets the same command")
	}
}

func TestBroadcastStopsOnFirstError(t *testing.T) {
	channel := &fakeMasterChannel{worldSize: 5, failRank: 2}
	c := NewCommandClient(channel, serializer.NewBinarySerializer())

	err := c.Broadcast(common.NewEchoCommand("x"))
	require.ErrorIs(t, err, common.ErrTransport)
	assert.Contains(t, err.Error(), "rank 2")

	require.Len(t, channel.sent, 1)
	assert.Equal(t, common.Rank(1), channel.sent[0].rank)
}

func TestSendInvalid(t *testing.T) {
	channel := &fakeMasterChannel{worldSize: 2}
	c := NewCommandClient(channel, serializer.NewBinarySerializer())

	assert.Error(t, c.Send(1, nil))
	assert.Error(t, c.Send(1, &common.Command{}))
	assert.ErrorIs(t, c.Exit(0), common.ErrInvalidRank)
	assert.ErrorIs(t, c.Exit(2), common.ErrInvalidRank)
	assert.Empty(t, channel.sent)
}

// joinWorker retries Init until the master listens
func joinWorker(rank common.Rank, endpoint string) (transport.IWorkerChannel, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		w := tcp.NewTCPWorkerChannel(common.WorkerConfig{Rank: rank, MasterEndpoint: endpoint})
		err := w.Init()
		if err == nil {
			return w, nil
		}
		w.Close()
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestCommandsOverTCP runs a client and servers over real loopback connections
func TestCommandsOverTCP(t *testing.T) {
	const worldSize = 3

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	endpoint := ln.Addr().String()
	require.NoError(t, ln.Close())

	master := tcp.NewTCPMasterChannel(common.MasterConfig{
		WorldSize:               worldSize,
		Endpoint:                endpoint,
		PollIntervalMillisecond: 20,
		SetupTimeoutSecond:      10,
	})
	defer master.Close()

	masterErr := make(chan error, 1)
	go func() { masterErr <- master.Init() }()

	type result struct {
		rank common.Rank
		err  error
		out  string
	}
	results := make(chan result, worldSize-1)

	var wg sync.WaitGroup
	for r := common.Rank(1); r < worldSize; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()

			w, err := joinWorker(r, endpoint)
			if err != nil {
				results <- result{rank: r, err: err}
				return
			}
			defer w.Close()

			var out bytes.Buffer
			s := server.NewCommandServer(w, serializer.NewJSONSerializer())
			s.SetOutput(&out)
			err = s.Serve()
			results <- result{rank: r, err: err, out: out.String()}
		}()
	}

	require.NoError(t, <-masterErr)

	c := NewCommandClient(master, serializer.NewJSONSerializer())
	require.NoError(t, c.Echo(1, "only", "one"))
	require.NoError(t, c.Broadcast(common.NewEchoCommand("all")))
	require.NoError(t, c.Fail(2, "bad batch"))

	// the failure of rank 2 stops the whole job
	require.Eventually(t, func() bool { return c.Err() != nil }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Exit(1), common.ErrChannelFailure)
	assert.Contains(t, c.Err().Error(), "error (rank 2)")
	assert.Contains(t, c.Err().Error(), "bad batch")

	// rank 1 is still waiting, closing the master releases it
	require.NoError(t, master.Close())
	wg.Wait()
	close(results)

	byRank := make(map[common.Rank]result)
	for res := range results {
		byRank[res.rank] = res
	}

	assert.Equal(t, "rank 1: only one\nrank 1: all\n", byRank[1].out)
	assert.ErrorIs(t, byRank[1].err, common.ErrTransport)

	assert.Equal(t, "rank 2: all\n", byRank[2].out)
	assert.ErrorIs(t, byRank[2].err, server.ErrCommandFailed)
}
