package base

import (
	"bytes"
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testPollInterval = 20 * time.Millisecond

// --------------------------------------------------------------------------
// Test connectors
// --------------------------------------------------------------------------

// countingConn counts how often Close is called
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// countingListener wraps every accepted connection in a countingConn
type countingListener struct {
	net.Listener
	mu    sync.Mutex
	conns []*countingConn
}

func (l *countingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	c := &countingConn{Conn: conn}
	l.mu.Lock()
	l.conns = append(l.conns, c)
	l.mu.Unlock()
	return c, nil
}

func (l *countingListener) SetDeadline(t time.Time) error {
	return l.Listener.(*net.TCPListener).SetDeadline(t)
}

func (l *countingListener) accepted() []*countingConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*countingConn(nil), l.conns...)
}

// listenerConnector hands out a listener created by the test, so the workers
// know the address before Init blocks on the barrier
type listenerConnector struct {
	ln *countingListener
}

func (c *listenerConnector) Listen(common.MasterConfig) (net.Listener, error) {
	return c.ln, nil
}

func (c *listenerConnector) GetName() string { return "test" }

func (c *listenerConnector) UpgradeConnection(net.Conn, common.MasterConfig) error { return nil }

// dialConnector connects workers over plain TCP
type dialConnector struct{}

func (c *dialConnector) Connect(config common.WorkerConfig) (net.Conn, error) {
	return net.Dial("tcp", config.MasterEndpoint)
}

func (c *dialConnector) GetName() string { return "test" }

func (c *dialConnector) UpgradeConnection(net.Conn, common.WorkerConfig) error { return nil }

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// newTestMaster creates a master channel on a random loopback port
func newTestMaster(t *testing.T, worldSize uint32) (*masterChannel, *countingListener) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cl := &countingListener{Listener: ln}
	m := NewBaseMasterChannel(&listenerConnector{ln: cl}, common.MasterConfig{
		WorldSize:               worldSize,
		Endpoint:                ln.Addr().String(),
		PollIntervalMillisecond: testPollInterval.Milliseconds(),
	}).(*masterChannel)

	t.Cleanup(func() { m.Close() })
	return m, cl
}

// newTestWorker creates a worker channel for the given master
func newTestWorker(t *testing.T, rank common.Rank, endpoint string) *workerChannel {
	t.Helper()

	w := NewBaseWorkerChannel(&dialConnector{}, common.WorkerConfig{
		Rank:           rank,
		MasterEndpoint: endpoint,
	}).(*workerChannel)

	t.Cleanup(func() { w.Close() })
	return w
}

// setupJob starts a master and all workers and waits until the barrier is released.
// The workers are indexed by rank, index 0 is nil.
func setupJob(t *testing.T, worldSize uint32) (*masterChannel, []*workerChannel, *countingListener) {
	t.Helper()

	m, ln := newTestMaster(t, worldSize)

	masterErr := make(chan error, 1)
	go func() { masterErr <- m.Init() }()

	workers := make([]*workerChannel, worldSize)
	workerErrs := make(chan error, worldSize)
	for r := common.Rank(1); uint32(r) < worldSize; r++ {
		w := newTestWorker(t, r, m.config.Endpoint)
		workers[r] = w
		go func() { workerErrs <- w.Init() }()
	}

	for r := uint32(1); r < worldSize; r++ {
		select {
		case err := <-workerErrs:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for workers to join")
		}
	}
	require.NoError(t, <-masterErr)

	return m, workers, ln
}

// waitForFailure waits until the master latched a failure
func waitForFailure(t *testing.T, m *masterChannel) error {
	t.Helper()
	require.Eventually(t, func() bool { return m.Err() != nil }, 2*time.Second, testPollInterval/2)
	return m.Err()
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestSendMessageRoundTrip verifies that every worker receives the exact bytes sent to its rank
func TestSendMessageRoundTrip(t *testing.T) {
	m, workers, _ := setupJob(t, 4)

	for r := common.Rank(1); r < 4; r++ {
		payloads := [][]byte{
			[]byte(fmt.Sprintf("command for rank %d", r)),
			{},
			bytes.Repeat([]byte{byte(r)}, 70*1024),
		}

		for _, payload := range payloads {
			sent := make(chan error, 1)
			go func() { sent <- m.SendMessage(common.RawMessage(payload), r) }()

			got, err := workers[r].ReceiveMessage()
			require.NoError(t, err)
			require.NoError(t, <-sent)

			assert.Equal(t, len(payload), got.Len())
			assert.True(t, bytes.Equal(payload, got.Bytes()), "rank %d received different bytes", r)
		}
	}

	assert.NoError(t, m.Err())
}

// TestBarrierReverseJoinOrder lets the workers join in reverse rank order and verifies
// that nobody is released before the last worker joined and every slot holds the right connection
func TestBarrierReverseJoinOrder(t *testing.T) {
	const worldSize = 4
	m, _ := newTestMaster(t, worldSize)

	masterErr := make(chan error, 1)
	go func() { masterErr <- m.Init() }()

	workers := make([]*workerChannel, worldSize)
	released := make([]chan error, worldSize)

	start := func(r common.Rank) {
		workers[r] = newTestWorker(t, r, m.config.Endpoint)
		released[r] = make(chan error, 1)
		go func() { released[r] <- workers[r].Init() }()
	}

	// rank 3 and 2 join first and must stay blocked
	start(3)
	time.Sleep(50 * time.Millisecond)
	start(2)
	time.Sleep(100 * time.Millisecond)

	for _, r := range []common.Rank{3, 2} {
		select {
		case err := <-released[r]:
			t.Fatalf("rank %d was released before all workers joined (err=%v)", r, err)
		default:
		}
	}
	select {
	case err := <-masterErr:
		t.Fatalf("master returned before all workers joined (err=%v)", err)
	default:
	}

	// the last worker releases everybody
	start(1)
	for _, r := range []common.Rank{1, 2, 3} {
		select {
		case err := <-released[r]:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("rank %d was not released", r)
		}
	}
	require.NoError(t, <-masterErr)

	// slot r must hold the connection of worker r
	assert.Nil(t, m.conns[0])
	for r := common.Rank(1); r < worldSize; r++ {
		require.NotNil(t, m.conns[r])
		assert.Equal(t, r, m.conns[r].rank)
		assert.Equal(t, workers[r].conn.LocalAddr().String(), m.conns[r].conn.RemoteAddr().String(),
			"slot %d holds the connection of another worker", r)
	}
}

// TestWorldSizeOne verifies that a job without workers initializes immediately
func TestWorldSizeOne(t *testing.T) {
	m, _ := newTestMaster(t, 1)
	require.NoError(t, m.Init())

	err := m.SendMessage(common.RawMessage("x"), 1)
	assert.ErrorIs(t, err, common.ErrInvalidRank)
	require.NoError(t, m.Close())
}

// TestCircuitBreaker verifies that one worker error refuses sends to every rank
func TestCircuitBreaker(t *testing.T) {
	m, workers, _ := setupJob(t, 4)

	require.NoError(t, workers[2].SendError("out of memory"))

	err := waitForFailure(t, m)
	assert.ErrorIs(t, err, common.ErrChannelFailure)
	assert.Contains(t, err.Error(), "error (rank 2): out of memory")

	// every rank is refused, not only the failed one
	for r := common.Rank(1); r < 4; r++ {
		err := m.SendMessage(common.RawMessage("next"), r)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrChannelFailure)
		assert.Contains(t, err.Error(), "rank 2")
		assert.Contains(t, err.Error(), "out of memory")
	}

	// the breaker is checked before the rank
	assert.ErrorIs(t, m.SendMessage(common.RawMessage("next"), 0), common.ErrChannelFailure)

	reports := m.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, common.ErrorReport{Rank: 2, Text: "out of memory", Kind: common.ReportKindWorker}, reports[0])
	assert.False(t, m.Excluded(2), "a worker that reported an error is still polled")
}

// TestFirstFailureStaysLatched verifies that later reports never replace the latched failure
func TestFirstFailureStaysLatched(t *testing.T) {
	m, workers, _ := setupJob(t, 3)

	require.NoError(t, workers[1].SendError("first"))
	waitForFailure(t, m)

	require.NoError(t, workers[1].SendError("second"))
	require.NoError(t, workers[2].SendError("third"))
	require.Eventually(t, func() bool { return len(m.Reports()) == 3 }, 2*time.Second, testPollInterval/2)

	assert.Contains(t, m.Err().Error(), "error (rank 1): first")

	// reports of a single worker keep their order
	var fromRank1 []string
	for _, r := range m.Reports() {
		if r.Rank == 1 {
			fromRank1 = append(fromRank1, r.Text)
		}
	}
	assert.Equal(t, []string{"first", "second"}, fromRank1)
}

// TestDisconnectDetection closes a worker without an error frame
func TestDisconnectDetection(t *testing.T) {
	m, workers, _ := setupJob(t, 3)

	require.NoError(t, workers[1].Close())

	err := waitForFailure(t, m)
	assert.ErrorIs(t, err, common.ErrChannelFailure)
	assert.Contains(t, err.Error(), "error (rank 1): "+hangupText)
	assert.True(t, m.Excluded(1))
	assert.False(t, m.Excluded(2))

	// give the listener several cycles, the disconnect must not be delivered again
	time.Sleep(10 * testPollInterval)

	reports := m.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, common.ErrorReport{Rank: 1, Text: hangupText, Kind: common.ReportKindHangup}, reports[0])

	// the rank that is still alive is refused too
	assert.ErrorIs(t, m.SendMessage(common.RawMessage("x"), 2), common.ErrChannelFailure)
}

// TestDisconnectAfterError verifies that a worker that reports and then exits yields two reports
func TestDisconnectAfterError(t *testing.T) {
	m, workers, _ := setupJob(t, 2)

	require.NoError(t, workers[1].SendError("fatal: segfault"))
	require.NoError(t, workers[1].Close())

	require.Eventually(t, func() bool { return len(m.Reports()) == 2 }, 2*time.Second, testPollInterval/2)
	reports := m.Reports()
	assert.Equal(t, common.ReportKindWorker, reports[0].Kind)
	assert.Equal(t, common.ReportKindHangup, reports[1].Kind)
	assert.Contains(t, m.Err().Error(), "fatal: segfault")
}

// TestInvalidRank verifies that rank 0 and ranks >= WorldSize fail without network I/O
func TestInvalidRank(t *testing.T) {
	m, workers, _ := setupJob(t, 3)

	before := framesSent.Get()
	for _, rank := range []common.Rank{0, 3, 100} {
		err := m.SendMessage(common.RawMessage("x"), rank)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrInvalidRank)
		assert.NotErrorIs(t, err, common.ErrChannelFailure)
		assert.NotErrorIs(t, err, common.ErrTransport)
	}
	assert.Equal(t, before, framesSent.Get(), "invalid ranks must not write frames")

	// nothing was written to any worker
	for r := 1; r < 3; r++ {
		require.NoError(t, workers[r].conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
		_, err := workers[r].ReceiveMessage()
		var netErr net.Error
		require.ErrorAs(t, err, &netErr)
		assert.True(t, netErr.Timeout(), "rank %d received data", r)
	}

	// an invalid rank is no channel failure
	assert.NoError(t, m.Err())
}

// TestSendBeforeInit tests the error returned by an uninitialized master
func TestSendBeforeInit(t *testing.T) {
	m, _ := newTestMaster(t, 3)

	assert.ErrorIs(t, m.SendMessage(common.RawMessage("x"), 1), common.ErrNotInitialized)
	assert.ErrorIs(t, m.SendMessage(common.RawMessage("x"), 0), common.ErrInvalidRank)
	assert.NoError(t, m.Close())
}

// TestConcurrentSenders verifies that concurrent sends to the same rank never interleave frames
func TestConcurrentSenders(t *testing.T) {
	m, workers, _ := setupJob(t, 2)

	const senders = 8
	const perSender = 50

	var wg sync.WaitGroup
	wg.Add(senders)
	for s := 0; s < senders; s++ {
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				// a frame consists of a single repeated letter
				payload := bytes.Repeat([]byte{byte('a' + s)}, 1000+i*37)
				if err := m.SendMessage(common.RawMessage(payload), 1); err != nil {
					t.Errorf("sender %d: %v", s, err)
					return
				}
			}
		}(s)
	}

	counts := make(map[byte]int)
	for i := 0; i < senders*perSender; i++ {
		got, err := workers[1].ReceiveMessage()
		require.NoError(t, err)
		require.NotEmpty(t, got)
		assert.Equal(t, len(got), bytes.Count(got, got[:1]), "frame %d is interleaved", i)
		counts[got[0]]++
	}
	wg.Wait()

	for s := 0; s < senders; s++ {
		assert.Equal(t, perSender, counts[byte('a'+s)])
	}
}

// TestTeardown verifies that Close joins the listener within one poll interval and
// closes every connection exactly once
func TestTeardown(t *testing.T) {
	m, workers, ln := setupJob(t, 4)

	start := time.Now()
	require.NoError(t, m.Close())
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 2*testPollInterval+100*time.Millisecond)

	// a second Close is a no-op
	require.NoError(t, m.Close())

	conns := ln.accepted()
	require.Len(t, conns, 3)
	for _, c := range conns {
		assert.Equal(t, int32(1), c.closes.Load(), "connection to %s", c.RemoteAddr())
	}

	// the workers see the closed link
	for r := 1; r < 4; r++ {
		_, err := workers[r].ReceiveMessage()
		assert.ErrorIs(t, err, common.ErrTransport)
	}

	// teardown is no failure
	assert.NoError(t, m.Err())
	assert.Empty(t, m.Reports())

	// sends after teardown surface as transport errors
	assert.ErrorIs(t, m.SendMessage(common.RawMessage("x"), 1), common.ErrTransport)
}

// TestCloseAbortsBarrier verifies that Close unblocks a master waiting for workers
func TestCloseAbortsBarrier(t *testing.T) {
	m, _ := newTestMaster(t, 3)

	masterErr := make(chan error, 1)
	go func() { masterErr <- m.Init() }()

	// one of two workers joins
	w := newTestWorker(t, 1, m.config.Endpoint)
	workerErr := make(chan error, 1)
	go func() { workerErr <- w.Init() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Close())

	select {
	case err := <-masterErr:
		assert.ErrorIs(t, err, common.ErrSetupFailure)
	case <-time.After(2 * time.Second):
		t.Fatal("Init was not aborted by Close")
	}

	select {
	case err := <-workerErr:
		assert.ErrorIs(t, err, common.ErrSetupFailure)
	case <-time.After(2 * time.Second):
		t.Fatal("the joined worker was not released")
	}
}

// TestCloseAbortsStalledHandshake verifies that Close unblocks a master reading the
// rank of a peer that connected but never sends it
func TestCloseAbortsStalledHandshake(t *testing.T) {
	m, ln := newTestMaster(t, 3)

	masterErr := make(chan error, 1)
	go func() { masterErr <- m.Init() }()

	// connects without announcing a rank
	silent, err := net.Dial("tcp", m.config.Endpoint)
	require.NoError(t, err)
	defer silent.Close()
	require.Eventually(t, func() bool { return len(ln.accepted()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())

	select {
	case err := <-masterErr:
		assert.ErrorIs(t, err, common.ErrSetupFailure)
	case <-time.After(2 * time.Second):
		t.Fatal("Init was not aborted by Close")
	}

	// the stalled connection was closed exactly once
	conns := ln.accepted()
	require.Len(t, conns, 1)
	assert.Equal(t, int32(1), conns[0].closes.Load())

	require.NoError(t, silent.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = silent.Read(make([]byte, 1))
	assert.Error(t, err)
}

// TestSetupFailures tests the handshake errors that abort the barrier
func TestSetupFailures(t *testing.T) {
	testCases := []struct {
		name  string
		ranks []common.Rank
		want  string
	}{
		{name: "Rank out of range", ranks: []common.Rank{5}, want: "outside of"},
		{name: "Master rank", ranks: []common.Rank{0}, want: "outside of"},
		{name: "Duplicate rank", ranks: []common.Rank{1, 1}, want: "joined twice"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestMaster(t, 3)

			masterErr := make(chan error, 1)
			go func() { masterErr <- m.Init() }()

			// raw connections, the worker channel refuses to announce invalid ranks
			for _, rank := range tc.ranks {
				conn, err := net.Dial("tcp", m.config.Endpoint)
				require.NoError(t, err)
				defer conn.Close()
				require.NoError(t, writeRank(conn, rank))
			}

			select {
			case err := <-masterErr:
				require.ErrorIs(t, err, common.ErrSetupFailure)
				assert.Contains(t, err.Error(), tc.want)
			case <-time.After(2 * time.Second):
				t.Fatal("Init did not fail")
			}
		})
	}
}

// TestSetupTimeout verifies that the barrier gives up after the configured timeout
func TestSetupTimeout(t *testing.T) {
	m, _ := newTestMaster(t, 2)
	m.config.SetupTimeoutSecond = 1

	start := time.Now()
	err := m.Init()
	assert.ErrorIs(t, err, common.ErrSetupFailure)
	assert.Less(t, time.Since(start), 3*time.Second)
}

// TestInitTwice verifies that a master cannot be initialized twice
func TestInitTwice(t *testing.T) {
	m, _, _ := setupJob(t, 2)
	assert.ErrorIs(t, m.Init(), common.ErrSetupFailure)
}

// TestInvalidMasterConfig tests the configuration validation
func TestInvalidMasterConfig(t *testing.T) {
	var m transport.IMasterChannel = NewBaseMasterChannel(&listenerConnector{}, common.MasterConfig{WorldSize: 0, Endpoint: "x"})
	err := m.Init()
	assert.ErrorIs(t, err, common.ErrSetupFailure)
	assert.True(t, strings.Contains(err.Error(), "world size"))
}
