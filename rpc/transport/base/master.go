package base

import (
	"fmt"
	"github.com/ValentinKolb/dCMD/lib/util"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/ValentinKolb/dCMD/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("transport/channel")

const (
	hangupText      = "connection with worker has been closed"
	pollFailureText = "failed to receive error from worker"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific master operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.MasterConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.MasterConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// pollEvent is handed from a worker reader to the error listener.
// err is nil if text holds a complete error frame.
type pollEvent struct {
	rank common.Rank
	text string
	err  error
}

// workerConn is the master's end of the connection to one worker
type workerConn struct {
	rank      common.Rank
	conn      net.Conn
	writeMu   sync.Mutex // Serializes frames of concurrent senders
	closeOnce sync.Once
}

func (w *workerConn) close() {
	w.closeOnce.Do(func() {
		if err := w.conn.Close(); err != nil {
			Logger.Debugf("Closing connection of rank %d: %v", w.rank, err)
		}
	})
}

// masterChannel implements transport.IMasterChannel independent of the socket type
type masterChannel struct {
	connector IServerConnector
	config    common.MasterConfig

	// mu protects ln, pending and the publication of conns during setup
	mu       sync.Mutex
	ln       net.Listener
	pending  []net.Conn // accepted during setup, not yet published
	initOnce atomic.Bool
	ready    atomic.Bool // conns is populated and immutable

	// conns is indexed by rank, slot 0 stays nil
	conns []*workerConn

	// failure is latched once by the error listener and never cleared
	failure atomic.Pointer[string]

	// excluded holds ranks whose connection is never serviced again
	excluded *xsync.MapOf[common.Rank, struct{}]

	// poll set, built by the error listener on its first poll
	events  *util.LockFreeMPSC[pollEvent]
	drained bool

	exiting  atomic.Bool
	listener sync.WaitGroup
	readers  sync.WaitGroup

	reportsMu sync.Mutex
	reports   []common.ErrorReport

	closeOnce sync.Once
}

// -----------------------------------------------------------
// Channel Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseMasterChannel creates a new master channel with the specified connector
func NewBaseMasterChannel(connector IServerConnector, config common.MasterConfig) transport.IMasterChannel {
	return &masterChannel{
		connector: connector,
		config:    config,
		excluded:  xsync.NewMapOf[common.Rank, struct{}](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IMasterChannel)
// --------------------------------------------------------------------------

func (m *masterChannel) Init() error {
	if err := m.config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrSetupFailure, err)
	}
	if !m.initOnce.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: channel already initialized", common.ErrSetupFailure)
	}

	worldSize := int(m.config.WorldSize)

	m.mu.Lock()
	if m.exiting.Load() {
		m.mu.Unlock()
		return fmt.Errorf("%w: channel is closed", common.ErrSetupFailure)
	}
	ln, err := m.connector.Listen(m.config)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: failed to listen on %s: %v", common.ErrSetupFailure, m.config.Endpoint, err)
	}
	m.ln = ln
	m.mu.Unlock()

	// the listener is only needed for the barrier
	defer m.closeListener()

	Logger.Infof("Waiting for %d workers on %s (%s)", worldSize-1, m.config.Endpoint, m.connector.GetName())

	// Bound the whole barrier if configured
	var deadline time.Time
	if m.config.SetupTimeoutSecond > 0 {
		deadline = time.Now().Add(time.Duration(m.config.SetupTimeoutSecond) * time.Second)
		if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
			if err := dl.SetDeadline(deadline); err != nil {
				return fmt.Errorf("%w: failed to set accept deadline: %v", common.ErrSetupFailure, err)
			}
		}
	}

	conns := make([]*workerConn, worldSize)

	// fail closes everything accepted so far, there is no partial membership
	fail := func(format string, args ...interface{}) error {
		for _, w := range conns {
			if w != nil {
				w.close()
			}
		}
		return fmt.Errorf("%w: %s", common.ErrSetupFailure, fmt.Sprintf(format, args...))
	}

	// Workers join in arrival order, the announced rank decides the slot
	for joined := 1; joined < worldSize; joined++ {
		conn, err := ln.Accept()
		if err != nil {
			return fail("failed to accept worker %d/%d: %v", joined, worldSize-1, err)
		}
		if !m.trackPending(conn) {
			conn.Close()
			return fail("channel closed during setup")
		}

		rank, err := m.handshake(conn, deadline)
		if err != nil {
			conn.Close()
			return fail("handshake with %s failed: %v", conn.RemoteAddr(), err)
		}
		if rank == common.MasterRank || int(rank) >= worldSize {
			conn.Close()
			return fail("worker at %s announced rank %d outside of [1, %d)", conn.RemoteAddr(), rank, worldSize)
		}
		if conns[rank] != nil {
			conn.Close()
			return fail("rank %d joined twice (%s)", rank, conn.RemoteAddr())
		}

		conns[rank] = &workerConn{rank: rank, conn: conn}
		workersJoined.Inc()
		Logger.Infof("Worker with rank %d joined from %s (%d/%d)", rank, conn.RemoteAddr(), joined, worldSize-1)
	}

	// Release the barrier: every worker blocks in Init until it reads this byte
	for _, w := range conns[1:] {
		if err := writeConfirm(w.conn); err != nil {
			return fail("failed to release worker %d: %v", w.rank, err)
		}
		if !deadline.IsZero() {
			if err := w.conn.SetDeadline(time.Time{}); err != nil {
				return fail("failed to clear deadline of worker %d: %v", w.rank, err)
			}
		}
	}

	m.closeListener()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exiting.Load() {
		return fail("channel closed during setup")
	}
	m.conns = conns
	m.pending = nil
	m.ready.Store(true)

	m.listener.Add(1)
	go m.listenErrors()

	Logger.Infof("All %d workers joined, barrier released", worldSize-1)
	return nil
}

func (m *masterChannel) SendMessage(msg common.Message, rank common.Rank) error {
	// Any observed failure invalidates the whole job, not only the failed rank
	if failure := m.failure.Load(); failure != nil {
		sendRefusedCounter("channel_failure").Inc()
		return fmt.Errorf("%w: %s", common.ErrChannelFailure, *failure)
	}

	if rank == common.MasterRank || uint32(rank) >= m.config.WorldSize {
		sendRefusedCounter("invalid_rank").Inc()
		return fmt.Errorf("%w: %d is not a worker rank (world size %d)", common.ErrInvalidRank, rank, m.config.WorldSize)
	}

	if !m.ready.Load() {
		return common.ErrNotInitialized
	}

	if msg == nil {
		return fmt.Errorf("message for rank %d is nil", rank)
	}

	data := msg.Bytes()
	w := m.conns[rank]

	w.writeMu.Lock()
	err := writeFrame(w.conn, data)
	w.writeMu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: failed to send message to rank %d: %w", common.ErrTransport, rank, err)
	}

	framesSent.Inc()
	frameBytesSent.Add(len(data))
	return nil
}

func (m *masterChannel) Err() error {
	if failure := m.failure.Load(); failure != nil {
		return fmt.Errorf("%w: %s", common.ErrChannelFailure, *failure)
	}
	return nil
}

func (m *masterChannel) Reports() []common.ErrorReport {
	m.reportsMu.Lock()
	defer m.reportsMu.Unlock()

	reports := make([]common.ErrorReport, len(m.reports))
	copy(reports, m.reports)
	return reports
}

func (m *masterChannel) Excluded(rank common.Rank) bool {
	_, ok := m.excluded.Load(rank)
	return ok
}

func (m *masterChannel) WorldSize() uint32 {
	return m.config.WorldSize
}

func (m *masterChannel) Close() error {
	m.closeOnce.Do(func() {
		m.exiting.Store(true)

		// Aborts a barrier that is still waiting for workers or handshakes
		m.closeListener()
		m.abortPending()

		// The listener notices the exit flag within one poll interval
		m.listener.Wait()

		m.mu.Lock()
		conns := m.conns
		m.mu.Unlock()

		for _, w := range conns {
			if w != nil {
				w.close()
			}
		}

		// Readers are blocked in reads until their connection is closed
		m.readers.Wait()
		if m.events != nil {
			m.events.Close()
		}

		Logger.Infof("Master channel closed")
	})
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handshake upgrades an accepted connection and reads the announced rank
func (m *masterChannel) handshake(conn net.Conn, deadline time.Time) (common.Rank, error) {
	if err := m.connector.UpgradeConnection(conn, m.config); err != nil {
		return 0, fmt.Errorf("failed to upgrade connection: %v", err)
	}
	if !deadline.IsZero() {
		if err := conn.SetDeadline(deadline); err != nil {
			return 0, err
		}
	}
	// Close may have expired the connection before the deadline above replaced it
	if m.exiting.Load() {
		return 0, fmt.Errorf("channel closed during setup")
	}
	return readRank(conn)
}

// trackPending registers a connection accepted during setup so Close can abort
// its handshake. It returns false if the channel is already closing.
func (m *masterChannel) trackPending(conn net.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.exiting.Load() {
		return false
	}
	m.pending = append(m.pending, conn)
	return true
}

// abortPending expires every connection of a running barrier. The blocked
// handshake fails and Init closes the connections on its failure path.
func (m *masterChannel) abortPending() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conn := range m.pending {
		if err := conn.SetDeadline(time.Now()); err != nil {
			Logger.Debugf("Expiring connection %s: %v", conn.RemoteAddr(), err)
		}
	}
	m.pending = nil
}

// closeListener closes the setup listener if it is still open
func (m *masterChannel) closeListener() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ln != nil {
		if err := m.ln.Close(); err != nil {
			Logger.Debugf("Closing listener: %v", err)
		}
		m.ln = nil
	}
}

// listenErrors is the background error listener. It runs from Init until Close.
func (m *masterChannel) listenErrors() {
	defer m.listener.Done()

	for {
		report, ok := m.recvError()
		if !ok {
			return
		}
		m.latch(report)
	}
}

// recvError waits for the next error report. The wait is bounded by the poll
// interval, after every wake the exit flag is checked. ok is false once the
// channel is closing.
func (m *masterChannel) recvError() (report common.ErrorReport, ok bool) {
	if m.events == nil {
		m.buildPollSet()
	}

	var events <-chan *pollEvent
	if !m.drained {
		events = m.events.Recv()
	}

	interval := m.config.PollInterval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case ev, open := <-events:
			if m.exiting.Load() {
				return common.ErrorReport{}, false
			}
			if !open {
				// Close only closes the queue after setting the exit flag, so this
				// guards a queue that stops delivering on its own
				m.drained = true
				return common.ErrorReport{Rank: common.MasterRank, Text: pollFailureText, Kind: common.ReportKindPoll}, true
			}
			return m.toReport(ev), true

		case <-timer.C:
			if m.exiting.Load() {
				return common.ErrorReport{}, false
			}
			timer.Reset(interval)
		}
	}
}

// buildPollSet starts one reader per worker connection. Called once by the listener.
func (m *masterChannel) buildPollSet() {
	m.events = util.NewLockFreeMPSC[pollEvent]()

	for _, w := range m.conns {
		if w == nil {
			continue
		}
		m.readers.Add(1)
		go m.pollWorker(w)
	}
}

// pollWorker reads error frames of a single worker until the connection fails.
// A failed connection is not read again.
func (m *masterChannel) pollWorker(w *workerConn) {
	defer m.readers.Done()

	for {
		data, err := readFrame(w.conn)
		if m.exiting.Load() {
			return
		}

		if err != nil {
			m.events.Push(&pollEvent{rank: w.rank, err: err})
			return
		}

		errorsReceived.Inc()
		m.events.Push(&pollEvent{rank: w.rank, text: string(data)})
	}
}

// toReport converts a poll event to an error report and excludes dead connections
func (m *masterChannel) toReport(ev *pollEvent) common.ErrorReport {
	if ev.err == nil {
		return common.ErrorReport{Rank: ev.rank, Text: ev.text, Kind: common.ReportKindWorker}
	}

	m.excluded.Store(ev.rank, struct{}{})

	if isHangup(ev.err) {
		return common.ErrorReport{Rank: ev.rank, Text: hangupText, Kind: common.ReportKindHangup}
	}
	return common.ErrorReport{Rank: ev.rank, Text: "recv: " + ev.err.Error(), Kind: common.ReportKindRecv}
}

// latch records the report. The first report sets the channel failure.
func (m *masterChannel) latch(report common.ErrorReport) {
	errorReportCounter(report.Kind).Inc()

	m.reportsMu.Lock()
	m.reports = append(m.reports, report)
	m.reportsMu.Unlock()

	msg := report.String()
	if m.failure.CompareAndSwap(nil, &msg) {
		Logger.Errorf("Channel failed, refusing all further messages: %s", msg)
	} else {
		Logger.Warningf("Additional worker failure: %s", msg)
	}
}
