package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
)

type Config struct {
	Endpoint             string        `yaml:"endpoint"`
	PingInterval         time.Duration `yaml:"pingInterval"`
	ActivityTimeout      time.Duration `yaml:"activityTimeout"`
	ReconnectInterval    time.Duration `yaml:"reconnectInterval"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
	MaxMessageBytes      int           `yaml:"maxMessageBytes"`
	WriteTimeout         time.Duration `yaml:"writeTimeout"`
	DialTimeout          time.Duration `yaml:"dialTimeout"`
}

func DefaultConfig() Config {
	return Config{
		PingInterval:         30 * time.Second,
		ActivityTimeout:      90 * time.Second,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 10,
		MaxMessageBytes:      512 * 1024,
		WriteTimeout:         10 * time.Second,
		DialTimeout:          10 * time.Second,
	}
}

func NormalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ActivityTimeout <= 0 {
		cfg.ActivityTimeout = def.ActivityTimeout
	}
	if cfg.ActivityTimeout < cfg.PingInterval {
		cfg.ActivityTimeout = 2 * cfg.PingInterval
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	return cfg
}

// Dialer opens a relay connection.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is one open relay socket. Run blocks reading frames into sink until
// the connection ends; writes may be issued concurrently with Run.
type Conn interface {
	Run(ctx context.Context, sink Sink) error
	WriteText(data []byte) error
	WritePing() error
	Close() error
}

type Sink interface {
	Fragment(Fragment)
	Pong()
}

// Events posted back to the owner's dispatch loop. Gen identifies the
// connection attempt; events from superseded attempts are ignored.
type (
	DialResult struct {
		Gen  uint64
		Conn Conn
		Err  error
	}
	FrameReceived struct {
		Gen      uint64
		Fragment Fragment
	}
	PongReceived struct {
		Gen uint64
	}
	ConnClosed struct {
		Gen uint64
		Err error
	}
)

type Status struct {
	State             string    `json:"state"`
	Endpoint          string    `json:"endpoint"`
	Attempts          int       `json:"attempts"`
	LastActivity      time.Time `json:"last_activity"`
	ConnectedAt       time.Time `json:"connected_at"`
	NextAttempt       time.Time `json:"next_attempt"`
	PersistentFailure bool      `json:"persistent_failure"`
	StateTransitions  int       `json:"state_transitions"`
	LastError         string    `json:"last_error,omitempty"`
}

// Manager owns the relay connection lifecycle. It is not safe for concurrent
// use: every method must be called from the owner's dispatch loop, with
// background I/O reported through post.
type Manager struct {
	cfg    Config
	dialer Dialer
	post   func(any)
	now    func() time.Time
	logger *slog.Logger

	framer *Framer

	gen              uint64
	conn             Conn
	runCancel        context.CancelFunc
	status           Status
	lastPing         time.Time
	reconnectPending bool
	stopped          bool

	// OnStateChange is called after every state transition.
	OnStateChange func(Status)
}

func NewManager(cfg Config, dialer Dialer, post func(any), logger *slog.Logger) *Manager {
	cfg = NormalizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		post:   post,
		now:    time.Now,
		logger: logger.With("component", "relay"),
		framer: NewFramer(cfg.MaxMessageBytes),
		status: Status{State: StateDisconnected, Endpoint: cfg.Endpoint},
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) State() string {
	return m.status.State
}

func (m *Manager) Status() Status {
	return m.status
}

func (m *Manager) LastActivity() time.Time {
	return m.status.LastActivity
}

// Connect starts dialing when disconnected. It clears any persistent failure,
// so it doubles as the user-triggered recovery path.
func (m *Manager) Connect(ctx context.Context) error {
	if m.cfg.Endpoint == "" {
		return &TransportError{Op: "dial", Err: errors.New("relay endpoint is not configured")}
	}
	m.stopped = false
	if m.status.State != StateDisconnected {
		return nil
	}
	m.status.PersistentFailure = false
	m.status.Attempts = 0
	m.status.NextAttempt = time.Time{}
	m.startDial(ctx)
	return nil
}

func (m *Manager) startDial(ctx context.Context) {
	m.gen++
	gen := m.gen
	m.reconnectPending = false
	m.status.NextAttempt = time.Time{}
	m.transition(StateConnecting)
	m.logger.Info("relay dial started", "operation", "relay.dial", "endpoint", m.cfg.Endpoint, "attempt", m.status.Attempts+1)

	dialer, endpoint, post, timeout := m.dialer, m.cfg.Endpoint, m.post, m.cfg.DialTimeout
	go func() {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := dialer.Dial(dialCtx, endpoint)
		post(DialResult{Gen: gen, Conn: conn, Err: err})
	}()
}

// HandleDialResult applies the outcome of an asynchronous dial. It returns
// true when the connection is now established.
func (m *Manager) HandleDialResult(ctx context.Context, res DialResult) bool {
	if res.Gen != m.gen || m.status.State != StateConnecting {
		if res.Conn != nil {
			_ = res.Conn.Close()
		}
		return false
	}
	if res.Err != nil {
		m.status.LastError = (&TransportError{Op: "dial", Err: res.Err}).Error()
		m.status.Attempts++
		m.logger.Warn("relay dial failed", "operation", "relay.dial", "attempt", m.status.Attempts, "error", res.Err.Error())
		m.scheduleRetry()
		return false
	}

	now := m.now()
	m.conn = res.Conn
	m.status.Attempts = 0
	m.status.PersistentFailure = false
	m.status.LastError = ""
	m.status.LastActivity = now
	m.status.ConnectedAt = now
	m.lastPing = now
	m.framer.Reset()

	runCtx, cancel := context.WithCancel(ctx)
	m.runCancel = cancel
	gen, conn, post := m.gen, m.conn, m.post
	go func() {
		err := conn.Run(runCtx, genSink{gen: gen, post: post})
		post(ConnClosed{Gen: gen, Err: err})
	}()
	m.transition(StateConnected)
	m.logger.Info("relay connected", "operation", "relay.dial", "endpoint", m.cfg.Endpoint)
	return true
}

// HandleFrame feeds one inbound fragment through the framer and returns a
// complete message when one is ready. Framing errors leave the connection up.
func (m *Manager) HandleFrame(ev FrameReceived) (string, bool, error) {
	if ev.Gen != m.gen || m.status.State != StateConnected {
		return "", false, nil
	}
	m.MarkActivity()
	return m.framer.Feed(ev.Fragment)
}

func (m *Manager) HandlePong(ev PongReceived) {
	if ev.Gen != m.gen || m.status.State != StateConnected {
		return
	}
	m.MarkActivity()
}

// HandleClosed reacts to the read loop ending. It returns true if the event
// belonged to the live connection.
func (m *Manager) HandleClosed(ev ConnClosed) bool {
	if ev.Gen != m.gen || m.status.State != StateConnected {
		return false
	}
	reason := "closed"
	if ev.Err != nil {
		reason = ev.Err.Error()
		m.status.LastError = (&TransportError{Op: "read", Err: ev.Err}).Error()
	}
	m.logger.Warn("relay connection lost", "operation", "relay.read", "reason", reason)
	m.dropConn()
	m.scheduleRetry()
	return true
}

func (m *Manager) MarkActivity() {
	m.status.LastActivity = m.now()
}

// Send writes one text message. It queues nothing: callers retry after the
// connection is back.
func (m *Manager) Send(data []byte) error {
	if m.status.State != StateConnected || m.conn == nil {
		return ErrNotConnected
	}
	if len(data) > m.cfg.MaxMessageBytes {
		return ErrFrameTooLarge
	}
	if err := m.conn.WriteText(data); err != nil {
		terr := &TransportError{Op: "write", Err: err}
		m.status.LastError = terr.Error()
		m.logger.Warn("relay write failed", "operation", "relay.write", "error", err.Error())
		m.dropConn()
		m.scheduleRetry()
		return terr
	}
	return nil
}

// Reconnect tears the connection down and dials again at the next Tick. It
// is a no-op while a dial is already underway or after the retry budget is
// exhausted.
func (m *Manager) Reconnect(reason string) bool {
	switch {
	case m.stopped, m.status.PersistentFailure:
		return false
	case m.status.State == StateConnecting, m.status.State == StateReconnecting:
		return false
	}
	m.logger.Info("relay reconnect requested", "operation", "relay.reconnect", "reason", reason)
	m.dropConn()
	m.reconnectPending = true
	m.status.NextAttempt = time.Time{}
	m.transition(StateReconnecting)
	return true
}

// Tick drives deferred reconnects, scheduled retries and keep-alive pings.
func (m *Manager) Tick(ctx context.Context) {
	now := m.now()
	switch m.status.State {
	case StateReconnecting:
		if m.reconnectPending {
			m.startDial(ctx)
		}
	case StateDisconnected:
		if m.stopped || m.status.PersistentFailure || m.status.NextAttempt.IsZero() {
			return
		}
		if !now.Before(m.status.NextAttempt) {
			m.startDial(ctx)
		}
	case StateConnected:
		if now.Sub(m.lastPing) < m.cfg.PingInterval {
			return
		}
		m.lastPing = now
		if err := m.conn.WritePing(); err != nil {
			m.status.LastError = (&TransportError{Op: "ping", Err: err}).Error()
			m.logger.Warn("relay ping failed", "operation", "relay.ping", "error", err.Error())
			m.dropConn()
			m.scheduleRetry()
		}
	}
}

// Idle reports how long the connection has gone without inbound traffic.
func (m *Manager) Idle() time.Duration {
	if m.status.State != StateConnected {
		return 0
	}
	return m.now().Sub(m.status.LastActivity)
}

func (m *Manager) Disconnect() {
	m.stopped = true
	m.reconnectPending = false
	m.status.NextAttempt = time.Time{}
	m.dropConn()
	m.transition(StateDisconnected)
}

func (m *Manager) scheduleRetry() {
	if m.status.Attempts >= m.cfg.MaxReconnectAttempts {
		m.status.PersistentFailure = true
		m.status.NextAttempt = time.Time{}
		m.logger.Error("relay retry budget exhausted", "operation", "relay.reconnect", "attempts", m.status.Attempts, "error", ErrPersistentConnectionFailure.Error())
	} else if !m.stopped {
		m.status.NextAttempt = m.now().Add(m.cfg.ReconnectInterval)
	}
	m.transition(StateDisconnected)
}

func (m *Manager) dropConn() {
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.framer.Reset()
	// Invalidate events still in flight from the old connection.
	m.gen++
}

func (m *Manager) transition(next string) {
	if m.status.State == next {
		return
	}
	m.status.State = next
	m.status.StateTransitions++
	if m.OnStateChange != nil {
		m.OnStateChange(m.status)
	}
}

type genSink struct {
	gen  uint64
	post func(any)
}

func (s genSink) Fragment(fr Fragment) {
	s.post(FrameReceived{Gen: s.gen, Fragment: fr})
}

func (s genSink) Pong() {
	s.post(PongReceived{Gen: s.gen})
}
