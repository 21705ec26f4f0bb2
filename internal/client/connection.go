package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/api/dto"
)

// Reconnect and heartbeat defaults.
const (
	DefaultBaseDelay      = 3 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultPongWait       = 60 * time.Second
	DefaultWriteWait      = 10 * time.Second

	outboundBuffer = 64
	maxFrameBytes  = 1 << 20
)

// State is the connection manager's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ConnectionConfig configures a ConnectionManager. Zero values take the
// package defaults; MaxRetries 0 retries forever.
type ConnectionConfig struct {
	URL            string
	Credentials    Credentials
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxRetries     int
	ConnectTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
}

// ConnectionHandlers receive connection events. They run on the manager's
// goroutines and must not block for long.
type ConnectionHandlers struct {
	OnFrame        func(dto.Frame)
	OnConnected    func()
	OnDisconnected func(error)
	OnStateChange  func(State)
	OnFatal        func(error)
}

// link is one established websocket connection.
type link struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (l *link) stop() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

// ConnectionManager keeps one websocket to the channel endpoint alive,
// reconnecting with capped exponential backoff after drops.
type ConnectionManager struct {
	cfg      ConnectionConfig
	handlers ConnectionHandlers
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	link    *link
	timer   *time.Timer
	attempt int
	closed  bool
	fatal   error
}

// NewConnectionManager builds a manager in the Disconnected state.
func NewConnectionManager(cfg ConnectionConfig, handlers ConnectionHandlers) *ConnectionManager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = DefaultWriteWait
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		cfg:      cfg,
		handlers: handlers,
		logger:   logger.With(zap.String("component", "connection")),
		state:    StateDisconnected,
	}
}

// State returns the current state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the fatal error that stopped the manager, if any.
func (m *ConnectionManager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

// backoff returns the delay before reconnect attempt n (0-based).
func (m *ConnectionManager) backoff(n int) time.Duration {
	delay := m.cfg.BaseDelay
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= m.cfg.MaxDelay {
			return m.cfg.MaxDelay
		}
	}
	return delay
}

// Connect makes one connection attempt. A network failure schedules a
// reconnect and is returned as a *NetworkError; ErrUnauthenticated is
// returned without scheduling anything.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.state == StateConnected || m.state == StateConnecting:
		m.mu.Unlock()
		return nil
	}
	m.stopTimerLocked()
	m.state = StateConnecting
	m.mu.Unlock()
	m.emitState(StateConnecting)

	conn, err := m.dial(ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		m.state = StateDisconnected
		var fatal error
		if errors.Is(err, ErrUnauthenticated) {
			m.fatal = err
			fatal = err
		} else {
			fatal = m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		m.emitState(StateDisconnected)
		m.emitFatal(fatal)
		return err
	}

	l := &link{conn: conn, out: make(chan []byte, outboundBuffer), done: make(chan struct{})}
	m.link = l
	m.attempt = 0
	m.fatal = nil
	m.state = StateConnected
	m.mu.Unlock()

	m.logger.Info("connected", zap.String("url", m.cfg.URL))
	go m.writePump(l)
	go m.readPump(l)
	m.emitState(StateConnected)
	if m.handlers.OnConnected != nil {
		m.handlers.OnConnected()
	}
	return nil
}

func (m *ConnectionManager) dial(ctx context.Context) (*websocket.Conn, error) {
	if m.cfg.Credentials == nil {
		return nil, ErrUnauthenticated
	}
	token, err := m.cfg.Credentials.Token(ctx)
	if err != nil || token == "" {
		return nil, ErrUnauthenticated
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := m.cfg.Dialer.DialContext(dialCtx, m.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrUnauthenticated
		}
		return nil, &NetworkError{Op: "dial", Err: err}
	}
	return conn, nil
}

// scheduleReconnectLocked arms the single reconnect timer, replacing any
// previous one. It returns ErrRetryBudgetExhausted when no attempt is left.
func (m *ConnectionManager) scheduleReconnectLocked() error {
	if m.closed {
		return nil
	}
	m.stopTimerLocked()
	if m.cfg.MaxRetries > 0 && m.attempt >= m.cfg.MaxRetries {
		m.fatal = ErrRetryBudgetExhausted
		return ErrRetryBudgetExhausted
	}
	delay := m.backoff(m.attempt)
	m.attempt++
	m.logger.Info("reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", m.attempt))
	m.timer = time.AfterFunc(delay, m.reconnect)
	return nil
}

func (m *ConnectionManager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *ConnectionManager) reconnect() {
	m.mu.Lock()
	if m.closed || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	if err := m.Connect(context.Background()); err != nil {
		m.logger.Debug("reconnect failed", zap.Error(err))
	}
}

// drop tears l down and schedules a reconnect if l is still current.
func (m *ConnectionManager) drop(l *link, cause error) {
	l.stop()

	m.mu.Lock()
	if m.link != l {
		m.mu.Unlock()
		return
	}
	m.link = nil
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	fatal := m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.logger.Warn("connection lost", zap.Error(cause))
	m.emitState(StateDisconnected)
	if m.handlers.OnDisconnected != nil {
		m.handlers.OnDisconnected(cause)
	}
	m.emitFatal(fatal)
}

func (m *ConnectionManager) readPump(l *link) {
	l.conn.SetReadLimit(maxFrameBytes)
	_ = l.conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	})

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			m.drop(l, &NetworkError{Op: "read", Err: err})
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))

		var frame dto.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.logger.Warn("malformed frame", zap.Error(err))
			continue
		}
		if m.handlers.OnFrame != nil {
			m.handlers.OnFrame(frame)
		}
	}
}

func (m *ConnectionManager) writePump(l *link) {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case data := <-l.out:
			_ = l.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.drop(l, &NetworkError{Op: "write", Err: err})
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.drop(l, &NetworkError{Op: "ping", Err: err})
				return
			}
		}
	}
}

// Send queues a frame on the current connection. It never waits for the
// server.
func (m *ConnectionManager) Send(frame dto.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	m.mu.Lock()
	l := m.link
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if l == nil {
		return ErrNotConnected
	}
	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}
	select {
	case l.out <- data:
		return nil
	default:
		return &NetworkError{Op: "send", Err: errors.New("outbound buffer full")}
	}
}

// Close tears the connection down for good. The reconnect timer is
// cancelled and no reconnect follows the socket close.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimerLocked()
	l := m.link
	m.link = nil
	m.state = StateClosed
	m.mu.Unlock()

	if l != nil {
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(m.cfg.WriteWait))
		l.stop()
	}
	m.emitState(StateClosed)
}

func (m *ConnectionManager) emitState(s State) {
	if m.handlers.OnStateChange != nil {
		m.handlers.OnStateChange(s)
	}
}

func (m *ConnectionManager) emitFatal(err error) {
	if err == nil {
		return
	}
	m.logger.Error("connection manager stopped", zap.Error(err))
	if m.handlers.OnFatal != nil {
		m.handlers.OnFatal(err)
	}
}
