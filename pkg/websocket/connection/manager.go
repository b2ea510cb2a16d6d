// Package connection manages one WebSocket session: dialing, the read loop,
// keepalive pings and reconnection with exponential backoff.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/pkg/clock"
)

var (
	ErrNotConnected     = errors.New("websocket not connected")
	ErrAlreadyConnected = errors.New("websocket already connected or connecting")
	ErrReconnectsSpent  = errors.New("max reconnection attempts reached")
)

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handlers are invoked from the manager's goroutines. All are optional.
type Handlers struct {
	// OnConnect runs after every successful dial, including reconnects,
	// and is typically used to (re)subscribe.
	OnConnect func(ctx context.Context) error
	OnMessage func(data []byte) error
	// OnDisconnect reports an unexpected loss of the session.
	OnDisconnect func(err error)
	OnReconnect  func(attempt int)
	// OnReconnectFailed reports a failed attempt; err wraps
	// ErrReconnectsSpent once the manager gives up.
	OnReconnectFailed func(attempt int, err error)
}

// Stats is a point-in-time view of the session.
type Stats struct {
	State        string    `json:"state"`
	URL          string    `json:"url"`
	LastActivity time.Time `json:"last_activity"`
	Received     uint64    `json:"messages_received"`
	Reconnects   uint64    `json:"reconnects"`
	BreakerOpen  bool      `json:"breaker_open"`
}

// Manager handles the WebSocket connection lifecycle with standard ping/pong.
type Manager struct {
	config  Config
	dialer  Dialer
	clock   clock.Clock
	backoff Backoff
	breaker *circuitBreaker
	logger  *zap.Logger

	handlers Handlers

	mu           sync.RWMutex
	state        ConnectionState
	conn         Conn
	runCtx       context.Context
	cancel       context.CancelFunc
	lastActivity time.Time
	received     uint64
	reconnects   uint64

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewManager(config Config, dialer Dialer, clk clock.Clock, logger *zap.Logger) *Manager {
	config.ApplyDefaults()
	if dialer == nil {
		dialer = NewGorillaDialer(config)
	}
	return &Manager{
		config:  config,
		dialer:  dialer,
		clock:   clk,
		backoff: NewExponentialBackoff(config.ReconnectDelay, config.MaxReconnectDelay),
		breaker: newCircuitBreaker(clk, config.BreakerFailures, config.BreakerReset),
		logger:  logger.Named("websocket").With(zap.String("url", config.URL)),
		state:   StateDisconnected,
	}
}

// SetHandlers must be called before Connect.
func (m *Manager) SetHandlers(h Handlers) {
	m.handlers = h
}

// Connect dials the configured URL. ctx bounds the dial and the OnConnect
// handler only; the session lives until Disconnect.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.config.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateDisconnected && m.state != StateFailed {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.state = StateConnecting
	m.runCtx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	if err := m.dial(ctx, StateFailed); err != nil {
		m.mu.Lock()
		if m.state == StateConnecting {
			m.state = StateFailed
		}
		m.cancel()
		m.mu.Unlock()
		m.wg.Wait()
		return err
	}

	m.logger.Info("WebSocket connected")
	return nil
}

// dial establishes a session. If the OnConnect handler fails the new
// session is closed again and the state set to fallback.
func (m *Manager) dial(ctx context.Context, fallback ConnectionState) error {
	headers := make(http.Header, len(m.config.Headers))
	for k, v := range m.config.Headers {
		headers.Set(k, v)
	}

	var conn Conn
	err := m.breaker.Execute(func() error {
		c, _, err := m.dialer.DialContext(ctx, m.config.URL, headers)
		conn = c
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	conn.SetReadLimit(m.config.MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		m.touch(false)
		return nil
	})

	m.mu.Lock()
	if m.runCtx.Err() != nil {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	}
	m.conn = conn
	m.state = StateConnected
	m.lastActivity = m.clock.Now()
	runCtx := m.runCtx
	m.wg.Add(2)
	m.mu.Unlock()

	go m.readLoop(runCtx, conn)
	go m.pingLoop(runCtx, conn)

	if m.handlers.OnConnect != nil {
		if err := m.handlers.OnConnect(ctx); err != nil {
			m.mu.Lock()
			if m.conn == conn {
				m.conn = nil
				m.state = fallback
			}
			m.mu.Unlock()
			_ = conn.Close()
			return fmt.Errorf("connect callback failed: %w", err)
		}
	}
	return nil
}

// Disconnect closes the session and stops reconnecting. It waits for the
// manager's goroutines until ctx is done.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDisconnected
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	var err error
	if conn != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := m.write(conn, websocket.CloseMessage, closeMsg); werr != nil {
			m.logger.Debug("Failed to send close frame", zap.Error(werr))
		}
		err = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return context.Cause(ctx)
	}

	m.logger.Info("WebSocket disconnected")
	return err
}

func (m *Manager) Send(data []byte) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}
	return m.write(conn, websocket.TextMessage, data)
}

func (m *Manager) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	m.logger.Debug("Sending WebSocket message", zap.ByteString("payload", data))
	return m.Send(data)
}

func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		State:        m.state.String(),
		URL:          m.config.URL,
		LastActivity: m.lastActivity,
		Received:     m.received,
		Reconnects:   m.reconnects,
		BreakerOpen:  m.breaker.isOpen(),
	}
}

func (m *Manager) write(conn Conn, messageType int, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	// socket deadlines are wall-clock
	if err := conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	return conn.WriteMessage(messageType, data)
}

func (m *Manager) touch(message bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.clock.Now()
	if message {
		m.received++
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	defer m.wg.Done()

	for {
		if m.config.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout)); err != nil {
				m.connectionLost(ctx, conn, fmt.Errorf("failed to set read deadline: %w", err))
				return
			}
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.connectionLost(ctx, conn, err)
			return
		}

		m.touch(true)

		if m.handlers.OnMessage != nil {
			if err := m.handlers.OnMessage(message); err != nil {
				m.logger.Debug("Message handler failed", zap.Error(err))
			}
		}
	}
}

func (m *Manager) pingLoop(ctx context.Context, conn Conn) {
	defer m.wg.Done()

	if m.config.PingInterval <= 0 {
		return
	}

	ticker := m.clock.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.mu.RLock()
			current := m.conn == conn
			m.mu.RUnlock()
			if !current {
				return
			}
			if err := m.write(conn, websocket.PingMessage, nil); err != nil {
				m.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

// connectionLost is called from the read loop of conn. It is a no-op when
// conn has already been replaced or closed deliberately.
func (m *Manager) connectionLost(ctx context.Context, conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.config.EnableReconnect {
		m.state = StateReconnecting
		// the read loop still holds the group, so Add is safe against Wait
		m.wg.Add(1)
	} else {
		m.state = StateFailed
	}
	m.mu.Unlock()

	_ = conn.Close()

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Warn("WebSocket closed by server", zap.Error(cause))
	} else {
		m.logger.Error("WebSocket connection lost", zap.Error(cause))
	}

	if m.handlers.OnDisconnect != nil {
		m.handlers.OnDisconnect(cause)
	}

	if m.config.EnableReconnect {
		go m.reconnectLoop(ctx)
	}
}

func (m *Manager) reconnectLoop(ctx context.Context) {
	defer m.wg.Done()

	for attempt := 1; ; attempt++ {
		if m.config.MaxReconnects > 0 && attempt > m.config.MaxReconnects {
			m.mu.Lock()
			if m.state == StateReconnecting {
				m.state = StateFailed
			}
			m.mu.Unlock()

			err := fmt.Errorf("%w: %d", ErrReconnectsSpent, m.config.MaxReconnects)
			m.logger.Error("Giving up on WebSocket", zap.Error(err))
			if m.handlers.OnReconnectFailed != nil {
				m.handlers.OnReconnectFailed(attempt-1, err)
			}
			return
		}

		delay := m.backoff.NextDelay(attempt)
		m.logger.Debug("Reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))

		timer := m.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}

		dialCtx, cancel := clock.WithTimeout(ctx, m.clock, m.config.HandshakeTimeout)
		err := m.dial(dialCtx, StateReconnecting)
		cancel()

		if err == nil {
			m.mu.Lock()
			m.reconnects++
			m.mu.Unlock()
			m.logger.Info("Reconnected", zap.Int("attempt", attempt))
			if m.handlers.OnReconnect != nil {
				m.handlers.OnReconnect(attempt)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		m.logger.Warn("Reconnection attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if m.handlers.OnReconnectFailed != nil {
			m.handlers.OnReconnectFailed(attempt, err)
		}
	}
}
