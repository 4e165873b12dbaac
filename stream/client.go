package stream

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/levabala/llm-social-filter/metrics"
)

// State is the client's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FrameHandler receives the raw payload of every inbound frame.
type FrameHandler func(payload []byte)

const writeControlTimeout = 10 * time.Second

// Client maintains exactly one logical streaming connection to the upstream
// source, surviving network failures by reconnecting forever until Stop.
type Client struct {
	url            string
	header         http.Header
	frames         FrameHandler
	dialer         *websocket.Dialer
	pingInterval   time.Duration
	pongTimeout    time.Duration
	reconnectDelay time.Duration

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	connDone       chan struct{}
	pongTimer      *time.Timer
	reconnectTimer *time.Timer
	started        bool
	stopped        bool
}

// Option configures a Client.
type Option func(*Client)

// WithPingInterval sets the keepalive probe interval.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pingInterval = d
	}
}

// WithPongTimeout sets how long to wait for a probe acknowledgment before
// terminating the connection.
func WithPongTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.pongTimeout = d
	}
}

// WithReconnectDelay sets the delay before a non-immediate reconnect attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		c.reconnectDelay = d
	}
}

// NewClient creates a stream client. The API key is sent as a connection
// header; frames delivers every inbound payload.
func NewClient(url, apiKey string, frames FrameHandler, opts ...Option) *Client {
	c := &Client{
		url:            url,
		header:         http.Header{"X-API-Key": {apiKey}},
		frames:         frames,
		dialer:         websocket.DefaultDialer,
		pingInterval:   60 * time.Second,
		pongTimeout:    30 * time.Second,
		reconnectDelay: 90 * time.Second,
		state:          StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens the connection. Idempotent if already running.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.connect()
}

// Stop cancels all pending timers, closes the active connection with a
// normal-closure code and prevents any further reconnection attempts.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.state = StateStopped
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	conn := c.conn
	done := c.connDone
	c.conn = nil
	c.connDone = nil
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		deadline := time.Now().Add(writeControlTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"), deadline)
		conn.Close()
	}
	slog.Info("stream client stopped")
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, resp, err := c.dialer.Dial(c.url, c.header)
	if err != nil {
		c.logConnectError(err, resp)
		c.scheduleReconnect(false)
		return
	}

	done := make(chan struct{})
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connDone = done
	c.state = StateConnected
	c.mu.Unlock()

	slog.Info("stream connection established", "url", c.url)

	conn.SetPongHandler(func(string) error {
		c.disarmPongTimer()
		return nil
	})

	go c.keepalive(conn, done)
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !c.isStopped() {
				c.logCloseError(err)
			}
			c.closeAndReconnect(conn, false)
			return
		}
		c.frames(payload)
	}
}

func (c *Client) keepalive(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeControlTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				slog.Warn("failed to send keepalive probe, reconnecting", "error", err)
				c.closeAndReconnect(conn, true)
				return
			}
			c.armPongTimer(conn)
		}
	}
}

func (c *Client) armPongTimer(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	if c.pongTimer != nil {
		c.pongTimer.Stop()
	}
	c.pongTimer = time.AfterFunc(c.pongTimeout, func() {
		slog.Warn("keepalive timeout, terminating connection")
		metrics.KeepaliveTimeouts.Inc()
		c.closeAndReconnect(conn, true)
	})
}

func (c *Client) disarmPongTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}

// closeAndReconnect tears down the active connection and schedules the next
// attempt. Only the first caller for a given connection acts, so a keepalive
// timeout's immediate reconnect is never overridden by the read loop
// observing the forced close afterwards.
func (c *Client) closeAndReconnect(conn *websocket.Conn, immediate bool) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	done := c.connDone
	c.connDone = nil
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
	stopped := c.stopped
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	conn.Close()

	if !stopped {
		c.scheduleReconnect(immediate)
	}
}

// scheduleReconnect arms the single pending reconnect timer, replacing any
// previous one.
func (c *Client) scheduleReconnect(immediate bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}

	delay := c.reconnectDelay
	if immediate {
		delay = 0
	}
	c.state = StateReconnecting
	metrics.Reconnects.Inc()

	slog.Info("reconnect scheduled", "delay", delay)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		slog.Info("reconnecting")
		c.connect()
	})
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// logConnectError classifies a dial failure for diagnostics. Every
// classification is non-fatal and funnels into the same reconnect path.
func (c *Client) logConnectError(err error, resp *http.Response) {
	switch {
	case resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
		slog.Error("stream handshake rejected, check the API key", "status", resp.StatusCode, "error", err)
	case isTimeout(err):
		slog.Error("stream connection timed out, check server and network", "error", err)
	case errors.Is(err, syscall.ECONNREFUSED):
		slog.Error("stream connection refused, check server address and port", "error", err)
	default:
		slog.Error("stream connection failed", "error", err)
	}
}

// logCloseError reports a read failure with a human-readable interpretation
// of standard close codes.
func (c *Client) logCloseError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		slog.Warn("stream connection closed",
			"code", closeErr.Code,
			"reason", closeErr.Text,
			"meaning", closeCodeText(closeErr.Code))
		return
	}
	slog.Warn("stream read failed", "error", err)
}

func closeCodeText(code int) string {
	switch code {
	case websocket.CloseNormalClosure:
		return "normal connection closure"
	case websocket.CloseGoingAway:
		return "server shutting down or client navigating away"
	case websocket.CloseProtocolError:
		return "protocol error"
	case websocket.CloseUnsupportedData:
		return "received unacceptable data type"
	case websocket.CloseAbnormalClosure:
		return "abnormal closure, possibly network issues"
	case websocket.ClosePolicyViolation:
		return "policy violation"
	case websocket.CloseInternalServerErr:
		return "server internal error"
	case websocket.CloseTryAgainLater:
		return "server overloaded"
	default:
		return "unknown close code"
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
