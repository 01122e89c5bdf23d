package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"playlink/internal/core/domain"
	"playlink/internal/core/ports"
	"playlink/pkg/config"
	apperrors "playlink/pkg/errors"
	rlog "playlink/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type connState int

const (
	stateClosed connState = iota
	stateConnecting
	stateOpen
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	default:
		return "closed"
	}
}

// TransportOptions configures a signaling transport.
type TransportOptions struct {
	URL              string
	AuthToken        string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64

	// AutoReconnect makes the transport redial by itself after an abnormal
	// closure. Transports owned by a session controller leave it off.
	AutoReconnect  bool
	ReconnectDelay time.Duration
}

// DefaultTransportOptions returns options for url with the stock timeouts.
func DefaultTransportOptions(url string) TransportOptions {
	return TransportOptions{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		PongTimeout:      45 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReconnectDelay:   2 * time.Second,
	}
}

// TransportOptionsFromConfig maps the signaling config section.
func TransportOptionsFromConfig(cfg *config.Config) TransportOptions {
	return TransportOptions{
		URL:              cfg.Signaling.URL,
		AuthToken:        cfg.Signaling.AuthToken,
		HandshakeTimeout: cfg.Signaling.HandshakeTimeout,
		PingInterval:     cfg.Signaling.PingInterval,
		PongTimeout:      cfg.Signaling.PongTimeout,
		WriteTimeout:     cfg.Signaling.WriteTimeout,
		MaxMessageSize:   cfg.Signaling.MaxMessageSizeBytes,
		ReconnectDelay:   cfg.Signaling.ReconnectDelay,
	}
}

// Transport is a message-oriented websocket connection to the signaling
// relay. Connect, Send and Close are idempotent with respect to the current
// connection state and safe for concurrent use.
type Transport struct {
	opts    TransportOptions
	handler ports.SignalingEvents
	dialer  *websocket.Dialer
	metrics ports.SessionMetrics
	logger  *zap.SugaredLogger

	mu             sync.Mutex
	state          connState
	conn           *websocket.Conn
	attempt        uint64
	userClosed     bool
	reconnectTimer *time.Timer

	writeMu sync.Mutex
}

func NewTransport(opts TransportOptions, handler ports.SignalingEvents, logger *zap.Logger, metrics ports.SessionMetrics) *Transport {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Transport{
		opts:    opts,
		handler: handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		metrics: metrics,
		logger:  rlog.Component(logger, "signaling"),
	}
}

// Connect starts dialing the relay unless a connection is already open or in
// progress. Ready is reported through the handler once the socket is open.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.state != stateClosed {
		state := t.state
		t.mu.Unlock()
		t.logger.Debugw("connect ignored", "state", state)
		return
	}
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.state = stateConnecting
	t.userClosed = false
	t.attempt++
	attempt := t.attempt
	t.mu.Unlock()

	t.logger.Infow("connecting to signaling relay", "url", t.opts.URL, "attempt", attempt)
	go t.dial(attempt)
}

// IsOpen reports whether the socket is open and messages can be sent.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateOpen
}

// Send serializes msg and writes it. Messages sent while the socket is not
// open are dropped, never queued.
func (t *Transport) Send(msg domain.SignalingMessage) bool {
	data, err := msg.Encode()
	if err != nil {
		t.logger.Warnw("dropping outbound signaling message", "type", msg.Type, "error", err)
		t.metrics.SignalingMessage(ports.DirectionOutbound, ports.OutcomeMalformed)
		return false
	}

	t.mu.Lock()
	conn := t.conn
	open := t.state == stateOpen
	t.mu.Unlock()

	if !open || conn == nil {
		t.logger.Warnw("signaling channel not open, dropping message", "type", msg.Type)
		t.metrics.SignalingMessage(ports.DirectionOutbound, ports.OutcomeDropped)
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Warnw("failed to write signaling message", "type", msg.Type, "error", err)
		t.metrics.SignalingMessage(ports.DirectionOutbound, ports.OutcomeDropped)
		return false
	}
	t.metrics.SignalingMessage(ports.DirectionOutbound, ports.OutcomeOK)
	return true
}

// Close shuts the connection down with code and reason. A pending dial is
// abandoned and no reconnection follows this closure. The handler is not
// notified.
func (t *Transport) Close(code int, reason string) {
	t.mu.Lock()
	t.userClosed = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.conn
	prev := t.state
	t.attempt++
	t.state = stateClosed
	t.conn = nil
	t.mu.Unlock()

	if prev == stateClosed {
		return
	}
	t.logger.Infow("closing signaling connection", "code", code, "reason", reason, "state", prev)

	if conn != nil {
		t.writeMu.Lock()
		err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(t.opts.WriteTimeout))
		t.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			t.logger.Debugw("failed to send close frame", "error", err)
		}
		conn.Close()
	}
}

func (t *Transport) dial(attempt uint64) {
	ctx := context.Background()
	if t.opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.HandshakeTimeout)
		defer cancel()
	}

	var header http.Header
	if t.opts.AuthToken != "" {
		header = http.Header{}
		header.Set("Authorization", "Bearer "+t.opts.AuthToken)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.mu.Lock()
	if attempt != t.attempt || t.state != stateConnecting {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		t.logger.Debugw("discarding superseded dial", "attempt", attempt)
		return
	}
	if err != nil {
		t.state = stateClosed
		t.mu.Unlock()

		err = apperrors.NewTransportError("dial signaling relay", err)
		t.logger.Warnw("signaling connection failed", "url", t.opts.URL, "error", err)
		t.handler.OnClosed(domain.CloseAbnormal, err.Error())
		t.scheduleReconnect(attempt)
		return
	}

	if t.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(t.opts.MaxMessageSize)
	}
	t.conn = conn
	t.state = stateOpen
	t.mu.Unlock()

	t.logger.Infow("signaling connection open", "url", t.opts.URL, "attempt", attempt)
	t.handler.OnReady()

	done := make(chan struct{})
	if t.opts.PingInterval > 0 {
		go t.keepalive(conn, done)
	}
	t.readLoop(conn, attempt)
	close(done)
}

func (t *Transport) readLoop(conn *websocket.Conn, attempt uint64) {
	if t.opts.PongTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
			return nil
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(conn, attempt, err)
			return
		}
		if t.opts.PongTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
		}

		if !t.current(attempt) {
			return
		}

		msg, err := domain.ParseSignalingMessage(data)
		if err != nil {
			t.logger.Warnw("dropping malformed signaling message",
				"error", apperrors.NewMessageFormatError("parse signaling message", err),
				"size", len(data),
			)
			t.metrics.SignalingMessage(ports.DirectionInbound, ports.OutcomeMalformed)
			continue
		}
		if !msg.Known() {
			t.logger.Debugw("ignoring signaling message of unknown type", "type", msg.Type)
			t.metrics.SignalingMessage(ports.DirectionInbound, ports.OutcomeDropped)
			continue
		}

		t.metrics.SignalingMessage(ports.DirectionInbound, ports.OutcomeOK)
		t.handler.OnMessage(msg)
	}
}

func (t *Transport) handleReadError(conn *websocket.Conn, attempt uint64, err error) {
	code := domain.CloseAbnormal
	reason := err.Error()
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
		reason = closeErr.Text
	}

	t.mu.Lock()
	if attempt != t.attempt {
		// closed locally, already accounted for
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.state = stateClosed
	t.conn = nil
	t.mu.Unlock()
	conn.Close()

	if code == domain.CloseNormal {
		t.logger.Infow("signaling connection closed", "code", code, "reason", reason)
	} else {
		t.logger.Warnw("signaling connection lost", "code", code, "reason", reason)
	}
	t.handler.OnClosed(code, reason)

	if code != domain.CloseNormal {
		t.scheduleReconnect(attempt)
	}
}

// scheduleReconnect arms the single reconnect timer for the attempt that just
// ended. The timer re-checks state when it fires.
func (t *Transport) scheduleReconnect(attempt uint64) {
	if !t.opts.AutoReconnect {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.userClosed || attempt != t.attempt {
		return
	}
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
	}

	t.logger.Infow("scheduling signaling reconnect", "delay", t.opts.ReconnectDelay)
	t.metrics.ReconnectScheduled()
	t.reconnectTimer = time.AfterFunc(t.opts.ReconnectDelay, func() {
		t.mu.Lock()
		t.reconnectTimer = nil
		skip := t.userClosed || t.state != stateClosed || attempt != t.attempt
		t.mu.Unlock()
		if skip {
			t.logger.Debugw("reconnect skipped, connection already handled")
			return
		}
		t.Connect()
	})
}

func (t *Transport) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.opts.WriteTimeout))
			if err != nil {
				t.logger.Debugw("ping failed", "error", err)
				return
			}
		}
	}
}

func (t *Transport) current(attempt uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return attempt == t.attempt
}
