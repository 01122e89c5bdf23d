package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"playlink/internal/core/domain"
	"playlink/internal/core/ports"
	"playlink/internal/core/services"
	"playlink/internal/infrastructure/middleware"
	"playlink/pkg/config"
	apperrors "playlink/pkg/errors"
	rlog "playlink/pkg/logger"
	"playlink/pkg/tracing"
	"playlink/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sendBufferSize = 64
	// messages held for a side that has not joined yet
	maxPendingPerRoom = 64
)

type RelayOptions struct {
	AllowedOrigins    []string
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
}

func RelayOptionsFromConfig(cfg *config.Config) RelayOptions {
	return RelayOptions{
		AllowedOrigins:    cfg.Relay.AllowedOrigins,
		MessagesPerSecond: cfg.Relay.MessagesPerSecond,
		Burst:             cfg.Relay.Burst,
		MaxMessageSize:    cfg.Relay.MaxMessageSizeBytes,
		PingInterval:      cfg.Relay.PingInterval,
		PongTimeout:       cfg.Relay.PongTimeout,
		WriteTimeout:      cfg.Relay.WriteTimeout,
	}
}

// WebSocketServer is the development signaling relay. Each room pairs one
// client with one host and forwards validated signaling frames verbatim from
// one side to the other.
type WebSocketServer struct {
	opts     RelayOptions
	upgrader websocket.Upgrader
	auth     services.AuthService
	metrics  ports.RelayMetrics

	rooms map[string]*room
	mu    sync.RWMutex

	logger *zap.SugaredLogger
}

type room struct {
	id      string
	peers   map[domain.RelayRole]*relayConn
	pending map[domain.RelayRole][][]byte
}

type relayConn struct {
	ctx     context.Context
	id      string
	room    string
	role    domain.RelayRole
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocketServer creates a relay. auth may be nil, in which case
// connections are not authorized.
func NewWebSocketServer(opts RelayOptions, auth services.AuthService, metrics ports.RelayMetrics, logger *zap.Logger) *WebSocketServer {
	if metrics == nil {
		metrics = ports.NopRelayMetrics{}
	}
	s := &WebSocketServer{
		opts:    opts,
		auth:    auth,
		metrics: metrics,
		rooms:   make(map[string]*room),
		logger:  rlog.Component(logger, "relay"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.logger.Warnw("rejecting websocket origin", "origin", origin)
	return false
}

// SetupRoutes registers the websocket endpoint on / and /ws, guarded by
// wsMiddleware, and /health.
func (s *WebSocketServer) SetupRoutes(router gin.IRouter, wsMiddleware ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc(nil), wsMiddleware...), s.HandleWebSocket)
	router.GET("/", handlers...)
	router.GET("/ws", handlers...)
	router.GET("/health", s.HealthCheck)
}

// HandleWebSocket serves /ws?room=<id>&role=client|host.
func (s *WebSocketServer) HandleWebSocket(c *gin.Context) {
	roomID := c.DefaultQuery("room", domain.DefaultRoom)
	if err := validation.ValidateRoomID(roomID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()).WithContext("room", roomID))
		return
	}
	role, err := domain.ParseRelayRole(c.Query("role"))
	if err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	if s.auth != nil {
		claims, _ := c.Get(middleware.ClaimsKey)
		typed, _ := claims.(*services.Claims)
		if err := s.auth.Authorize(typed, roomID, role); err != nil {
			c.Error(apperrors.NewUnauthorizedError("token does not grant this room or role"))
			return
		}
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	rc := &relayConn{
		ctx:     c.Request.Context(),
		id:      uuid.NewString(),
		room:    roomID,
		role:    role,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst),
		done:    make(chan struct{}),
	}

	s.join(rc)
	go s.writePump(rc)
	s.readPump(rc)
}

// join registers rc, replacing any connection already holding its role, and
// hands it whatever the other side sent before it arrived.
func (s *WebSocketServer) join(rc *relayConn) {
	s.mu.Lock()
	r, ok := s.rooms[rc.room]
	if !ok {
		r = &room{
			id:      rc.room,
			peers:   make(map[domain.RelayRole]*relayConn),
			pending: make(map[domain.RelayRole][][]byte),
		}
		s.rooms[rc.room] = r
	}
	replaced := r.peers[rc.role]
	r.peers[rc.role] = rc
	// frames the previous holder of this role left for the other side are stale
	delete(r.pending, rc.role.Peer())
	backlog := r.pending[rc.role]
	delete(r.pending, rc.role)
	rooms := len(s.rooms)
	s.mu.Unlock()

	if replaced != nil {
		s.logger.Infow("replacing connection for role",
			"room", rc.room,
			"role", rc.role,
			"old_conn_id", replaced.id,
			"conn_id", rc.id,
		)
		replaced.close(websocket.CloseGoingAway, "replaced by new connection")
	}

	s.metrics.ConnectionOpened(string(rc.role))
	s.metrics.RoomsActive(rooms)
	s.logger.Infow("peer joined room",
		"room", rc.room,
		"role", rc.role,
		"conn_id", rc.id,
		"backlog", len(backlog),
	)

	for _, data := range backlog {
		rc.enqueue(data)
	}
}

func (s *WebSocketServer) leave(rc *relayConn) {
	s.mu.Lock()
	if r, ok := s.rooms[rc.room]; ok && r.peers[rc.role] == rc {
		delete(r.peers, rc.role)
		if len(r.peers) == 0 {
			delete(s.rooms, rc.room)
		}
	}
	rooms := len(s.rooms)
	s.mu.Unlock()

	s.metrics.ConnectionClosed(string(rc.role))
	s.metrics.RoomsActive(rooms)
	s.logger.Infow("peer left room", "room", rc.room, "role", rc.role, "conn_id", rc.id)
}

func (s *WebSocketServer) readPump(rc *relayConn) {
	defer func() {
		s.leave(rc)
		rc.close(websocket.CloseNormalClosure, "")
	}()

	if s.opts.MaxMessageSize > 0 {
		rc.conn.SetReadLimit(s.opts.MaxMessageSize)
	}
	rc.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	rc.conn.SetPongHandler(func(string) error {
		return rc.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		msgType, data, err := rc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Infow("error reading from peer", "conn_id", rc.id, "error", err)
			}
			return
		}
		rc.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		if msgType != websocket.TextMessage {
			s.reject(rc, ports.RejectMalformed, apperrors.NewMessageFormatError("binary frames are not supported", nil))
			continue
		}
		s.handleMessage(rc, data)
	}
}

func (s *WebSocketServer) handleMessage(rc *relayConn, data []byte) {
	if !rc.limiter.Allow() {
		s.reject(rc, ports.RejectRateLimited, apperrors.NewRateLimitError())
		return
	}

	msg, err := domain.ParseSignalingMessage(data)
	if err != nil {
		s.reject(rc, ports.RejectMalformed, apperrors.NewMessageFormatError("invalid signaling message", err))
		return
	}

	if msg.Type == domain.SignalOffer || msg.Type == domain.SignalAnswer {
		if err := validation.ValidateSDP(msg.SDP); err != nil {
			s.reject(rc, ports.RejectInvalidSDP, apperrors.NewMessageFormatError("invalid SDP in "+string(msg.Type), err))
			return
		}
	}

	_, span := tracing.TraceWebSocketMessage(rc.ctx, string(msg.Type), rc.id)
	span.SetAttributes(tracing.RoomKey.String(rc.room), tracing.RoleKey.String(string(rc.role)))
	defer span.End()

	if s.forward(rc, data) {
		s.metrics.MessageForwarded(string(msg.Type))
		s.logger.Debugw("forwarded signaling message",
			"room", rc.room,
			"from", rc.role,
			"type", msg.Type,
			"size", len(data),
		)
		return
	}
	s.reject(rc, ports.RejectNoPeer, apperrors.NewConflictError(fmt.Sprintf("no %s in room and backlog is full", rc.role.Peer())))
}

// forward delivers data to the other side of the room, or holds it until
// that side joins.
func (s *WebSocketServer) forward(from *relayConn, data []byte) bool {
	target := from.role.Peer()

	s.mu.Lock()
	r, ok := s.rooms[from.room]
	if !ok || r.peers[from.role] != from {
		s.mu.Unlock()
		return false
	}
	peer := r.peers[target]
	if peer == nil {
		if len(r.pending[target]) >= maxPendingPerRoom {
			s.mu.Unlock()
			return false
		}
		r.pending[target] = append(r.pending[target], data)
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	return peer.enqueue(data)
}

func (s *WebSocketServer) reject(rc *relayConn, reason string, appErr *apperrors.AppError) {
	s.metrics.MessageRejected(reason)
	s.logger.Infow("rejecting message from peer",
		"room", rc.room,
		"role", rc.role,
		"conn_id", rc.id,
		"reason", reason,
		"code", appErr.Code,
		"error", appErr,
	)

	data, err := json.Marshal(domain.NewRelayError(string(appErr.Code), appErr.Error()))
	if err != nil {
		return
	}
	rc.enqueue(data)
}

func (s *WebSocketServer) writePump(rc *relayConn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rc.done:
			return
		case data := <-rc.send:
			rc.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := rc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Infow("error writing to peer", "conn_id", rc.id, "error", err)
				rc.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			rc.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := rc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "conn_id", rc.id, "error", err)
				rc.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// enqueue never blocks; a peer too slow to drain its buffer loses frames.
func (rc *relayConn) enqueue(data []byte) bool {
	select {
	case <-rc.done:
		return false
	default:
	}
	select {
	case rc.send <- data:
		return true
	default:
		return false
	}
}

// close stops the write pump and closes the socket once. A close frame is
// sent for codes other than 1006.
func (rc *relayConn) close(code int, reason string) {
	rc.closeOnce.Do(func() {
		close(rc.done)
		if code != websocket.CloseAbnormalClosure {
			deadline := time.Now().Add(time.Second)
			_ = rc.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		}
		rc.conn.Close()
	})
}

// RelayStats is the relay's view for health reporting.
type RelayStats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

func (s *WebSocketServer) Stats() RelayStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RelayStats{Rooms: len(s.rooms)}
	for _, r := range s.rooms {
		stats.Connections += len(r.peers)
	}
	return stats
}

// HealthCheck serves /health.
func (s *WebSocketServer) HealthCheck(c *gin.Context) {
	stats := s.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"rooms":       stats.Rooms,
		"connections": stats.Connections,
	})
}

// Shutdown closes every connection with 1001.
func (s *WebSocketServer) Shutdown() {
	s.mu.Lock()
	var conns []*relayConn
	for _, r := range s.rooms {
		for _, rc := range r.peers {
			conns = append(conns, rc)
		}
	}
	s.mu.Unlock()

	for _, rc := range conns {
		rc.close(websocket.CloseGoingAway, "relay shutting down")
	}
}
