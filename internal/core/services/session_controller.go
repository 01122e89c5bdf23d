package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"playlink/internal/core/domain"
	"playlink/internal/core/ports"
	apperrors "playlink/pkg/errors"
	rlog "playlink/pkg/logger"
	"playlink/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ControllerOptions configures a SessionController.
type ControllerOptions struct {
	ICEServers      []webrtc.ICEServer
	ReconnectDelay  time.Duration
	MetricsInterval time.Duration
}

type eventKind int

const (
	evSignalReady eventKind = iota
	evSignalMessage
	evSignalClosed
	evLocalCandidate
	evConnectivity
	evTrack
	evInputChannel
	evReconnect
	evExec
)

// event is one unit of work for the controller loop. Everything except
// evExec carries the generation it was issued under.
type event struct {
	kind eventKind
	gen  domain.Generation

	msg       domain.SignalingMessage
	code      int
	reason    string
	candidate json.RawMessage
	conn      domain.Connectivity
	track     ports.MediaTrack
	open      bool

	fn  func()
	ack chan struct{}
}

// SessionController is the single authority over the session lifecycle. All
// session state is owned by the goroutine running Run; transports, peer
// sessions and timers only post generation-tagged events to it.
type SessionController struct {
	opts         ControllerOptions
	newTransport ports.TransportFactory
	newPeer      ports.PeerFactory
	metrics      *MetricsService
	telemetry    ports.SessionMetrics
	logger       *zap.SugaredLogger

	// mailbox
	mu      sync.Mutex
	queue   []event
	wake    chan struct{}
	done    chan struct{}
	started atomic.Bool
	// set while observers run on the loop goroutine
	notifying atomic.Bool

	// owned by the loop
	running   bool
	gen       domain.Generation
	state     domain.SessionState
	transport ports.SignalingTransport
	peer      ports.PeerSession
	reconnect *time.Timer
	spanCtx   context.Context
	span      trace.Span

	// outward projection
	outMu     sync.RWMutex
	status    domain.Status
	input     ports.InputChannel
	live      bool
	observers []ports.StatusObserver
	onTrack   ports.TrackObserver
}

func NewSessionController(
	opts ControllerOptions,
	newTransport ports.TransportFactory,
	newPeer ports.PeerFactory,
	metrics *MetricsService,
	telemetry ports.SessionMetrics,
	logger *zap.Logger,
) *SessionController {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = time.Second
	}
	if metrics == nil {
		metrics = NewMetricsService(nil)
	}
	if telemetry == nil {
		telemetry = ports.NopMetrics{}
	}

	return &SessionController{
		opts:         opts,
		newTransport: newTransport,
		newPeer:      newPeer,
		metrics:      metrics,
		telemetry:    telemetry,
		logger:       rlog.Component(logger, "session"),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		state:        domain.StateIdle,
		status: domain.Status{
			State:   domain.StateIdle,
			Label:   domain.StateIdle.Label(),
			Metrics: domain.DefaultConnectionMetrics(),
		},
	}
}

// OnStatus registers an observer for status snapshots. Observers run on the
// controller goroutine and must not block. Start and Stop may be called from
// an observer; they are queued behind the current event.
func (c *SessionController) OnStatus(fn ports.StatusObserver) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	c.observers = append(c.observers, fn)
}

// OnTrack registers the receiver of the remote video track. It runs on the
// controller goroutine and must hand the track off quickly.
func (c *SessionController) OnTrack(fn ports.TrackObserver) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	c.onTrack = fn
}

// Status returns the current snapshot.
func (c *SessionController) Status() domain.Status {
	c.outMu.RLock()
	defer c.outMu.RUnlock()
	return c.status
}

// SendInput forwards one input event. It has effect only while the session
// is live and the input channel is open; otherwise the event is dropped.
func (c *SessionController) SendInput(ev domain.InputEvent) bool {
	c.outMu.RLock()
	live, input := c.live, c.input
	c.outMu.RUnlock()

	if !live || input == nil {
		c.telemetry.InputEvent(false)
		return false
	}
	return input.Send(ev)
}

// Start begins a new session unless one is already in progress.
func (c *SessionController) Start() error {
	return c.exec(c.start)
}

// Stop tears the session down and cancels any pending reconnect. Calling it
// again, or after Run has returned, does nothing. Before Run starts, or from
// an observer, the teardown is queued and Stop returns without waiting.
func (c *SessionController) Stop() error {
	if err := c.exec(c.stop); err != nil && !errors.Is(err, domain.ErrControllerClosed) {
		return err
	}
	return nil
}

// Run processes events until ctx is cancelled, then tears the session down.
func (c *SessionController) Run(ctx context.Context) error {
	defer close(c.done)
	c.started.Store(true)

	ticker := time.NewTicker(c.opts.MetricsInterval)
	defer ticker.Stop()

	c.logger.Infow("session controller running")
	for {
		select {
		case <-ctx.Done():
			c.stop()
			c.logger.Infow("session controller stopped")
			return nil
		case <-c.wake:
			for _, ev := range c.drain() {
				c.handle(ev)
			}
		case <-ticker.C:
			c.sampleMetrics()
		}
	}
}

func (c *SessionController) post(ev event) {
	c.mu.Lock()
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *SessionController) drain() []event {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}

// exec runs fn on the loop and waits for it. Waiting is impossible before
// Run starts and from the loop goroutine itself, so those calls only queue fn.
func (c *SessionController) exec(fn func()) error {
	select {
	case <-c.done:
		return domain.ErrControllerClosed
	default:
	}
	if !c.started.Load() || c.notifying.Load() {
		c.post(event{kind: evExec, fn: fn})
		return nil
	}

	ack := make(chan struct{})
	c.post(event{kind: evExec, fn: fn, ack: ack})
	select {
	case <-ack:
		return nil
	case <-c.done:
		return domain.ErrControllerClosed
	}
}

func (c *SessionController) handle(ev event) {
	switch ev.kind {
	case evExec:
		ev.fn()
		if ev.ack != nil {
			close(ev.ack)
		}
		return
	case evReconnect:
		c.handleReconnect(ev.gen)
		return
	}

	if c.stale(ev.gen) {
		c.logger.Debugw("dropping stale event",
			"event", ev.kind,
			"event_generation", ev.gen.String(),
			"generation", c.gen.String(),
			"state", c.state.String(),
		)
		if ev.kind == evSignalMessage {
			c.telemetry.SignalingMessage(ports.DirectionInbound, ports.OutcomeStale)
		}
		return
	}

	switch ev.kind {
	case evSignalReady:
		c.handleSignalReady()
	case evSignalMessage:
		c.handleSignalMessage(ev.msg)
	case evSignalClosed:
		c.handleSignalClosed(ev.code, ev.reason)
	case evLocalCandidate:
		if c.transport != nil {
			c.transport.Send(domain.NewCandidate(ev.candidate))
		}
	case evConnectivity:
		c.handleConnectivity(ev.conn)
	case evTrack:
		c.outMu.RLock()
		onTrack := c.onTrack
		c.outMu.RUnlock()
		if onTrack != nil {
			c.notify(func() { onTrack(ev.track) })
		}
	case evInputChannel:
		c.logger.Infow("input channel state", "open", ev.open, "generation", c.gen.String())
	}
}

// stale reports whether an event of gen must be ignored. Idle and Failed
// have no running generation.
func (c *SessionController) stale(gen domain.Generation) bool {
	return gen != c.gen || c.state == domain.StateIdle || c.state == domain.StateFailed
}

func (c *SessionController) start() {
	if c.state != domain.StateIdle {
		c.logger.Debugw("start ignored, session in progress", "state", c.state.String())
		return
	}
	c.running = true
	c.startGeneration()
}

func (c *SessionController) stop() {
	if !c.running && c.state == domain.StateIdle && c.transport == nil && c.peer == nil {
		return
	}
	c.logger.Infow("stopping session", "generation", c.gen.String(), "state", c.state.String())

	c.running = false
	c.cancelReconnect()
	c.releaseGeneration("stopped")
	c.setState(domain.StateIdle)
}

func (c *SessionController) startGeneration() {
	c.gen++
	gen := c.gen
	c.metrics.Reset()
	c.telemetry.GenerationStarted()
	c.spanCtx, c.span = tracing.TraceGeneration(context.Background(), uint64(gen))

	c.logger.Infow("starting session generation", "generation", gen.String())
	c.setState(domain.StateSignalingConnecting)

	c.transport = c.newTransport(signalingEvents{c: c, gen: gen})
	c.transport.Connect()
}

// releaseGeneration closes the transport (without reconnect), then the peer
// session and its input channel, and drops every reference.
func (c *SessionController) releaseGeneration(reason string) {
	c.outMu.Lock()
	c.live = false
	c.input = nil
	c.outMu.Unlock()

	if c.transport != nil {
		c.transport.Close(domain.CloseNormal, reason)
		c.transport = nil
	}
	if c.peer != nil {
		if err := c.peer.Close(); err != nil {
			c.logger.Warnw("error closing peer session", "generation", c.gen.String(), "error", err)
		}
		c.peer = nil
	}

	if c.span != nil {
		c.span.End()
		c.span = nil
		c.spanCtx = nil
	}
}

func (c *SessionController) handleSignalReady() {
	if c.state != domain.StateSignalingConnecting {
		c.logger.Debugw("ready ignored", "state", c.state.String())
		return
	}
	c.setState(domain.StateSignalingOpen)
	c.traceEvent("signaling_open")

	peer := c.newPeer(peerEvents{c: c, gen: c.gen})
	c.peer = peer
	if err := peer.Create(c.opts.ICEServers); err != nil {
		c.fail("create peer session", err)
		return
	}

	c.outMu.Lock()
	c.input = peer.Input()
	c.outMu.Unlock()

	if err := peer.Offer(c.transport); err != nil {
		c.fail("send offer", err)
		return
	}
	c.traceEvent("offer_sent")
	c.setState(domain.StateNegotiating)
}

func (c *SessionController) handleSignalMessage(msg domain.SignalingMessage) {
	if c.peer == nil {
		c.logger.Warnw("signaling message before peer session, dropping", "type", msg.Type)
		return
	}

	switch msg.Type {
	case domain.SignalOffer:
		if err := c.peer.HandleRemoteOffer(msg.SDP, c.transport); err != nil {
			c.fail("handle remote offer", err)
		}
	case domain.SignalAnswer:
		if err := c.peer.HandleRemoteAnswer(msg.SDP); err != nil {
			c.fail("handle remote answer", err)
		}
	case domain.SignalCandidate:
		if err := c.peer.HandleRemoteCandidate(msg.Candidate); err != nil {
			c.logger.Warnw("remote candidate rejected",
				"generation", c.gen.String(),
				"code", apperrors.CodeOf(err),
				"error", err,
			)
		}
	default:
		c.logger.Debugw("ignoring signaling message", "type", msg.Type)
	}
}

func (c *SessionController) handleSignalClosed(code int, reason string) {
	c.transport = nil
	if c.spanCtx != nil {
		tracing.AddEvent(c.spanCtx, "signaling_closed", tracing.CloseCodeKey.Int(code))
	}

	if code != domain.CloseNormal {
		c.fail("signaling closed", apperrors.NewTransportError(reason, nil).WithContext("code", code))
		return
	}

	if c.state == domain.StateLive {
		c.logger.Infow("signaling closed normally, session stays live",
			"generation", c.gen.String(),
			"reason", reason,
		)
		return
	}

	c.logger.Infow("signaling closed normally before session was live",
		"generation", c.gen.String(),
		"state", c.state.String(),
		"reason", reason,
	)
	c.releaseGeneration("signaling closed")
	c.setState(domain.StateIdle)
}

func (c *SessionController) handleConnectivity(conn domain.Connectivity) {
	switch conn {
	case domain.ConnectivityConnected:
		if c.state != domain.StateNegotiating {
			return
		}
		c.setState(domain.StateLive)
		c.traceEvent("live")
	case domain.ConnectivityDisconnected, domain.ConnectivityFailed:
		c.fail("peer connectivity lost", apperrors.NewConnectivityError(string(conn), nil))
	}
}

// fail moves the running generation to Failed, tears it down and schedules
// the single reconnect for it.
func (c *SessionController) fail(reason string, err error) {
	if c.state == domain.StateIdle || c.state == domain.StateFailed {
		return
	}

	c.logger.Warnw("session failed",
		"generation", c.gen.String(),
		"state", c.state.String(),
		"reason", reason,
		"code", apperrors.CodeOf(err),
		"error", err,
	)
	if c.spanCtx != nil {
		tracing.RecordError(c.spanCtx, err)
	}
	c.traceEvent("failed")

	c.setState(domain.StateFailed)
	c.releaseGeneration(reason)

	if c.running {
		c.scheduleReconnect()
	}
}

func (c *SessionController) scheduleReconnect() {
	c.cancelReconnect()
	gen := c.gen
	c.telemetry.ReconnectScheduled()
	c.logger.Infow("scheduling reconnect", "generation", gen.String(), "delay", c.opts.ReconnectDelay)
	c.reconnect = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.post(event{kind: evReconnect, gen: gen})
	})
}

func (c *SessionController) cancelReconnect() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *SessionController) handleReconnect(gen domain.Generation) {
	if !c.running || gen != c.gen || c.state != domain.StateFailed {
		c.logger.Debugw("reconnect ignored",
			"reconnect_generation", gen.String(),
			"generation", c.gen.String(),
			"state", c.state.String(),
		)
		return
	}
	c.reconnect = nil
	c.setState(domain.StateIdle)
	c.startGeneration()
}

func (c *SessionController) sampleMetrics() {
	if c.state != domain.StateLive || c.peer == nil {
		return
	}
	sample, err := c.peer.Sample()
	if err != nil {
		c.logger.Debugw("metrics sample failed", "error", err)
		return
	}
	m := c.metrics.Observe(sample)
	c.telemetry.ObserveConnection(m)
	c.publish()
}

func (c *SessionController) setState(next domain.SessionState) {
	if c.state == next {
		return
	}
	if !c.state.CanTransition(next) {
		c.logger.Errorw("illegal state transition",
			"from", c.state.String(),
			"to", next.String(),
			"generation", c.gen.String(),
		)
		return
	}
	c.logger.Infow("session state changed",
		"from", c.state.String(),
		"to", next.String(),
		"generation", c.gen.String(),
	)
	c.state = next
	c.telemetry.SetState(next)
	c.publish()
}

func (c *SessionController) publish() {
	status := domain.Status{
		State:      c.state,
		Label:      c.state.Label(),
		Generation: c.gen,
		Metrics:    c.metrics.Current(),
	}
	if c.state != domain.StateLive {
		status.Metrics.QualityLabel = QualityUnknown
	}

	c.outMu.Lock()
	c.status = status
	c.live = c.state == domain.StateLive
	observers := append([]ports.StatusObserver(nil), c.observers...)
	c.outMu.Unlock()

	c.notify(func() {
		for _, fn := range observers {
			fn(status)
		}
	})
}

func (c *SessionController) notify(fn func()) {
	c.notifying.Store(true)
	defer c.notifying.Store(false)
	fn()
}

func (c *SessionController) traceEvent(name string) {
	if c.spanCtx != nil {
		tracing.AddEvent(c.spanCtx, name, tracing.StateKey.String(c.state.String()))
	}
}

func (k eventKind) String() string {
	switch k {
	case evSignalReady:
		return "signal_ready"
	case evSignalMessage:
		return "signal_message"
	case evSignalClosed:
		return "signal_closed"
	case evLocalCandidate:
		return "local_candidate"
	case evConnectivity:
		return "connectivity"
	case evTrack:
		return "track"
	case evInputChannel:
		return "input_channel"
	case evReconnect:
		return "reconnect"
	default:
		return "exec"
	}
}

// signalingEvents tags transport callbacks with their generation.
type signalingEvents struct {
	c   *SessionController
	gen domain.Generation
}

func (s signalingEvents) OnReady() {
	s.c.post(event{kind: evSignalReady, gen: s.gen})
}

func (s signalingEvents) OnMessage(msg domain.SignalingMessage) {
	s.c.post(event{kind: evSignalMessage, gen: s.gen, msg: msg})
}

func (s signalingEvents) OnClosed(code int, reason string) {
	s.c.post(event{kind: evSignalClosed, gen: s.gen, code: code, reason: reason})
}

// peerEvents tags peer session callbacks with their generation.
type peerEvents struct {
	c   *SessionController
	gen domain.Generation
}

func (p peerEvents) OnLocalCandidate(candidate json.RawMessage) {
	p.c.post(event{kind: evLocalCandidate, gen: p.gen, candidate: candidate})
}

func (p peerEvents) OnConnectivity(state domain.Connectivity) {
	p.c.post(event{kind: evConnectivity, gen: p.gen, conn: state})
}

func (p peerEvents) OnTrack(track ports.MediaTrack) {
	p.c.post(event{kind: evTrack, gen: p.gen, track: track})
}

func (p peerEvents) OnInputChannel(open bool) {
	p.c.post(event{kind: evInputChannel, gen: p.gen, open: open})
}
