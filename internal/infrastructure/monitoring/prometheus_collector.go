package monitoring

import (
	"strconv"
	"strings"

	"playlink/internal/core/domain"
	"playlink/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var allStates = []domain.SessionState{
	domain.StateIdle,
	domain.StateSignalingConnecting,
	domain.StateSignalingOpen,
	domain.StateNegotiating,
	domain.StateLive,
	domain.StateFailed,
}

// SessionCollector exports client session telemetry. It implements
// ports.SessionMetrics.
type SessionCollector struct {
	// Counters
	generationsTotal         prometheus.Counter
	reconnectsScheduledTotal prometheus.Counter
	signalingMessagesTotal   *prometheus.CounterVec
	inputEventsTotal         *prometheus.CounterVec

	// Gauges
	sessionState *prometheus.GaugeVec
	fps          prometheus.Gauge
	bitrateKbps  prometheus.Gauge

	// Histograms
	networkLatency prometheus.Histogram
}

// NewSessionCollector registers the session metrics on reg.
func NewSessionCollector(reg prometheus.Registerer) *SessionCollector {
	factory := promauto.With(reg)

	c := &SessionCollector{
		generationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "playlink_session_generations_total",
			Help: "Total number of session generations started",
		}),

		reconnectsScheduledTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "playlink_session_reconnects_scheduled_total",
			Help: "Total number of reconnects scheduled after a failed generation",
		}),

		signalingMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playlink_signaling_messages_total",
			Help: "Signaling messages by direction and outcome",
		}, []string{"direction", "outcome"}),

		inputEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playlink_input_events_total",
			Help: "Input events by outcome",
		}, []string{"outcome"}),

		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "playlink_session_state",
			Help: "1 for the current session state, 0 otherwise",
		}, []string{"state"}),

		fps: factory.NewGauge(prometheus.GaugeOpts{
			Name: "playlink_video_fps",
			Help: "Frames per second of the received video",
		}),

		bitrateKbps: factory.NewGauge(prometheus.GaugeOpts{
			Name: "playlink_video_bitrate_kbps",
			Help: "Bitrate of the received video in kbps",
		}),

		networkLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "playlink_network_latency_seconds",
			Help:    "Round-trip time of the selected ICE candidate pair",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1},
		}),
	}
	c.SetState(domain.StateIdle)
	return c
}

func (c *SessionCollector) SetState(state domain.SessionState) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.sessionState.WithLabelValues(s.String()).Set(v)
	}
	if state != domain.StateLive {
		c.fps.Set(0)
		c.bitrateKbps.Set(0)
	}
}

func (c *SessionCollector) GenerationStarted() {
	c.generationsTotal.Inc()
}

func (c *SessionCollector) ReconnectScheduled() {
	c.reconnectsScheduledTotal.Inc()
}

func (c *SessionCollector) SignalingMessage(direction, outcome string) {
	c.signalingMessagesTotal.WithLabelValues(direction, outcome).Inc()
}

func (c *SessionCollector) InputEvent(sent bool) {
	outcome := ports.OutcomeOK
	if !sent {
		outcome = ports.OutcomeDropped
	}
	c.inputEventsTotal.WithLabelValues(outcome).Inc()
}

func (c *SessionCollector) ObserveConnection(m domain.ConnectionMetrics) {
	c.fps.Set(m.FPS)
	if kbps, ok := parseKbps(m.BitrateLabel); ok {
		c.bitrateKbps.Set(kbps)
	}
	if m.LatencyMs > 0 {
		c.networkLatency.Observe(float64(m.LatencyMs) / 1000)
	}
}

// parseKbps reads the number out of a "<n> kbps" label.
func parseKbps(label string) (float64, bool) {
	n, ok := strings.CutSuffix(label, " kbps")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(n, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// RelayCollector exports development relay telemetry. It implements
// ports.RelayMetrics.
type RelayCollector struct {
	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	roomsActive       prometheus.Gauge
	forwardedTotal    *prometheus.CounterVec
	rejectedTotal     *prometheus.CounterVec
}

// NewRelayCollector registers the relay metrics on reg.
func NewRelayCollector(reg prometheus.Registerer) *RelayCollector {
	factory := promauto.With(reg)

	return &RelayCollector{
		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "playlink_relay_connections_active",
			Help: "Currently connected relay peers by role",
		}, []string{"role"}),

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playlink_relay_connections_total",
			Help: "Total number of accepted relay connections by role",
		}, []string{"role"}),

		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "playlink_relay_rooms_active",
			Help: "Number of rooms with at least one peer",
		}),

		forwardedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playlink_relay_messages_forwarded_total",
			Help: "Signaling messages forwarded by type",
		}, []string{"type"}),

		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playlink_relay_messages_rejected_total",
			Help: "Signaling messages rejected by reason",
		}, []string{"reason"}),
	}
}

func (r *RelayCollector) ConnectionOpened(role string) {
	r.connectionsActive.WithLabelValues(role).Inc()
	r.connectionsTotal.WithLabelValues(role).Inc()
}

func (r *RelayCollector) ConnectionClosed(role string) {
	r.connectionsActive.WithLabelValues(role).Dec()
}

func (r *RelayCollector) RoomsActive(n int) {
	r.roomsActive.Set(float64(n))
}

func (r *RelayCollector) MessageForwarded(msgType string) {
	r.forwardedTotal.WithLabelValues(msgType).Inc()
}

func (r *RelayCollector) MessageRejected(reason string) {
	r.rejectedTotal.WithLabelValues(reason).Inc()
}
