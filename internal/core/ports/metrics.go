package ports

import "playlink/internal/core/domain"

// Directions and outcomes used when recording signaling traffic.
const (
	DirectionInbound  = "in"
	DirectionOutbound = "out"

	OutcomeOK        = "ok"
	OutcomeDropped   = "dropped"
	OutcomeMalformed = "malformed"
	OutcomeStale     = "stale"
)

// SessionMetrics records client session telemetry.
type SessionMetrics interface {
	SetState(state domain.SessionState)
	GenerationStarted()
	ReconnectScheduled()
	SignalingMessage(direction, outcome string)
	InputEvent(sent bool)
	ObserveConnection(m domain.ConnectionMetrics)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SetState(domain.SessionState)               {}
func (NopMetrics) GenerationStarted()                         {}
func (NopMetrics) ReconnectScheduled()                        {}
func (NopMetrics) SignalingMessage(string, string)            {}
func (NopMetrics) InputEvent(bool)                            {}
func (NopMetrics) ObserveConnection(domain.ConnectionMetrics) {}

// Reasons a relay rejects an inbound frame.
const (
	RejectMalformed   = "malformed"
	RejectInvalidSDP  = "invalid_sdp"
	RejectRateLimited = "rate_limited"
	RejectNoPeer      = "no_peer"
)

// RelayMetrics records development relay telemetry.
type RelayMetrics interface {
	ConnectionOpened(role string)
	ConnectionClosed(role string)
	RoomsActive(n int)
	MessageForwarded(msgType string)
	MessageRejected(reason string)
}

// NopRelayMetrics discards everything.
type NopRelayMetrics struct{}

func (NopRelayMetrics) ConnectionOpened(string) {}
func (NopRelayMetrics) ConnectionClosed(string) {}
func (NopRelayMetrics) RoomsActive(int)         {}
func (NopRelayMetrics) MessageForwarded(string) {}
func (NopRelayMetrics) MessageRejected(string)  {}
