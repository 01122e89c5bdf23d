package domain

import "fmt"

// Generation tags one signaling+peer pairing. Every asynchronous callback
// carries the generation it was issued under and is dropped once the
// controller has moved on.
type Generation uint64

func (g Generation) String() string {
	return fmt.Sprintf("gen-%d", uint64(g))
}

// SessionState is owned by the session controller.
type SessionState int

const (
	StateIdle SessionState = iota
	StateSignalingConnecting
	StateSignalingOpen
	StateNegotiating
	StateLive
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSignalingConnecting:
		return "signaling_connecting"
	case StateSignalingOpen:
		return "signaling_open"
	case StateNegotiating:
		return "negotiating"
	case StateLive:
		return "live"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether the state machine allows moving from s to next
// within one generation. Any state may fail, Failed only returns to Idle, and
// an explicit stop may reset any state to Idle.
func (s SessionState) CanTransition(next SessionState) bool {
	switch next {
	case StateFailed:
		return s != StateIdle && s != StateFailed
	case StateIdle:
		return true
	case StateSignalingConnecting:
		return s == StateIdle
	case StateSignalingOpen:
		return s == StateSignalingConnecting
	case StateNegotiating:
		return s == StateSignalingOpen
	case StateLive:
		return s == StateNegotiating
	default:
		return false
	}
}

// ConnectivityLabel is the coarse status shown by the UI.
type ConnectivityLabel string

const (
	LabelConnecting   ConnectivityLabel = "connecting"
	LabelConnected    ConnectivityLabel = "connected"
	LabelDisconnected ConnectivityLabel = "disconnected"
)

// Label projects a session state onto the UI connectivity label.
func (s SessionState) Label() ConnectivityLabel {
	switch s {
	case StateLive:
		return LabelConnected
	case StateSignalingConnecting, StateSignalingOpen, StateNegotiating:
		return LabelConnecting
	default:
		return LabelDisconnected
	}
}

// Connectivity is the transport-level liveness reported by a peer session.
type Connectivity string

const (
	ConnectivityConnecting   Connectivity = "connecting"
	ConnectivityConnected    Connectivity = "connected"
	ConnectivityDisconnected Connectivity = "disconnected"
	ConnectivityFailed       Connectivity = "failed"
)

// Status is the read-only snapshot exposed to the UI layer.
type Status struct {
	State      SessionState
	Label      ConnectivityLabel
	Generation Generation
	Metrics    ConnectionMetrics
}

// WebSocket close codes the session layer cares about.
const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)
