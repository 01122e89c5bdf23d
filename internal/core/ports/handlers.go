package ports

import (
	"encoding/json"

	"playlink/internal/core/domain"
)

// SignalingEvents receives transport lifecycle and inbound messages.
// Implementations must return quickly; they are called from the transport's
// read goroutine.
type SignalingEvents interface {
	OnReady()
	OnMessage(msg domain.SignalingMessage)
	OnClosed(code int, reason string)
}

// PeerEvents receives asynchronous notifications from a peer session.
type PeerEvents interface {
	OnLocalCandidate(candidate json.RawMessage)
	OnConnectivity(state domain.Connectivity)
	OnTrack(track MediaTrack)
	OnInputChannel(open bool)
}

// StatusObserver is notified with a fresh snapshot every time the session
// status or its metrics change.
type StatusObserver func(status domain.Status)

// TrackObserver receives the remote video track of a live session.
type TrackObserver func(track MediaTrack)
