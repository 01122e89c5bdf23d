package ports

import (
	"encoding/json"

	"playlink/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// SignalSender is the outbound half of a signaling transport.
type SignalSender interface {
	IsOpen() bool
	Send(msg domain.SignalingMessage) bool
}

type SignalingTransport interface {
	SignalSender
	Connect()
	Close(code int, reason string)
}

// PeerSession owns one negotiated peer connection and its input channel.
type PeerSession interface {
	Create(iceServers []webrtc.ICEServer) error
	Offer(signal SignalSender) error
	HandleRemoteOffer(sdp string, signal SignalSender) error
	HandleRemoteAnswer(sdp string) error
	HandleRemoteCandidate(candidate json.RawMessage) error
	Input() InputChannel
	Sample() (domain.NetworkSample, error)
	Close() error
}

type InputChannel interface {
	Send(event domain.InputEvent) bool
	IsOpen() bool
}

// MediaTrack is the raw handle of a received video track. Reading drives the
// frame and byte counters behind ConnectionMetrics.
type MediaTrack interface {
	ID() string
	MimeType() string
	ReadRTP() (*rtp.Packet, error)
}

// TransportFactory builds a signaling transport bound to handler.
type TransportFactory func(handler SignalingEvents) SignalingTransport

// PeerFactory builds a peer session bound to events.
type PeerFactory func(events PeerEvents) PeerSession
