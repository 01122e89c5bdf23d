package domain

import (
	"encoding/json"
	"fmt"
)

// SignalType is the tag of a signaling message.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// SignalingMessage is the text-framed JSON control message exchanged with the
// relay. Offer and Answer carry SDP, Candidate carries an ICE candidate that is
// passed through byte for byte. Unknown types are parsed and left for the
// receiver to ignore.
type SignalingMessage struct {
	Type      SignalType      `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func NewOffer(sdp string) SignalingMessage {
	return SignalingMessage{Type: SignalOffer, SDP: sdp}
}

func NewAnswer(sdp string) SignalingMessage {
	return SignalingMessage{Type: SignalAnswer, SDP: sdp}
}

func NewCandidate(candidate json.RawMessage) SignalingMessage {
	return SignalingMessage{Type: SignalCandidate, Candidate: candidate}
}

// Known reports whether the message type is one the session layer handles.
func (m SignalingMessage) Known() bool {
	switch m.Type {
	case SignalOffer, SignalAnswer, SignalCandidate:
		return true
	}
	return false
}

// Validate checks that exactly the payload field matching the tag is set.
// Unknown tags are always valid.
func (m SignalingMessage) Validate() error {
	hasCandidate := len(m.Candidate) > 0 && string(m.Candidate) != "null"
	switch m.Type {
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	case SignalOffer, SignalAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrMalformedMessage, m.Type)
		}
		if hasCandidate {
			return fmt.Errorf("%w: %s carries a candidate", ErrMalformedMessage, m.Type)
		}
	case SignalCandidate:
		if !hasCandidate {
			return fmt.Errorf("%w: candidate without payload", ErrMalformedMessage)
		}
		if m.SDP != "" {
			return fmt.Errorf("%w: candidate carries sdp", ErrMalformedMessage)
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(m.Candidate, &probe); err != nil {
			return fmt.Errorf("%w: candidate is not an object: %v", ErrMalformedMessage, err)
		}
	}
	return nil
}

// Encode serializes the message to its wire text.
func (m SignalingMessage) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// ParseSignalingMessage decodes one text frame.
func ParseSignalingMessage(data []byte) (SignalingMessage, error) {
	var msg SignalingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SignalingMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := msg.Validate(); err != nil {
		return SignalingMessage{}, err
	}
	return msg, nil
}
