package domain

import "fmt"

// RelayRole is the side a relay connection speaks for. Every room pairs at
// most one client with one host.
type RelayRole string

const (
	RoleClient RelayRole = "client"
	RoleHost   RelayRole = "host"
)

// DefaultRoom is used when a relay connection names no room.
const DefaultRoom = "default"

// ParseRelayRole maps a query value onto a role. Empty means client.
func ParseRelayRole(s string) (RelayRole, error) {
	switch RelayRole(s) {
	case "", RoleClient:
		return RoleClient, nil
	case RoleHost:
		return RoleHost, nil
	default:
		return "", fmt.Errorf("unknown relay role %q", s)
	}
}

// Peer returns the role on the other side of the room.
func (r RelayRole) Peer() RelayRole {
	if r == RoleHost {
		return RoleClient
	}
	return RoleHost
}

// RelayError is the error frame a relay sends back to the connection whose
// message it rejected. Session peers ignore it as an unknown message type.
type RelayError struct {
	Type    SignalType `json:"type"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
}

const SignalError SignalType = "error"

func NewRelayError(code, message string) RelayError {
	return RelayError{Type: SignalError, Code: code, Message: message}
}
