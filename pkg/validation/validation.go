package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// RoomIDRegex validates relay room ids
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateSignalingURL validates the relay endpoint. Only ws and wss are
// accepted since the transport is a websocket.
func ValidateSignalingURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be ws or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateICEServerURL validates a STUN/TURN url such as
// "stun:stun.l.google.com:19302".
func ValidateICEServerURL(urlStr string) error {
	scheme, rest, ok := strings.Cut(urlStr, ":")
	if !ok || rest == "" {
		return fmt.Errorf("invalid ICE server URL %q", urlStr)
	}
	switch scheme {
	case "stun", "stuns", "turn", "turns":
	default:
		return fmt.Errorf("invalid ICE server scheme %q (must be stun, stuns, turn or turns)", scheme)
	}
	host := rest
	if i := strings.IndexByte(host, '?'); i >= 0 {
		host = host[:i]
	}
	if strings.TrimSpace(host) == "" || strings.HasPrefix(host, ":") {
		return fmt.Errorf("ICE server URL %q must have a host", urlStr)
	}
	return nil
}

// ValidateSDP performs a shallow format check of a session description.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}

	// SDP should start with "v=" (version)
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}

	requiredFields := []string{"o=", "s=", "t="}
	for _, field := range requiredFields {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field '%s'", field)
		}
	}

	return nil
}

// ValidateRoomID validates relay room id
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > 100 {
		return fmt.Errorf("room ID is too long (max 100 characters)")
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}

// ValidateResolution validates the virtual input surface size
func ValidateResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", width, height)
	}
	if width > 7680 || height > 4320 {
		return fmt.Errorf("resolution %dx%d is too large (max 7680x4320)", width, height)
	}
	return nil
}
