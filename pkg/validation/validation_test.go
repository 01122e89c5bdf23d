package validation

import (
	"strings"
	"testing"
)

func TestValidateSignalingURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"plain ws", "ws://localhost:3000", false},
		{"secure ws with path", "wss://relay.example.com/ws?room=a", false},
		{"empty", "", true},
		{"http scheme", "http://localhost:3000", true},
		{"missing host", "ws://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignalingURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSignalingURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateICEServerURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"google stun", "stun:stun.l.google.com:19302", false},
		{"turn with transport", "turn:turn.example.com:3478?transport=tcp", false},
		{"turns", "turns:turn.example.com", false},
		{"no scheme", "stun.l.google.com:19302", true},
		{"http scheme", "http://stun.example.com", true},
		{"empty host", "stun:", true},
		{"port only", "stun::19302", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateICEServerURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateICEServerURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSDP(t *testing.T) {
	valid := "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"
	if err := ValidateSDP(valid); err != nil {
		t.Fatalf("ValidateSDP() unexpected error: %v", err)
	}

	for _, sdp := range []string{"", "o=- 1 1", "v=0\r\ns=-\r\nt=0 0\r\n"} {
		if err := ValidateSDP(sdp); err == nil {
			t.Errorf("ValidateSDP(%q) expected error", sdp)
		}
	}
}

func TestValidateRoomID(t *testing.T) {
	if err := ValidateRoomID("living-room_1"); err != nil {
		t.Errorf("ValidateRoomID() unexpected error: %v", err)
	}
	for _, id := range []string{"", "has space", strings.Repeat("a", 101)} {
		if err := ValidateRoomID(id); err == nil {
			t.Errorf("ValidateRoomID(%q) expected error", id)
		}
	}
}

func TestValidateResolution(t *testing.T) {
	if err := ValidateResolution(1920, 1080); err != nil {
		t.Errorf("ValidateResolution() unexpected error: %v", err)
	}
	if err := ValidateResolution(0, 1080); err == nil {
		t.Error("ValidateResolution() expected error for zero width")
	}
	if err := ValidateResolution(10000, 1080); err == nil {
		t.Error("ValidateResolution() expected error for oversized width")
	}
}
