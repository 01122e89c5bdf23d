package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionState
		want     bool
	}{
		{StateIdle, StateSignalingConnecting, true},
		{StateSignalingConnecting, StateSignalingOpen, true},
		{StateSignalingOpen, StateNegotiating, true},
		{StateNegotiating, StateLive, true},
		{StateLive, StateFailed, true},
		{StateNegotiating, StateFailed, true},
		{StateFailed, StateIdle, true},
		{StateLive, StateIdle, true},

		{StateIdle, StateFailed, false},
		{StateFailed, StateFailed, false},
		{StateFailed, StateSignalingConnecting, false},
		{StateIdle, StateLive, false},
		{StateSignalingOpen, StateLive, false},
		{StateLive, StateNegotiating, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSessionState_Label(t *testing.T) {
	assert.Equal(t, LabelDisconnected, StateIdle.Label())
	assert.Equal(t, LabelConnecting, StateSignalingConnecting.Label())
	assert.Equal(t, LabelConnecting, StateSignalingOpen.Label())
	assert.Equal(t, LabelConnecting, StateNegotiating.Label())
	assert.Equal(t, LabelConnected, StateLive.Label())
	assert.Equal(t, LabelDisconnected, StateFailed.Label())
}

func TestGeneration_String(t *testing.T) {
	assert.Equal(t, "gen-3", Generation(3).String())
}

func TestParseSignalingMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    SignalingMessage
		wantErr bool
	}{
		{
			name: "offer",
			raw:  `{"type":"offer","sdp":"v=0"}`,
			want: NewOffer("v=0"),
		},
		{
			name: "answer",
			raw:  `{"type":"answer","sdp":"v=0"}`,
			want: NewAnswer("v=0"),
		},
		{
			name: "candidate",
			raw:  `{"type":"candidate","candidate":{"candidate":"candidate:1","sdpMid":"0"}}`,
			want: NewCandidate(json.RawMessage(`{"candidate":"candidate:1","sdpMid":"0"}`)),
		},
		{
			name: "unknown type is kept",
			raw:  `{"type":"bye"}`,
			want: SignalingMessage{Type: "bye"},
		},
		{name: "not json", raw: `offer`, wantErr: true},
		{name: "missing type", raw: `{"sdp":"v=0"}`, wantErr: true},
		{name: "offer without sdp", raw: `{"type":"offer"}`, wantErr: true},
		{name: "answer with candidate", raw: `{"type":"answer","sdp":"v=0","candidate":{}}`, wantErr: true},
		{name: "candidate without payload", raw: `{"type":"candidate"}`, wantErr: true},
		{name: "null candidate", raw: `{"type":"candidate","candidate":null}`, wantErr: true},
		{name: "string candidate", raw: `{"type":"candidate","candidate":"candidate:1"}`, wantErr: true},
		{name: "candidate with sdp", raw: `{"type":"candidate","sdp":"v=0","candidate":{}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSignalingMessage([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedMessage))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, tt.want.SDP, got.SDP)
			if tt.want.Candidate != nil {
				assert.JSONEq(t, string(tt.want.Candidate), string(got.Candidate))
			}
		})
	}
}

func TestSignalingMessage_Known(t *testing.T) {
	assert.True(t, NewOffer("v=0").Known())
	assert.True(t, NewCandidate(json.RawMessage(`{}`)).Known())
	assert.False(t, SignalingMessage{Type: "hello"}.Known())
}

func TestSignalingMessage_CandidatePassesThrough(t *testing.T) {
	raw := json.RawMessage(`{"candidate":"candidate:842163049 1 udp 1677729535 203.0.113.7 61665 typ srflx","sdpMid":"0","sdpMLineIndex":0,"usernameFragment":"abc"}`)
	data, err := NewCandidate(raw).Encode()
	require.NoError(t, err)

	parsed, err := ParseSignalingMessage(data)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(parsed.Candidate))
}

func TestSignalingMessage_EncodeRejectsInvalid(t *testing.T) {
	_, err := SignalingMessage{Type: SignalOffer}.Encode()
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestInputEvent_RoundTrip(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	events := []InputEvent{
		KeyDown("a", "KeyA", at),
		KeyUp("Shift", "ShiftLeft", at),
		MouseMove(960, 540, at),
		MouseDown(0, 0, 0, at),
		MouseUp(1919, 1079, 2, at),
	}

	for _, ev := range events {
		t.Run(string(ev.Type), func(t *testing.T) {
			text, err := ev.Encode()
			require.NoError(t, err)

			parsed, err := ParseInputEvent([]byte(text))
			require.NoError(t, err)
			assert.Equal(t, ev, parsed)
			assert.Equal(t, int64(1700000000123), parsed.Timestamp)
		})
	}
}

func TestInputEvent_WireShape(t *testing.T) {
	at := time.UnixMilli(42)

	text, err := KeyDown("a", "KeyA", at).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"keydown","key":"a","code":"KeyA","timestamp":42}`, text)

	text, err = MouseMove(1, 2, at).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mousemove","x":1,"y":2,"timestamp":42}`, text)

	// button 0 is the primary button and must still be written
	text, err = MouseDown(1, 2, 0, at).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"mousedown","x":1,"y":2,"button":0,"timestamp":42}`, text)
}

func TestParseInputEvent_Rejects(t *testing.T) {
	for _, raw := range []string{
		`nope`,
		`{"type":"scroll","x":1}`,
		`{"type":"mouseup","x":1,"y":2,"timestamp":1}`,
	} {
		_, err := ParseInputEvent([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedMessage, raw)
	}

	_, err := InputEvent{Type: "scroll"}.Encode()
	assert.Error(t, err)
}

func TestDefaultConnectionMetrics(t *testing.T) {
	m := DefaultConnectionMetrics()
	assert.Equal(t, "--", m.QualityLabel)
	assert.Equal(t, "-- kbps", m.BitrateLabel)
	assert.Zero(t, m.FPS)
	assert.Zero(t, m.LatencyMs)
}
