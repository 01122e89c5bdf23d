package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// InputType is the tag of an input event.
type InputType string

const (
	InputKeyDown   InputType = "keydown"
	InputKeyUp     InputType = "keyup"
	InputMouseMove InputType = "mousemove"
	InputMouseDown InputType = "mousedown"
	InputMouseUp   InputType = "mouseup"
)

// IsKey reports whether t is a keyboard event type.
func (t InputType) IsKey() bool {
	return t == InputKeyDown || t == InputKeyUp
}

// IsMouse reports whether t is a pointer event type.
func (t InputType) IsMouse() bool {
	return t == InputMouseMove || t == InputMouseDown || t == InputMouseUp
}

// HasButton reports whether events of type t carry a mouse button.
func (t InputType) HasButton() bool {
	return t == InputMouseDown || t == InputMouseUp
}

// InputEvent is one local input event. Key events use Key and Code, pointer
// events use X and Y in virtual surface coordinates, press and release also
// use Button. Timestamp is the capture time in Unix milliseconds.
type InputEvent struct {
	Type      InputType
	Key       string
	Code      string
	X         int
	Y         int
	Button    int
	Timestamp int64
}

func KeyDown(key, code string, at time.Time) InputEvent {
	return InputEvent{Type: InputKeyDown, Key: key, Code: code, Timestamp: at.UnixMilli()}
}

func KeyUp(key, code string, at time.Time) InputEvent {
	return InputEvent{Type: InputKeyUp, Key: key, Code: code, Timestamp: at.UnixMilli()}
}

func MouseMove(x, y int, at time.Time) InputEvent {
	return InputEvent{Type: InputMouseMove, X: x, Y: y, Timestamp: at.UnixMilli()}
}

func MouseDown(x, y, button int, at time.Time) InputEvent {
	return InputEvent{Type: InputMouseDown, X: x, Y: y, Button: button, Timestamp: at.UnixMilli()}
}

func MouseUp(x, y, button int, at time.Time) InputEvent {
	return InputEvent{Type: InputMouseUp, X: x, Y: y, Button: button, Timestamp: at.UnixMilli()}
}

type keyPayload struct {
	Type      InputType `json:"type"`
	Key       string    `json:"key"`
	Code      string    `json:"code"`
	Timestamp int64     `json:"timestamp"`
}

type mousePayload struct {
	Type      InputType `json:"type"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Button    *int      `json:"button,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// MarshalJSON writes only the fields that belong to the event's type.
func (e InputEvent) MarshalJSON() ([]byte, error) {
	switch {
	case e.Type.IsKey():
		return json.Marshal(keyPayload{Type: e.Type, Key: e.Key, Code: e.Code, Timestamp: e.Timestamp})
	case e.Type.IsMouse():
		p := mousePayload{Type: e.Type, X: e.X, Y: e.Y, Timestamp: e.Timestamp}
		if e.Type.HasButton() {
			button := e.Button
			p.Button = &button
		}
		return json.Marshal(p)
	default:
		return nil, fmt.Errorf("%w: unknown input type %q", ErrMalformedMessage, e.Type)
	}
}

// UnmarshalJSON accepts the payloads produced by MarshalJSON.
func (e *InputEvent) UnmarshalJSON(data []byte) error {
	var head struct {
		Type InputType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch {
	case head.Type.IsKey():
		var p keyPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		*e = InputEvent{Type: p.Type, Key: p.Key, Code: p.Code, Timestamp: p.Timestamp}
	case head.Type.IsMouse():
		var p mousePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		*e = InputEvent{Type: p.Type, X: p.X, Y: p.Y, Timestamp: p.Timestamp}
		if head.Type.HasButton() {
			if p.Button == nil {
				return fmt.Errorf("%w: %s without button", ErrMalformedMessage, head.Type)
			}
			e.Button = *p.Button
		}
	default:
		return fmt.Errorf("%w: unknown input type %q", ErrMalformedMessage, head.Type)
	}
	return nil
}

// Encode serializes the event to the input channel text payload.
func (e InputEvent) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseInputEvent decodes one input channel payload.
func ParseInputEvent(data []byte) (InputEvent, error) {
	var e InputEvent
	if err := e.UnmarshalJSON(data); err != nil {
		return InputEvent{}, err
	}
	return e, nil
}
