// Package input turns local keyboard and pointer activity into the InputEvents
// forwarded to the remote host.
package input

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"playlink/internal/core/domain"
	rlog "playlink/pkg/logger"
	"playlink/pkg/validation"

	"go.uber.org/zap"
)

// Decision tells the caller what to do with a captured event.
type Decision int

const (
	// Drop means the event must not be forwarded.
	Drop Decision = iota
	// Forward means the returned InputEvent should be sent to the host and
	// the local default handling suppressed.
	Forward
	// ToggleFullscreen means the event was consumed locally.
	ToggleFullscreen
)

func (d Decision) String() string {
	switch d {
	case Forward:
		return "forward"
	case ToggleFullscreen:
		return "toggle_fullscreen"
	default:
		return "drop"
	}
}

// Surface is the on-screen rectangle of the capture surface in local pixels.
type Surface struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// LocalEvent is a raw event as reported by the UI layer.
type LocalEvent struct {
	Type    domain.InputType `json:"type"`
	Key     string           `json:"key,omitempty"`
	Code    string           `json:"code,omitempty"`
	Repeat  bool             `json:"repeat,omitempty"`
	ClientX float64          `json:"client_x,omitempty"`
	ClientY float64          `json:"client_y,omitempty"`
	Button  int              `json:"button,omitempty"`
	Surface *Surface         `json:"surface,omitempty"`
}

// Capture applies the capture policy. It is safe for concurrent use.
type Capture struct {
	width      int
	height     int
	fullscreen atomic.Bool
	now        func() time.Time
	logger     *zap.SugaredLogger
}

// NewCapture returns a Capture mapping pointer positions onto a
// width x height virtual surface.
func NewCapture(width, height int, logger *zap.Logger) (*Capture, error) {
	if err := validation.ValidateResolution(width, height); err != nil {
		return nil, fmt.Errorf("virtual surface: %w", err)
	}
	return &Capture{
		width:  width,
		height: height,
		now:    time.Now,
		logger: rlog.Component(logger, "input"),
	}, nil
}

// SetFullscreen records whether the capture surface is fullscreen.
func (c *Capture) SetFullscreen(on bool) {
	c.fullscreen.Store(on)
}

func (c *Capture) Fullscreen() bool {
	return c.fullscreen.Load()
}

// VirtualSurface is the full virtual surface as a capture rectangle. Pointer
// positions reported against it are forwarded unscaled.
func (c *Capture) VirtualSurface() Surface {
	return Surface{Width: float64(c.width), Height: float64(c.height)}
}

// Handle converts ev. A nil Surface on pointer events means the virtual
// surface itself.
func (c *Capture) Handle(ev LocalEvent) (domain.InputEvent, Decision) {
	switch ev.Type {
	case domain.InputKeyDown:
		return c.KeyDown(ev.Key, ev.Code, ev.Repeat)
	case domain.InputKeyUp:
		return c.KeyUp(ev.Key, ev.Code)
	}

	surface := c.VirtualSurface()
	if ev.Surface != nil {
		surface = *ev.Surface
	}
	switch ev.Type {
	case domain.InputMouseMove:
		return c.PointerMove(ev.ClientX, ev.ClientY, surface)
	case domain.InputMouseDown:
		return c.PointerDown(ev.ClientX, ev.ClientY, ev.Button, surface)
	case domain.InputMouseUp:
		return c.PointerUp(ev.ClientX, ev.ClientY, ev.Button, surface)
	}

	c.logger.Debugw("dropping unknown local event", "type", ev.Type)
	return domain.InputEvent{}, Drop
}

func (c *Capture) KeyDown(key, code string, repeat bool) (domain.InputEvent, Decision) {
	if code == "" || repeat {
		return domain.InputEvent{}, Drop
	}
	if key == "Escape" && c.fullscreen.Load() {
		return domain.InputEvent{}, ToggleFullscreen
	}
	return domain.KeyDown(key, code, c.now()), Forward
}

func (c *Capture) KeyUp(key, code string) (domain.InputEvent, Decision) {
	if code == "" {
		return domain.InputEvent{}, Drop
	}
	return domain.KeyUp(key, code, c.now()), Forward
}

func (c *Capture) PointerMove(clientX, clientY float64, surface Surface) (domain.InputEvent, Decision) {
	x, y, ok := c.scale(clientX, clientY, surface)
	if !ok {
		return domain.InputEvent{}, Drop
	}
	return domain.MouseMove(x, y, c.now()), Forward
}

func (c *Capture) PointerDown(clientX, clientY float64, button int, surface Surface) (domain.InputEvent, Decision) {
	x, y, ok := c.scale(clientX, clientY, surface)
	if !ok {
		return domain.InputEvent{}, Drop
	}
	return domain.MouseDown(x, y, button, c.now()), Forward
}

func (c *Capture) PointerUp(clientX, clientY float64, button int, surface Surface) (domain.InputEvent, Decision) {
	x, y, ok := c.scale(clientX, clientY, surface)
	if !ok {
		return domain.InputEvent{}, Drop
	}
	return domain.MouseUp(x, y, button, c.now()), Forward
}

// scale maps a client position inside surface onto the virtual surface.
// Results are clamped to the virtual bounds.
func (c *Capture) scale(clientX, clientY float64, surface Surface) (int, int, bool) {
	if surface.Width <= 0 || surface.Height <= 0 {
		c.logger.Debugw("dropping pointer event, capture surface has no size",
			"width", surface.Width,
			"height", surface.Height,
		)
		return 0, 0, false
	}
	x := math.Round((clientX - surface.Left) * float64(c.width) / surface.Width)
	y := math.Round((clientY - surface.Top) * float64(c.height) / surface.Height)
	return clamp(int(x), c.width-1), clamp(int(y), c.height-1), true
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
