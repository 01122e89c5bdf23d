package webrtc

import (
	"sync/atomic"

	"playlink/internal/core/domain"
	"playlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// inputChannelInit is ordered delivery with no retransmissions.
func inputChannelInit() *webrtc.DataChannelInit {
	ordered := true
	var maxRetransmits uint16
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	}
}

// InputChannel forwards input events over the current session's data
// channel. Sends never block on the session lock.
type InputChannel struct {
	dc      atomic.Pointer[webrtc.DataChannel]
	metrics ports.SessionMetrics
	logger  *zap.SugaredLogger
}

func newInputChannel(logger *zap.SugaredLogger, metrics ports.SessionMetrics) *InputChannel {
	return &InputChannel{metrics: metrics, logger: logger}
}

func (c *InputChannel) attach(dc *webrtc.DataChannel) {
	c.dc.Store(dc)
}

func (c *InputChannel) detach() *webrtc.DataChannel {
	return c.dc.Swap(nil)
}

// IsOpen reports whether the underlying data channel is open.
func (c *InputChannel) IsOpen() bool {
	dc := c.dc.Load()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send serializes event and writes it if the channel is open. Anything else
// is discarded.
func (c *InputChannel) Send(event domain.InputEvent) bool {
	dc := c.dc.Load()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		c.metrics.InputEvent(false)
		return false
	}

	payload, err := event.Encode()
	if err != nil {
		c.logger.Warnw("dropping unencodable input event", "type", event.Type, "error", err)
		c.metrics.InputEvent(false)
		return false
	}
	if err := dc.SendText(payload); err != nil {
		c.logger.Debugw("input event not sent", "type", event.Type, "error", err)
		c.metrics.InputEvent(false)
		return false
	}
	c.metrics.InputEvent(true)
	return true
}
