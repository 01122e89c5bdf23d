package domain

import "time"

// ConnectionMetrics is the advisory snapshot shown to the UI. It is never
// consumed by the session state machine.
type ConnectionMetrics struct {
	FPS          float64
	LatencyMs    int64
	QualityLabel string
	BitrateLabel string
}

// DefaultConnectionMetrics is what the UI shows before the first sample of a
// generation.
func DefaultConnectionMetrics() ConnectionMetrics {
	return ConnectionMetrics{
		QualityLabel: "--",
		BitrateLabel: "-- kbps",
	}
}

// NetworkSample is one raw reading taken from a live peer session.
type NetworkSample struct {
	Timestamp     time.Time
	FramesTotal   uint64
	BytesTotal    uint64
	RoundTripTime time.Duration
}
