package services

import (
	"fmt"
	"math"
	"sync"

	"playlink/internal/core/domain"
)

// MetricsService turns raw network samples of the live session into the
// ConnectionMetrics shown to the UI. Rates are computed between consecutive
// samples; the quality label moves with hysteresis.
type MetricsService struct {
	mu sync.RWMutex

	quality *QualityService
	last    *domain.NetworkSample
	level   string
	current domain.ConnectionMetrics
}

func NewMetricsService(quality *QualityService) *MetricsService {
	if quality == nil {
		quality = NewQualityService()
	}
	return &MetricsService{
		quality: quality,
		current: domain.DefaultConnectionMetrics(),
	}
}

// Reset drops all history. Called on every new generation.
func (m *MetricsService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = nil
	m.level = ""
	m.current = domain.DefaultConnectionMetrics()
}

// Observe folds one sample in and returns the updated snapshot.
func (m *MetricsService) Observe(sample domain.NetworkSample) domain.ConnectionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.LatencyMs = sample.RoundTripTime.Milliseconds()

	prev := m.last
	m.last = &sample
	if prev == nil {
		return m.current
	}

	elapsed := sample.Timestamp.Sub(prev.Timestamp).Seconds()
	// counters restart when the track is replaced
	if elapsed <= 0 || sample.FramesTotal < prev.FramesTotal || sample.BytesTotal < prev.BytesTotal {
		return m.current
	}

	fps := float64(sample.FramesTotal-prev.FramesTotal) / elapsed
	kbps := int(math.Round(float64(sample.BytesTotal-prev.BytesTotal) * 8 / 1000 / elapsed))

	m.current.FPS = math.Round(fps*10) / 10
	m.current.BitrateLabel = fmt.Sprintf("%d kbps", kbps)

	in := QualityInput{BitrateKbps: kbps, Latency: sample.RoundTripTime, FPS: fps}
	switch {
	case m.level == "":
		m.level = m.quality.DetermineQuality(in)
	case m.quality.ShouldDowngrade(m.level, in):
		m.level = m.quality.DetermineQuality(in)
	case m.quality.ShouldUpgrade(m.level, in):
		m.level = nextQuality(m.level)
	}
	m.current.QualityLabel = m.level

	return m.current
}

// Current returns the latest snapshot.
func (m *MetricsService) Current() domain.ConnectionMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func nextQuality(level string) string {
	switch level {
	case QualityLow:
		return QualityMedium
	default:
		return QualityHigh
	}
}
