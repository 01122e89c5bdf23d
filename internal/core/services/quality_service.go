package services

import (
	"time"
)

// Quality levels shown in ConnectionMetrics.
const (
	QualityHigh    = "high"
	QualityMedium  = "medium"
	QualityLow     = "low"
	QualityUnknown = "--"
)

// QualityThreshold is the minimum a stream must sustain to hold a level.
type QualityThreshold struct {
	MinBitrateKbps int
	MaxLatency     time.Duration
	MinFPS         float64
}

// QualityInput is one derived reading of the received stream.
type QualityInput struct {
	BitrateKbps int
	Latency     time.Duration
	FPS         float64
}

type QualityService struct {
	thresholds map[string]QualityThreshold
}

// GetThresholds returns the quality thresholds
func (qs *QualityService) GetThresholds() map[string]QualityThreshold {
	return qs.thresholds
}

func NewQualityService() *QualityService {
	return &QualityService{
		thresholds: map[string]QualityThreshold{
			QualityHigh: {
				MinBitrateKbps: 2000,
				MaxLatency:     100 * time.Millisecond,
				MinFPS:         50,
			},
			QualityMedium: {
				MinBitrateKbps: 800,
				MaxLatency:     200 * time.Millisecond,
				MinFPS:         25,
			},
			QualityLow: {},
		},
	}
}

func (qs *QualityService) DetermineQuality(in QualityInput) string {
	if qs.meetsQualityRequirements(in, qs.thresholds[QualityHigh]) {
		return QualityHigh
	} else if qs.meetsQualityRequirements(in, qs.thresholds[QualityMedium]) {
		return QualityMedium
	} else {
		return QualityLow
	}
}

// An unmeasured latency (zero) does not disqualify a level.
func (qs *QualityService) meetsQualityRequirements(in QualityInput, threshold QualityThreshold) bool {
	return in.BitrateKbps >= threshold.MinBitrateKbps &&
		(in.Latency == 0 || threshold.MaxLatency == 0 || in.Latency <= threshold.MaxLatency) &&
		in.FPS >= threshold.MinFPS
}

func (qs *QualityService) ShouldDowngrade(currentQuality string, in QualityInput) bool {
	threshold, ok := qs.thresholds[currentQuality]
	if !ok || currentQuality == QualityLow {
		return false
	}
	return float64(in.BitrateKbps) < float64(threshold.MinBitrateKbps)*0.8 ||
		in.FPS < threshold.MinFPS*0.8 ||
		(in.Latency > 0 && float64(in.Latency) > float64(threshold.MaxLatency)*1.5)
}

func (qs *QualityService) ShouldUpgrade(currentQuality string, in QualityInput) bool {
	if currentQuality == QualityHigh {
		return false
	}

	nextQuality := QualityMedium
	if currentQuality == QualityMedium {
		nextQuality = QualityHigh
	}

	threshold := qs.thresholds[nextQuality]
	return float64(in.BitrateKbps) >= float64(threshold.MinBitrateKbps)*1.2 &&
		in.FPS >= threshold.MinFPS &&
		(in.Latency == 0 || float64(in.Latency) <= float64(threshold.MaxLatency)*0.8)
}
