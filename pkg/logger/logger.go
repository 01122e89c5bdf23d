package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a JSON logger at the given level.
func New(level string) *zap.Logger {
	return NewWithFormat(level, "json")
}

// NewWithFormat creates a logger at the given level. Format is "json" or
// "console"; anything else falls back to json. Unknown levels fall back to info.
func NewWithFormat(level, format string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil

	if strings.EqualFold(format, "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// ParseLevel maps a config level string onto a zap level.
func ParseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Component returns a sugared child logger tagged with a component name.
func Component(l *zap.Logger, name string) *zap.SugaredLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return l.Named(name).Sugar()
}
