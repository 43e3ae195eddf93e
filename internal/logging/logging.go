// Package logging configures the structured logger every other package
// uses. Per spec §3's key invariants, send_key/recv_key/PSK bytes must never
// appear in a log line; callers pass flow metadata (ids, addresses, byte
// counts) as typed zap fields, never raw key material.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. debug widens the level to Debug (flow
// admission/teardown detail); production code normally runs at Info.
func New(debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Nop returns a logger that discards everything, used by tests that don't
// want log noise.
func Nop() *zap.Logger { return zap.NewNop() }
