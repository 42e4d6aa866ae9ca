// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Modes accepted by New.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// New returns a JSON logger at info level for "prod"/"production" and a
// console logger at debug level for "dev"/"development". An empty mode is
// development.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", ModeProduction:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "", "dev", ModeDevelopment:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	default:
		return nil, fmt.Errorf("unknown log mode %q", mode)
	}
	return cfg.Build(zap.Fields(zap.String("service", "relief-engine")))
}

// ValidMode reports whether New accepts mode.
func ValidMode(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "dev", "prod", ModeDevelopment, ModeProduction:
		return true
	}
	return false
}
