// Package logging builds the zap loggers shared by every service binary
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger, or a console logger when format is
// "console". Every entry carries the service name and host.
func New(level, format, service string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	host, _ := os.Hostname()
	cfg.InitialFields = map[string]interface{}{
		"service":  service,
		"hostname": host,
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Must is New for main packages, falling back to a production logger
func Must(level, format, service string) *zap.Logger {
	logger, err := New(level, format, service)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("invalid logging configuration, using defaults", zap.Error(err))
		return logger.With(zap.String("service", service))
	}
	return logger
}
