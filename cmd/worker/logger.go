package main

import (
	"github.com/velotrack/bike-telemetry-worker/internal/config"
	"github.com/velotrack/bike-telemetry-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
