package mq

import (
	"encoding/json"

	"go.uber.org/zap"
)

// ProcessingMetrics is the per-message metric record published after a
// successful persistence. Write-once, fire-and-forget.
type ProcessingMetrics struct {
	DeviceID        string `json:"deviceId"`
	DeviceType      string `json:"deviceType"`
	MessageID       string `json:"messageId"`
	QualityScore    int    `json:"qualityScore"`
	ProcessingTime  int64  `json:"processingTime"`
	AnomalyDetected bool   `json:"anomalyDetected"`
	Timestamp       int64  `json:"timestamp"`
}

// MetricsEmitter publishes processing metrics to the fixed metrics topic.
// This path never blocks or fails the main pipeline; failures are swallowed.
type MetricsEmitter struct {
	publisher *Publisher
	topicName string
	logger    *zap.Logger
}

// NewMetricsEmitter creates a new metrics emitter
func NewMetricsEmitter(publisher *Publisher, topicName string, logger *zap.Logger) *MetricsEmitter {
	return &MetricsEmitter{publisher: publisher, topicName: topicName, logger: logger}
}

// Emit publishes one metrics record, best-effort. The publish runs on its
// own goroutine so a degraded broker cannot stall the pipeline that called
// Emit.
func (e *MetricsEmitter) Emit(m ProcessingMetrics) {
	body, err := json.Marshal(m)
	if err != nil {
		e.logger.Debug("failed to marshal processing metrics", zap.Error(err))
		return
	}

	go func() {
		if err := e.publisher.Publish(e.topicName, m.DeviceID, body, nil); err != nil {
			e.logger.Debug("failed to publish processing metrics",
				zap.Error(err),
				zap.String("message_id", m.MessageID),
			)
		}
	}()
}
