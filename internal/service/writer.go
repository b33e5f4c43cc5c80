package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/velotrack/bike-telemetry-worker/internal/db"
	"github.com/velotrack/bike-telemetry-worker/internal/mq"
	"github.com/velotrack/bike-telemetry-worker/internal/validator"
	"go.uber.org/zap"
)

// Store is the telemetry insert surface of the repository.
type Store interface {
	InsertTelemetryReading(ctx context.Context, reading *db.TelemetryReading) error
}

// MetricsSink receives per-message processing metrics after a successful
// write.
type MetricsSink interface {
	Emit(m mq.ProcessingMetrics)
}

// WriterConfig holds persistence writer configuration
type WriterConfig struct {
	Store      Store
	Metrics    MetricsSink
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *zap.Logger
}

// Writer durably stores accepted readings with bounded retry and jittered
// exponential backoff. The retry loop blocks only the task handling that
// one message.
type Writer struct {
	store      Store
	metrics    MetricsSink
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

// NewWriter creates a new persistence writer
func NewWriter(cfg WriterConfig) *Writer {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Writer{
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     cfg.Logger,
	}
}

// Persist attempts the insert up to maxRetries times. On success it emits
// ProcessingMetrics with the measured elapsed time; on exhaustion it
// returns the last error.
func (w *Writer) Persist(ctx context.Context, reading *validator.ValidatedReading, rawPayload []byte) error {
	row := rowFromReading(reading, rawPayload)

	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		lastErr = w.store.InsertTelemetryReading(ctx, row)
		if lastErr == nil {
			w.metrics.Emit(mq.ProcessingMetrics{
				DeviceID:        reading.DeviceID,
				DeviceType:      reading.SensorType,
				MessageID:       reading.MessageID,
				QualityScore:    reading.QualityScore,
				ProcessingTime:  time.Since(reading.ReceivedAt).Milliseconds(),
				AnomalyDetected: reading.AnomalyDetected,
				Timestamp:       time.Now().Unix(),
			})
			return nil
		}

		w.logger.Warn("telemetry insert failed",
			zap.Error(lastErr),
			zap.String("message_id", reading.MessageID),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", w.maxRetries),
		)

		if attempt == w.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("persist cancelled after attempt %d: %w", attempt, ctx.Err())
		case <-time.After(w.backoffDelay(attempt)):
		}
	}

	return fmt.Errorf("persist failed after %d attempts: %w", w.maxRetries, lastErr)
}

// backoffDelay is 2^attempt * baseDelay plus up to one baseDelay of jitter.
func (w *Writer) backoffDelay(attempt int) time.Duration {
	exp := time.Duration(1<<uint(attempt)) * w.baseDelay
	jitter := time.Duration(rand.Int63n(int64(w.baseDelay)))
	return exp + jitter
}

func rowFromReading(reading *validator.ValidatedReading, rawPayload []byte) *db.TelemetryReading {
	row := &db.TelemetryReading{
		MessageID:        reading.MessageID,
		SchemaVersion:    reading.SchemaVersion,
		DeviceID:         reading.DeviceID,
		SensorType:       reading.SensorType,
		Value:            reading.Value,
		UnitName:         reading.UnitName,
		ReadingTimestamp: reading.Timestamp,
		ReceivedAt:       reading.ReceivedAt,
		ProcessedAt:      reading.ProcessedAt,
		QualityScore:     reading.QualityScore,
		IsValid:          reading.IsValid,
		AnomalyDetected:  reading.AnomalyDetected,
		ValidationErrors: reading.ValidationErrors,
		Metadata:         reading.Metadata,
		RawPayload:       rawPayload,
	}
	if reading.WorkoutID != "" {
		row.WorkoutID = &reading.WorkoutID
	}
	if reading.UserID != "" {
		row.UserID = &reading.UserID
	}
	return row
}
