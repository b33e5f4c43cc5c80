package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/velotrack/bike-telemetry-worker/internal/anomaly"
	"github.com/velotrack/bike-telemetry-worker/internal/logging"
	"github.com/velotrack/bike-telemetry-worker/internal/mq"
	"github.com/velotrack/bike-telemetry-worker/internal/topic"
	"github.com/velotrack/bike-telemetry-worker/internal/validator"
	"go.uber.org/zap"
)

// Processor runs the per-message pipeline: route the topic, decode and
// score the payload, decide the outcome, persist. It short-circuits on the
// first failure, returning a tagged *mq.PipelineError for the runtime to
// dead-letter.
type Processor struct {
	router    *topic.Router
	validator *validator.Validator
	policy    *anomaly.Policy
	writer    *Writer
	logger    *zap.Logger
}

// NewProcessor creates a new processor service
func NewProcessor(
	router *topic.Router,
	v *validator.Validator,
	policy *anomaly.Policy,
	writer *Writer,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		router:    router,
		validator: v,
		policy:    policy,
		writer:    writer,
		logger:    logger,
	}
}

// ProcessMessage processes one inbound sensor reading
func (s *Processor) ProcessMessage(ctx context.Context, msg mq.InboundMessage) error {
	route, ok := s.router.Parse(msg.Topic)
	if !ok {
		return &mq.PipelineError{
			Type:    mq.ErrorTypeInvalidTopic,
			Message: fmt.Sprintf("topic %q is not a recognized data topic", msg.Topic),
		}
	}

	if route.IsControl {
		// Control topics are acknowledged without processing; the reverse
		// path is owned by the distribution bridge.
		s.logger.Debug("control topic acknowledged",
			zap.String("topic", msg.Topic),
			zap.String("device_id", route.DeviceID),
		)
		return nil
	}

	var raw validator.RawReading
	if err := json.Unmarshal(msg.Value, &raw); err != nil {
		return &mq.PipelineError{
			Type:    mq.ErrorTypeJSONParse,
			Message: "payload is not well-formed JSON",
			Err:     err,
		}
	}

	receivedAt := time.Now().UTC()
	reading := s.validator.Validate(raw, route, receivedAt)
	outcome, anomalous := s.policy.Assess(reading.IsValid, reading.QualityScore)
	reading.AnomalyDetected = anomalous

	msgLogger := logging.WithMessageID(s.logger, reading.MessageID)

	if outcome == anomaly.Drop {
		return &mq.PipelineError{
			Type:    mq.ErrorTypeValidation,
			Message: fmt.Sprintf("reading rejected with quality score %d", reading.QualityScore),
			Context: map[string]interface{}{
				"qualityScore":     reading.QualityScore,
				"validationErrors": reading.ValidationErrors,
				"deviceId":         reading.DeviceID,
				"sensorType":       reading.SensorType,
			},
		}
	}

	if err := s.writer.Persist(ctx, &reading, msg.Value); err != nil {
		return &mq.PipelineError{
			Type:    mq.ErrorTypeDatabaseSave,
			Message: "failed to persist reading",
			Context: readingContext(&reading),
			Err:     err,
		}
	}

	msgLogger.Info("reading persisted",
		zap.String("device_id", reading.DeviceID),
		zap.String("sensor_type", reading.SensorType),
		zap.Int("quality_score", reading.QualityScore),
		zap.Bool("is_valid", reading.IsValid),
		zap.Bool("anomaly_detected", reading.AnomalyDetected),
	)

	return nil
}

// readingContext carries the full validated reading into the dead-letter
// record so an exhausted persist can be replayed.
func readingContext(reading *validator.ValidatedReading) map[string]interface{} {
	return map[string]interface{}{
		"messageId":        reading.MessageID,
		"schemaVersion":    reading.SchemaVersion,
		"deviceId":         reading.DeviceID,
		"sensorType":       reading.SensorType,
		"value":            reading.Value,
		"unitName":         reading.UnitName,
		"timestamp":        reading.Timestamp.Unix(),
		"workoutId":        reading.WorkoutID,
		"userId":           reading.UserID,
		"metadata":         reading.Metadata,
		"qualityScore":     reading.QualityScore,
		"isValid":          reading.IsValid,
		"anomalyDetected":  reading.AnomalyDetected,
		"validationErrors": reading.ValidationErrors,
	}
}
