package mq

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// DLQVersion is the dead-letter record format version.
const DLQVersion = "2.0"

const dlqSuffix = ".dlq.v2"

// DeadLetterRecord wraps a failed message with its error context. Records
// are never mutated after creation.
type DeadLetterRecord struct {
	OriginalTopic     string                 `json:"originalTopic"`
	OriginalValue     json.RawMessage        `json:"originalValue"`
	OriginalHeaders   map[string]string      `json:"originalHeaders"`
	ErrorType         ErrorType              `json:"errorType"`
	ErrorMessage      string                 `json:"errorMessage"`
	AdditionalContext map[string]interface{} `json:"additionalContext,omitempty"`
	Timestamp         int64                  `json:"timestamp"`
	DLQVersion        string                 `json:"dlqVersion"`
}

// DeadLetterRouter republishes failed messages to the per-topic failure
// channel. Best-effort: a failed publish is logged and dropped, never
// retried, so one broken path cannot amplify into a failure loop.
type DeadLetterRouter struct {
	publisher *Publisher
	logger    *zap.Logger
}

// NewDeadLetterRouter creates a new dead-letter router
func NewDeadLetterRouter(publisher *Publisher, logger *zap.Logger) *DeadLetterRouter {
	return &DeadLetterRouter{publisher: publisher, logger: logger}
}

// Route builds a record for the failed message and publishes it to
// <originalTopic>.dlq.v2
func (r *DeadLetterRouter) Route(originalTopic string, originalValue []byte, originalHeaders map[string]string, perr *PipelineError) {
	record := DeadLetterRecord{
		OriginalTopic:     originalTopic,
		OriginalValue:     rawOrQuoted(originalValue),
		OriginalHeaders:   originalHeaders,
		ErrorType:         perr.Type,
		ErrorMessage:      perr.Error(),
		AdditionalContext: perr.Context,
		Timestamp:         time.Now().Unix(),
		DLQVersion:        DLQVersion,
	}

	body, err := json.Marshal(record)
	if err != nil {
		r.logger.Error("failed to marshal dead-letter record",
			zap.Error(err),
			zap.String("original_topic", originalTopic),
		)
		return
	}

	dlqTopic := originalTopic + dlqSuffix
	if err := r.publisher.Publish(dlqTopic, "", body, nil); err != nil {
		r.logger.Error("failed to publish dead-letter record",
			zap.Error(err),
			zap.String("dlq_topic", dlqTopic),
			zap.String("error_type", string(perr.Type)),
		)
		return
	}

	r.logger.Info("message dead-lettered",
		zap.String("dlq_topic", dlqTopic),
		zap.String("error_type", string(perr.Type)),
	)
}

// rawOrQuoted keeps well-formed JSON payloads as-is; anything else is
// embedded as a JSON string so the record itself always marshals.
func rawOrQuoted(value []byte) json.RawMessage {
	if json.Valid(value) {
		return json.RawMessage(value)
	}
	quoted, _ := json.Marshal(string(value))
	return json.RawMessage(quoted)
}
