package mq

import (
	"errors"
	"fmt"
)

// ErrorType classifies a pipeline failure for dead-letter routing.
type ErrorType string

const (
	ErrorTypeJSONParse    ErrorType = "JSON_PARSE_ERROR"
	ErrorTypeInvalidTopic ErrorType = "INVALID_TOPIC_FORMAT"
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeDatabaseSave ErrorType = "DATABASE_SAVE_ERROR"
	ErrorTypeUnexpected   ErrorType = "UNEXPECTED_ERROR"
)

// PipelineError terminates one message's journey through the pipeline. The
// optional context travels into the dead-letter record for replay.
type PipelineError struct {
	Type    ErrorType
	Message string
	Context map[string]interface{}
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Classify returns the pipeline error inside err, or wraps err as an
// unexpected failure.
func Classify(err error) *PipelineError {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr
	}
	return &PipelineError{
		Type:    ErrorTypeUnexpected,
		Message: "uncaught pipeline fault",
		Err:     err,
	}
}
