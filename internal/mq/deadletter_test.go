package mq

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (*DeadLetterRouter, *mocks.SyncProducer) {
	t.Helper()
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)
	publisher := NewPublisherWithProducer(producer, zap.NewNop())
	return NewDeadLetterRouter(publisher, zap.NewNop()), producer
}

func TestRoute_BuildsVersionedRecord(t *testing.T) {
	router, producer := newTestRouter(t)

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var record DeadLetterRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		assert.Equal(t, "bike.000001.heartrate", record.OriginalTopic)
		assert.Equal(t, ErrorTypeValidation, record.ErrorType)
		assert.Equal(t, DLQVersion, record.DLQVersion)
		assert.JSONEq(t, `{"value":999}`, string(record.OriginalValue))
		assert.Equal(t, "edge-7", record.OriginalHeaders["source"])
		assert.Equal(t, float64(20), record.AdditionalContext["qualityScore"])
		assert.NotZero(t, record.Timestamp)
		return nil
	})

	router.Route(
		"bike.000001.heartrate",
		[]byte(`{"value":999}`),
		map[string]string{"source": "edge-7"},
		&PipelineError{
			Type:    ErrorTypeValidation,
			Message: "reading rejected",
			Context: map[string]interface{}{"qualityScore": 20},
		},
	)
}

func TestRoute_NonJSONPayloadIsQuoted(t *testing.T) {
	router, producer := newTestRouter(t)

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var record DeadLetterRecord
		require.NoError(t, json.Unmarshal(value, &record))
		var original string
		require.NoError(t, json.Unmarshal(record.OriginalValue, &original))
		assert.Equal(t, "not json at all", original)
		return nil
	})

	router.Route(
		"bike.000001.heartrate",
		[]byte("not json at all"),
		nil,
		&PipelineError{Type: ErrorTypeJSONParse, Message: "payload is not well-formed JSON"},
	)
}

func TestRoute_PublishFailureIsSwallowed(t *testing.T) {
	router, producer := newTestRouter(t)

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	// Best-effort: no panic, no retry, no second send expectation.
	router.Route(
		"bike.000001.heartrate",
		[]byte(`{}`),
		nil,
		&PipelineError{Type: ErrorTypeDatabaseSave, Message: "persist failed"},
	)
}

func TestClassify(t *testing.T) {
	perr := &PipelineError{Type: ErrorTypeInvalidTopic, Message: "bad topic"}
	assert.Same(t, perr, Classify(perr))

	wrapped := Classify(assert.AnError)
	assert.Equal(t, ErrorTypeUnexpected, wrapped.Type)
}
