package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velotrack/bike-telemetry-worker/internal/anomaly"
	"github.com/velotrack/bike-telemetry-worker/internal/mq"
	"github.com/velotrack/bike-telemetry-worker/internal/service"
	"github.com/velotrack/bike-telemetry-worker/internal/topic"
	"github.com/velotrack/bike-telemetry-worker/internal/validator"
	"go.uber.org/zap"
)

func newTestProcessor(store *flakyStore, sink *captureSink) *service.Processor {
	return service.NewProcessor(
		topic.NewRouter("bike"),
		validator.NewValidator(5),
		anomaly.NewPolicy(50, 70),
		newTestWriter(store, sink, 3),
		zap.NewNop(),
	)
}

func inbound(topicName string, payload string) mq.InboundMessage {
	return mq.InboundMessage{Topic: topicName, Value: []byte(payload)}
}

func TestProcessMessage_CleanReadingPersisted(t *testing.T) {
	store := &flakyStore{}
	sink := &captureSink{}
	p := newTestProcessor(store, sink)

	payload := `{"value":75,"unitName":"bpm","deviceId":"000001","workoutId":"w1","metadata":{}}`
	err := p.ProcessMessage(context.Background(), inbound("bike.000001.heartrate", payload))

	require.NoError(t, err)
	row := store.lastRow
	require.NotNil(t, row)
	assert.Equal(t, 100, row.QualityScore)
	assert.True(t, row.IsValid)
	assert.False(t, row.AnomalyDetected)
	require.Len(t, sink.emitted, 1)
	assert.Equal(t, "000001", sink.emitted[0].DeviceID)
	assert.Equal(t, "heartrate", sink.emitted[0].DeviceType)
}

func TestProcessMessage_OutOfRangePersistedFlagged(t *testing.T) {
	store := &flakyStore{}
	sink := &captureSink{}
	p := newTestProcessor(store, sink)

	// Score 60: above the drop threshold, below the anomaly threshold.
	payload := `{"value":250,"unitName":"bpm","deviceId":"000001","workoutId":"w1","metadata":{}}`
	err := p.ProcessMessage(context.Background(), inbound("bike.000001.heartrate", payload))

	require.NoError(t, err)
	row := store.lastRow
	require.NotNil(t, row)
	assert.Equal(t, 60, row.QualityScore)
	assert.False(t, row.IsValid)
	assert.True(t, row.AnomalyDetected)
	require.Len(t, sink.emitted, 1)
	assert.True(t, sink.emitted[0].AnomalyDetected)
}

func TestProcessMessage_DropTierIsDeadLettered(t *testing.T) {
	store := &flakyStore{}
	sink := &captureSink{}
	p := newTestProcessor(store, sink)

	// -50 value, -30 unit: score 20, invalid, below the drop threshold.
	payload := `{"value":"high","deviceId":"000001","workoutId":"w1","metadata":{}}`
	err := p.ProcessMessage(context.Background(), inbound("bike.000001.heartrate", payload))

	require.Error(t, err)
	perr := mq.Classify(err)
	assert.Equal(t, mq.ErrorTypeValidation, perr.Type)
	assert.Equal(t, 20, perr.Context["qualityScore"])
	assert.Equal(t, 0, store.attempts, "dropped readings never reach the store")
	assert.Empty(t, sink.emitted)
}

func TestProcessMessage_MalformedPayload(t *testing.T) {
	p := newTestProcessor(&flakyStore{}, &captureSink{})

	err := p.ProcessMessage(context.Background(), inbound("bike.000001.heartrate", `{"value":`))

	require.Error(t, err)
	assert.Equal(t, mq.ErrorTypeJSONParse, mq.Classify(err).Type)
}

func TestProcessMessage_UnrecognizedTopic(t *testing.T) {
	store := &flakyStore{}
	p := newTestProcessor(store, &captureSink{})

	err := p.ProcessMessage(context.Background(), inbound("bike.000001.barometer", `{"value":1}`))

	require.Error(t, err)
	assert.Equal(t, mq.ErrorTypeInvalidTopic, mq.Classify(err).Type)
	assert.Equal(t, 0, store.attempts)
}

func TestProcessMessage_ControlTopicAcknowledged(t *testing.T) {
	store := &flakyStore{}
	sink := &captureSink{}
	p := newTestProcessor(store, sink)

	err := p.ProcessMessage(context.Background(), inbound("bike.000001.resistance.control", `{"value":42}`))

	require.NoError(t, err)
	assert.Equal(t, 0, store.attempts)
	assert.Empty(t, sink.emitted)
}

func TestProcessMessage_PersistFailureCarriesReadingContext(t *testing.T) {
	store := &flakyStore{failures: 100}
	sink := &captureSink{}
	p := newTestProcessor(store, sink)

	payload := `{"value":75,"unitName":"bpm","deviceId":"000001","workoutId":"w1","metadata":{}}`
	err := p.ProcessMessage(context.Background(), inbound("bike.000001.heartrate", payload))

	require.Error(t, err)
	perr := mq.Classify(err)
	assert.Equal(t, mq.ErrorTypeDatabaseSave, perr.Type)
	assert.Equal(t, 3, store.attempts)
	// The full reading travels as context for replay.
	assert.Equal(t, "000001", perr.Context["deviceId"])
	assert.Equal(t, 100, perr.Context["qualityScore"])
	assert.NotEmpty(t, perr.Context["messageId"])
}
