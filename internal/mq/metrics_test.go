package mq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// gatedProducer blocks every send until released, standing in for a broker
// that is slow to acknowledge.
type gatedProducer struct {
	release chan struct{}
	sent    chan *sarama.ProducerMessage
}

func newGatedProducer() *gatedProducer {
	return &gatedProducer{
		release: make(chan struct{}),
		sent:    make(chan *sarama.ProducerMessage, 1),
	}
}

func (p *gatedProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	<-p.release
	p.sent <- msg
	return 0, 0, nil
}

func (p *gatedProducer) SendMessages([]*sarama.ProducerMessage) error { return nil }
func (p *gatedProducer) Close() error                                 { return nil }
func (p *gatedProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnFlagReady
}
func (p *gatedProducer) IsTransactional() bool { return false }
func (p *gatedProducer) BeginTxn() error       { return nil }
func (p *gatedProducer) CommitTxn() error      { return nil }
func (p *gatedProducer) AbortTxn() error       { return nil }
func (p *gatedProducer) AddOffsetsToTxn(map[string][]*sarama.PartitionOffsetMetadata, string) error {
	return nil
}
func (p *gatedProducer) AddMessageToTxn(*sarama.ConsumerMessage, string, *string) error {
	return nil
}

func TestEmit_DoesNotBlockCaller(t *testing.T) {
	producer := newGatedProducer()
	publisher := NewPublisherWithProducer(producer, zap.NewNop())
	emitter := NewMetricsEmitter(publisher, "bike.telemetry.metrics", zap.NewNop())

	done := make(chan struct{})
	go func() {
		emitter.Emit(ProcessingMetrics{DeviceID: "000001", MessageID: "msg-1", QualityScore: 100})
		close(done)
	}()

	// Emit must return while the broker is still holding the send.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on the producer")
	}

	close(producer.release)

	select {
	case msg := <-producer.sent:
		assert.Equal(t, "bike.telemetry.metrics", msg.Topic)
		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var m ProcessingMetrics
		require.NoError(t, json.Unmarshal(value, &m))
		assert.Equal(t, "msg-1", m.MessageID)
	case <-time.After(time.Second):
		t.Fatal("metrics record never published")
	}
}
