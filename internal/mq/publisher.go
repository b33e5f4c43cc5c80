package mq

import (
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Publisher publishes messages onto broker topics
type Publisher struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

// NewPublisher creates a new publisher on the shared connection
func NewPublisher(conn *Connection, logger *zap.Logger) (*Publisher, error) {
	producer, err := conn.SyncProducer()
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return &Publisher{producer: producer, logger: logger}, nil
}

// NewPublisherWithProducer wraps an existing producer. Used by tests.
func NewPublisherWithProducer(producer sarama.SyncProducer, logger *zap.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

// Publish sends one message to a topic, keyed for partition affinity
func (p *Publisher) Publish(topicName, key string, payload []byte, headers map[string]string) error {
	msg := &sarama.ProducerMessage{
		Topic: topicName,
		Value: sarama.ByteEncoder(payload),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topicName, err)
	}

	p.logger.Debug("published message",
		zap.String("topic", topicName),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)

	return nil
}

// Close closes the underlying producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}
