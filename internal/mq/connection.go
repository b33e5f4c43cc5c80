package mq

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Connection wraps the broker client shared by consumers and producers
type Connection struct {
	brokers []string
	config  *sarama.Config
	client  sarama.Client
}

// NewConnection dials the broker cluster and registers shutdown on the
// application lifecycle
func NewConnection(lc fx.Lifecycle, logger *zap.Logger, brokers []string) (*Connection, error) {
	logger.Info("attempting to connect to kafka...", zap.Strings("brokers", brokers))

	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		logger.Error("kafka connection failed", zap.Error(err))
		return nil, fmt.Errorf("[KAFKA CONNECTION FAILED] cannot connect to broker cluster. Please check: 1) Kafka is running, 2) KAFKA_BROKERS is correct, 3) Network/firewall allows connection. Error: %w", err)
	}

	conn := &Connection{brokers: brokers, config: config, client: client}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("kafka connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := client.Close(); err != nil {
				logger.Error("failed to close kafka client", zap.Error(err))
				return err
			}
			logger.Info("kafka connection closed")
			return nil
		},
	})

	return conn, nil
}

// SyncProducer creates a producer sharing the connection's client
func (c *Connection) SyncProducer() (sarama.SyncProducer, error) {
	return sarama.NewSyncProducerFromClient(c.client)
}

// ConsumerGroup creates an independent consumer group. Groups do not share
// the client; each owns its own session with the cluster.
func (c *Connection) ConsumerGroup(groupID string) (sarama.ConsumerGroup, error) {
	return sarama.NewConsumerGroup(c.brokers, groupID, c.config)
}
