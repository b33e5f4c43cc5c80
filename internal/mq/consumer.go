package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/velotrack/bike-telemetry-worker/internal/metrics"
	"go.uber.org/zap"
)

// throughputLogEvery controls how often the runtime logs its running stats.
const throughputLogEvery = 100

// InboundMessage is one message pulled from a partition.
type InboundMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler is a function that processes a message. A returned
// *PipelineError routes the message to the dead-letter topic with its tag;
// any other error is dead-lettered as UNEXPECTED_ERROR.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Connection           *Connection
	GroupID              string
	Topics               []string
	PartitionConcurrency int
	SlowThreshold        time.Duration
	Logger               *zap.Logger
	MessageProcessor     MessageHandler
	DeadLetter           *DeadLetterRouter
	Collector            *metrics.Collector
}

// Consumer owns the group subscription and the concurrent per-partition
// message pump. Ordering holds within a partition, never across partitions;
// cross-partition parallelism is bounded by PartitionConcurrency. Session
// heartbeats run on a background goroutine inside the group client, so a
// slow message cannot starve liveness and get the session evicted.
type Consumer struct {
	group         sarama.ConsumerGroup
	groupID       string
	topics        []string
	handler       MessageHandler
	deadLetter    *DeadLetterRouter
	collector     *metrics.Collector
	logger        *zap.Logger
	sem           chan struct{}
	slowThreshold time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	processedCount atomic.Uint64
	totalLatencyMs atomic.Int64
}

// NewConsumer creates a new consumer-group runtime
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("consumer: no topics configured")
	}
	if cfg.MessageProcessor == nil {
		return nil, fmt.Errorf("consumer: message processor required")
	}

	concurrency := cfg.PartitionConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	slowThreshold := cfg.SlowThreshold
	if slowThreshold <= 0 {
		slowThreshold = time.Second
	}

	group, err := cfg.Connection.ConsumerGroup(cfg.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Consumer{
		group:         group,
		groupID:       cfg.GroupID,
		topics:        cfg.Topics,
		handler:       cfg.MessageProcessor,
		deadLetter:    cfg.DeadLetter,
		collector:     cfg.Collector,
		logger:        cfg.Logger,
		sem:           make(chan struct{}, concurrency),
		slowThreshold: slowThreshold,
	}, nil
}

// Start begins consuming. It returns once the consume loop is running.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.logger.Info("consumer starting",
		zap.String("group_id", c.groupID),
		zap.Strings("topics", c.topics),
		zap.Int("partition_concurrency", cap(c.sem)),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		handler := &groupHandler{consumer: c}
		for {
			// Consume blocks for the length of one session; it returns on
			// rebalance and is re-entered until the context is cancelled.
			if err := c.group.Consume(ctx, c.topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("consumer session error, retrying after backoff", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", zap.Error(err))
		}
	}()

	return nil
}

// Close stops consuming. In-flight messages finish per partition before the
// group session closes; unacknowledged offsets are left for redelivery.
func (c *Consumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	c.logger.Info("consumer stopped",
		zap.Uint64("messages_processed", c.processedCount.Load()),
	)
	return nil
}

// groupHandler implements sarama.ConsumerGroupHandler
type groupHandler struct {
	consumer *Consumer
}

// Setup is called at the beginning of a new session, before ConsumeClaim
func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	for topicName, partitions := range session.Claims() {
		h.consumer.logger.Info("partitions assigned",
			zap.String("topic", topicName),
			zap.Int32s("partitions", partitions),
		)
	}
	return nil
}

// Cleanup is called at the end of a session, after all ConsumeClaim
// goroutines have exited
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.consumer.logger.Info("consumer session closed")
	return nil
}

// ConsumeClaim pumps one partition in arrival order. sarama runs one
// ConsumeClaim goroutine per assigned partition; the semaphore bounds how
// many of them process a message at the same time.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	c := h.consumer

	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			c.handleMessage(ctx, session, message)
			<-c.sem
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) {
	start := time.Now()
	msg := inboundFromSarama(message)

	err := c.safeProcess(ctx, msg)
	if err != nil {
		perr := Classify(err)
		c.logger.Error("message failed pipeline",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("error_type", string(perr.Type)),
			zap.Error(err),
		)
		if c.collector != nil {
			c.collector.Failed.WithLabelValues(string(perr.Type)).Inc()
		}
		if c.deadLetter != nil {
			c.deadLetter.Route(msg.Topic, msg.Value, msg.Headers, perr)
			if c.collector != nil {
				c.collector.DeadLettered.Inc()
			}
		}
	} else if c.collector != nil {
		c.collector.Processed.Inc()
	}

	// The failed message was dead-lettered; either way the offset moves on.
	session.MarkMessage(message, "")

	elapsed := time.Since(start)
	if c.collector != nil {
		c.collector.Latency.Observe(elapsed.Seconds())
	}
	c.trackLatency(msg, elapsed)
}

// safeProcess invokes the handler and converts a panic into a pipeline
// error so one poisoned message cannot halt the partition pump.
func (c *Consumer) safeProcess(ctx context.Context, msg InboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PipelineError{
				Type:    ErrorTypeUnexpected,
				Message: fmt.Sprintf("panic while processing message: %v", r),
			}
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) trackLatency(msg InboundMessage, elapsed time.Duration) {
	elapsedMs := elapsed.Milliseconds()
	count := c.processedCount.Add(1)
	total := c.totalLatencyMs.Add(elapsedMs)

	if elapsed > c.slowThreshold {
		c.logger.Warn("slow message processing",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int64("elapsed_ms", elapsedMs),
			zap.Int64("threshold_ms", c.slowThreshold.Milliseconds()),
		)
	}

	if count%throughputLogEvery == 0 {
		c.logger.Info("pipeline throughput",
			zap.Uint64("messages", count),
			zap.Int64("avg_latency_ms", total/int64(count)),
		)
	}
}

func inboundFromSarama(message *sarama.ConsumerMessage) InboundMessage {
	headers := make(map[string]string, len(message.Headers))
	for _, h := range message.Headers {
		if h != nil {
			headers[string(h.Key)] = string(h.Value)
		}
	}
	return InboundMessage{
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
		Key:       message.Key,
		Value:     message.Value,
		Headers:   headers,
		Timestamp: message.Timestamp,
	}
}
