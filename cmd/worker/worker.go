package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/velotrack/bike-telemetry-worker/internal/anomaly"
	"github.com/velotrack/bike-telemetry-worker/internal/api"
	"github.com/velotrack/bike-telemetry-worker/internal/bridge"
	"github.com/velotrack/bike-telemetry-worker/internal/config"
	"github.com/velotrack/bike-telemetry-worker/internal/db"
	"github.com/velotrack/bike-telemetry-worker/internal/metrics"
	"github.com/velotrack/bike-telemetry-worker/internal/mq"
	"github.com/velotrack/bike-telemetry-worker/internal/repository"
	"github.com/velotrack/bike-telemetry-worker/internal/schedule"
	"github.com/velotrack/bike-telemetry-worker/internal/service"
	"github.com/velotrack/bike-telemetry-worker/internal/topic"
	"github.com/velotrack/bike-telemetry-worker/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// startIngest wires the ingestion consumer: data topics in, validated
// readings to the store, failures to the dead-letter topics.
func startIngest(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	processor *service.Processor,
	deadLetter *mq.DeadLetterRouter,
	collector *metrics.Collector,
) error {
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:           conn,
		GroupID:              cfg.Kafka.GroupID,
		Topics:               cfg.Kafka.DataTopics,
		PartitionConcurrency: cfg.Kafka.PartitionConcurrency,
		SlowThreshold:        time.Duration(cfg.Persistence.SlowProcessingThresholdMs) * time.Millisecond,
		Logger:               logger,
		MessageProcessor:     processor.ProcessMessage,
		DeadLetter:           deadLetter,
		Collector:            collector,
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting ingest consumer",
				zap.String("group_id", cfg.Kafka.GroupID),
				zap.Strings("topics", cfg.Kafka.DataTopics))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close ingest consumer", zap.Error(err))
				return err
			}
			logger.Info("ingest consumer stopped gracefully")
			return nil
		},
	})

	return nil
}

// startBridge wires the distribution side: its own consumer group feeding
// fan-out, the live-client HTTP surface, and the idle-connection reaper.
func startBridge(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	b *bridge.Bridge,
	scheduler *schedule.Scheduler,
) error {
	ctx, cancel := context.WithCancel(context.Background())

	// No collector here: the ingest consumer owns the pipeline counters, and
	// fan-out deliveries are counted by the bridge itself.
	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:           conn,
		GroupID:              cfg.Kafka.BridgeGroupID,
		Topics:               cfg.Kafka.DataTopics,
		PartitionConcurrency: cfg.Kafka.PartitionConcurrency,
		Logger:               logger.With(zap.String("component", "bridge")),
		MessageProcessor: func(_ context.Context, msg mq.InboundMessage) error {
			b.Fanout(msg.Topic, msg.Value)
			return nil
		},
	})
	if err != nil {
		cancel()
		return err
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Bridge.Port),
		Handler: api.NewRouter(b),
	}

	reapInterval := time.Duration(cfg.Bridge.ReapIntervalSeconds) * time.Second

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := consumer.Start(ctx); err != nil {
				return err
			}
			if err := scheduler.Every("bridge-reaper", reapInterval, func(context.Context) {
				b.Reap(time.Now())
			}); err != nil {
				return err
			}
			go func() {
				logger.Info("bridge listening", zap.Int("port", cfg.Bridge.Port))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("bridge server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			scheduler.StopAll()
			b.CloseAll()
			if err := server.Shutdown(stopCtx); err != nil {
				logger.Error("bridge server shutdown failed", zap.Error(err))
			}
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close bridge consumer", zap.Error(err))
				return err
			}
			logger.Info("bridge stopped gracefully")
			return nil
		},
	})

	return nil
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideTopicRouter creates the topic router for the configured prefix
func ProvideTopicRouter(cfg *config.Config) *topic.Router {
	return topic.NewRouter(cfg.Kafka.TopicPrefix)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.TimestampToleranceMinutes)
}

// ProvidePolicy creates the quality-threshold outcome policy
func ProvidePolicy(cfg *config.Config) *anomaly.Policy {
	return anomaly.NewPolicy(cfg.Quality.DropThreshold, cfg.Quality.AnomalyThreshold)
}

// ProvideCollector creates the prometheus collector
func ProvideCollector() *metrics.Collector {
	return metrics.NewCollector()
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, logger)
}

// ProvideDeadLetterRouter creates the dead-letter router
func ProvideDeadLetterRouter(publisher *mq.Publisher, logger *zap.Logger) *mq.DeadLetterRouter {
	return mq.NewDeadLetterRouter(publisher, logger)
}

// ProvideMetricsEmitter creates the processing-metrics emitter
func ProvideMetricsEmitter(publisher *mq.Publisher, cfg *config.Config, logger *zap.Logger) *mq.MetricsEmitter {
	return mq.NewMetricsEmitter(publisher, cfg.Kafka.MetricsTopic, logger)
}

// ProvideWriter creates the retrying persistence writer
func ProvideWriter(
	repo *repository.Repository,
	emitter *mq.MetricsEmitter,
	cfg *config.Config,
	logger *zap.Logger,
) *service.Writer {
	return service.NewWriter(service.WriterConfig{
		Store:      repo,
		Metrics:    emitter,
		MaxRetries: cfg.Persistence.MaxRetries,
		Logger:     logger,
	})
}

// ProvideProcessor creates the per-message pipeline processor
func ProvideProcessor(
	router *topic.Router,
	v *validator.Validator,
	policy *anomaly.Policy,
	writer *service.Writer,
	logger *zap.Logger,
) *service.Processor {
	return service.NewProcessor(router, v, policy, writer, logger)
}

// ProvideRegistry creates the live connection registry
func ProvideRegistry() *bridge.Registry {
	return bridge.NewRegistry()
}

// ProvideBridge creates the distribution bridge
func ProvideBridge(
	registry *bridge.Registry,
	router *topic.Router,
	publisher *mq.Publisher,
	collector *metrics.Collector,
	cfg *config.Config,
	logger *zap.Logger,
) *bridge.Bridge {
	idleTimeout := time.Duration(cfg.Bridge.IdleTimeoutMinutes) * time.Minute
	return bridge.NewBridge(registry, router, publisher, collector, idleTimeout, logger)
}

// ProvideScheduler creates the interval-job scheduler
func ProvideScheduler(logger *zap.Logger) *schedule.Scheduler {
	return schedule.NewScheduler(logger)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates the shared broker connection
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.Kafka.Brokers)
}
