package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	Database    DatabaseConfig
	Kafka       KafkaConfig
	Validation  ValidationConfig
	Quality     QualityConfig
	Persistence PersistenceConfig
	Bridge      BridgeConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// KafkaConfig holds broker connection, topic and consumer-group settings
type KafkaConfig struct {
	Brokers              []string
	GroupID              string
	BridgeGroupID        string
	DataTopics           []string
	TopicPrefix          string
	MetricsTopic         string
	PartitionConcurrency int
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int
}

// QualityConfig holds the two independent quality-score thresholds
type QualityConfig struct {
	DropThreshold    int
	AnomalyThreshold int
}

// PersistenceConfig holds retry settings for the write path
type PersistenceConfig struct {
	MaxRetries                int
	SlowProcessingThresholdMs int
}

// BridgeConfig holds live-client distribution settings
type BridgeConfig struct {
	Port                int
	ReapIntervalSeconds int
	IdleTimeoutMinutes  int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "bike-telemetry-worker"),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers:              getEnvAsSlice("KAFKA_BROKERS", nil),
			GroupID:              getEnv("KAFKA_GROUP_ID", "bike-telemetry.ingest"),
			BridgeGroupID:        getEnv("KAFKA_BRIDGE_GROUP_ID", "bike-telemetry.bridge"),
			DataTopics:           getEnvAsSlice("KAFKA_DATA_TOPICS", nil),
			TopicPrefix:          getEnv("TOPIC_PREFIX", "bike"),
			MetricsTopic:         getEnv("KAFKA_METRICS_TOPIC", "bike.telemetry.metrics"),
			PartitionConcurrency: getEnvAsInt("PARTITION_CONCURRENCY", 4),
		},
		Validation: ValidationConfig{
			TimestampToleranceMinutes: getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", 5),
		},
		Quality: QualityConfig{
			DropThreshold:    getEnvAsInt("QUALITY_DROP_THRESHOLD", 50),
			AnomalyThreshold: getEnvAsInt("QUALITY_ANOMALY_THRESHOLD", 70),
		},
		Persistence: PersistenceConfig{
			MaxRetries:                getEnvAsInt("PERSIST_MAX_RETRIES", 3),
			SlowProcessingThresholdMs: getEnvAsInt("SLOW_PROCESSING_THRESHOLD_MS", 1000),
		},
		Bridge: BridgeConfig{
			Port:                getEnvAsInt("BRIDGE_PORT", 8082),
			ReapIntervalSeconds: getEnvAsInt("BRIDGE_REAP_INTERVAL_SECONDS", 60),
			IdleTimeoutMinutes:  getEnvAsInt("BRIDGE_IDLE_TIMEOUT_MINUTES", 5),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS is required but not set in environment variables")
	}
	if len(cfg.Kafka.DataTopics) == 0 {
		return nil, fmt.Errorf("KAFKA_DATA_TOPICS is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
