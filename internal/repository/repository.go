package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velotrack/bike-telemetry-worker/internal/db"
)

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertTelemetryReading inserts a validated sensor reading. Rows are keyed
// by message_id; a redelivered message becomes a no-op insert instead of a
// duplicate row.
func (r *Repository) InsertTelemetryReading(ctx context.Context, reading *db.TelemetryReading) error {
	query := `
		INSERT INTO telemetry_readings (
			message_id, schema_version, device_id, sensor_type, value, unit_name,
			reading_timestamp, received_at, processed_at, quality_score,
			is_valid, anomaly_detected, validation_errors,
			workout_id, user_id, metadata, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (message_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		reading.MessageID,
		reading.SchemaVersion,
		reading.DeviceID,
		reading.SensorType,
		reading.Value,
		reading.UnitName,
		reading.ReadingTimestamp,
		reading.ReceivedAt,
		reading.ProcessedAt,
		reading.QualityScore,
		reading.IsValid,
		reading.AnomalyDetected,
		reading.ValidationErrors,
		reading.WorkoutID,
		reading.UserID,
		reading.Metadata,
		reading.RawPayload,
	)

	if err != nil {
		return fmt.Errorf("failed to insert telemetry reading: %w", err)
	}

	return nil
}
