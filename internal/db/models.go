package db

import (
	"time"

	"github.com/google/uuid"
)

// TelemetryReading represents a stored sensor reading row
type TelemetryReading struct {
	ID               uuid.UUID
	MessageID        string
	SchemaVersion    string
	DeviceID         string
	SensorType       string
	Value            float64
	UnitName         string
	ReadingTimestamp time.Time
	ReceivedAt       time.Time
	ProcessedAt      time.Time
	QualityScore     int
	IsValid          bool
	AnomalyDetected  bool
	ValidationErrors []string
	WorkoutID        *string
	UserID           *string
	Metadata         map[string]interface{}
	RawPayload       []byte
}
