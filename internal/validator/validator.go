package validator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/velotrack/bike-telemetry-worker/internal/topic"
	"github.com/velotrack/bike-telemetry-worker/tools/timeparser"
)

// SchemaVersion is stamped on every validated reading.
const SchemaVersion = "1.0"

// Score deductions. The score starts at 100 and is clamped to >= 0.
const (
	deductMissingValue = 50
	deductMissingUnit  = 30
	deductOutOfRange   = 40
	deductUnitMismatch = 20
	deductStaleTime    = 10
	deductMissingField = 5
)

// RawReading is the decoded form of one data-topic payload. Value and
// UnitName stay untyped so a wrong-typed field scores a deduction instead
// of failing the JSON decode.
type RawReading struct {
	Value     interface{}            `json:"value"`
	UnitName  interface{}            `json:"unitName"`
	Timestamp interface{}            `json:"timestamp"`
	DeviceID  string                 `json:"deviceId"`
	BikeID    string                 `json:"bikeId"`
	WorkoutID string                 `json:"workoutId"`
	UserID    string                 `json:"userId"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// ValidatedReading is the normalized, quality-scored form of a reading.
// AnomalyDetected is assigned by the outcome policy, not here.
type ValidatedReading struct {
	MessageID        string
	SchemaVersion    string
	DeviceID         string
	SensorType       string
	Value            float64
	UnitName         string
	Timestamp        time.Time
	WorkoutID        string
	UserID           string
	Metadata         map[string]interface{}
	QualityScore     int
	IsValid          bool
	AnomalyDetected  bool
	ValidationErrors []string
	ReceivedAt       time.Time
	ProcessedAt      time.Time
}

// Validator scores readings against their sensor rule with configurable
// timestamp tolerance.
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator with the specified tolerance
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// Validate scores a raw reading against the route's sensor rule. The result
// always carries a fresh messageId and normalized fields; the error list is
// empty exactly when the reading is valid.
func (v *Validator) Validate(raw RawReading, route topic.Route, receivedAt time.Time) ValidatedReading {
	reading := ValidatedReading{
		MessageID:     uuid.NewString(),
		SchemaVersion: SchemaVersion,
		DeviceID:      route.DeviceID,
		SensorType:    route.SensorType,
		Metadata:      raw.Metadata,
		WorkoutID:     raw.WorkoutID,
		UserID:        raw.UserID,
		ReceivedAt:    receivedAt,
	}

	score := 100

	value, ok := raw.Value.(float64)
	if !ok {
		score -= deductMissingValue
		reading.ValidationErrors = append(reading.ValidationErrors,
			"value is missing or not numeric")
	} else {
		reading.Value = value
		if value < route.Rule.Min || value > route.Rule.Max {
			score -= deductOutOfRange
			reading.ValidationErrors = append(reading.ValidationErrors,
				fmt.Sprintf("value %.2f outside range [%.0f, %.0f] for %s",
					value, route.Rule.Min, route.Rule.Max, route.SensorType))
		}
	}

	unit, ok := raw.UnitName.(string)
	if !ok || unit == "" {
		score -= deductMissingUnit
		reading.ValidationErrors = append(reading.ValidationErrors,
			"unitName is missing or not a string")
	} else {
		reading.UnitName = unit
		if unit != route.Rule.Unit {
			score -= deductUnitMismatch
			reading.ValidationErrors = append(reading.ValidationErrors,
				fmt.Sprintf("unitName %q does not match expected %q", unit, route.Rule.Unit))
		}
	}

	if raw.Timestamp == nil {
		reading.Timestamp = receivedAt
	} else if ts, err := timeparser.FromUnixSeconds(raw.Timestamp); err != nil {
		reading.Timestamp = receivedAt
		score -= deductStaleTime
		reading.ValidationErrors = append(reading.ValidationErrors,
			fmt.Sprintf("unusable timestamp: %v", err))
	} else {
		reading.Timestamp = ts
		if !timeparser.IsWithinTolerance(ts, receivedAt, v.timestampToleranceMinutes) {
			score -= deductStaleTime
			reading.ValidationErrors = append(reading.ValidationErrors,
				fmt.Sprintf("timestamp outside tolerance window (±%d minutes)",
					v.timestampToleranceMinutes))
		}
	}

	// Completeness fields reduce the score without recording errors.
	if raw.DeviceID == "" {
		score -= deductMissingField
	}
	if raw.WorkoutID == "" {
		score -= deductMissingField
	}
	if raw.Metadata == nil {
		score -= deductMissingField
		reading.Metadata = map[string]interface{}{}
	}

	if score < 0 {
		score = 0
	}
	reading.QualityScore = score
	reading.IsValid = len(reading.ValidationErrors) == 0
	reading.ProcessedAt = time.Now().UTC()

	return reading
}
