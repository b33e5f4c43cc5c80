package timeparser

import (
	"fmt"
	"time"
)

// FromUnixSeconds converts a payload timestamp field to a time. Readings
// carry unix seconds as a JSON number; anything else is rejected.
func FromUnixSeconds(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case float64:
		secs := int64(v)
		nanos := int64((v - float64(secs)) * float64(time.Second))
		return time.Unix(secs, nanos).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("timestamp missing")
	default:
		return time.Time{}, fmt.Errorf("timestamp is not a unix-seconds number: %T", raw)
	}
}

// IsWithinTolerance checks if the reading timestamp is within tolerance of received time
func IsWithinTolerance(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
