package topic_test

import (
	"testing"

	"github.com/velotrack/bike-telemetry-worker/internal/topic"
)

func TestParse_DataTopic(t *testing.T) {
	r := topic.NewRouter("bike")

	route, ok := r.Parse("bike.000001.heartrate")
	if !ok {
		t.Fatal("Expected topic to be recognized")
	}
	if route.DeviceID != "000001" {
		t.Errorf("Expected deviceId 000001, got %s", route.DeviceID)
	}
	if route.SensorType != "heartrate" {
		t.Errorf("Expected sensorType heartrate, got %s", route.SensorType)
	}
	if route.IsControl {
		t.Error("Expected non-control route")
	}
	if route.Rule.Unit != "bpm" {
		t.Errorf("Expected unit bpm, got %s", route.Rule.Unit)
	}
	if route.Rule.Min != 30 || route.Rule.Max != 220 {
		t.Errorf("Expected range [30, 220], got [%f, %f]", route.Rule.Min, route.Rule.Max)
	}
}

func TestParse_ControlTopic(t *testing.T) {
	r := topic.NewRouter("bike")

	route, ok := r.Parse("bike.000001.resistance.control")
	if !ok {
		t.Fatal("Expected control topic to be recognized")
	}
	if !route.IsControl {
		t.Error("Expected control route")
	}
	if route.SensorType != "resistance" {
		t.Errorf("Expected sensorType resistance, got %s", route.SensorType)
	}
}

func TestParse_UnknownSensorType(t *testing.T) {
	r := topic.NewRouter("bike")

	if _, ok := r.Parse("bike.000001.unknown"); ok {
		t.Error("Expected unknown sensor type to be rejected")
	}
}

func TestParse_WrongPrefix(t *testing.T) {
	r := topic.NewRouter("bike")

	if _, ok := r.Parse("treadmill.000001.heartrate"); ok {
		t.Error("Expected topic with wrong prefix to be rejected")
	}
}

func TestParse_TooFewSegments(t *testing.T) {
	r := topic.NewRouter("bike")

	if _, ok := r.Parse("bike.000001"); ok {
		t.Error("Expected topic with two segments to be rejected")
	}
}

func TestControlTopic(t *testing.T) {
	r := topic.NewRouter("bike")

	got := r.ControlTopic("000001", "resistance")
	if got != "bike.000001.resistance.control" {
		t.Errorf("Expected bike.000001.resistance.control, got %s", got)
	}
}

func TestSensorRule(t *testing.T) {
	rule, ok := topic.SensorRule("power")
	if !ok {
		t.Fatal("Expected power rule to exist")
	}
	if rule.Max != 2000 || rule.Unit != "watts" {
		t.Errorf("Expected power max 2000 watts, got %f %s", rule.Max, rule.Unit)
	}

	if _, ok := topic.SensorRule("altitude"); ok {
		t.Error("Expected unknown sensor to have no rule")
	}
}
