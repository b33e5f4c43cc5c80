package topic

import (
	"strings"
)

// DefaultPrefix is the namespace segment every recognized data topic starts with.
const DefaultPrefix = "bike"

const controlSuffix = "control"

// Rule describes the accepted value range and unit for one sensor type.
type Rule struct {
	Min  float64
	Max  float64
	Unit string
}

// rules is the fixed per-sensor validation table. Sensor types outside this
// set are not recognized.
var rules = map[string]Rule{
	"heartrate":  {Min: 30, Max: 220, Unit: "bpm"},
	"cadence":    {Min: 0, Max: 200, Unit: "rpm"},
	"speed":      {Min: 0, Max: 100, Unit: "kph"},
	"power":      {Min: 0, Max: 2000, Unit: "watts"},
	"resistance": {Min: 0, Max: 100, Unit: "percent"},
	"incline":    {Min: -50, Max: 50, Unit: "percent"},
	"fan":        {Min: 0, Max: 100, Unit: "percent"},
}

// Route is the parsed form of a data topic name.
type Route struct {
	DeviceID   string
	SensorType string
	IsControl  bool
	Rule       Rule
}

// Router parses topic names under a configured namespace prefix.
type Router struct {
	prefix string
}

// NewRouter creates a router for the given namespace prefix. An empty
// prefix falls back to DefaultPrefix.
func NewRouter(prefix string) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Router{prefix: prefix}
}

// Parse splits a topic of the form <prefix>.<deviceId>.<sensorType>[.control]
// into its route. The second return value is false when the prefix is wrong,
// fewer than three segments are present, or the sensor type is unknown.
func (r *Router) Parse(topicName string) (Route, bool) {
	segments := strings.Split(topicName, ".")
	if len(segments) < 3 {
		return Route{}, false
	}
	if segments[0] != r.prefix {
		return Route{}, false
	}

	route := Route{
		DeviceID:   segments[1],
		SensorType: segments[2],
	}
	if len(segments) > 3 && segments[3] == controlSuffix {
		route.IsControl = true
	}

	rule, known := rules[route.SensorType]
	if !known {
		return Route{}, false
	}
	route.Rule = rule

	return route, true
}

// ControlTopic returns the control topic name for a device and control type.
func (r *Router) ControlTopic(deviceID, controlType string) string {
	return r.prefix + "." + deviceID + "." + controlType + "." + controlSuffix
}

// SensorRule looks up the validation rule for a sensor type.
func SensorRule(sensorType string) (Rule, bool) {
	rule, ok := rules[sensorType]
	return rule, ok
}
