package anomaly

// Outcome is the terminal decision for a scored reading.
type Outcome int

const (
	// Persist stores the reading as-is.
	Persist Outcome = iota
	// PersistFlagged stores the reading with the anomaly flag set.
	PersistFlagged
	// Drop discards the reading; it is dead-lettered instead of stored.
	Drop
)

// Policy applies the two independent quality thresholds: readings scoring
// below DropThreshold are discarded when invalid, readings scoring below
// AnomalyThreshold are flagged anomalous. A reading in between is stored
// yet flagged.
type Policy struct {
	dropThreshold    int
	anomalyThreshold int
}

// NewPolicy creates a policy with the specified thresholds
func NewPolicy(dropThreshold, anomalyThreshold int) *Policy {
	return &Policy{
		dropThreshold:    dropThreshold,
		anomalyThreshold: anomalyThreshold,
	}
}

// Assess decides the outcome for a reading and whether it is anomalous.
// Only invalid readings can be dropped; the anomaly flag depends on the
// score alone.
func (p *Policy) Assess(isValid bool, qualityScore int) (Outcome, bool) {
	anomaly := qualityScore < p.anomalyThreshold

	if !isValid && qualityScore < p.dropThreshold {
		return Drop, anomaly
	}
	if anomaly {
		return PersistFlagged, anomaly
	}
	return Persist, anomaly
}
