package anomaly_test

import (
	"testing"

	"github.com/velotrack/bike-telemetry-worker/internal/anomaly"
)

func TestAssess_ValidHighScore(t *testing.T) {
	p := anomaly.NewPolicy(50, 70)

	outcome, anomalous := p.Assess(true, 100)
	if outcome != anomaly.Persist {
		t.Errorf("Expected Persist, got %v", outcome)
	}
	if anomalous {
		t.Error("Expected no anomaly at score 100")
	}
}

func TestAssess_InvalidBetweenThresholds(t *testing.T) {
	p := anomaly.NewPolicy(50, 70)

	// Score 60: at or above the drop threshold, below the anomaly
	// threshold. Stored yet flagged.
	outcome, anomalous := p.Assess(false, 60)
	if outcome != anomaly.PersistFlagged {
		t.Errorf("Expected PersistFlagged, got %v", outcome)
	}
	if !anomalous {
		t.Error("Expected anomaly at score 60")
	}
}

func TestAssess_InvalidBelowDropThreshold(t *testing.T) {
	p := anomaly.NewPolicy(50, 70)

	outcome, anomalous := p.Assess(false, 40)
	if outcome != anomaly.Drop {
		t.Errorf("Expected Drop, got %v", outcome)
	}
	if !anomalous {
		t.Error("Expected anomaly at score 40")
	}
}

func TestAssess_ValidLowScoreNeverDropped(t *testing.T) {
	p := anomaly.NewPolicy(50, 70)

	// Only invalid readings can be dropped, whatever the score.
	outcome, anomalous := p.Assess(true, 40)
	if outcome != anomaly.PersistFlagged {
		t.Errorf("Expected PersistFlagged, got %v", outcome)
	}
	if !anomalous {
		t.Error("Expected anomaly at score 40")
	}
}

func TestAssess_ThresholdBoundaries(t *testing.T) {
	p := anomaly.NewPolicy(50, 70)

	// Exactly at the drop threshold is kept.
	if outcome, _ := p.Assess(false, 50); outcome == anomaly.Drop {
		t.Error("Expected score 50 to be kept")
	}
	// Exactly at the anomaly threshold is not anomalous.
	if _, anomalous := p.Assess(true, 70); anomalous {
		t.Error("Expected score 70 to not be anomalous")
	}
	if _, anomalous := p.Assess(true, 69); !anomalous {
		t.Error("Expected score 69 to be anomalous")
	}
}
