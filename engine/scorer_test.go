package engine

import (
	"testing"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

func TestScoreBands(t *testing.T) {
	tests := []struct {
		score     int
		wantLevel model.ThreatLevel
		wantEscal int
	}{
		{0, model.LevelNormal, 0},
		{30, model.LevelNormal, 0},
		{31, model.LevelSuspicious, 1},
		{50, model.LevelSuspicious, 1},
		{51, model.LevelLikely, 2},
		{70, model.LevelLikely, 2},
		{71, model.LevelCritical, 3},
		{85, model.LevelCritical, 3},
		{86, model.LevelCritical, 4},
		{100, model.LevelCritical, 4},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.score); got != tt.wantLevel {
			t.Errorf("LevelFor(%d) = %v, want %v", tt.score, got, tt.wantLevel)
		}
		if got := EscalationFor(tt.score); got != tt.wantEscal {
			t.Errorf("EscalationFor(%d) = %d, want %d", tt.score, got, tt.wantEscal)
		}
	}
}

func TestScoreSumsTriggeredWeights(t *testing.T) {
	results := []model.DetectorResult{
		{Name: "mass_modification", Triggered: true, Weight: 25},
		{Name: "entropy_spike", Triggered: false, Weight: 30},
		{Name: "extension_manipulation", Triggered: true, Weight: 25},
	}
	score, level, escalation := Score(results)
	if score != 50 {
		t.Errorf("score = %d, want 50", score)
	}
	if level != model.LevelSuspicious || escalation != 1 {
		t.Errorf("level/escalation = %v/%d, want suspicious/1", level, escalation)
	}
}

func TestScoreCapsAtHundred(t *testing.T) {
	// All six weights sum to 120 by design; the final score is clamped.
	results := []model.DetectorResult{
		{Triggered: true, Weight: weightMassModification},
		{Triggered: true, Weight: weightEntropySpike},
		{Triggered: true, Weight: weightExtensionManip},
		{Triggered: true, Weight: weightDirTraversal},
		{Triggered: true, Weight: weightSuspiciousProcess},
		{Triggered: true, Weight: weightDeletionPattern},
	}
	score, level, escalation := Score(results)
	if score != 100 {
		t.Errorf("score = %d, want 100", score)
	}
	if level != model.LevelCritical || escalation != 4 {
		t.Errorf("level/escalation = %v/%d, want critical/4", level, escalation)
	}
}

func TestScoreEmpty(t *testing.T) {
	score, level, escalation := Score(nil)
	if score != 0 || level != model.LevelNormal || escalation != 0 {
		t.Errorf("Score(nil) = %d/%v/%d, want 0/normal/0", score, level, escalation)
	}
}
