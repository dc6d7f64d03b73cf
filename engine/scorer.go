package engine

import "github.com/NickEvans4130/Ransomware-Detection-System/model"

// Score combines detector outputs into a bounded score, a severity level,
// and an escalation index. The scorer is stateless.
//
// Bands (inclusive on both ends):
//
//	score  0..30  → Normal,     escalation 0
//	score 31..50  → Suspicious, escalation 1
//	score 51..70  → Likely,     escalation 2
//	score 71..85  → Critical,   escalation 3
//	score 86..100 → Critical,   escalation 4
func Score(results []model.DetectorResult) (score int, level model.ThreatLevel, escalation int) {
	for _, r := range results {
		if r.Triggered {
			score += r.Weight
		}
	}
	if score > 100 {
		score = 100
	}
	return score, LevelFor(score), EscalationFor(score)
}

// LevelFor maps a score to its severity band.
func LevelFor(score int) model.ThreatLevel {
	switch {
	case score <= 30:
		return model.LevelNormal
	case score <= 50:
		return model.LevelSuspicious
	case score <= 70:
		return model.LevelLikely
	default:
		return model.LevelCritical
	}
}

// EscalationFor maps a score to a response level 0..4.
func EscalationFor(score int) int {
	switch {
	case score <= 30:
		return 0
	case score <= 50:
		return 1
	case score <= 70:
		return 2
	case score <= 85:
		return 3
	default:
		return 4
	}
}
