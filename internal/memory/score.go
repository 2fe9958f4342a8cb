package memory

import (
	"math"
	"time"
)

// ScoreConfig holds the relevance scoring weights and decay constants.
type ScoreConfig struct {
	TimeDecayWeight  float64 // weight of creation-age decay (default 0.3)
	AccessWeight     float64 // weight of access frequency (default 0.4)
	RecencyWeight    float64 // weight of last-access recency (default 0.3)
	TimeDecayDays    float64 // e-folding time of the age decay (default 30)
	RecencyDecayDays float64 // e-folding time of the recency decay (default 14)
	AccessCountCap   int64   // accesses at which the frequency factor saturates (default 10)
}

// DefaultScoreConfig returns the fixed production weights.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		TimeDecayWeight:  0.3,
		AccessWeight:     0.4,
		RecencyWeight:    0.3,
		TimeDecayDays:    30,
		RecencyDecayDays: 14,
		AccessCountCap:   10,
	}
}

// Scorer maps an entry's temporal and usage attributes to a relevance
// score in [0,1]. Pure and deterministic given the entry and the clock.
type Scorer struct {
	cfg ScoreConfig
}

// NewScorer creates a Scorer, filling zero config fields with defaults.
func NewScorer(cfg ScoreConfig) *Scorer {
	def := DefaultScoreConfig()
	if cfg.TimeDecayWeight == 0 && cfg.AccessWeight == 0 && cfg.RecencyWeight == 0 {
		cfg = def
	}
	if cfg.TimeDecayDays <= 0 {
		cfg.TimeDecayDays = def.TimeDecayDays
	}
	if cfg.RecencyDecayDays <= 0 {
		cfg.RecencyDecayDays = def.RecencyDecayDays
	}
	if cfg.AccessCountCap <= 0 {
		cfg.AccessCountCap = def.AccessCountCap
	}
	return &Scorer{cfg: cfg}
}

// Score computes the blended relevance score:
// exponential decay over creation age, saturating access frequency,
// and exponential decay over time since last access.
// Negative day counts are treated as zero.
func (s *Scorer) Score(e *Entry, now time.Time) float64 {
	ageDays := daysBetween(e.CreatedAt, now)
	timeDecay := math.Exp(-ageDays / s.cfg.TimeDecayDays)

	accessFactor := float64(e.AccessCount) / float64(s.cfg.AccessCountCap)
	if accessFactor > 1 {
		accessFactor = 1
	}
	if accessFactor < 0 {
		accessFactor = 0
	}

	lastAccessDays := daysBetween(e.LastAccessedAt, now)
	recencyFactor := math.Exp(-lastAccessDays / s.cfg.RecencyDecayDays)

	score := s.cfg.TimeDecayWeight*timeDecay +
		s.cfg.AccessWeight*accessFactor +
		s.cfg.RecencyWeight*recencyFactor
	return clamp01(score)
}

// daysBetween returns the whole-and-fractional days from t to now,
// floored at zero.
func daysBetween(t, now time.Time) float64 {
	d := now.Sub(t).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
