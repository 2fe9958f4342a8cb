package memory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// PruneConfig holds the eviction policy thresholds. Every field can be
// overridden per call; zero fields fall back to the defaults.
type PruneConfig struct {
	MaxEntries               int     `json:"max_entries"`                // cap on retained entries per owner
	MinRelevanceScore        float64 `json:"min_relevance_score"`        // floor below which an entry is deleted
	MaxAgeDays               float64 `json:"max_age_days"`               // hard age ceiling, deletion regardless of score
	CompressionThresholdDays float64 `json:"compression_threshold_days"` // age past which a surviving body is compressed
	RelevanceDecayFactor     float64 `json:"relevance_decay_factor"`     // reserved for future decay curve tuning
}

// DefaultPruneConfig returns the production thresholds.
func DefaultPruneConfig() PruneConfig {
	return PruneConfig{
		MaxEntries:               100,
		MinRelevanceScore:        0.3,
		MaxAgeDays:               90,
		CompressionThresholdDays: 7,
		RelevanceDecayFactor:     0.95,
	}
}

func (c PruneConfig) withDefaults(def PruneConfig) PruneConfig {
	if c.MaxEntries <= 0 {
		c.MaxEntries = def.MaxEntries
	}
	if c.MinRelevanceScore <= 0 {
		c.MinRelevanceScore = def.MinRelevanceScore
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = def.MaxAgeDays
	}
	if c.CompressionThresholdDays <= 0 {
		c.CompressionThresholdDays = def.CompressionThresholdDays
	}
	if c.RelevanceDecayFactor <= 0 {
		c.RelevanceDecayFactor = def.RelevanceDecayFactor
	}
	return c
}

// PruneResult counts the entries a pruning pass actually changed.
type PruneResult struct {
	Pruned     int `json:"pruned_count"`
	Compressed int `json:"compressed_count"`
}

// Prune walks one owner's entries and decides keep, compress or delete
// for each. Entries are rescored, sorted by relevance (more recent
// last access breaks ties, keeping passes deterministic), then deleted
// when over the entry cap, under the relevance floor or past the age
// ceiling, and compressed when past the compression threshold. One
// entry failing never aborts the pass; the counts reflect successes
// only. The owner's cached results are invalidated unconditionally,
// even for a zero-change pass.
func (s *Service) Prune(ctx context.Context, ownerID string, cfg *PruneConfig) (PruneResult, error) {
	var result PruneResult
	if ownerID == "" {
		return result, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	policy := s.cfg.Prune
	if cfg != nil {
		policy = cfg.withDefaults(s.cfg.Prune)
	}

	entries, err := s.store.QueryByOwner(ctx, ownerID, nil)
	if err != nil {
		return result, fmt.Errorf("prune owner %s: %w", ownerID, err)
	}
	defer s.cache.InvalidateOwner(ctx, ownerID)

	now := s.now()
	for _, e := range entries {
		e.RelevanceScore = s.scorer.Score(e, now)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].RelevanceScore != entries[j].RelevanceScore {
			return entries[i].RelevanceScore > entries[j].RelevanceScore
		}
		return entries[i].LastAccessedAt.After(entries[j].LastAccessedAt)
	})

	for i, e := range entries {
		ageDays := daysBetween(e.CreatedAt, now)

		switch {
		case i >= policy.MaxEntries,
			e.RelevanceScore < policy.MinRelevanceScore,
			ageDays > policy.MaxAgeDays:
			if err := s.store.Delete(ctx, ownerID, e.ID); err != nil {
				s.logger.Warn("prune delete failed, skipping entry",
					zap.String("entry", e.ID), zap.Error(err))
				continue
			}
			result.Pruned++

		case ageDays > policy.CompressionThresholdDays && !e.Compressed:
			if err := s.compressEntry(ctx, e); err != nil {
				s.logger.Warn("prune compression failed, skipping entry",
					zap.String("entry", e.ID), zap.Error(err))
				continue
			}
			result.Compressed++

		default:
			// keep as-is, but persist the refreshed score
			score := e.RelevanceScore
			if err := s.store.UpdateFields(ctx, ownerID, e.ID, FieldUpdate{RelevanceScore: &score}); err != nil {
				s.logger.Warn("prune score update failed",
					zap.String("entry", e.ID), zap.Error(err))
			}
		}
	}

	s.logger.Info("pruning pass complete",
		zap.String("owner", ownerID),
		zap.Int("scanned", len(entries)),
		zap.Int("pruned", result.Pruned),
		zap.Int("compressed", result.Compressed))
	return result, nil
}

// compressEntry moves an aged body through the codec and persists the
// compressed form in place.
func (s *Service) compressEntry(ctx context.Context, e *Entry) error {
	compressed, err := CompressBody(e.Body)
	if err != nil {
		return err
	}
	empty := ""
	flag := true
	score := e.RelevanceScore
	return s.store.UpdateFields(ctx, e.OwnerID, e.ID, FieldUpdate{
		Body:           &empty,
		CompressedBody: compressed,
		Compressed:     &flag,
		RelevanceScore: &score,
	})
}
