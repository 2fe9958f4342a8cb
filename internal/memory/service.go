package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/recall/internal/embedding"
	"go.uber.org/zap"
)

// costPerToken is the flat per-token estimate used by Stats.
const costPerToken = 0.000002

// ServiceConfig carries the tunables of the memory service.
type ServiceConfig struct {
	CacheTTL       time.Duration // search result TTL (default 300s)
	MinEmbedLength int           // bodies longer than this get an embedding (default 50)
	DefaultLimit   int           // search limit when the caller gives none (default 10)
	Score          ScoreConfig
	Prune          PruneConfig
}

// DefaultServiceConfig returns the production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		CacheTTL:       DefaultCacheTTL,
		MinEmbedLength: 50,
		DefaultLimit:   10,
		Score:          DefaultScoreConfig(),
		Prune:          DefaultPruneConfig(),
	}
}

// Service is the adaptive relevance memory store: it decides which
// entries stay hot, which get compressed and which are evicted, and
// ranks reads by relevance with an optional semantic-similarity blend.
// All collaborators are injected; the service holds no global state
// beyond the result cache it was handed.
type Service struct {
	store    Store
	cache    ResultCache
	embedder embedding.Provider
	scorer   *Scorer
	cfg      ServiceConfig
	logger   *zap.Logger

	now func() time.Time

	// access bookkeeping is a best-effort, non-blocking side effect of
	// reads; pending holds the in-flight writers, onAccessErr observes
	// their failures.
	pending     sync.WaitGroup
	onAccessErr func(entryID string, err error)
}

// NewService wires the memory service. The embedder may be nil, in
// which case entries are stored without embeddings and semantic search
// degrades to plain relevance ranking.
func NewService(st Store, cache ResultCache, embedder embedding.Provider, cfg ServiceConfig, logger *zap.Logger) *Service {
	def := DefaultServiceConfig()
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.MinEmbedLength <= 0 {
		cfg.MinEmbedLength = def.MinEmbedLength
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	return &Service{
		store:    st,
		cache:    cache,
		embedder: embedder,
		scorer:   NewScorer(cfg.Score),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the service clock. Intended for tests that need
// deterministic scoring and pruning.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// OnAccessUpdateFailure installs an observer for failed best-effort
// access-bookkeeping writes.
func (s *Service) OnAccessUpdateFailure(fn func(entryID string, err error)) {
	s.onAccessErr = fn
}

// Flush waits for in-flight access-bookkeeping writes to settle.
func (s *Service) Flush() {
	s.pending.Wait()
}

// Save creates and persists a new entry. Bodies longer than the
// configured minimum get an embedding; an embedding failure degrades
// gracefully and the entry is saved without one.
func (s *Service) Save(ctx context.Context, ownerID, content string, md *Metadata) (*Entry, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}

	now := s.now()
	e := &Entry{
		ID:             NewEntryID(ownerID, now),
		OwnerID:        ownerID,
		Body:           content,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if md != nil {
		e.Metadata = *md
	}
	if e.Metadata.Category == "" {
		e.Metadata.Category = "general"
	}
	if e.Metadata.TokenCount == 0 {
		e.Metadata.TokenCount = EstimateTokens(content)
	}
	e.RelevanceScore = s.scorer.Score(e, now)

	if s.embedder != nil && len(content) > s.cfg.MinEmbedLength {
		vectors, err := s.embedder.Embed(ctx, []string{content})
		if err != nil {
			s.logger.Warn("embedding failed, saving entry without one",
				zap.String("entry", e.ID), zap.Error(err))
		} else if len(vectors) == 1 {
			e.Embedding = vectors[0]
		}
	}

	if err := s.store.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("save entry: %w", err)
	}
	s.cache.InvalidateOwner(ctx, ownerID)

	s.logger.Info("entry saved",
		zap.String("entry", e.ID),
		zap.String("owner", ownerID),
		zap.Bool("embedded", e.Embedding != nil),
		zap.Float64("score", e.RelevanceScore))
	return e, nil
}

// Get fetches one entry, decompressing the body and updating access
// bookkeeping.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*Entry, error) {
	if ownerID == "" || id == "" {
		return nil, fmt.Errorf("%w: owner id and entry id are required", ErrInvalidInput)
	}
	e, err := s.store.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	now := s.now()
	if err := s.inflate(e); err != nil {
		return nil, fmt.Errorf("entry %s: %w", id, err)
	}
	s.touch(e, now)
	s.persistAccess(e)
	return e, nil
}

// SearchRequest describes one read. The zero Limit falls back to the
// service default; MinRelevanceScore of 0 keeps every candidate.
type SearchRequest struct {
	OwnerID           string   `json:"owner_id"`
	Query             string   `json:"query,omitempty"`
	Filters           []Filter `json:"filters,omitempty"`
	Limit             int      `json:"limit,omitempty"`
	MinRelevanceScore float64  `json:"min_relevance_score,omitempty"`
	UseSemanticSearch bool     `json:"use_semantic_search,omitempty"`
}

// Search is the cache-checked read path: on a miss it queries the
// store, recomputes relevance, optionally blends in semantic
// similarity, sorts, limits, updates access bookkeeping and caches the
// result. Store failures are surfaced, never turned into silent empty
// results; a corrupt compressed entry is omitted rather than failing
// the whole query.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]*Entry, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if err := ValidateFilters(req.Filters); err != nil {
		return nil, err
	}
	if req.MinRelevanceScore < 0 || req.MinRelevanceScore > 1 {
		return nil, fmt.Errorf("%w: min relevance score must be in [0,1]", ErrInvalidInput)
	}
	if req.Limit <= 0 {
		req.Limit = s.cfg.DefaultLimit
	}

	key := NewCacheKey(req)
	if cached, ok := s.cache.Get(ctx, key); ok {
		s.logger.Debug("search served from cache",
			zap.String("owner", req.OwnerID), zap.Int("results", len(cached)))
		return cached, nil
	}

	candidates, err := s.store.QueryByOwner(ctx, req.OwnerID, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("search owner %s: %w", req.OwnerID, err)
	}

	now := s.now()
	var queryVec []float32
	if req.UseSemanticSearch && req.Query != "" && s.embedder != nil {
		vectors, err := s.embedder.Embed(ctx, []string{req.Query})
		if err != nil {
			s.logger.Warn("query embedding failed, ranking by relevance only", zap.Error(err))
		} else if len(vectors) == 1 {
			queryVec = vectors[0]
		}
	}

	type ranked struct {
		entry *Entry
		score float64
	}
	results := make([]ranked, 0, len(candidates))
	for _, e := range candidates {
		e.RelevanceScore = s.scorer.Score(e, now)
		if e.RelevanceScore < req.MinRelevanceScore {
			continue
		}
		if !MatchesAll(e, req.Filters) {
			continue
		}
		if err := s.inflate(e); err != nil {
			s.logger.Error("dropping undecodable entry from results",
				zap.String("entry", e.ID), zap.Error(err))
			continue
		}

		rankScore := e.RelevanceScore
		if queryVec != nil {
			if vec := s.candidateVector(ctx, e); vec != nil {
				rankScore = blendScore(e.RelevanceScore, Cosine(queryVec, vec))
			}
		}
		results = append(results, ranked{entry: e, score: rankScore})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].entry.LastAccessedAt.After(results[j].entry.LastAccessedAt)
	})
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	out := make([]*Entry, len(results))
	for i, r := range results {
		out[i] = r.entry
		s.touch(out[i], now)
		s.persistAccess(out[i])
	}

	s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
	s.logger.Debug("search computed",
		zap.String("owner", req.OwnerID),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(out)),
		zap.Bool("semantic", queryVec != nil))
	return out, nil
}

// Delete removes one entry and invalidates the owner's cached results.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" || id == "" {
		return fmt.Errorf("%w: owner id and entry id are required", ErrInvalidInput)
	}
	if err := s.store.Delete(ctx, ownerID, id); err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	s.cache.InvalidateOwner(ctx, ownerID)
	return nil
}

// OwnerStats is a read-only aggregate over one owner's entries,
// computed by scanning; there is no materialized view behind it.
type OwnerStats struct {
	TotalEntries          int       `json:"total_entries"`
	TotalTokens           int       `json:"total_tokens"`
	AverageRelevanceScore float64   `json:"average_relevance_score"`
	OldestEntry           time.Time `json:"oldest_entry,omitempty"`
	NewestEntry           time.Time `json:"newest_entry,omitempty"`
	CompressionRatio      float64   `json:"compression_ratio"`
	EstimatedCost         float64   `json:"estimated_cost"`
}

// Stats scans the owner's entries and aggregates usage numbers.
// Scores are recomputed at read time but not written back.
func (s *Service) Stats(ctx context.Context, ownerID string) (*OwnerStats, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	entries, err := s.store.QueryByOwner(ctx, ownerID, nil)
	if err != nil {
		return nil, fmt.Errorf("stats for owner %s: %w", ownerID, err)
	}

	stats := &OwnerStats{TotalEntries: len(entries)}
	if len(entries) == 0 {
		return stats, nil
	}

	now := s.now()
	var scoreSum float64
	var compressed int
	stats.OldestEntry = entries[0].CreatedAt
	stats.NewestEntry = entries[0].CreatedAt
	for _, e := range entries {
		stats.TotalTokens += e.Metadata.TokenCount
		scoreSum += s.scorer.Score(e, now)
		if e.Compressed {
			compressed++
		}
		if e.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = e.CreatedAt
		}
		if e.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = e.CreatedAt
		}
	}
	stats.AverageRelevanceScore = scoreSum / float64(len(entries))
	stats.CompressionRatio = float64(compressed) / float64(len(entries))
	stats.EstimatedCost = float64(stats.TotalTokens) * costPerToken
	return stats, nil
}

// RefreshAllScores recomputes every entry's relevance score without
// pruning. Updates are independent per-document writes; one failure is
// logged and does not stop the batch.
func (s *Service) RefreshAllScores(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	entries, err := s.store.QueryByOwner(ctx, ownerID, nil)
	if err != nil {
		return fmt.Errorf("refresh scores for owner %s: %w", ownerID, err)
	}

	now := s.now()
	refreshed := 0
	for _, e := range entries {
		score := s.scorer.Score(e, now)
		if err := s.store.UpdateFields(ctx, ownerID, e.ID, FieldUpdate{RelevanceScore: &score}); err != nil {
			s.logger.Warn("score refresh failed for entry",
				zap.String("entry", e.ID), zap.Error(err))
			continue
		}
		refreshed++
	}
	s.cache.InvalidateOwner(ctx, ownerID)

	s.logger.Info("relevance scores refreshed",
		zap.String("owner", ownerID),
		zap.Int("refreshed", refreshed),
		zap.Int("total", len(entries)))
	return nil
}

// candidateVector resolves an entry's embedding regardless of whether
// the store keeps it inline or in a parallel keyed collection. Entries
// without one stay unblended.
func (s *Service) candidateVector(ctx context.Context, e *Entry) []float32 {
	if e.Embedding != nil {
		return e.Embedding
	}
	vec, err := s.store.GetEmbedding(ctx, e.ID)
	if err != nil {
		if err != ErrNotFound {
			s.logger.Debug("embedding lookup failed",
				zap.String("entry", e.ID), zap.Error(err))
		}
		return nil
	}
	return vec
}

// inflate restores the plain-text body of a compressed entry so callers
// of the read API always receive text.
func (s *Service) inflate(e *Entry) error {
	if !e.Compressed {
		return nil
	}
	text, err := DecompressBody(e.CompressedBody)
	if err != nil {
		return err
	}
	e.Body = text
	e.CompressedBody = nil
	e.Compressed = false
	return nil
}

// touch applies read-side bookkeeping to the in-memory entry.
func (s *Service) touch(e *Entry, now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = now
	e.RelevanceScore = s.scorer.Score(e, now)
}

// persistAccess writes the entry's access bookkeeping back to the
// store without blocking the read path. Failures go to the observer
// hook and the log; the read has already returned its result.
func (s *Service) persistAccess(e *Entry) {
	id, ownerID := e.ID, e.OwnerID
	count := e.AccessCount
	at := e.LastAccessedAt
	score := e.RelevanceScore

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.store.UpdateFields(ctx, ownerID, id, FieldUpdate{
			AccessCount:    &count,
			LastAccessedAt: &at,
			RelevanceScore: &score,
		})
		if err != nil {
			s.logger.Warn("access bookkeeping write failed",
				zap.String("entry", id), zap.Error(err))
			if s.onAccessErr != nil {
				s.onAccessErr(id, err)
			}
		}
	}()
}
