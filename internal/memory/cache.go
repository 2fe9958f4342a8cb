package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how stale a cached search result can get.
const DefaultCacheTTL = 300 * time.Second

// CacheKey identifies one canonical query. The digest covers the full
// query shape, so distinct queries never collide; the owner component
// supports whole-owner invalidation.
type CacheKey struct {
	OwnerID string
	Digest  string
}

func (k CacheKey) String() string {
	return k.OwnerID + ":" + k.Digest
}

// NewCacheKey canonically encodes a search request.
func NewCacheKey(req SearchRequest) CacheKey {
	var b strings.Builder
	fmt.Fprintf(&b, "q=%s|limit=%d|min=%g|sem=%t", req.Query, req.Limit, req.MinRelevanceScore, req.UseSemanticSearch)
	for _, f := range req.Filters {
		fmt.Fprintf(&b, "|f=%s", f.Kind)
		switch f.Kind {
		case FilterTimeRange:
			fmt.Fprintf(&b, ",%d,%d", f.From.UnixNano(), f.To.UnixNano())
		case FilterCategories:
			fmt.Fprintf(&b, ",%s", strings.Join(f.Categories, ","))
		case FilterMinScore:
			fmt.Fprintf(&b, ",%g", f.MinScore)
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return CacheKey{OwnerID: req.OwnerID, Digest: hex.EncodeToString(sum[:16])}
}

// ResultCache is a short-TTL, best-effort cache of computed result
// sets. It never owns authoritative state: a miss falls through to a
// live computation, and every write path invalidates the owner.
type ResultCache interface {
	Get(ctx context.Context, key CacheKey) ([]*Entry, bool)
	Set(ctx context.Context, key CacheKey, entries []*Entry, ttl time.Duration)
	InvalidateOwner(ctx context.Context, ownerID string)
}

// MemoryCache is the in-process ResultCache. Expiry is delegated to
// go-cache; an owner→keys index makes invalidation cheap without
// scanning the whole key space.
type MemoryCache struct {
	inner  *gocache.Cache
	logger *zap.Logger

	mu        sync.Mutex
	ownerKeys map[string]map[string]struct{}
}

// NewMemoryCache creates a MemoryCache with the given default TTL.
func NewMemoryCache(defaultTTL time.Duration, logger *zap.Logger) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	return &MemoryCache{
		inner:     gocache.New(defaultTTL, 2*defaultTTL),
		logger:    logger,
		ownerKeys: make(map[string]map[string]struct{}),
	}
}

// Get returns a copy of the cached result set, if present and fresh.
func (c *MemoryCache) Get(_ context.Context, key CacheKey) ([]*Entry, bool) {
	v, ok := c.inner.Get(key.String())
	if !ok {
		return nil, false
	}
	entries, ok := v.([]*Entry)
	if !ok {
		return nil, false
	}
	return CloneEntries(entries), true
}

// Set stores a copy of the result set under the key for one TTL.
func (c *MemoryCache) Set(_ context.Context, key CacheKey, entries []*Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.inner.Set(key.String(), CloneEntries(entries), ttl)

	c.mu.Lock()
	keys := c.ownerKeys[key.OwnerID]
	if keys == nil {
		keys = make(map[string]struct{})
		c.ownerKeys[key.OwnerID] = keys
	}
	keys[key.String()] = struct{}{}
	c.mu.Unlock()
}

// InvalidateOwner drops every cached result for the owner.
func (c *MemoryCache) InvalidateOwner(_ context.Context, ownerID string) {
	c.mu.Lock()
	keys := c.ownerKeys[ownerID]
	delete(c.ownerKeys, ownerID)
	c.mu.Unlock()

	for k := range keys {
		c.inner.Delete(k)
	}
	if len(keys) > 0 && c.logger != nil {
		c.logger.Debug("result cache invalidated",
			zap.String("owner", ownerID),
			zap.Int("keys", len(keys)))
	}
}
