package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/BJohnRogers/FinalVision/internal/cache"
	"github.com/BJohnRogers/FinalVision/internal/logging"
	"github.com/BJohnRogers/FinalVision/internal/query"
)

// CachingResolver serves repeated queries from a cache.Store. Only cards are
// cached; failures always go back to the wrapped resolver.
type CachingResolver struct {
	next   Resolver
	store  cache.Store
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachingResolver wraps next with store
func NewCachingResolver(next Resolver, store cache.Store, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		next:   next,
		store:  store,
		ttl:    ttl,
		logger: logging.NewLogger("LookupCache"),
	}
}

// CacheKey is the store key for a query. Fuzzy search is case-insensitive.
func CacheKey(q query.LookupQuery) string {
	return cache.Key("card", strings.ToLower(q.Normalized))
}

// Lookup returns the cached card for q or resolves and caches it
func (r *CachingResolver) Lookup(ctx context.Context, q query.LookupQuery) Result {
	key := CacheKey(q)

	data, err := r.store.Get(ctx, key)
	switch {
	case err == nil:
		var card Card
		if jsonErr := json.Unmarshal(data, &card); jsonErr == nil && card.ScryfallURI != "" {
			return Result{Card: &card, Cached: true}
		}
		r.logger.Warn("Discarding unreadable cache entry", "key", key)
		if delErr := r.store.Delete(ctx, key); delErr != nil {
			r.logger.Warn("Cache delete failed", "key", key, "error", delErr.Error())
		}
	case !errors.Is(err, cache.ErrCacheMiss):
		r.logger.Warn("Cache read failed, resolving directly", "key", key, "error", err.Error())
	}

	result := r.next.Lookup(ctx, q)
	if !result.OK() {
		return result
	}

	data, err = json.Marshal(result.Card)
	if err != nil {
		return result
	}
	if err := r.store.Set(ctx, key, data, r.ttl); err != nil {
		r.logger.Warn("Cache write failed", "key", key, "error", err.Error())
	}

	return result
}
