package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/vai-no-pulo/internal/models"
)

// CachingProvider wraps a Provider with a small in-memory TTL cache for
// polylines. Route geometry for a fixed origin/destination pair is stable
// over the cache lifetime, and the same driver route gets probed once per
// candidate customer during trip search.
type CachingProvider struct {
	inner Provider

	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	poly []models.Coord
	ts   time.Time
}

func NewCachingProvider(inner Provider, ttl time.Duration) *CachingProvider {
	return &CachingProvider{inner: inner, store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *CachingProvider) Polyline(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	k := keyFor(from, to)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.poly, nil
	}
	poly, err := c.inner.Polyline(ctx, from, to)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.store[k] = cacheEntry{poly: poly, ts: time.Now()}
	c.mu.Unlock()
	return poly, nil
}

func (c *CachingProvider) DistanceKm(ctx context.Context, from, to models.Coord) (float64, error) {
	return c.inner.DistanceKm(ctx, from, to)
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}
