package directions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

var ErrNoRoute = errors.New("no route")

// Provider returns turn-by-turn steps between two coordinates.
type Provider interface {
	Directions(ctx context.Context, from, to models.Coord) ([]string, error)
}

// Cache is a tiny in-memory TTL cache for direction lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	swept time.Time
}

type cacheEntry struct {
	steps []string
	ts    time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng)
}

// Get returns cached steps and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) ([]string, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return nil, false
	}
	return append([]string(nil), e.steps...), true
}

// Set stores steps in the cache. Keys follow the moving driver and are
// rarely read twice, so expired entries are swept here at most once per TTL.
func (c *Cache) Set(a, b models.Coord, steps []string) {
	k := keyFor(a, b)
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.swept) >= c.ttl {
		for key, e := range c.store {
			if now.Sub(e.ts) > c.ttl {
				delete(c.store, key)
			}
		}
		c.swept = now
	}
	c.store[k] = cacheEntry{steps: append([]string(nil), steps...), ts: now}
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Cached puts a Cache in front of a Provider. Failures are never cached.
type Cached struct {
	Provider Provider
	Cache    *Cache
}

func (c *Cached) Directions(ctx context.Context, from, to models.Coord) ([]string, error) {
	if steps, ok := c.Cache.Get(from, to); ok {
		return steps, nil
	}
	steps, err := c.Provider.Directions(ctx, from, to)
	if err != nil {
		return nil, err
	}
	c.Cache.Set(from, to, steps)
	return steps, nil
}
