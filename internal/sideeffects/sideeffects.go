// Package sideeffects implements the device-bound effects of a tracking
// session on the server: spoken guidance is forwarded to the driver app as
// announcement events, and the last directions of a ride are cached so a
// reconnecting app can show them without a new routing call.
package sideeffects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/models"
)

type RouteCache interface {
	Get(ctx context.Context, rideID string) ([]string, bool, error)
	Set(ctx context.Context, rideID string, steps []string) error
	Delete(ctx context.Context, rideID string) error
}

type Emitter interface {
	Emit(e models.Event)
}

// Port satisfies tracking.SideEffectPort.
type Port struct {
	Cache  RouteCache
	Events Emitter
	Logger *slog.Logger
	Now    func() time.Time
}

func (p *Port) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Port) Announce(_ context.Context, rideID, text string) {
	if p.Events == nil || text == "" {
		return
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	p.Events.Emit(models.Event{Type: models.EventAnnouncement, RideID: rideID, Message: text, Timestamp: now()})
}

func (p *Port) CacheDirections(ctx context.Context, rideID string, steps []string) {
	if p.Cache == nil {
		return
	}
	if err := p.Cache.Set(ctx, rideID, steps); err != nil {
		p.logger().Warn("route cache write failed", "ride_id", rideID, "error", err)
	}
}

func (p *Port) CachedDirections(ctx context.Context, rideID string) ([]string, bool) {
	if p.Cache == nil {
		return nil, false
	}
	steps, ok, err := p.Cache.Get(ctx, rideID)
	if err != nil {
		p.logger().Warn("route cache read failed", "ride_id", rideID, "error", err)
		return nil, false
	}
	return steps, ok
}

func (p *Port) ClearDirections(ctx context.Context, rideID string) {
	if p.Cache == nil {
		return
	}
	if err := p.Cache.Delete(ctx, rideID); err != nil {
		p.logger().Warn("route cache delete failed", "ride_id", rideID, "error", err)
	}
}

type MemoryRouteCache struct {
	mu    sync.RWMutex
	steps map[string][]string
}

func NewMemoryRouteCache() *MemoryRouteCache {
	return &MemoryRouteCache{steps: make(map[string][]string)}
}

func (m *MemoryRouteCache) Get(_ context.Context, rideID string) ([]string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.steps[rideID]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), s...), true, nil
}

func (m *MemoryRouteCache) Set(_ context.Context, rideID string, steps []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[rideID] = append([]string(nil), steps...)
	return nil
}

func (m *MemoryRouteCache) Delete(_ context.Context, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.steps, rideID)
	return nil
}

// RedisRouteCache stores steps as JSON under route:<ride id>.
type RedisRouteCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRouteCache(client *redis.Client, ttl time.Duration) *RedisRouteCache {
	return &RedisRouteCache{client: client, ttl: ttl}
}

func routeKey(rideID string) string { return "route:" + rideID }

func (r *RedisRouteCache) Get(ctx context.Context, rideID string) ([]string, bool, error) {
	raw, err := r.client.Get(ctx, routeKey(rideID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", routeKey(rideID), err)
	}
	var steps []string
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", routeKey(rideID), err)
	}
	return steps, true, nil
}

func (r *RedisRouteCache) Set(ctx context.Context, rideID string, steps []string) error {
	b, err := json.Marshal(steps)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, routeKey(rideID), b, r.ttl).Err()
}

func (r *RedisRouteCache) Delete(ctx context.Context, rideID string) error {
	return r.client.Del(ctx, routeKey(rideID)).Err()
}
