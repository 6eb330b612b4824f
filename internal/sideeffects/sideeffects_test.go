package sideeffects

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/models"
)

type captureEmitter struct{ events []models.Event }

func (c *captureEmitter) Emit(e models.Event) { c.events = append(c.events, e) }

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]string, bool, error) {
	return nil, false, errors.New("redis down")
}
func (failingCache) Set(context.Context, string, []string) error { return errors.New("redis down") }
func (failingCache) Delete(context.Context, string) error        { return errors.New("redis down") }

func TestPortRouteCache(t *testing.T) {
	ctx := context.Background()
	p := &Port{Cache: NewMemoryRouteCache()}
	if _, ok := p.CachedDirections(ctx, "r1"); ok {
		t.Fatal("expected empty cache")
	}
	p.CacheDirections(ctx, "r1", []string{"Turn left onto Oak Ave (120 m)"})
	steps, ok := p.CachedDirections(ctx, "r1")
	if !ok || len(steps) != 1 {
		t.Fatalf("expected cached steps, got %v", steps)
	}
	steps[0] = "mutated"
	again, _ := p.CachedDirections(ctx, "r1")
	if again[0] == "mutated" {
		t.Fatal("cache returned shared slice")
	}
	p.ClearDirections(ctx, "r1")
	if _, ok := p.CachedDirections(ctx, "r1"); ok {
		t.Fatal("expected cache cleared")
	}
}

func TestPortCacheFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	p := &Port{Cache: failingCache{}}
	p.CacheDirections(ctx, "r1", []string{"x"})
	if _, ok := p.CachedDirections(ctx, "r1"); ok {
		t.Fatal("expected miss on read failure")
	}
	p.ClearDirections(ctx, "r1")
}

func TestAnnounce(t *testing.T) {
	em := &captureEmitter{}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := &Port{Events: em, Now: func() time.Time { return at }}
	p.Announce(context.Background(), "r1", "Checkpoint reached: Destination")
	p.Announce(context.Background(), "r1", "")
	if len(em.events) != 1 {
		t.Fatalf("expected one announcement, got %d", len(em.events))
	}
	e := em.events[0]
	if e.Type != models.EventAnnouncement || e.RideID != "r1" || !e.Timestamp.Equal(at) {
		t.Fatalf("unexpected event %+v", e)
	}
	(&Port{}).Announce(context.Background(), "r1", "no sink")
}

func TestRedisRouteCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	c := NewRedisRouteCache(client, time.Minute)
	if err := c.Set(ctx, "it-ride", []string{"a", "b"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	steps, ok, err := c.Get(ctx, "it-ride")
	if err != nil || !ok || len(steps) != 2 {
		t.Fatalf("unexpected get %v %v %v", steps, ok, err)
	}
	if err := c.Delete(ctx, "it-ride"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "it-ride"); ok {
		t.Fatal("expected miss after delete")
	}
}
