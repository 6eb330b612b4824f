package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/models"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastKey  string
	lastLoc  *redis.GeoLocation
	lastHKey string
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	f.lastKey, f.lastLoc = key, loc
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.lastHKey = key
	return nil
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	u := models.LocationUpdate{RideID: "r1", Lat: 1, Lng: 2}
	start := time.Now()
	if err := updateRedisWithRetry(context.Background(), f, "rides_geo", u, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.lastKey != "rides_geo" || f.lastLoc.Name != "r1" || f.lastLoc.Longitude != 2 || f.lastHKey != "ride:position:r1" {
		t.Fatalf("unexpected writes key=%s loc=%+v hkey=%s", f.lastKey, f.lastLoc, f.lastHKey)
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	u := models.LocationUpdate{RideID: "r1", Lat: 1, Lng: 2}
	if err := updateRedisWithRetry(context.Background(), f, "rides_geo", u, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.geoCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.geoCalls)
	}
}

func TestUpdateRedisWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := updateRedisWithRetry(ctx, f, "rides_geo", models.LocationUpdate{RideID: "r1"}, 3, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodeUpdate(t *testing.T) {
	if _, err := decodeUpdate([]byte(`{"rideId":"r1","lat":12.9,"lng":77.6}`)); err != nil {
		t.Fatalf("expected valid update, got %v", err)
	}
	for _, bad := range []string{`nope`, `{"lat":1,"lng":2}`, `{"rideId":"r1","lat":100,"lng":2}`} {
		if _, err := decodeUpdate([]byte(bad)); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}
