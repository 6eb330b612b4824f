package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-tracking/internal/models"
)

// RedisGeo implements Positions using Redis GEO commands. The consumer
// binary writes through the same key layout.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, rideID string, c models.Coord) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: c.Lng, Latitude: c.Lat, Name: rideID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", rideID, err)
	}
	return r.client.HSet(ctx, MetaKey(rideID), map[string]interface{}{"updated": time.Now().UTC().Format(time.RFC3339)}).Err()
}

func (r *RedisGeo) Last(ctx context.Context, rideID string) (models.Coord, time.Time, bool, error) {
	res, err := r.client.GeoPos(ctx, r.key, rideID).Result()
	if err != nil {
		return models.Coord{}, time.Time{}, false, fmt.Errorf("geopos %s: %w", rideID, err)
	}
	if len(res) == 0 || res[0] == nil {
		return models.Coord{}, time.Time{}, false, nil
	}
	c := models.Coord{Lat: res[0].Latitude, Lng: res[0].Longitude}

	var updated time.Time
	v, err := r.client.HGet(ctx, MetaKey(rideID), "updated").Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return c, updated, true, fmt.Errorf("hget %s: %w", rideID, err)
	default:
		updated, _ = time.Parse(time.RFC3339, v)
	}
	return c, updated, true, nil
}

// Forget removes the ride from the GEO set and drops its metadata.
func (r *RedisGeo) Forget(ctx context.Context, rideID string) error {
	if err := r.client.ZRem(ctx, r.key, rideID).Err(); err != nil {
		return fmt.Errorf("zrem %s: %w", rideID, err)
	}
	return r.client.Del(ctx, MetaKey(rideID)).Err()
}

// MetaKey is the hash holding per-ride position metadata.
func MetaKey(rideID string) string { return "ride:position:" + rideID }
