package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

const earthRadiusMeters = 6371000.0

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push a just past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// DistanceMeters is the great-circle distance between two coordinates.
func DistanceMeters(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Positions keeps the last known position of each tracked ride so observers
// can refresh without waiting for the next pushed update.
type Positions interface {
	Upsert(ctx context.Context, rideID string, c models.Coord) error
	Last(ctx context.Context, rideID string) (models.Coord, time.Time, bool, error)
	Forget(ctx context.Context, rideID string) error
}

type position struct {
	c       models.Coord
	updated time.Time
}

// Index is the in-process Positions implementation.
type Index struct {
	mu    sync.RWMutex
	rides map[string]position
}

func NewIndex() *Index {
	return &Index{rides: make(map[string]position)}
}

func (g *Index) Upsert(_ context.Context, rideID string, c models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rides[rideID] = position{c: c, updated: time.Now()}
	return nil
}

func (g *Index) Last(_ context.Context, rideID string) (models.Coord, time.Time, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.rides[rideID]
	return p.c, p.updated, ok, nil
}

// Forget drops a ride once it is no longer tracked.
func (g *Index) Forget(_ context.Context, rideID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rides, rideID)
	return nil
}

// Len reports how many rides have a stored position.
func (g *Index) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rides)
}
