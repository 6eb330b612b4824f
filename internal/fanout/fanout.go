package fanout

import (
	"context"
	"errors"

	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/models"
)

type Publisher interface {
	PublishLocation(ctx context.Context, u models.LocationUpdate) error
}

// Multi publishes to every target and joins the failures.
type Multi []Publisher

func (m Multi) PublishLocation(ctx context.Context, u models.LocationUpdate) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishLocation(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Positions records each update as the ride's last-known position.
type Positions struct {
	Index geo.Positions
}

func (p Positions) PublishLocation(ctx context.Context, u models.LocationUpdate) error {
	return p.Index.Upsert(ctx, u.RideID, models.Coord{Lat: u.Lat, Lng: u.Lng})
}
