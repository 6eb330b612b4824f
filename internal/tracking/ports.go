package tracking

import (
	"context"

	"github.com/example/ride-tracking/internal/models"
)

// Notifier delivers ride notifications (SMS, webhooks, observer sockets).
// Errors are logged by the session and never change tracking state.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// DirectionsProvider returns human readable turn-by-turn steps.
type DirectionsProvider interface {
	Directions(ctx context.Context, from, to models.Coord) ([]string, error)
}

// LocationSource is a cancellable GPS watch. After Unsubscribe returns no
// further callbacks may fire.
type LocationSource interface {
	Subscribe(onFix func(models.LocationFix), onError func(error)) error
	Unsubscribe()
}

// LocationPublisher fans a position out to observers of the ride.
type LocationPublisher interface {
	PublishLocation(ctx context.Context, u models.LocationUpdate) error
}

// EventSink receives observer events that are not parent notifications.
type EventSink interface {
	Emit(e models.Event)
}

// SideEffectPort covers device-bound effects: spoken guidance and the
// local route cache used when the network drops.
type SideEffectPort interface {
	Announce(ctx context.Context, rideID, text string)
	CacheDirections(ctx context.Context, rideID string, steps []string)
	CachedDirections(ctx context.Context, rideID string) ([]string, bool)
	ClearDirections(ctx context.Context, rideID string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.Notification) error { return nil }

type nopPublisher struct{}

func (nopPublisher) PublishLocation(context.Context, models.LocationUpdate) error { return nil }

type nopSink struct{}

func (nopSink) Emit(models.Event) {}

type nopEffects struct{}

func (nopEffects) Announce(context.Context, string, string)                  {}
func (nopEffects) CacheDirections(context.Context, string, []string)         {}
func (nopEffects) CachedDirections(context.Context, string) ([]string, bool) { return nil, false }
func (nopEffects) ClearDirections(context.Context, string)                   {}

type nopSource struct{}

func (nopSource) Subscribe(func(models.LocationFix), func(error)) error { return nil }
func (nopSource) Unsubscribe()                                           {}
