package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-tracking/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Multi fans a notification out to every gateway. SOS is attempted on all of
// them even when an earlier one fails.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, d := range m {
		if err := d.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogDispatcher only records notifications. Used when no gateway is set up.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Notify(_ context.Context, n models.Notification) error {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification", "ride_id", n.RideID, "kind", n.Kind, "recipients", len(n.Recipients), "checkpoint", n.Checkpoint)
	return nil
}
