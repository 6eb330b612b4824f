package payments

import (
	"context"
	"log/slog"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
)

type Gateway interface {
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

type StatusWriter interface {
	UpdatePaymentStatus(ctx context.Context, requestID, status string) error
}

// Settler captures the held fares of passengers who rode and releases the
// holds of requests that were never accepted.
type Settler struct {
	Gateway Gateway
	Store   StatusWriter
	Logger  *slog.Logger
}

type SettleResult struct {
	Captured int
	Released int
	Failed   int
}

func (s *Settler) Settle(ctx context.Context, ride *models.Ride) SettleResult {
	var res SettleResult
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	for _, req := range ride.Requests {
		if req.PaymentStatus != models.PaymentStatusHeld || req.PaymentIntentID == "" {
			continue
		}
		status := models.PaymentStatusCaptured
		op := s.Gateway.Capture
		if req.Status != models.RequestStatusAccepted {
			status = models.PaymentStatusReleased
			op = s.Gateway.Cancel
		}
		if err := op(ctx, req.PaymentIntentID); err != nil {
			res.Failed++
			observability.PaymentsSettled.WithLabelValues("failed").Inc()
			log.Error("payment settlement failed", "ride_id", ride.ID, "request_id", req.ID, "target", status, "error", err)
			continue
		}
		if err := s.Store.UpdatePaymentStatus(ctx, req.ID, status); err != nil {
			log.Error("payment status update failed", "ride_id", ride.ID, "request_id", req.ID, "error", err)
		}
		observability.PaymentsSettled.WithLabelValues(status).Inc()
		if status == models.PaymentStatusCaptured {
			res.Captured++
		} else {
			res.Released++
		}
	}
	return res
}
