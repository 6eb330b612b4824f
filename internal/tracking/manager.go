package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/payments"
)

// RideStore loads rides and records their lifecycle.
type RideStore interface {
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRideStatus(ctx context.Context, id, status string) error
}

// FareSettler settles the held fares of a completed ride.
type FareSettler interface {
	Settle(ctx context.Context, ride *models.Ride) payments.SettleResult
}

// PositionIndex holds the last-known positions published for each ride.
type PositionIndex interface {
	Forget(ctx context.Context, rideID string) error
}

type tracked struct {
	session     *Session
	feed        *Feed
	completedAt time.Time
}

// Manager owns the tracking sessions of every ride driven through this
// process, keyed by ride id.
type Manager struct {
	store      RideStore
	settler    FareSettler
	positions  PositionIndex
	cfg        Config
	deps       Deps
	feedBuffer int
	log        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*tracked
	wg       sync.WaitGroup
}

// NewManager builds a manager. deps.Source is ignored; every session gets
// its own Feed. settler and positions may be nil.
func NewManager(store RideStore, settler FareSettler, positions PositionIndex, cfg Config, deps Deps, feedBuffer int) *Manager {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:      store,
		settler:    settler,
		positions:  positions,
		cfg:        cfg,
		deps:       deps,
		feedBuffer: feedBuffer,
		log:        log,
		sessions:   make(map[string]*tracked),
	}
}

func (m *Manager) lookup(rideID string) (*tracked, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sessions[rideID]
	return t, ok
}

// Start loads the ride, marks it active and begins tracking it.
func (m *Manager) Start(ctx context.Context, rideID string) (Snapshot, error) {
	if t, ok := m.lookup(rideID); ok {
		if t.session.State() == StateCompleted {
			return Snapshot{}, ErrRideCompleted
		}
		return Snapshot{}, ErrAlreadyTracking
	}
	ride, err := m.store.GetRide(ctx, rideID)
	if err != nil {
		return Snapshot{}, err
	}
	if ride.Status == models.RideStatusCompleted {
		return Snapshot{}, ErrRideCompleted
	}

	feed := NewFeed(m.feedBuffer)
	deps := m.deps
	deps.Source = feed
	s := NewSession(RideInfo{RideID: ride.ID, DriverName: ride.DriverName, Recipients: ride.ParentPhones()}, m.cfg, deps)

	m.mu.Lock()
	if _, ok := m.sessions[rideID]; ok {
		m.mu.Unlock()
		return Snapshot{}, ErrAlreadyTracking
	}
	m.sessions[rideID] = &tracked{session: s, feed: feed}
	m.mu.Unlock()

	if err := m.store.UpdateRideStatus(ctx, rideID, models.RideStatusActive); err != nil {
		m.remove(rideID)
		return Snapshot{}, &UpstreamError{Op: "mark ride active", Err: err}
	}
	if err := s.Start(ctx, ride.Route()); err != nil {
		m.remove(rideID)
		feed.Unsubscribe()
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

func (m *Manager) remove(rideID string) {
	m.mu.Lock()
	delete(m.sessions, rideID)
	m.mu.Unlock()
}

// PushFix hands a device fix to the ride's session.
func (m *Manager) PushFix(rideID string, fix models.LocationFix) error {
	t, ok := m.lookup(rideID)
	if !ok {
		return ErrSessionNotFound
	}
	return t.feed.Push(fix)
}

// ReportLocationError hands a device GPS error to the ride's session.
func (m *Manager) ReportLocationError(rideID string, err error) error {
	t, ok := m.lookup(rideID)
	if !ok {
		return ErrSessionNotFound
	}
	return t.feed.ReportError(err)
}

func (m *Manager) SOS(ctx context.Context, rideID string) error {
	t, ok := m.lookup(rideID)
	if !ok {
		return ErrSessionNotFound
	}
	return t.session.SendEmergencyAlert(ctx)
}

// Complete ends tracking, marks the ride completed and settles fares in the
// background. Completing an already completed ride returns its summary.
func (m *Manager) Complete(ctx context.Context, rideID string) (models.RideSummary, error) {
	t, ok := m.lookup(rideID)
	if !ok {
		return models.RideSummary{}, ErrSessionNotFound
	}
	summary, err := t.session.Complete(ctx)
	if err != nil {
		return summary, err
	}

	m.mu.Lock()
	if !t.completedAt.IsZero() {
		m.mu.Unlock()
		return summary, nil
	}
	t.completedAt = time.Now()
	m.mu.Unlock()

	if err := m.store.UpdateRideStatus(ctx, rideID, models.RideStatusCompleted); err != nil {
		m.log.Error("marking ride completed failed", "ride_id", rideID, "error", err)
	}
	if m.settler != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			ride, err := m.store.GetRide(ctx, rideID)
			if err != nil {
				m.log.Error("loading ride for settlement failed", "ride_id", rideID, "error", err)
				return
			}
			res := m.settler.Settle(ctx, ride)
			m.log.Info("fares settled", "ride_id", rideID, "captured", res.Captured, "released", res.Released, "failed", res.Failed)
		}()
	}
	return summary, nil
}

func (m *Manager) Snapshot(rideID string) (Snapshot, error) {
	t, ok := m.lookup(rideID)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return t.session.Snapshot(), nil
}

// Active returns the ids of rides currently being tracked.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, t := range m.sessions {
		if t.completedAt.IsZero() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Prune forgets sessions that completed before the cutoff, along with their
// last-known positions, and reports how many were dropped.
func (m *Manager) Prune(ctx context.Context, before time.Time) int {
	m.mu.Lock()
	var pruned []string
	for id, t := range m.sessions {
		if !t.completedAt.IsZero() && t.completedAt.Before(before) {
			delete(m.sessions, id)
			pruned = append(pruned, id)
		}
	}
	m.mu.Unlock()

	if m.positions != nil {
		for _, id := range pruned {
			if err := m.positions.Forget(ctx, id); err != nil {
				m.log.Warn("forgetting ride position failed", "ride_id", id, "error", err)
			}
		}
	}
	return len(pruned)
}

// Shutdown stops every session and waits for background work. Rides stay
// active in the store so a restarted driver app can resume them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*tracked, 0, len(m.sessions))
	for _, t := range m.sessions {
		all = append(all, t)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, t := range all {
			t.session.Stop()
			t.feed.Unsubscribe()
			t.session.Wait()
		}
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("tracking shutdown interrupted"), ctx.Err())
	}
}
