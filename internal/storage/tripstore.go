package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

var ErrNotFound = errors.New("not found")

// RideStore is the slice of ride persistence the tracking core needs:
// read a ride at session start, write status at transitions.
type RideStore interface {
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRideStatus(ctx context.Context, id, status string) error
	UpdatePaymentStatus(ctx context.Context, requestID, status string) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) SaveRide(r *models.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = cloneRide(r)
}

// LoadJSON saves every ride of a JSON array and returns how many were read.
// Rides without an id or with an invalid start or end are rejected.
func (m *MemoryStore) LoadJSON(r io.Reader) (int, error) {
	var rides []models.Ride
	if err := json.NewDecoder(r).Decode(&rides); err != nil {
		return 0, fmt.Errorf("decode rides: %w", err)
	}
	for i := range rides {
		if rides[i].ID == "" || !rides[i].Start.Valid() || !rides[i].End.Valid() {
			return 0, fmt.Errorf("ride %d: id, start and end are required", i)
		}
	}
	for i := range rides {
		m.SaveRide(&rides[i])
	}
	return len(rides), nil
}

// Len reports how many rides are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRide(r), nil
}

func (m *MemoryStore) UpdateRideStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdatePaymentStatus(_ context.Context, requestID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rides {
		for i := range r.Requests {
			if r.Requests[i].ID == requestID {
				r.Requests[i].PaymentStatus = status
				return nil
			}
		}
	}
	return ErrNotFound
}

func cloneRide(r *models.Ride) *models.Ride {
	c := *r
	c.Requests = append([]models.RideRequest(nil), r.Requests...)
	return &c
}
