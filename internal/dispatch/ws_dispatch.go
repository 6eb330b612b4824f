package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
)

const wsWriteTimeout = 5 * time.Second

// EventLocationUpdate is the event name observers receive for positions.
const EventLocationUpdate = "location-update"

// Envelope is the frame written to observer sockets.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsObserver is a connected parent watching a ride.
type wsObserver struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (o *wsObserver) send(env Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return o.conn.WriteJSON(env)
}

// WSRegistry holds observer sockets grouped by ride. Delivery is best
// effort; an observer whose write fails is dropped.
type WSRegistry struct {
	mu    sync.RWMutex
	rides map[string]map[string]*wsObserver
	log   *slog.Logger
}

func NewWSRegistry(log *slog.Logger) *WSRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &WSRegistry{rides: make(map[string]map[string]*wsObserver), log: log}
}

// Add registers conn as an observer of rideID and returns its id.
func (r *WSRegistry) Add(rideID string, conn *websocket.Conn) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	obs, ok := r.rides[rideID]
	if !ok {
		obs = make(map[string]*wsObserver)
		r.rides[rideID] = obs
	}
	obs[id] = &wsObserver{id: id, conn: conn}
	observability.ObserversConnected.Inc()
	r.log.Info("observer connected", "ride_id", rideID, "observer_id", id)
	return id
}

// Remove closes and forgets an observer. Unknown ids are ignored.
func (r *WSRegistry) Remove(rideID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obs, ok := r.rides[rideID]
	if !ok {
		return
	}
	o, ok := obs[id]
	if !ok {
		return
	}
	_ = o.conn.Close()
	delete(obs, id)
	if len(obs) == 0 {
		delete(r.rides, rideID)
	}
	observability.ObserversConnected.Dec()
	r.log.Info("observer disconnected", "ride_id", rideID, "observer_id", id)
}

func (r *WSRegistry) Count(rideID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rides[rideID])
}

// Broadcast writes env to every observer of the ride and returns how many
// writes succeeded.
func (r *WSRegistry) Broadcast(rideID string, env Envelope) int {
	r.mu.RLock()
	targets := make([]*wsObserver, 0, len(r.rides[rideID]))
	for _, o := range r.rides[rideID] {
		targets = append(targets, o)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, o := range targets {
		if err := o.send(env); err != nil {
			r.log.Warn("observer write failed", "ride_id", rideID, "observer_id", o.id, "error", err)
			r.Remove(rideID, o.id)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *WSRegistry) PublishLocation(_ context.Context, u models.LocationUpdate) error {
	r.Broadcast(u.RideID, Envelope{Event: EventLocationUpdate, Data: u})
	return nil
}

func (r *WSRegistry) Emit(e models.Event) {
	r.Broadcast(e.RideID, Envelope{Event: string(e.Type), Data: e})
}

// Notify mirrors parent notifications onto the observer sockets.
func (r *WSRegistry) Notify(_ context.Context, n models.Notification) error {
	r.Broadcast(n.RideID, Envelope{Event: "notification", Data: n})
	return nil
}

// CloseAll disconnects every observer.
func (r *WSRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rideID, obs := range r.rides {
		for _, o := range obs {
			_ = o.conn.Close()
			observability.ObserversConnected.Dec()
		}
		delete(r.rides, rideID)
	}
}
