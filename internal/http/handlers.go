package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-tracking/internal/dispatch"
	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/matcher"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/storage"
	"github.com/example/ride-tracking/internal/tracking"
)

type Server struct {
	Tracking  *tracking.Manager
	Positions geo.Positions
	Observers *dispatch.WSRegistry
	logger    *slog.Logger
	mux       *mux.Router
}

func NewServer(tr *tracking.Manager, positions geo.Positions, observers *dispatch.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Tracking: tr, Positions: positions, Observers: observers, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	rides := s.mux.PathPrefix("/api/v1/rides/{ride_id}").Subrouter()
	rides.HandleFunc("/tracking/start", s.handleStart).Methods(http.MethodPost)
	rides.HandleFunc("/tracking", s.handleSnapshot).Methods(http.MethodGet)
	rides.HandleFunc("/locations", s.handleLocation).Methods(http.MethodPost)
	rides.HandleFunc("/location-errors", s.handleLocationError).Methods(http.MethodPost)
	rides.HandleFunc("/sos", s.handleSOS).Methods(http.MethodPost)
	rides.HandleFunc("/complete", s.handleComplete).Methods(http.MethodPost)
	rides.HandleFunc("/position", s.handlePosition).Methods(http.MethodGet)

	s.mux.HandleFunc("/api/v1/compatibility", s.handleCompatibility).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/compatibility/rank", s.handleRank).Methods(http.MethodPost)

	s.mux.HandleFunc("/ws/rides/{ride_id}", s.handleObserverWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var upstream *tracking.UpstreamError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, tracking.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracking.ErrInvalidTransition), errors.Is(err, tracking.ErrAlreadyTracking),
		errors.Is(err, tracking.ErrRideCompleted), errors.Is(err, tracking.ErrSourceClosed):
		return http.StatusConflict
	case errors.Is(err, tracking.ErrInvalidRoute), errors.Is(err, tracking.ErrMalformedFix):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tracking.ErrFeedFull):
		return http.StatusTooManyRequests
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Tracking.Start(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Tracking.Snapshot(mux.Vars(r)["ride_id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type locationRequest struct {
	Lat       *float64  `json:"lat"`
	Lng       *float64  `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	fix := models.LocationFix{Coord: models.Coord{Lat: *req.Lat, Lng: *req.Lng}, AccuracyMeters: req.Accuracy, Timestamp: req.Timestamp}
	if !fix.Coord.Valid() {
		writeError(w, http.StatusBadRequest, tracking.ErrMalformedFix.Error())
		return
	}
	if err := s.Tracking.PushFix(mux.Vars(r)["ride_id"], fix); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type locationErrorRequest struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleLocationError(w http.ResponseWriter, r *http.Request) {
	var req locationErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Tracking.ReportLocationError(mux.Vars(r)["ride_id"], tracking.LocationErrorFromCode(req.Code, req.Message)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSOS(w http.ResponseWriter, r *http.Request) {
	if err := s.Tracking.SOS(r.Context(), mux.Vars(r)["ride_id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sos dispatched"})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Tracking.Complete(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type positionResponse struct {
	RideID    string    `json:"ride_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updated_at"`
}

// handlePosition serves the parent "refresh location" button.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	c, at, ok, err := s.Positions.Last(r.Context(), rideID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no position yet")
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{RideID: rideID, Lat: c.Lat, Lng: c.Lng, UpdatedAt: at})
}

type party struct {
	Profile     models.Profile     `json:"profile"`
	Preferences models.Preferences `json:"preferences"`
}

type compatibilityRequest struct {
	Passenger party `json:"passenger"`
	Driver    party `json:"driver"`
}

type compatibilityResponse struct {
	matcher.MatchResult
	Score int `json:"score"`
}

func (s *Server) handleCompatibility(w http.ResponseWriter, r *http.Request) {
	var req compatibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, d := req.Passenger, req.Driver
	writeJSON(w, http.StatusOK, compatibilityResponse{
		MatchResult: matcher.IsMatch(p.Profile, d.Profile, p.Preferences, d.Preferences),
		Score:       matcher.Score(p.Profile, d.Profile, p.Preferences, d.Preferences),
	})
}

type rankRequest struct {
	Passenger  party               `json:"passenger"`
	Candidates []matcher.Candidate `json:"candidates"`
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": matcher.Rank(req.Passenger.Profile, req.Passenger.Preferences, req.Candidates)})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleObserverWS attaches a parent to a ride. Observers only receive; the
// read loop exists to notice disconnects.
func (s *Server) handleObserverWS(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("observer upgrade failed", "ride_id", rideID, "error", err)
		return
	}
	id := s.Observers.Add(rideID, conn)
	defer s.Observers.Remove(rideID, id)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
