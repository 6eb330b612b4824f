package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-tracking/internal/geo"
	"github.com/example/ride-tracking/internal/models"
	"github.com/example/ride-tracking/internal/observability"
)

type State int

const (
	StateIdle State = iota
	StateActive
	StateCompleted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds the tracking thresholds.
type Config struct {
	// NominalInterval is used for speed when fix timestamps are missing or
	// not increasing.
	NominalInterval         time.Duration
	CheckpointRadiusMeters  float64
	DirectionsRefreshMeters float64
	MaxSpeedKmh             float64
	SpeedWindow             int
	MidwayLowPercent        float64
	MidwayHighPercent       float64
	// AsyncTimeout bounds each directions, notification and publish call.
	AsyncTimeout time.Duration
	// PublishBuffer is how many location updates may wait for the fan-out
	// before new ones are dropped.
	PublishBuffer int
}

func DefaultConfig() Config {
	return Config{
		NominalInterval:         5 * time.Second,
		CheckpointRadiusMeters:  50,
		DirectionsRefreshMeters: 100,
		MaxSpeedKmh:             200,
		SpeedWindow:             20,
		MidwayLowPercent:        45,
		MidwayHighPercent:       55,
		AsyncTimeout:            10 * time.Second,
		PublishBuffer:           64,
	}
}

// Deps are the collaborators of a session. Nil fields fall back to no-ops.
type Deps struct {
	Source     LocationSource
	Notifier   Notifier
	Directions DirectionsProvider
	Publisher  LocationPublisher
	Events     EventSink
	Effects    SideEffectPort
	Logger     *slog.Logger
	Now        func() time.Time
}

// RideInfo identifies the ride and who gets told about it.
type RideInfo struct {
	RideID     string
	DriverName string
	Recipients []string
}

// Session tracks one active ride. All state is guarded by mu and fixes are
// applied one at a time.
type Session struct {
	info RideInfo
	cfg  Config

	source     LocationSource
	notifier   Notifier
	directions DirectionsProvider
	publisher  LocationPublisher
	events     EventSink
	effects    SideEffectPort
	log        *slog.Logger
	now        func() time.Time

	bg      context.Context
	wg      sync.WaitGroup
	updates chan models.LocationUpdate

	mu           sync.Mutex
	state        State
	route        models.RideRoute
	current      *models.Coord
	last         *models.Coord
	lastFixAt    time.Time
	anchor       *models.Coord
	distance     float64
	total        float64
	speeds       speedBuffer
	currentSpeed float64
	avgSpeed     float64
	eta          float64
	checkpoints  []models.Checkpoint
	steps        []string
	stepsSeq     uint64
	stepsApplied uint64
	midwaySent   bool
	startedAt    time.Time
	summary      models.RideSummary
	fixes        int
	lastGPSError string
}

func NewSession(info RideInfo, cfg Config, deps Deps) *Session {
	s := &Session{
		info:       info,
		cfg:        cfg,
		source:     deps.Source,
		notifier:   deps.Notifier,
		directions: deps.Directions,
		publisher:  deps.Publisher,
		events:     deps.Events,
		effects:    deps.Effects,
		log:        deps.Logger,
		now:        deps.Now,
		bg:         context.Background(),
		speeds:     newSpeedBuffer(cfg.SpeedWindow),
	}
	if s.source == nil {
		s.source = nopSource{}
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.events == nil {
		s.events = nopSink{}
	}
	if s.effects == nil {
		s.effects = nopEffects{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("ride_id", info.RideID)
	if s.now == nil {
		s.now = time.Now
	}
	if s.cfg.AsyncTimeout <= 0 {
		s.cfg.AsyncTimeout = 10 * time.Second
	}
	if s.cfg.PublishBuffer <= 0 {
		s.cfg.PublishBuffer = 64
	}
	return s
}

func (s *Session) RideID() string { return s.info.RideID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func buildCheckpoints(r models.RideRoute) []models.Checkpoint {
	cps := make([]models.Checkpoint, 0, len(r.Pickups)+2)
	cps = append(cps, models.Checkpoint{Label: "Start Point", Coord: r.Start})
	for _, p := range r.Pickups {
		cps = append(cps, models.Checkpoint{Label: "Pickup: " + p.Label, Coord: p.Coord})
	}
	return append(cps, models.Checkpoint{Label: "Destination", Coord: r.End})
}

// Start moves the session from idle to active and begins observing the
// location source.
func (s *Session) Start(ctx context.Context, route models.RideRoute) error {
	if !route.Start.Valid() || !route.End.Valid() {
		return ErrInvalidRoute
	}
	for _, p := range route.Pickups {
		if !p.Coord.Valid() {
			return ErrInvalidRoute
		}
	}
	cached, hasCached := s.effects.CachedDirections(ctx, s.info.RideID)

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	s.route = models.RideRoute{Start: route.Start, End: route.End, Pickups: append([]models.Pickup(nil), route.Pickups...)}
	s.checkpoints = buildCheckpoints(s.route)
	s.total = geo.DistanceMeters(route.Start, route.End)
	s.startedAt = s.now()
	s.state = StateActive
	s.updates = make(chan models.LocationUpdate, s.cfg.PublishBuffer)
	go s.publishLoop(s.updates)
	if hasCached {
		s.steps = cached
	}
	anchor := route.Start
	s.anchor = &anchor
	s.requestDirectionsLocked(route.Start, route.End)
	s.mu.Unlock()

	observability.ActiveSessions.Inc()
	s.log.Info("tracking started", "checkpoints", len(s.checkpoints), "total_route_m", s.total)
	s.notify(models.Notification{Kind: models.NotifyStarted})

	if err := s.source.Subscribe(s.handleFix, s.HandleLocationError); err != nil {
		s.HandleLocationError(err)
	}
	return nil
}

func (s *Session) handleFix(fix models.LocationFix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	if !fix.Coord.Valid() {
		observability.FixesRejected.WithLabelValues("malformed").Inc()
		s.log.Warn("ignoring malformed fix", "error", ErrMalformedFix, "lat", fix.Coord.Lat, "lng", fix.Coord.Lng)
		return
	}
	pos := fix.Coord
	at := fix.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	s.fixes++
	observability.FixesProcessed.Inc()

	if s.last != nil {
		s.applyMotionLocked(pos, at)
	}
	s.checkCheckpointsLocked(pos)
	s.checkMidwayLocked()
	if s.anchor == nil || geo.DistanceMeters(pos, *s.anchor) > s.cfg.DirectionsRefreshMeters {
		anchor := pos
		s.anchor = &anchor
		s.requestDirectionsLocked(pos, s.route.End)
	}

	current, last := pos, pos
	s.current, s.last = &current, &last
	s.lastFixAt = at

	s.enqueueLocked(models.LocationUpdate{RideID: s.info.RideID, Lat: pos.Lat, Lng: pos.Lng, Timestamp: at})
}

// enqueueLocked hands an update to the publish loop. Updates leave in the
// order fixes were applied; a full queue drops the newest.
func (s *Session) enqueueLocked(u models.LocationUpdate) {
	s.wg.Add(1)
	select {
	case s.updates <- u:
	default:
		s.wg.Done()
		observability.PublishFailures.Inc()
		s.log.Warn("location publish queue full, dropping update", "lat", u.Lat, "lng", u.Lng)
	}
}

// publishLoop runs until the session leaves the active state and closes ch.
func (s *Session) publishLoop(ch <-chan models.LocationUpdate) {
	for u := range ch {
		ctx, cancel := context.WithTimeout(s.bg, s.cfg.AsyncTimeout)
		if err := s.publisher.PublishLocation(ctx, u); err != nil {
			observability.PublishFailures.Inc()
			s.log.Warn("location publish failed", "error", &UpstreamError{Op: "publish location", Err: err})
		}
		cancel()
		s.wg.Done()
	}
}

// applyMotionLocked derives speed, distance and ETA from the previous fix.
func (s *Session) applyMotionLocked(pos models.Coord, at time.Time) {
	segment := geo.DistanceMeters(*s.last, pos)
	elapsed := s.cfg.NominalInterval.Seconds()
	if !s.lastFixAt.IsZero() {
		if d := at.Sub(s.lastFixAt).Seconds(); d > 0 {
			elapsed = d
		}
	}
	if elapsed <= 0 {
		elapsed = DefaultConfig().NominalInterval.Seconds()
	}
	speed := segment / elapsed * 3.6
	if !(speed >= 0 && speed <= s.cfg.MaxSpeedKmh) {
		observability.SpeedSamplesDiscarded.Inc()
		s.log.Debug("discarding speed sample", "speed_kmh", speed, "segment_m", segment)
		return
	}
	s.speeds.push(speed)
	s.distance += segment
	s.currentSpeed = speed
	s.avgSpeed = s.speeds.mean()
	s.eta = etaMinutes(geo.DistanceMeters(pos, s.route.End), s.avgSpeed)
}

func (s *Session) checkCheckpointsLocked(pos models.Coord) {
	for i := range s.checkpoints {
		cp := &s.checkpoints[i]
		if cp.Reached || geo.DistanceMeters(pos, cp.Coord) > s.cfg.CheckpointRadiusMeters {
			continue
		}
		cp.Reached = true
		label := cp.Label
		observability.CheckpointsReached.Inc()
		s.log.Info("checkpoint reached", "checkpoint", label, "index", i)
		s.notify(models.Notification{Kind: models.NotifyCheckpoint, Checkpoint: label, Position: &pos})
		ev := models.Event{Type: models.EventCheckpointReached, RideID: s.info.RideID, Checkpoint: label, Timestamp: s.now()}
		s.async(func(ctx context.Context) {
			s.events.Emit(ev)
			s.effects.Announce(ctx, s.info.RideID, "Checkpoint reached: "+label)
		})
	}
}

func (s *Session) checkMidwayLocked() {
	if s.midwaySent || s.total <= 0 {
		return
	}
	progress := s.distance / s.total * 100
	if progress < s.cfg.MidwayLowPercent || progress > s.cfg.MidwayHighPercent {
		return
	}
	s.midwaySent = true
	s.log.Info("midway reached", "progress_percent", progress)
	s.notify(models.Notification{Kind: models.NotifyMidway})
}

// requestDirectionsLocked fetches steps in the background. A result is only
// applied if no newer request has been applied already.
func (s *Session) requestDirectionsLocked(from, to models.Coord) {
	if s.directions == nil {
		return
	}
	s.stepsSeq++
	seq := s.stepsSeq
	s.async(func(ctx context.Context) {
		start := time.Now()
		steps, err := s.directions.Directions(ctx, from, to)
		observability.DirectionsLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			observability.DirectionsFailures.Inc()
			s.log.Warn("directions refresh failed, keeping previous steps", "error", &UpstreamError{Op: "directions", Err: err})
			return
		}
		if len(steps) == 0 {
			return
		}
		s.mu.Lock()
		if s.state != StateActive || seq <= s.stepsApplied {
			s.mu.Unlock()
			return
		}
		s.steps = append([]string(nil), steps...)
		s.stepsApplied = seq
		s.mu.Unlock()

		s.effects.CacheDirections(ctx, s.info.RideID, steps)
		s.events.Emit(models.Event{Type: models.EventDirectionsUpdated, RideID: s.info.RideID, Directions: steps, Timestamp: s.now()})
		s.effects.Announce(ctx, s.info.RideID, steps[0])
	})
}

// HandleLocationError records a GPS watch error. The session stays active.
func (s *Session) HandleLocationError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.lastGPSError = err.Error()
	s.mu.Unlock()

	kind := "unavailable"
	switch {
	case errors.Is(err, ErrPermissionDenied):
		kind = "permission_denied"
	case errors.Is(err, ErrGPSTimeout):
		kind = "timeout"
	}
	observability.GPSErrors.WithLabelValues(kind).Inc()
	s.log.Warn("gps error", "kind", kind, "error", err)
	s.events.Emit(models.Event{Type: models.EventGPSError, RideID: s.info.RideID, Message: err.Error(), Timestamp: s.now()})
}

// Complete ends the session. Calling it again is a no-op.
func (s *Session) Complete(ctx context.Context) (models.RideSummary, error) {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateStopped:
		s.mu.Unlock()
		return models.RideSummary{}, ErrInvalidTransition
	case StateCompleted:
		summary := s.summary
		s.mu.Unlock()
		return summary, nil
	}
	s.state = StateCompleted
	s.summary = models.RideSummary{
		DurationSeconds:        s.now().Sub(s.startedAt).Seconds(),
		DistanceTraveledMeters: s.distance,
		AverageSpeedKmh:        s.avgSpeed,
	}
	summary := s.summary
	close(s.updates)
	s.mu.Unlock()

	s.source.Unsubscribe()
	observability.ActiveSessions.Dec()
	s.log.Info("tracking completed", "duration_s", summary.DurationSeconds, "distance_m", summary.DistanceTraveledMeters, "avg_speed_kmh", summary.AverageSpeedKmh)
	s.notify(models.Notification{Kind: models.NotifyCompleted, Summary: &summary})
	s.effects.ClearDirections(ctx, s.info.RideID)
	return summary, nil
}

// Stop detaches an active session without completing the ride, for process
// shutdown. Queued location updates are still published.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	close(s.updates)
	s.mu.Unlock()

	s.source.Unsubscribe()
	observability.ActiveSessions.Dec()
	s.log.Info("tracking stopped")
}

// SendEmergencyAlert dispatches an SOS every time it is called while active.
func (s *Session) SendEmergencyAlert(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	var pos *models.Coord
	if s.current != nil {
		c := *s.current
		pos = &c
	}
	s.mu.Unlock()

	s.log.Warn("sos triggered", "has_position", pos != nil)
	s.notify(models.Notification{Kind: models.NotifySOS, Position: pos})
	s.async(func(ctx context.Context) {
		s.effects.Announce(ctx, s.info.RideID, "Emergency SOS alert has been sent to all parents")
	})
	return nil
}

func (s *Session) notify(n models.Notification) {
	n.RideID = s.info.RideID
	n.DriverName = s.info.DriverName
	n.Recipients = s.info.Recipients
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now()
	}
	s.async(func(ctx context.Context) {
		if err := s.notifier.Notify(ctx, n); err != nil {
			observability.NotificationsFailed.WithLabelValues(string(n.Kind)).Inc()
			s.log.Error("notification failed", "kind", n.Kind, "error", &UpstreamError{Op: "notify", Err: err})
			return
		}
		observability.NotificationsSent.WithLabelValues(string(n.Kind)).Inc()
	})
}

func (s *Session) async(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.bg, s.cfg.AsyncTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until background directions, notifications and publishes
// have finished.
func (s *Session) Wait() { s.wg.Wait() }

// Snapshot is a point-in-time copy of the session metrics.
type Snapshot struct {
	RideID                   string              `json:"ride_id"`
	State                    string              `json:"state"`
	CurrentPosition          *models.Coord       `json:"current_position,omitempty"`
	DistanceTraveledMeters   float64             `json:"distance_traveled_m"`
	TotalRouteDistanceMeters float64             `json:"total_route_distance_m"`
	ProgressPercent          float64             `json:"progress_percent"`
	CurrentSpeedKmh          float64             `json:"current_speed_kmh"`
	AverageSpeedKmh          float64             `json:"average_speed_kmh"`
	ETAMinutes               float64             `json:"eta_minutes"`
	SpeedSamples             []float64           `json:"speed_samples"`
	Checkpoints              []models.Checkpoint `json:"checkpoints"`
	CheckpointsReached       int                 `json:"checkpoints_reached"`
	Directions               []string            `json:"directions"`
	MidwayNotificationSent   bool                `json:"midway_notification_sent"`
	StartedAt                time.Time           `json:"started_at"`
	Fixes                    int                 `json:"fixes"`
	LastGPSError             string              `json:"last_gps_error,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		RideID:                   s.info.RideID,
		State:                    s.state.String(),
		DistanceTraveledMeters:   s.distance,
		TotalRouteDistanceMeters: s.total,
		CurrentSpeedKmh:          s.currentSpeed,
		AverageSpeedKmh:          s.avgSpeed,
		ETAMinutes:               s.eta,
		SpeedSamples:             s.speeds.ordered(),
		Checkpoints:              append([]models.Checkpoint(nil), s.checkpoints...),
		Directions:               append([]string(nil), s.steps...),
		MidwayNotificationSent:   s.midwaySent,
		StartedAt:                s.startedAt,
		Fixes:                    s.fixes,
		LastGPSError:             s.lastGPSError,
	}
	if s.current != nil {
		c := *s.current
		snap.CurrentPosition = &c
	}
	if s.total > 0 {
		snap.ProgressPercent = min(s.distance/s.total*100, 100)
	}
	for _, cp := range s.checkpoints {
		if cp.Reached {
			snap.CheckpointsReached++
		}
	}
	return snap
}
