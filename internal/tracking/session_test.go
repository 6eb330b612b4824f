package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

type fakeSource struct {
	mu           sync.Mutex
	onFix        func(models.LocationFix)
	onError      func(error)
	unsubscribed bool
	subscribeErr error
}

func (f *fakeSource) Subscribe(onFix func(models.LocationFix), onError func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.onFix, f.onError = onFix, onError
	return nil
}

func (f *fakeSource) Unsubscribe() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = true
}

func (f *fakeSource) fix(c models.Coord, at time.Time) {
	f.mu.Lock()
	cb := f.onFix
	f.mu.Unlock()
	cb(models.LocationFix{Coord: c, Timestamp: at})
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeNotifier) count(kind models.NotificationKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

type fakeDirections struct {
	mu    sync.Mutex
	calls int
	steps []string
	err   error
}

func (f *fakeDirections) Directions(ctx context.Context, from, to models.Coord) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.steps, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	calls     int
	slowFirst time.Duration
	updates   []models.LocationUpdate
}

func (f *fakePublisher) PublishLocation(ctx context.Context, u models.LocationUpdate) error {
	f.mu.Lock()
	f.calls++
	slow := f.calls == 1 && f.slowFirst > 0
	f.mu.Unlock()
	if slow {
		time.Sleep(f.slowFirst)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakeSink) Emit(e models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeSink) count(t models.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	session    *Session
	source     *fakeSource
	notifier   *fakeNotifier
	directions *fakeDirections
	publisher  *fakePublisher
	events     *fakeSink

	clockMu sync.Mutex
	clock   time.Time
}

func (h *harness) now() time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	return h.clock
}

func (h *harness) advance(d time.Duration) time.Time {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.clock = h.clock.Add(d)
	return h.clock
}

func newHarness() *harness {
	h := &harness{
		source:     &fakeSource{},
		notifier:   &fakeNotifier{},
		directions: &fakeDirections{steps: []string{"Head north on Main St (200 m)", "Arrive at destination"}},
		publisher:  &fakePublisher{},
		events:     &fakeSink{},
		clock:      time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	h.session = NewSession(RideInfo{RideID: "ride-1", DriverName: "Asha", Recipients: []string{"+15550001"}}, DefaultConfig(), Deps{
		Source:     h.source,
		Notifier:   h.notifier,
		Directions: h.directions,
		Publisher:  h.publisher,
		Events:     h.events,
		Now:        h.now,
	})
	return h
}

// step advances the clock by the nominal interval and delivers a fix.
func (h *harness) step(c models.Coord) {
	h.source.fix(c, h.advance(5*time.Second))
}

var (
	campusStart = models.Coord{Lat: 12.9716, Lng: 77.5946}
	campusEnd   = models.Coord{Lat: 12.9916, Lng: 77.5946}
)

// north returns a point roughly meters north of c.
func north(c models.Coord, meters float64) models.Coord {
	return models.Coord{Lat: c.Lat + meters/111195, Lng: c.Lng}
}

func TestStartValidatesRoute(t *testing.T) {
	h := newHarness()
	err := h.session.Start(context.Background(), models.RideRoute{Start: models.Coord{Lat: 91}, End: campusEnd})
	if !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute, got %v", err)
	}
	if h.session.State() != StateIdle {
		t.Fatalf("expected idle, got %s", h.session.State())
	}
}

func TestStartTwiceRejected(t *testing.T) {
	h := newHarness()
	route := models.RideRoute{Start: campusStart, End: campusEnd}
	if err := h.session.Start(context.Background(), route); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.session.Start(context.Background(), route); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	h.session.Wait()
	if got := h.notifier.count(models.NotifyStarted); got != 1 {
		t.Fatalf("expected one started notification, got %d", got)
	}
}

func TestStartBuildsCheckpoints(t *testing.T) {
	h := newHarness()
	route := models.RideRoute{Start: campusStart, End: campusEnd, Pickups: []models.Pickup{{Coord: north(campusStart, 500), Label: "Ravi"}}}
	if err := h.session.Start(context.Background(), route); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.session.Wait()
	snap := h.session.Snapshot()
	want := []string{"Start Point", "Pickup: Ravi", "Destination"}
	if len(snap.Checkpoints) != len(want) {
		t.Fatalf("expected %d checkpoints, got %d", len(want), len(snap.Checkpoints))
	}
	for i, label := range want {
		if snap.Checkpoints[i].Label != label {
			t.Fatalf("checkpoint %d: expected %q, got %q", i, label, snap.Checkpoints[i].Label)
		}
	}
	if math.Abs(snap.TotalRouteDistanceMeters-2224) > 5 {
		t.Fatalf("unexpected total distance %f", snap.TotalRouteDistanceMeters)
	}
	if len(snap.Directions) != 2 {
		t.Fatalf("expected initial directions, got %v", snap.Directions)
	}
}

func TestFixesAccumulateDistanceAndCheckpoints(t *testing.T) {
	h := newHarness()
	pickup := north(campusStart, 500)
	route := models.RideRoute{Start: campusStart, End: campusEnd, Pickups: []models.Pickup{{Coord: pickup, Label: "Ravi"}}}
	if err := h.session.Start(context.Background(), route); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.step(campusStart)
	prev := 0.0
	for i := 1; i <= 12; i++ {
		h.step(north(campusStart, float64(i)*50))
		snap := h.session.Snapshot()
		if snap.DistanceTraveledMeters < prev {
			t.Fatalf("distance decreased: %f -> %f", prev, snap.DistanceTraveledMeters)
		}
		prev = snap.DistanceTraveledMeters
	}
	h.session.Wait()

	snap := h.session.Snapshot()
	if math.Abs(snap.DistanceTraveledMeters-600) > 1 {
		t.Fatalf("expected ~600m, got %f", snap.DistanceTraveledMeters)
	}
	// 50 m every 5 s is 36 km/h.
	if math.Abs(snap.AverageSpeedKmh-36) > 0.1 {
		t.Fatalf("expected ~36 km/h, got %f", snap.AverageSpeedKmh)
	}
	if snap.ETAMinutes <= 0 {
		t.Fatalf("expected positive eta, got %f", snap.ETAMinutes)
	}
	if !snap.Checkpoints[0].Reached || !snap.Checkpoints[1].Reached || snap.Checkpoints[2].Reached {
		t.Fatalf("unexpected checkpoint state %+v", snap.Checkpoints)
	}
	if snap.CheckpointsReached != 2 {
		t.Fatalf("expected 2 reached, got %d", snap.CheckpointsReached)
	}
	if got := h.notifier.count(models.NotifyCheckpoint); got != 2 {
		t.Fatalf("expected 2 checkpoint notifications, got %d", got)
	}
	if got := h.events.count(models.EventCheckpointReached); got != 2 {
		t.Fatalf("expected 2 checkpoint events, got %d", got)
	}
	h.publisher.mu.Lock()
	published := len(h.publisher.updates)
	h.publisher.mu.Unlock()
	if published != 13 {
		t.Fatalf("expected 13 published updates, got %d", published)
	}
}

func TestCheckpointReachedOnce(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 5; i++ {
		h.step(campusStart)
	}
	h.session.Wait()
	if got := h.notifier.count(models.NotifyCheckpoint); got != 1 {
		t.Fatalf("expected a single checkpoint notification, got %d", got)
	}
}

func TestCheckpointOrderNotEnforced(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(campusEnd)
	snap := h.session.Snapshot()
	if snap.Checkpoints[0].Reached || !snap.Checkpoints[1].Reached {
		t.Fatalf("expected destination reached before start, got %+v", snap.Checkpoints)
	}
	h.session.Wait()
}

func TestMidwayFiresOnce(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(campusStart)
	for i := 1; i <= 30; i++ {
		h.step(north(campusStart, float64(i)*40))
	}
	// Back and forth inside the band again.
	for i := 0; i < 4; i++ {
		h.step(north(campusStart, 1160))
		h.step(north(campusStart, 1200))
	}
	h.session.Wait()
	if got := h.notifier.count(models.NotifyMidway); got != 1 {
		t.Fatalf("expected one midway notification, got %d", got)
	}
	if !h.session.Snapshot().MidwayNotificationSent {
		t.Fatal("expected midway latch set")
	}
}

func TestZeroLengthRoute(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusStart}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(campusStart)
	h.step(campusStart)
	h.session.Wait()
	snap := h.session.Snapshot()
	if snap.TotalRouteDistanceMeters != 0 {
		t.Fatalf("expected zero total, got %f", snap.TotalRouteDistanceMeters)
	}
	if snap.ETAMinutes != 0 || math.IsNaN(snap.ETAMinutes) {
		t.Fatalf("expected eta 0, got %f", snap.ETAMinutes)
	}
	if snap.ProgressPercent != 0 {
		t.Fatalf("expected progress 0, got %f", snap.ProgressPercent)
	}
	if h.notifier.count(models.NotifyMidway) != 0 {
		t.Fatal("midway must not fire on a zero-length route")
	}
}

func TestSpeedWindowKeepsLatestTwenty(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(campusStart)
	pos := campusStart
	// First sample is 72 km/h, the next twenty are 36 km/h.
	pos = north(pos, 100)
	h.step(pos)
	for i := 0; i < 20; i++ {
		pos = north(pos, 50)
		h.step(pos)
	}
	h.session.Wait()
	snap := h.session.Snapshot()
	if len(snap.SpeedSamples) != 20 {
		t.Fatalf("expected 20 samples, got %d", len(snap.SpeedSamples))
	}
	if math.Abs(snap.AverageSpeedKmh-36) > 0.1 {
		t.Fatalf("expected the 72 km/h sample evicted, avg %f", snap.AverageSpeedKmh)
	}
}

func TestImplausibleSpeedDiscarded(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(campusStart)
	h.step(north(campusStart, 50))
	before := h.session.Snapshot()
	// 1 km in 5 s is 720 km/h.
	h.step(north(campusStart, 1050))
	after := h.session.Snapshot()
	h.session.Wait()
	if after.DistanceTraveledMeters != before.DistanceTraveledMeters {
		t.Fatalf("distance changed on a discarded sample: %f -> %f", before.DistanceTraveledMeters, after.DistanceTraveledMeters)
	}
	if len(after.SpeedSamples) != len(before.SpeedSamples) {
		t.Fatalf("discarded sample was buffered")
	}
	if after.CurrentPosition == nil || math.Abs(after.CurrentPosition.Lat-north(campusStart, 1050).Lat) > 1e-9 {
		t.Fatalf("expected position to follow the fix, got %+v", after.CurrentPosition)
	}
}

func TestAntipodalFixesKeepMetricsFinite(t *testing.T) {
	h := newHarness()
	a := models.Coord{Lat: 10, Lng: 20}
	b := models.Coord{Lat: -10, Lng: -160}
	if err := h.session.Start(context.Background(), models.RideRoute{Start: a, End: b}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(a)
	h.step(b)
	h.step(north(b, 10))
	h.session.Wait()
	snap := h.session.Snapshot()
	if math.IsNaN(snap.TotalRouteDistanceMeters) || math.IsNaN(snap.DistanceTraveledMeters) || math.IsNaN(snap.AverageSpeedKmh) || math.IsNaN(snap.ETAMinutes) {
		t.Fatalf("metrics went NaN: %+v", snap)
	}
	if math.Abs(snap.DistanceTraveledMeters-10) > 0.5 {
		t.Fatalf("expected only the 10 m segment counted, got %f", snap.DistanceTraveledMeters)
	}
	if len(snap.SpeedSamples) != 1 {
		t.Fatalf("expected the half-globe jump discarded, samples=%v", snap.SpeedSamples)
	}
}

func TestElapsedTimeDrivesSpeed(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.source.fix(campusStart, h.now())
	h.source.fix(north(campusStart, 100), h.advance(10*time.Second))
	h.session.Wait()
	if got := h.session.Snapshot().CurrentSpeedKmh; math.Abs(got-36) > 0.1 {
		t.Fatalf("expected 36 km/h over 10 s, got %f", got)
	}
}

func TestMalformedFixIgnored(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(models.Coord{Lat: math.NaN(), Lng: 10})
	h.step(models.Coord{Lat: 10, Lng: 200})
	h.session.Wait()
	snap := h.session.Snapshot()
	if snap.Fixes != 0 || snap.CurrentPosition != nil {
		t.Fatalf("malformed fixes mutated state: %+v", snap)
	}
}

func TestDirectionsThrottle(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.session.Wait()
	for i := 1; i <= 4; i++ {
		h.step(north(campusStart, float64(i)*30))
	}
	h.session.Wait()
	h.directions.mu.Lock()
	calls := h.directions.calls
	h.directions.mu.Unlock()
	// Start plus one refresh once the vehicle is more than 100 m from the anchor.
	if calls != 2 {
		t.Fatalf("expected 2 directions calls, got %d", calls)
	}
	if got := h.events.count(models.EventDirectionsUpdated); got != 2 {
		t.Fatalf("expected 2 directions events, got %d", got)
	}
}

func TestDirectionsFailureKeepsSteps(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.session.Wait()
	h.directions.mu.Lock()
	h.directions.err = errors.New("upstream 503")
	h.directions.mu.Unlock()
	h.step(north(campusStart, 150))
	h.session.Wait()
	snap := h.session.Snapshot()
	if len(snap.Directions) != 2 || snap.State != "active" {
		t.Fatalf("expected previous steps kept, got %+v", snap)
	}
}

func TestNotificationFailureDoesNotAffectState(t *testing.T) {
	h := newHarness()
	h.notifier.err = errors.New("sms gateway down")
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(campusStart)
	h.session.Wait()
	if h.session.State() != StateActive {
		t.Fatalf("expected active, got %s", h.session.State())
	}
}

func TestLocationErrorKeepsSessionActive(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.session.HandleLocationError(LocationErrorFromCode(1, "User denied Geolocation"))
	h.session.Wait()
	snap := h.session.Snapshot()
	if snap.State != "active" {
		t.Fatalf("expected active, got %s", snap.State)
	}
	if snap.LastGPSError == "" {
		t.Fatal("expected last gps error recorded")
	}
	if h.events.count(models.EventGPSError) != 1 {
		t.Fatal("expected a gps error event")
	}
}

func TestSubscribeFailureReported(t *testing.T) {
	h := newHarness()
	h.source.subscribeErr = ErrPermissionDenied
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.session.Wait()
	if h.events.count(models.EventGPSError) != 1 {
		t.Fatal("expected a gps error event")
	}
}

func TestCompleteStopsUpdates(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(campusStart)
	h.step(north(campusStart, 50))
	h.advance(50 * time.Second)

	summary, err := h.session.Complete(context.Background())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if summary.DurationSeconds != 60 {
		t.Fatalf("expected 60s duration, got %f", summary.DurationSeconds)
	}
	if math.Abs(summary.DistanceTraveledMeters-50) > 1 {
		t.Fatalf("unexpected distance %f", summary.DistanceTraveledMeters)
	}
	if !h.source.unsubscribed {
		t.Fatal("expected source unsubscribed")
	}
	before := h.session.Snapshot()

	// A late callback after completion must not mutate anything.
	h.step(north(campusStart, 100))
	h.session.Wait()
	after := h.session.Snapshot()
	if after.Fixes != before.Fixes || after.DistanceTraveledMeters != before.DistanceTraveledMeters {
		t.Fatalf("state mutated after completion")
	}

	again, err := h.session.Complete(context.Background())
	if err != nil || again != summary {
		t.Fatalf("expected repeated complete to return the same summary, got %+v %v", again, err)
	}
	if got := h.notifier.count(models.NotifyCompleted); got != 1 {
		t.Fatalf("expected one completed notification, got %d", got)
	}
}

func TestCompleteBeforeStart(t *testing.T) {
	h := newHarness()
	if _, err := h.session.Complete(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestEmergencyAlert(t *testing.T) {
	h := newHarness()
	if err := h.session.SendEmergencyAlert(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before start, got %v", err)
	}
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(campusStart)
	for i := 0; i < 3; i++ {
		if err := h.session.SendEmergencyAlert(context.Background()); err != nil {
			t.Fatalf("sos: %v", err)
		}
	}
	h.session.Wait()
	if got := h.notifier.count(models.NotifySOS); got != 3 {
		t.Fatalf("expected every sos dispatched, got %d", got)
	}
	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	for _, n := range h.notifier.sent {
		if n.Kind == models.NotifySOS && n.Position == nil {
			t.Fatal("expected sos to carry the last position")
		}
	}
}

func TestSpeedBufferOrder(t *testing.T) {
	b := newSpeedBuffer(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		b.push(v)
	}
	got := b.ordered()
	want := []float64{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if b.mean() != 4 {
		t.Fatalf("expected mean 4, got %f", b.mean())
	}
	if etaMinutes(1000, 0) != 0 {
		t.Fatal("expected zero eta at zero speed")
	}
	if etaMinutes(6000, 60) != 6 {
		t.Fatalf("expected 6 minutes, got %f", etaMinutes(6000, 60))
	}
}

func TestLocationUpdatesPublishedInFixOrder(t *testing.T) {
	h := newHarness()
	h.publisher.slowFirst = 50 * time.Millisecond
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	want := []models.Coord{campusStart, north(campusStart, 20), north(campusStart, 40)}
	for _, c := range want {
		h.step(c)
	}
	h.session.Wait()

	h.publisher.mu.Lock()
	defer h.publisher.mu.Unlock()
	if len(h.publisher.updates) != len(want) {
		t.Fatalf("expected %d updates, got %d", len(want), len(h.publisher.updates))
	}
	for i, u := range h.publisher.updates {
		if u.Lat != want[i].Lat || u.Lng != want[i].Lng {
			t.Fatalf("update %d out of order: got %+v want %+v", i, u, want[i])
		}
	}
}

func TestStopDetachesWithoutCompleting(t *testing.T) {
	h := newHarness()
	if err := h.session.Start(context.Background(), models.RideRoute{Start: campusStart, End: campusEnd}); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.step(campusStart)
	h.session.Stop()
	h.session.Stop()
	h.session.Wait()
	if h.session.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", h.session.State())
	}
	if !h.source.unsubscribed {
		t.Fatal("expected source unsubscribed")
	}
	if got := h.notifier.count(models.NotifyCompleted); got != 0 {
		t.Fatalf("stop must not notify completion, got %d", got)
	}
	before := h.session.Snapshot()
	h.step(north(campusStart, 30))
	if after := h.session.Snapshot(); after.Fixes != before.Fixes {
		t.Fatal("fix applied after stop")
	}
	if err := h.session.SendEmergencyAlert(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
