package ride

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newTestTracker builds a tracker over a straight eastward route long enough
// for the broadcast distances used in these tests. The returned path is the
// broadcast file the tracker polls; no file exists there yet.
func newTestTracker(t *testing.T) (*Tracker, string) {
	t.Helper()

	points := []Waypoint{
		{Lat: 51.0, Lon: 0.000, Elevation: 10, Distance: 0},
		{Lat: 51.0, Lon: 0.030, Elevation: 25, Distance: 2000},
		{Lat: 51.0, Lon: 0.075, Elevation: 15, Distance: 5000},
	}
	route, err := NewRouteIndex(points)
	if err != nil {
		t.Fatalf("Failed to build route index: %v", err)
	}

	cfg := DefaultConfig()
	cfg.BroadcastFile = filepath.Join(t.TempDir(), "focus.json")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker, err := NewTracker(cfg, route, logger)
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}
	return tracker, cfg.BroadcastFile
}

func TestTrackerIdleBeforeBroadcastExists(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.tick()

	if tracker.Mode() != ModeIdle {
		t.Errorf("Expected mode idle before the broadcast file exists, got %v", tracker.Mode())
	}
	if _, ok := tracker.LatestEvent(); ok {
		t.Error("No event should be emitted before the broadcast file exists")
	}
}

func TestTrackerFirstReadEmits(t *testing.T) {
	tracker, path := newTestTracker(t)
	writeBroadcast(t, path, 3410)

	tracker.tick()

	if tracker.Mode() != ModeTracking {
		t.Errorf("Expected mode tracking after first read, got %v", tracker.Mode())
	}

	ev, ok := tracker.LatestEvent()
	if !ok {
		t.Fatal("First successful read should emit an update regardless of the delta gate")
	}
	if ev.Distance != 3410 {
		t.Errorf("Expected emitted distance 3410, got %f", ev.Distance)
	}
	if ev.Stale {
		t.Error("Fresh telemetry should not be marked stale")
	}

	status := tracker.Status()
	if status.Stats.EmittedEvents != 1 {
		t.Errorf("Expected 1 emitted event, got %d", status.Stats.EmittedEvents)
	}
}

func TestTrackerDeltaGate(t *testing.T) {
	tracker, path := newTestTracker(t)

	writeBroadcast(t, path, 3410)
	tracker.tick()

	// 40m of progress with a 100m delta: suppressed, reference unchanged.
	writeBroadcast(t, path, 3450)
	tracker.tick()

	status := tracker.Status()
	if status.Stats.EmittedEvents != 1 {
		t.Errorf("Expected 40m step to be suppressed, got %d emitted events", status.Stats.EmittedEvents)
	}
	if status.LastEmittedDistance != 3410 {
		t.Errorf("Suppressed update must not move the reference, got %f", status.LastEmittedDistance)
	}

	// 110m past the last emitted distance: passes the gate.
	writeBroadcast(t, path, 3520)
	tracker.tick()

	status = tracker.Status()
	if status.Stats.EmittedEvents != 2 {
		t.Errorf("Expected 110m step to emit, got %d emitted events", status.Stats.EmittedEvents)
	}
	if status.LastEmittedDistance != 3520 {
		t.Errorf("Expected reference to advance to 3520, got %f", status.LastEmittedDistance)
	}
}

func TestTrackerStaleTransitionAndRecovery(t *testing.T) {
	tracker, path := newTestTracker(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tracker.broadcast.now = func() time.Time { return now }
	tracker.monitor.now = func() time.Time { return now }

	writeBroadcast(t, path, 1000)
	tracker.tick()
	if tracker.Mode() != ModeTracking {
		t.Fatalf("Expected mode tracking after first read, got %v", tracker.Mode())
	}

	// The writer stops rewriting the file. Retained records keep the old
	// source timestamp, so the feed ages out.
	if err := os.Remove(path); err != nil {
		t.Fatalf("Failed to remove broadcast file: %v", err)
	}
	now = base.Add(61 * time.Second)
	tracker.tick()

	if tracker.Mode() != ModeStale {
		t.Errorf("Expected mode stale 61s after the last fresh read, got %v", tracker.Mode())
	}
	if tracker.Status().Stats.StaleTransitions != 1 {
		t.Errorf("Expected 1 stale transition, got %d", tracker.Status().Stats.StaleTransitions)
	}

	// The writer comes back; the next fresh read recovers immediately.
	writeBroadcast(t, path, 1150)
	tracker.tick()

	if tracker.Mode() != ModeTracking {
		t.Errorf("Expected mode tracking after recovery, got %v", tracker.Mode())
	}
	ev, ok := tracker.LatestEvent()
	if !ok || ev.Distance != 1150 {
		t.Errorf("Expected recovery to emit distance 1150, got %+v (ok=%v)", ev, ok)
	}
}

func TestTrackerSimulationLifecycle(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.StartSimulation()
	if tracker.Mode() != ModeSimulating {
		t.Fatalf("Expected mode simulating, got %v", tracker.Mode())
	}

	// Pin the driver to a fake clock so ticks advance deterministically.
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tracker.sim.Pause()
	tracker.sim.now = func() time.Time { return now }
	tracker.sim.startDistance = 0
	tracker.sim.Start()

	// Starting again while already simulating is a no-op.
	tracker.StartSimulation()

	now = base.Add(16 * time.Second) // 45 km/h = 12.5 m/s, 200m
	tracker.tick()

	ev, ok := tracker.LatestEvent()
	if !ok {
		t.Fatal("Simulation tick should emit an update")
	}
	if ev.Distance != 200 {
		t.Errorf("Expected simulated distance 200, got %f", ev.Distance)
	}
	if ev.Wind != (WindVector{}) {
		t.Errorf("Simulated updates carry no wind vector, got %+v", ev.Wind)
	}

	tracker.StopSimulation()
	if tracker.Mode() != ModeIdle {
		t.Errorf("Expected mode idle after stopping the simulation, got %v", tracker.Mode())
	}
	tracker.StopSimulation() // idempotent

	// Restarting resumes from the paused distance rather than the start.
	tracker.StartSimulation()
	now = now.Add(8 * time.Second) // +100m
	tracker.tick()

	ev, _ = tracker.LatestEvent()
	if ev.Distance != 300 {
		t.Errorf("Expected simulation to resume from 200 and reach 300, got %f", ev.Distance)
	}
}

func TestTrackerSimulationFinishesAtRouteEnd(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.StartSimulation()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tracker.sim.Pause()
	tracker.sim.now = func() time.Time { return now }
	tracker.sim.startDistance = 0
	tracker.sim.Start()

	now = base.Add(1 * time.Hour) // far past the 5000m route
	tracker.tick()

	if tracker.Mode() != ModeIdle {
		t.Errorf("Expected mode idle after the simulation reaches the route end, got %v", tracker.Mode())
	}
	ev, ok := tracker.LatestEvent()
	if !ok || ev.Distance != 5000 {
		t.Errorf("Expected final emitted distance 5000, got %+v (ok=%v)", ev, ok)
	}

	// A finished driver is replaced on restart; the run begins again at zero.
	tracker.StartSimulation()
	if tracker.sim.Finished() {
		t.Error("Restart after finish should create a fresh driver")
	}
}

func TestTrackerStartStop(t *testing.T) {
	tracker, _ := newTestTracker(t)

	if tracker.IsRunning() {
		t.Error("Tracker should not be running before Start")
	}
	if err := tracker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !tracker.IsRunning() {
		t.Error("Tracker should be running after Start")
	}
	if err := tracker.Start(); err != ErrTrackerAlreadyRunning {
		t.Errorf("Expected ErrTrackerAlreadyRunning, got %v", err)
	}
	if err := tracker.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := tracker.Stop(); err != ErrTrackerNotRunning {
		t.Errorf("Expected ErrTrackerNotRunning, got %v", err)
	}
}

func TestTrackerRuntimeSettings(t *testing.T) {
	tracker, _ := newTestTracker(t)

	if err := tracker.SetDelta(250); err != nil {
		t.Fatalf("SetDelta failed: %v", err)
	}
	if got := tracker.Status().Delta; got != 250 {
		t.Errorf("Expected delta 250, got %f", got)
	}
	if err := tracker.SetDelta(0); err != ErrInvalidDelta {
		t.Errorf("Expected ErrInvalidDelta, got %v", err)
	}

	if err := tracker.SetSimSpeed(30); err != nil {
		t.Fatalf("SetSimSpeed failed: %v", err)
	}
	if got := tracker.Status().SimSpeed; got != 30 {
		t.Errorf("Expected sim speed 30, got %f", got)
	}
	if err := tracker.SetSimSpeed(-1); err != ErrInvalidSimSpeed {
		t.Errorf("Expected ErrInvalidSimSpeed, got %v", err)
	}

	// Speed changes reach a live driver as well.
	tracker.StartSimulation()
	if err := tracker.SetSimSpeed(60); err != nil {
		t.Fatalf("SetSimSpeed on a live driver failed: %v", err)
	}
	if got := tracker.sim.Speed(); got != 60 {
		t.Errorf("Expected live driver speed 60, got %f", got)
	}
}

func TestTrackerSetRouteResetsState(t *testing.T) {
	tracker, path := newTestTracker(t)

	writeBroadcast(t, path, 3410)
	tracker.tick()
	if _, ok := tracker.LatestEvent(); !ok {
		t.Fatal("Expected an emitted event before the route swap")
	}

	replacement, err := NewRouteIndex([]Waypoint{
		{Lat: 48.0, Lon: 2.0, Elevation: 100, Distance: 0},
		{Lat: 48.0, Lon: 2.1, Elevation: 120, Distance: 7000},
	})
	if err != nil {
		t.Fatalf("Failed to build replacement route: %v", err)
	}
	if err := tracker.SetRoute(replacement); err != nil {
		t.Fatalf("SetRoute failed: %v", err)
	}

	status := tracker.Status()
	if status.TotalDistance != 7000 {
		t.Errorf("Expected replacement total distance 7000, got %f", status.TotalDistance)
	}
	if status.LastEmittedDistance != 0 {
		t.Errorf("Route swap should reset the delta-gate reference, got %f", status.LastEmittedDistance)
	}

	// The next read emits against the new route regardless of the old
	// reference.
	tracker.tick()
	ev, ok := tracker.LatestEvent()
	if !ok || ev.Distance != 3410 {
		t.Errorf("Expected first emit on the new route at 3410, got %+v (ok=%v)", ev, ok)
	}

	if err := tracker.SetRoute(nil); err != ErrRouteRequired {
		t.Errorf("Expected ErrRouteRequired for nil route, got %v", err)
	}
}

func TestTrackerSetRouteStopsSimulation(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.StartSimulation()
	replacement, err := NewRouteIndex([]Waypoint{
		{Lat: 48.0, Lon: 2.0, Elevation: 100, Distance: 0},
		{Lat: 48.0, Lon: 2.1, Elevation: 120, Distance: 7000},
	})
	if err != nil {
		t.Fatalf("Failed to build replacement route: %v", err)
	}
	if err := tracker.SetRoute(replacement); err != nil {
		t.Fatalf("SetRoute failed: %v", err)
	}

	if tracker.Mode() != ModeIdle {
		t.Errorf("Route swap during simulation should return to idle, got %v", tracker.Mode())
	}
	if tracker.sim != nil {
		t.Error("Route swap should drop the old route's simulation driver")
	}
}

// statusReadingSource reads the tracker's own status from inside Poll. This
// only works when the tick polls the source without holding the tracker lock.
type statusReadingSource struct {
	tracker *Tracker
	rec     TelemetryRecord
}

func (s *statusReadingSource) Poll() (TelemetryRecord, error) {
	s.tracker.Status()
	return s.rec, nil
}

func TestTrackerStatusAvailableDuringPoll(t *testing.T) {
	tracker, _ := newTestTracker(t)
	tracker.monitor.src = &statusReadingSource{
		tracker: tracker,
		rec:     TelemetryRecord{Distance: 500, SourceTimestamp: time.Now()},
	}

	done := make(chan struct{})
	go func() {
		tracker.tick()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked while the tick was polling telemetry")
	}

	if tracker.Mode() != ModeTracking {
		t.Errorf("Expected mode tracking after the poll, got %v", tracker.Mode())
	}
	ev, ok := tracker.LatestEvent()
	if !ok || ev.Distance != 500 {
		t.Errorf("Expected emitted distance 500, got %+v (ok=%v)", ev, ok)
	}
}

func TestTrackerCallbacksReceiveEvents(t *testing.T) {
	tracker, path := newTestTracker(t)

	got := make(chan UpdateEvent, 1)
	tracker.AddCallback(func(ev UpdateEvent) {
		got <- ev
	})

	writeBroadcast(t, path, 2100)
	tracker.tick()

	select {
	case ev := <-got:
		if ev.Distance != 2100 {
			t.Errorf("Expected callback distance 2100, got %f", ev.Distance)
		}
	case <-time.After(time.Second):
		t.Fatal("Callback was not invoked within 1s")
	}
}
