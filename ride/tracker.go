package ride

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker is the orchestration core. It polls the active telemetry source on
// a fixed cadence, resolves distance through the route index, applies the
// delta gate and emits UpdateEvents for downstream renderers. All mutable
// tracking state is owned by the tick function; consumers receive completed
// events through the Events channel or registered callbacks.
type Tracker struct {
	mu     sync.RWMutex
	cfg    Config
	route  *RouteIndex
	logger *slog.Logger

	broadcast *BroadcastReader
	monitor   *StalenessMonitor
	sim       *SimDriver

	mode        Mode
	lastEmitted float64
	hasEmitted  bool
	lastEvent   UpdateEvent
	stats       Stats

	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
	ticker       *time.Ticker
	tickBusy     atomic.Bool
	skippedTicks atomic.Uint64
	callbacks    []func(UpdateEvent)
	events       chan UpdateEvent
}

// NewTracker creates a tracker for the given route
func NewTracker(cfg Config, route *RouteIndex, logger *slog.Logger) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if route == nil {
		return nil, ErrRouteRequired
	}
	if logger == nil {
		logger = slog.Default()
	}

	reader := NewBroadcastReader(cfg.BroadcastFile, logger)
	return &Tracker{
		cfg:       cfg,
		route:     route,
		logger:    logger,
		broadcast: reader,
		monitor:   NewStalenessMonitor(reader, cfg.StaleAfter),
		mode:      ModeIdle,
		events:    make(chan UpdateEvent, 16),
	}, nil
}

// Events returns the channel completed updates are handed off on. Events are
// dropped, not queued, when the consumer falls behind.
func (t *Tracker) Events() <-chan UpdateEvent {
	return t.events
}

// AddCallback adds a callback invoked asynchronously with each emitted update
func (t *Tracker) AddCallback(callback func(UpdateEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

// Start starts the polling loop
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrTrackerAlreadyRunning
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.ticker = time.NewTicker(t.cfg.PollInterval)
	t.running = true

	go t.run()
	return nil
}

// Stop stops the polling loop
func (t *Tracker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return ErrTrackerNotRunning
	}

	t.cancel()
	t.ticker.Stop()
	t.running = false
	return nil
}

// IsRunning returns whether the polling loop is active
func (t *Tracker) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// run is the main polling loop
func (t *Tracker) run() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.ticker.C:
			t.tick()
		}
	}
}

// tick performs one poll/resolve/emit cycle. Ticks are not reentrant: if a
// previous tick is still resolving, this cadence is skipped rather than
// queued. The source poll itself runs outside the tracker lock so readers
// like Status are never blocked on file I/O.
func (t *Tracker) tick() {
	if !t.tickBusy.CompareAndSwap(false, true) {
		t.skippedTicks.Add(1)
		return
	}
	defer t.tickBusy.Store(false)

	t.mu.RLock()
	mode := t.mode
	t.mu.RUnlock()

	if mode == ModeSimulating {
		t.tickSimulation()
		return
	}
	t.tickBroadcast()
}

// tickBroadcast polls live telemetry through the staleness monitor, then
// takes the tracker lock to apply the result
func (t *Tracker) tickBroadcast() {
	rec, err := t.monitor.Poll()
	stale := t.monitor.Stale()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Polls++
	if err != nil {
		// Nothing has ever been read; stay idle until the file appears.
		return
	}
	if t.mode == ModeSimulating {
		// Simulation started while the poll was in flight; drop the read.
		return
	}

	switch {
	case stale && t.mode != ModeStale:
		t.stats.StaleTransitions++
		t.setModeLocked(ModeStale)
	case !stale && t.mode != ModeTracking:
		t.setModeLocked(ModeTracking)
	}

	point := t.route.PositionAt(rec.Distance)
	wind := ComputeWindVector(point.Bearing, rec.WindAngle, rec.WindSpeed)
	t.maybeEmitLocked(rec, point, wind, stale)
}

// tickSimulation polls the simulation driver, then takes the tracker lock to
// apply the result. Simulated telemetry carries no meaningful wind, so no
// wind vector is computed.
func (t *Tracker) tickSimulation() {
	t.mu.RLock()
	sim := t.sim
	t.mu.RUnlock()
	if sim == nil {
		return
	}

	rec, err := sim.Poll()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Polls++
	if err != nil {
		return
	}
	if t.mode != ModeSimulating || t.sim != sim {
		// The simulation was stopped or replaced mid-poll; drop the read.
		return
	}

	point := t.route.PositionAt(rec.Distance)
	t.maybeEmitLocked(rec, point, WindVector{}, false)

	if sim.Finished() {
		t.logger.Info("simulation reached end of route", "distance", rec.Distance)
		sim.Pause()
		t.setModeLocked(ModeIdle)
	}
}

// maybeEmitLocked applies the delta gate and emits an update when the
// resolved distance has moved far enough from the last emitted one
func (t *Tracker) maybeEmitLocked(rec TelemetryRecord, point PointOnRoute, wind WindVector, stale bool) {
	if t.hasEmitted && math.Abs(rec.Distance-t.lastEmitted) < t.cfg.Delta {
		return
	}

	ev := UpdateEvent{
		Lat:       point.Lat,
		Lon:       point.Lon,
		Elevation: point.Elevation,
		Bearing:   point.Bearing,
		Wind:      wind,
		Distance:  rec.Distance,
		Speed:     rec.Speed,
		Stale:     stale,
		Timestamp: rec.SourceTimestamp,
	}

	t.lastEmitted = rec.Distance
	t.hasEmitted = true
	t.lastEvent = ev
	t.stats.EmittedEvents++

	select {
	case t.events <- ev:
	default:
		// Consumer is behind; drop rather than queue.
	}

	for _, callback := range t.callbacks {
		go callback(ev)
	}

	t.logger.Debug("emitted update",
		"distance", ev.Distance, "lat", ev.Lat, "lon", ev.Lon,
		"bearing", ev.Bearing, "stale", ev.Stale)
}

// setModeLocked changes the controller mode with a log line
func (t *Tracker) setModeLocked(mode Mode) {
	if t.mode == mode {
		return
	}
	t.logger.Info("mode change", "from", t.mode.String(), "to", mode.String())
	t.mode = mode
}

// StartSimulation switches the tracker to simulation mode. A paused driver
// resumes from its previous distance; a finished or absent one starts fresh
// from the route start. The command is idempotent.
func (t *Tracker) StartSimulation() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode == ModeSimulating {
		return
	}
	if t.sim == nil || t.sim.Finished() {
		t.sim = NewSimDriver(t.route.TotalDistance(), t.cfg.SimSpeed)
		t.sim.SetWind(t.cfg.SimWindSpeed, t.cfg.SimWindAngle)
	}
	t.sim.Start()
	t.setModeLocked(ModeSimulating)
}

// StopSimulation pauses the simulation driver and returns to idle. The next
// tick observes the idle state. The command is idempotent.
func (t *Tracker) StopSimulation() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode != ModeSimulating {
		return
	}
	t.sim.Pause()
	t.setModeLocked(ModeIdle)
}

// SetRoute replaces the route index wholesale. Tracking state derived from
// the old route (delta-gate reference, simulation progress) is reset; a
// running simulation returns to idle.
func (t *Tracker) SetRoute(route *RouteIndex) error {
	if route == nil {
		return ErrRouteRequired
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.route = route
	t.hasEmitted = false
	t.lastEmitted = 0
	t.sim = nil
	if t.mode == ModeSimulating {
		t.setModeLocked(ModeIdle)
	}
	return nil
}

// Mode returns the controller's current mode
func (t *Tracker) Mode() Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

// SetDelta updates the minimum distance step at runtime
func (t *Tracker) SetDelta(delta float64) error {
	if delta <= 0 {
		return ErrInvalidDelta
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.Delta = delta
	return nil
}

// SetSimSpeed updates the simulation speed (km/h) at runtime, including a
// currently active driver
func (t *Tracker) SetSimSpeed(speedKMH float64) error {
	if speedKMH <= 0 {
		return ErrInvalidSimSpeed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.SimSpeed = speedKMH
	if t.sim != nil {
		return t.sim.SetSpeed(speedKMH)
	}
	return nil
}

// LatestEvent returns the most recently emitted update, if any
func (t *Tracker) LatestEvent() (UpdateEvent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastEvent, t.hasEmitted
}

// Status returns a snapshot of the tracker
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := t.stats
	stats.SkippedTicks = t.skippedTicks.Load()
	_, stats.TransientFailures = t.broadcast.Counters()

	status := Status{
		Running:             t.running,
		Mode:                t.mode.String(),
		TotalDistance:       t.route.TotalDistance(),
		LastEmittedDistance: t.lastEmitted,
		Delta:               t.cfg.Delta,
		PollInterval:        t.cfg.PollInterval,
		StaleAfter:          t.cfg.StaleAfter,
		SimSpeed:            t.cfg.SimSpeed,
		Stale:               t.monitor.Stale(),
		Stats:               stats,
		Rider:               t.broadcast.LastRider(),
	}
	if last, ok := t.monitor.LastSuccess(); ok {
		status.LastSuccess = last
	}
	if t.hasEmitted {
		ev := t.lastEvent
		status.LastEvent = &ev
	}
	return status
}
