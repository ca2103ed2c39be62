package ride

import (
	"sync"
	"time"
)

// SimDriver synthesizes telemetry records by advancing distance at a
// configurable speed, reusing the same pipeline as live broadcast telemetry.
// The driver never reports stale and stops advancing once the route's total
// distance is reached.
type SimDriver struct {
	mu        sync.Mutex
	total     float64
	speedKMH  float64
	windSpeed float64 // m/s, reported as a constant
	windAngle float64 // degrees

	startDistance float64
	resumedAt     time.Time
	running       bool
	finished      bool

	now func() time.Time
}

// NewSimDriver creates a simulation driver for a route of the given total
// distance, advancing at speedKMH km/h
func NewSimDriver(total, speedKMH float64) *SimDriver {
	return &SimDriver{
		total:    total,
		speedKMH: speedKMH,
		now:      time.Now,
	}
}

// SetWind sets the constant wind reported on synthetic records
func (s *SimDriver) SetWind(speedMS, angleDeg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windSpeed = speedMS
	s.windAngle = normalizeDegrees(angleDeg)
}

// Start begins or resumes elapsed-time accumulation from the current
// distance
func (s *SimDriver) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.resumedAt = s.now()
	s.running = true
}

// Pause freezes the driver at its current distance
func (s *SimDriver) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.startDistance = s.distanceLocked()
	s.running = false
}

// SetSpeed changes the simulation speed in km/h while keeping the distance
// continuous
func (s *SimDriver) SetSpeed(speedKMH float64) error {
	if speedKMH <= 0 {
		return ErrInvalidSimSpeed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.startDistance = s.distanceLocked()
		s.resumedAt = s.now()
	}
	s.speedKMH = speedKMH
	return nil
}

// Speed returns the current simulation speed in km/h
func (s *SimDriver) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speedKMH
}

// Finished reports whether the driver has reached the total distance
func (s *SimDriver) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Poll produces the current synthetic record
func (s *SimDriver) Poll() (TelemetryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.distanceLocked()
	if d >= s.total {
		d = s.total
		s.finished = true
	}

	return TelemetryRecord{
		Distance:        d,
		Speed:           s.speedKMH / 3.6,
		WindSpeed:       s.windSpeed,
		WindAngle:       s.windAngle,
		SourceTimestamp: s.now(),
	}, nil
}

// distanceLocked computes startDistance + speed × elapsed since last resume
func (s *SimDriver) distanceLocked() float64 {
	if !s.running {
		return s.startDistance
	}
	elapsed := s.now().Sub(s.resumedAt).Seconds()
	return s.startDistance + s.speedKMH/3.6*elapsed
}
