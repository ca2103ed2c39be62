package ride

import "time"

// Waypoint is a single point of a loaded route: position, elevation and the
// cumulative distance from the route start in meters.
type Waypoint struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Elevation float64 `json:"elevation"`
	Distance  float64 `json:"distance"`
}

// TelemetryRecord is one decoded snapshot of live ride state. Distance is in
// meters, Speed and WindSpeed in meters per second, WindAngle in degrees
// relative to the direction of travel (0 = headwind).
type TelemetryRecord struct {
	Distance        float64
	Speed           float64
	WindSpeed       float64
	WindAngle       float64
	SourceTimestamp time.Time
}

// UpdateEvent is the derived record emitted once per accepted tick and
// consumed by renderers (map, street view, gradient, NMEA output).
type UpdateEvent struct {
	Lat       float64    `json:"lat"`
	Lon       float64    `json:"lon"`
	Elevation float64    `json:"elevation"`
	Bearing   float64    `json:"bearing"`
	Wind      WindVector `json:"wind"`
	Distance  float64    `json:"distance"`
	Speed     float64    `json:"speed"`
	Stale     bool       `json:"stale"`
	Timestamp time.Time  `json:"timestamp"`
}

// Mode is the tracking controller's state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeTracking
	ModeStale
	ModeSimulating
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeTracking:
		return "tracking"
	case ModeStale:
		return "stale"
	case ModeSimulating:
		return "simulating"
	default:
		return "unknown"
	}
}

// SourceState is the broadcast reader's state.
type SourceState int

const (
	SourceWaitingForFile SourceState = iota
	SourceReading
)

// String returns a human-readable source state name.
func (s SourceState) String() string {
	switch s {
	case SourceWaitingForFile:
		return "waiting_for_file"
	case SourceReading:
		return "reading"
	default:
		return "unknown"
	}
}

// Stats holds counters maintained by the tracking controller.
type Stats struct {
	Polls             uint64 `json:"polls"`
	TransientFailures uint64 `json:"transient_failures"`
	EmittedEvents     uint64 `json:"emitted_events"`
	SkippedTicks      uint64 `json:"skipped_ticks"`
	StaleTransitions  uint64 `json:"stale_transitions"`
}

// Status is a snapshot of the tracking controller, safe to serialize.
type Status struct {
	Running             bool            `json:"running"`
	Mode                string          `json:"mode"`
	TotalDistance       float64         `json:"total_distance"`
	LastEmittedDistance float64         `json:"last_emitted_distance"`
	Delta               float64         `json:"delta"`
	PollInterval        time.Duration   `json:"poll_interval"`
	StaleAfter          time.Duration   `json:"stale_after"`
	SimSpeed            float64         `json:"sim_speed"`
	Stale               bool            `json:"stale"`
	LastSuccess         time.Time       `json:"last_success,omitempty"`
	Stats               Stats           `json:"stats"`
	LastEvent           *UpdateEvent    `json:"last_event,omitempty"`
	Rider               *RiderBroadcast `json:"rider,omitempty"`
}
