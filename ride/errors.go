package ride

import "errors"

// Common errors returned by the ride tracking core
var (
	ErrMalformedRoute     = errors.New("route file is not valid GPX")
	ErrEmptyRoute         = errors.New("route contains no usable points")
	ErrNonMonotonicRoute  = errors.New("cumulative route distance is not monotonic")
	ErrMalformedTelemetry = errors.New("broadcast telemetry could not be decoded")
	ErrNoTelemetry        = errors.New("no telemetry has been read yet")
	ErrRouteRequired      = errors.New("a route index is required")

	ErrTrackerAlreadyRunning = errors.New("tracker is already running")
	ErrTrackerNotRunning     = errors.New("tracker is not running")

	ErrInvalidDelta        = errors.New("delta must be positive")
	ErrInvalidPollInterval = errors.New("poll interval must be positive")
	ErrInvalidStaleAfter   = errors.New("staleness threshold must be positive")
	ErrInvalidSimSpeed     = errors.New("simulation speed must be positive")
	ErrInvalidBaudRate     = errors.New("baud rate must be positive")
)
