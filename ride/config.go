package ride

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration options for the ride tracker
type Config struct {
	BroadcastFile string        // Path to the externally rewritten telemetry file
	Delta         float64       // Minimum distance step in meters before an update is emitted
	PollInterval  time.Duration // Broadcast file poll cadence
	StaleAfter    time.Duration // Feed age after which telemetry is considered stale
	SimSpeed      float64       // Simulation speed in km/h (mutable at runtime)
	SimWindSpeed  float64       // Constant wind speed reported while simulating (m/s)
	SimWindAngle  float64       // Constant wind angle reported while simulating (degrees)
	SerialPort    string        // Serial port device for NMEA output (e.g., /dev/ttyUSB0, COM1)
	BaudRate      int           // Serial baud rate
	RecordFile    string        // GPX file recording emitted positions (empty = disabled)
	Quiet         bool          // Suppress informational messages
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Delta:        100.0,
		PollInterval: 1 * time.Second,
		StaleAfter:   60 * time.Second,
		SimSpeed:     45.0,
		SimWindSpeed: 0.0,
		SimWindAngle: 0.0,
		BaudRate:     9600,
	}
}

// DefaultBroadcastFile returns the path the host simulator writes its
// broadcast telemetry to (Documents/TPVirtual/Broadcast/focus.json).
func DefaultBroadcastFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Documents", "TPVirtual", "Broadcast", "focus.json"), nil
}

// Validate checks if the configuration is valid and returns an error if not
func (c *Config) Validate() error {
	if c.Delta <= 0 {
		return ErrInvalidDelta
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.StaleAfter <= 0 {
		return ErrInvalidStaleAfter
	}
	if c.SimSpeed <= 0 {
		return ErrInvalidSimSpeed
	}
	if c.BaudRate <= 0 {
		return ErrInvalidBaudRate
	}
	return nil
}
