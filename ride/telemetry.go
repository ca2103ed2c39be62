package ride

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TelemetrySource is a polymorphic producer of telemetry records. The
// tracking controller polls the active source once per tick.
type TelemetrySource interface {
	Poll() (TelemetryRecord, error)
}

// RiderBroadcast is the full rider payload written by the host simulator.
// Speed and wind speed are integers in millimetres per second; distances are
// in meters.
type RiderBroadcast struct {
	Name                        string `json:"name"`
	Country                     string `json:"country"`
	Team                        string `json:"team"`
	TeamCode                    string `json:"teamCode"`
	Power                       int    `json:"power"`
	AvgPower                    int    `json:"avgPower"`
	NrmPower                    int    `json:"nrmPower"`
	MaxPower                    int    `json:"maxPower"`
	Cadence                     int    `json:"cadence"`
	AvgCadence                  int    `json:"avgCadence"`
	MaxCadence                  int    `json:"maxCadence"`
	Heartrate                   int    `json:"heartrate"`
	AvgHeartrate                int    `json:"avgHeartrate"`
	MaxHeartrate                int    `json:"maxHeartrate"`
	Time                        int    `json:"time"`
	Distance                    int    `json:"distance"`
	Height                      int    `json:"height"`
	Speed                       int    `json:"speed"`
	TSS                         int    `json:"tss"`
	Calories                    int    `json:"calories"`
	Draft                       int    `json:"draft"`
	WindSpeed                   int    `json:"windSpeed"`
	WindAngle                   int    `json:"windAngle"`
	Slope                       int    `json:"slope"`
	EventLapsTotal              int    `json:"eventLapsTotal"`
	EventLapsDone               int    `json:"eventLapsDone"`
	EventDistanceTotal          int    `json:"eventDistanceTotal"`
	EventDistanceDone           int    `json:"eventDistanceDone"`
	EventDistanceToNextLocation int    `json:"eventDistanceToNextLocation"`
	EventNextLocation           int    `json:"eventNextLocation"`
	EventPosition               int    `json:"eventPosition"`
}

// DistanceMeters returns the distance traveled in meters
func (r *RiderBroadcast) DistanceMeters() float64 {
	return float64(r.Distance)
}

// SpeedMS returns the rider's speed in m/s
func (r *RiderBroadcast) SpeedMS() float64 {
	return float64(r.Speed) / 1000.0
}

// SpeedKMH returns the rider's speed in km/h
func (r *RiderBroadcast) SpeedKMH() float64 {
	return r.SpeedMS() * 3.6
}

// WindSpeedMS returns the wind speed in m/s
func (r *RiderBroadcast) WindSpeedMS() float64 {
	return float64(r.WindSpeed) / 1000.0
}

// WindSpeedKMH returns the wind speed in km/h
func (r *RiderBroadcast) WindSpeedKMH() float64 {
	return r.WindSpeedMS() * 3.6
}

// WindDirectionDegrees returns the wind angle normalized to [0, 360). The
// broadcast reports angles relative to the direction of travel and may use
// negative values for wind from the left.
func (r *RiderBroadcast) WindDirectionDegrees() float64 {
	return normalizeDegrees(float64(r.WindAngle))
}

// IsPedaling reports whether the rider currently has power output
func (r *RiderBroadcast) IsPedaling() bool {
	return r.Power > 0
}

// Record converts the payload into a TelemetryRecord stamped at ts
func (r *RiderBroadcast) Record(ts time.Time) TelemetryRecord {
	return TelemetryRecord{
		Distance:        r.DistanceMeters(),
		Speed:           r.SpeedMS(),
		WindSpeed:       r.WindSpeedMS(),
		WindAngle:       r.WindDirectionDegrees(),
		SourceTimestamp: ts,
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeBroadcast decodes the raw bytes of the broadcast file into a rider
// payload. The writer prefixes the file with a UTF-8 byte-order marker and
// wraps the object in an unnamed single-element array; both are stripped
// before decoding.
func DecodeBroadcast(data []byte) (*RiderBroadcast, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedTelemetry)
	}

	// Skip any leading garbage up to the start of the array or object.
	start := bytes.IndexByte(data, '[')
	if start < 0 {
		start = bytes.IndexByte(data, '{')
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON payload found", ErrMalformedTelemetry)
	}
	data = data[start:]

	// Unwrap the single-element array.
	if bytes.HasPrefix(data, []byte("[")) && bytes.HasSuffix(data, []byte("]")) {
		data = bytes.TrimSpace(data[1 : len(data)-1])
	}

	var rider RiderBroadcast
	if err := json.Unmarshal(data, &rider); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTelemetry, err)
	}
	return &rider, nil
}
