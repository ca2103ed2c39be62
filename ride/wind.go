package ride

import "math"

// WindVector is a wind arrow in world coordinates, in m/s. East and North
// are the components of the direction the wind blows toward; renderers scale
// the arrow by Speed.
type WindVector struct {
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Speed returns the magnitude of the vector in m/s
func (v WindVector) Speed() float64 {
	return math.Hypot(v.East, v.North)
}

// Toward returns the compass direction the wind blows toward, in degrees
func (v WindVector) Toward() float64 {
	if v.East == 0 && v.North == 0 {
		return 0
	}
	return normalizeDegrees(math.Atan2(v.East, v.North) * 180 / math.Pi)
}

// ComputeWindVector combines the route bearing at the rider's position with
// the reported rider-relative wind angle and speed into a world-space
// vector. windAngle uses the broadcast convention: degrees relative to the
// direction of travel with 0 meaning a headwind, wrapped modulo 360 when out
// of range. The returned vector points in the direction the wind blows, so a
// pure headwind points opposite the bearing.
func ComputeWindVector(bearing, windAngle, windSpeed float64) WindVector {
	windFrom := normalizeDegrees(bearing + normalizeDegrees(windAngle))
	towardRad := (windFrom + 180) * math.Pi / 180
	return WindVector{
		East:  windSpeed * math.Sin(towardRad),
		North: windSpeed * math.Cos(towardRad),
	}
}
