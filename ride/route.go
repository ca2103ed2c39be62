package ride

import "sort"

// PointOnRoute is the result of a distance lookup on a RouteIndex.
type PointOnRoute struct {
	Lat       float64
	Lon       float64
	Elevation float64
	Bearing   float64
	Distance  float64
}

// RouteIndex wraps an immutable waypoint sequence with a distance-indexed
// lookup. Queries outside [0, TotalDistance] clamp to the nearest endpoint.
type RouteIndex struct {
	points []Waypoint
	total  float64
}

// NewRouteIndex builds an index over the given waypoints. The sequence must
// be non-empty with non-decreasing cumulative distances.
func NewRouteIndex(points []Waypoint) (*RouteIndex, error) {
	if len(points) == 0 {
		return nil, ErrEmptyRoute
	}
	for i := 1; i < len(points); i++ {
		if points[i].Distance < points[i-1].Distance {
			return nil, ErrNonMonotonicRoute
		}
	}
	return &RouteIndex{
		points: points,
		total:  points[len(points)-1].Distance,
	}, nil
}

// TotalDistance returns the total route distance in meters
func (r *RouteIndex) TotalDistance() float64 {
	return r.total
}

// Waypoints returns the underlying waypoint sequence. Callers must not
// modify it.
func (r *RouteIndex) Waypoints() []Waypoint {
	return r.points
}

// PositionAt resolves a distance along the route to an interpolated position,
// elevation and segment bearing. A distance exactly on a waypoint returns
// that waypoint with the outgoing segment's bearing; the final waypoint
// keeps the last segment's bearing.
func (r *RouteIndex) PositionAt(distance float64) PointOnRoute {
	if distance <= 0 || len(r.points) == 1 {
		return r.pointAt(0)
	}
	if distance >= r.total {
		return r.pointAt(len(r.points) - 1)
	}

	// Smallest index whose cumulative distance is >= the query.
	upper := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].Distance >= distance
	})
	if r.points[upper].Distance == distance {
		return r.pointAt(upper)
	}

	lo, hi := r.points[upper-1], r.points[upper]
	segLen := hi.Distance - lo.Distance
	frac := 0.0
	if segLen > 0 {
		frac = (distance - lo.Distance) / segLen
	}

	return PointOnRoute{
		Lat:       lo.Lat + (hi.Lat-lo.Lat)*frac,
		Lon:       lo.Lon + (hi.Lon-lo.Lon)*frac,
		Elevation: lo.Elevation + (hi.Elevation-lo.Elevation)*frac,
		Bearing:   initialBearing(lo.Lat, lo.Lon, hi.Lat, hi.Lon),
		Distance:  distance,
	}
}

// pointAt returns the waypoint at index i with its outgoing segment bearing
func (r *RouteIndex) pointAt(i int) PointOnRoute {
	wp := r.points[i]
	bearing := 0.0
	switch {
	case i < len(r.points)-1:
		next := r.points[i+1]
		bearing = initialBearing(wp.Lat, wp.Lon, next.Lat, next.Lon)
	case i > 0:
		prev := r.points[i-1]
		bearing = initialBearing(prev.Lat, prev.Lon, wp.Lat, wp.Lon)
	}
	return PointOnRoute{
		Lat:       wp.Lat,
		Lon:       wp.Lon,
		Elevation: wp.Elevation,
		Bearing:   bearing,
		Distance:  wp.Distance,
	}
}

// Window returns the waypoints spanning [start, start+length], clamped to the
// route. Gradient consumers use this to draw an elevation profile around the
// current position.
func (r *RouteIndex) Window(start, length float64) []Waypoint {
	if length <= 0 {
		return nil
	}
	end := start + length
	if start < 0 {
		start = 0
	}
	if end > r.total {
		end = r.total
	}
	if start > end {
		return nil
	}

	first := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].Distance >= start
	})
	last := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].Distance > end
	})
	if first > 0 && r.points[first].Distance > start {
		first-- // include the segment the window starts inside
	}
	return r.points[first:last]
}
