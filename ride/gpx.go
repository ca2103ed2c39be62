package ride

import (
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"time"
)

// GPX represents the root GPX document structure
type GPX struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	Xmlns   string   `xml:"xmlns,attr"`
	Tracks  []Track  `xml:"trk"`
	Routes  []Route  `xml:"rte"`
}

// Track represents a GPX track
type Track struct {
	Name     string         `xml:"name"`
	Segments []TrackSegment `xml:"trkseg"`
}

// TrackSegment represents a segment of a GPX track
type TrackSegment struct {
	TrackPoints []TrackPoint `xml:"trkpt"`
}

// TrackPoint represents a single point in a GPX track
type TrackPoint struct {
	Lat       float64   `xml:"lat,attr"`
	Lon       float64   `xml:"lon,attr"`
	Elevation float64   `xml:"ele"`
	Time      time.Time `xml:"time"`
}

// Route represents a GPX route
type Route struct {
	Name        string       `xml:"name"`
	RoutePoints []TrackPoint `xml:"rtept"`
}

// ParseRoute parses raw GPX bytes into an ordered waypoint sequence. Each
// waypoint carries the cumulative great-circle distance from the route start.
// The first segment of the first track is used; a <rte> route is accepted
// when the file has no tracks.
func ParseRoute(data []byte) ([]Waypoint, error) {
	var doc GPX
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRoute, err)
	}

	points := routePoints(&doc)
	if len(points) == 0 {
		return nil, ErrEmptyRoute
	}

	waypoints := make([]Waypoint, 0, len(points))
	cumulative := 0.0
	for i, p := range points {
		if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) ||
			p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			return nil, fmt.Errorf("%w: point %d has coordinates (%v, %v)",
				ErrMalformedRoute, i, p.Lat, p.Lon)
		}
		if i > 0 {
			prev := points[i-1]
			cumulative += haversineDistance(prev.Lat, prev.Lon, p.Lat, p.Lon)
		}
		if math.IsNaN(cumulative) || math.IsInf(cumulative, 0) {
			return nil, fmt.Errorf("%w: distance at point %d is %v", ErrNonMonotonicRoute, i, cumulative)
		}
		waypoints = append(waypoints, Waypoint{
			Lat:       p.Lat,
			Lon:       p.Lon,
			Elevation: p.Elevation,
			Distance:  cumulative,
		})
	}

	return waypoints, nil
}

// routePoints selects the point sequence to use: the first non-empty segment
// of the first track, falling back to the first route
func routePoints(doc *GPX) []TrackPoint {
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			if len(seg.TrackPoints) > 0 {
				return seg.TrackPoints
			}
		}
	}
	for _, rte := range doc.Routes {
		if len(rte.RoutePoints) > 0 {
			return rte.RoutePoints
		}
	}
	return nil
}

// LoadRouteFile reads and parses a GPX route file
func LoadRouteFile(filename string) ([]Waypoint, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file %s: %w", filename, err)
	}
	return ParseRoute(data)
}

// TrackRecorder writes emitted ride positions back out as a GPX track for
// post-ride inspection
type TrackRecorder struct {
	filename string
	gpx      *GPX
	file     *os.File
}

// NewTrackRecorder creates a GPX recorder writing to the given file
func NewTrackRecorder(filename string) (*TrackRecorder, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create GPX file %s: %w", filename, err)
	}

	gpx := &GPX{
		Version: "1.1",
		Creator: "ridetrack",
		Xmlns:   "http://www.topografix.com/GPX/1/1",
		Tracks: []Track{{
			Name:     "Ride Track",
			Segments: []TrackSegment{{TrackPoints: []TrackPoint{}}},
		}},
	}

	return &TrackRecorder{
		filename: filename,
		gpx:      gpx,
		file:     file,
	}, nil
}

// Add appends the position of an emitted update to the track
func (r *TrackRecorder) Add(ev UpdateEvent) {
	point := TrackPoint{
		Lat:       ev.Lat,
		Lon:       ev.Lon,
		Elevation: ev.Elevation,
		Time:      ev.Timestamp.UTC(),
	}
	seg := &r.gpx.Tracks[0].Segments[0]
	seg.TrackPoints = append(seg.TrackPoints, point)
}

// Flush rewrites the current track to the file
func (r *TrackRecorder) Flush() error {
	if _, err := r.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek to beginning of file: %w", err)
	}
	if err := r.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	if _, err := r.file.WriteString(xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}

	encoder := xml.NewEncoder(r.file)
	encoder.Indent("", "  ")
	if err := encoder.Encode(r.gpx); err != nil {
		return fmt.Errorf("failed to encode GPX data: %w", err)
	}

	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

// Close writes any pending points and closes the file
func (r *TrackRecorder) Close() error {
	if r.file == nil {
		return nil
	}
	if err := r.Flush(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Len returns the number of recorded points
func (r *TrackRecorder) Len() int {
	return len(r.gpx.Tracks[0].Segments[0].TrackPoints)
}
