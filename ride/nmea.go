package ride

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

const msToKnots = 1.94384

// calculateChecksum calculates the NMEA checksum for a sentence
func calculateChecksum(sentence string) string {
	var checksum byte
	for i := 1; i < len(sentence); i++ { // Skip the '$' character
		checksum ^= sentence[i]
	}
	return fmt.Sprintf("%02X", checksum)
}

// formatNMEA formats a complete NMEA sentence with checksum
func formatNMEA(sentence string) string {
	checksum := calculateChecksum(sentence)
	return fmt.Sprintf("%s*%s\r\n", sentence, checksum)
}

// nmeaCoordinates converts decimal degrees to the NMEA DDMM.MMMM fields
func nmeaCoordinates(lat, lon float64) (latDeg int, latMin float64, latHem string, lonDeg int, lonMin float64, lonHem string) {
	latDeg = int(math.Abs(lat))
	latMin = (math.Abs(lat) - float64(latDeg)) * 60
	latHem = "N"
	if lat < 0 {
		latHem = "S"
	}

	lonDeg = int(math.Abs(lon))
	lonMin = (math.Abs(lon) - float64(lonDeg)) * 60
	lonHem = "E"
	if lon < 0 {
		lonHem = "W"
	}
	return
}

// GenerateGGA generates a GGA (fix data) sentence from an emitted update.
// The fix fields are synthetic: downstream head units only need position and
// altitude.
func GenerateGGA(ev UpdateEvent) string {
	timeStr := ev.Timestamp.UTC().Format("150405")
	latDeg, latMin, latHem, lonDeg, lonMin, lonHem := nmeaCoordinates(ev.Lat, ev.Lon)

	sentence := fmt.Sprintf("$GPGGA,%s,%02d%07.4f,%s,%03d%07.4f,%s,1,08,0.9,%.1f,M,0.0,M,,",
		timeStr,
		latDeg, latMin, latHem,
		lonDeg, lonMin, lonHem,
		ev.Elevation)

	return formatNMEA(sentence)
}

// GenerateRMC generates an RMC (recommended minimum) sentence from an
// emitted update, carrying speed over ground and the route bearing as course
func GenerateRMC(ev UpdateEvent) string {
	timeStr := ev.Timestamp.UTC().Format("150405")
	dateStr := ev.Timestamp.UTC().Format("020106")
	latDeg, latMin, latHem, lonDeg, lonMin, lonHem := nmeaCoordinates(ev.Lat, ev.Lon)

	sentence := fmt.Sprintf("$GPRMC,%s,A,%02d%07.4f,%s,%03d%07.4f,%s,%.1f,%.1f,%s,,,A",
		timeStr,
		latDeg, latMin, latHem,
		lonDeg, lonMin, lonHem,
		ev.Speed*msToKnots, ev.Bearing, dateStr)

	return formatNMEA(sentence)
}

// NMEAWriter streams emitted updates as GGA/RMC sentence pairs to a writer,
// typically a serial port
type NMEAWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewNMEAWriter creates a writer emitting NMEA sentences to w
func NewNMEAWriter(w io.Writer) *NMEAWriter {
	return &NMEAWriter{w: w}
}

// WriteUpdate writes the GGA and RMC sentences for one update
func (n *NMEAWriter) WriteUpdate(ev UpdateEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := io.WriteString(n.w, GenerateGGA(ev)); err != nil {
		return err
	}
	_, err := io.WriteString(n.w, GenerateRMC(ev))
	return err
}
