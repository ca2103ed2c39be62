package ride

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// BroadcastReader polls the externally rewritten broadcast file. The writer
// replaces the file on its own timer without any locking protocol, so every
// read is best-effort: a transient failure (file briefly absent or mid-
// rewrite) retains the previous successful record instead of failing the
// poll loop.
type BroadcastReader struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger

	last      TelemetryRecord
	lastRider *RiderBroadcast
	hasRecord bool
	state     SourceState

	polls    uint64
	failures uint64

	now func() time.Time
}

// NewBroadcastReader creates a reader polling the given file path
func NewBroadcastReader(path string, logger *slog.Logger) *BroadcastReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &BroadcastReader{
		path:   path,
		logger: logger,
		state:  SourceWaitingForFile,
		now:    time.Now,
	}
}

// Poll reads and decodes the broadcast file. On a transient read or decode
// failure the previous successful record is returned with a nil error; if no
// read has ever succeeded, ErrNoTelemetry is returned.
func (b *BroadcastReader) Poll() (TelemetryRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.polls++

	data, err := os.ReadFile(b.path)
	if err != nil {
		return b.retainLocked("read", err)
	}

	rider, err := DecodeBroadcast(data)
	if err != nil {
		return b.retainLocked("decode", err)
	}

	b.last = rider.Record(b.now())
	b.lastRider = rider
	b.hasRecord = true
	b.state = SourceReading
	return b.last, nil
}

// retainLocked handles a failed poll: keep the last good record if there is
// one, otherwise report that no telemetry exists yet
func (b *BroadcastReader) retainLocked(op string, err error) (TelemetryRecord, error) {
	b.failures++
	if b.hasRecord {
		b.logger.Debug("transient broadcast failure, retaining previous record",
			"op", op, "path", b.path, "error", err)
		return b.last, nil
	}
	b.logger.Debug("broadcast not readable yet", "op", op, "path", b.path, "error", err)
	return TelemetryRecord{}, ErrNoTelemetry
}

// State returns the reader's current state
func (b *BroadcastReader) State() SourceState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastRider returns the most recently decoded full payload, or nil if none
// has been read yet
func (b *BroadcastReader) LastRider() *RiderBroadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRider
}

// Counters returns the number of polls and transient failures so far
func (b *BroadcastReader) Counters() (polls, failures uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls, b.failures
}
