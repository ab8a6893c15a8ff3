package domain

import (
	"context"
	"time"
)

// DeviceStore persists device pairing state.
// Implementation: SQLCipher encrypted SQLite (secrets at rest are secrets).
type DeviceStore interface {
	// Insert adds a new device. Fails if the device-id already exists.
	Insert(ctx context.Context, d Device) error

	// Get returns a device by id regardless of pairing state.
	Get(ctx context.Context, deviceID string) (*Device, error)

	// TransitionState moves a device from one pairing state to another.
	// The update is conditional on the current state so concurrent
	// confirm/revoke calls cannot skip a step.
	TransitionState(ctx context.Context, deviceID string, from, to PairState) error

	// Touch updates the device's last-seen timestamp.
	Touch(ctx context.Context, deviceID string, seen time.Time) error

	// List returns all devices (for the status command).
	List(ctx context.Context) ([]Device, error)

	// Close releases the underlying database connection.
	Close() error
}

// HistoryStore is the append-only block-history log.
type HistoryStore interface {
	// Append records a state transition. Records are never mutated.
	Append(ctx context.Context, rec BlockHistoryRecord) error

	// Recent returns the newest records, newest first.
	Recent(ctx context.Context, limit int) ([]BlockHistoryRecord, error)
}

// SampleWindow maintains the rolling per-device aggregate state.
// Updates for the same device-id are serialized by the implementation;
// different device-ids never block each other.
type SampleWindow interface {
	// Record appends a sample's derived facts, lazily evicting entries
	// older than the lookback bound.
	Record(ctx context.Context, deviceID string, fact SampleFact) error

	// Summarize aggregates the trailing minutes, clipped to the retained
	// lookback. Asking for more than is retained returns best-available
	// data, not an error.
	Summarize(ctx context.Context, deviceID string, minutes int) (*Summary, error)
}

// AdmitDecision is the guard store's verdict for one heartbeat.
type AdmitDecision int

const (
	Admitted AdmitDecision = iota
	Replayed
	RateLimited
)

// GuardState holds the shared rate-limit and replay counters.
// The admit operation must be atomic so concurrent service instances
// never interleave a read-modify-write on the same device's bucket.
type GuardState interface {
	// Admit runs the replay check (strictly increasing timestamp) and the
	// token bucket (capacity + refill per second) in one atomic step.
	// A rejected sample must leave the stored state untouched except for
	// the abuse counter.
	Admit(ctx context.Context, deviceID string, ts, now time.Time, capacity int, refillPerSec float64) (AdmitDecision, error)
}

// HostsFile reads and atomically replaces the OS hosts file.
type HostsFile interface {
	Read() ([]byte, error)

	// Replace writes new content via temp file + rename so a crash
	// mid-edit never leaves a partial hosts file.
	Replace(content []byte) error

	Path() string
}

// BackupStore keeps timestamped hosts-file copies. Retention is an
// external concern: this core never prunes.
type BackupStore interface {
	// Create writes a new timestamped backup and returns its path.
	Create(content []byte) (string, error)

	// Read returns the content of a previously created backup.
	Read(path string) ([]byte, error)
}

// Sampler reports the desktop's current foreground activity.
// The OS-specific polling lives behind this boundary.
type Sampler interface {
	// Sample returns (app name, window title). Best-effort; both may be
	// empty when the platform offers no answer.
	Sample(ctx context.Context) (app, title string, err error)
}
