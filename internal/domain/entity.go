// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// PairState tracks a device through its pairing lifecycle.
type PairState string

const (
	StatePending PairState = "pending"
	StatePaired  PairState = "paired"
	StateRevoked PairState = "revoked"
)

// Device is a paired phone (or other companion device).
// The secret is write-once at pairing; re-pairing means revoke + fresh pairing.
type Device struct {
	DeviceID  string
	Name      string
	Secret    string
	State     PairState
	CreatedAt time.Time
	PairedAt  time.Time
	LastSeen  time.Time
}

// Heartbeat is a signed status message from a paired device.
// Timestamp carries the raw wire string so signature verification can
// recompute the exact canonical payload the client signed.
type Heartbeat struct {
	DeviceID      string `json:"device_id"`
	Timestamp     string `json:"timestamp"` // ISO-8601 UTC
	ScreenOn      bool   `json:"screen_on"`
	ForegroundApp string `json:"foreground_app"`
	Signature     string `json:"signature,omitempty"` // hex HMAC-SHA256
}

// Time parses the heartbeat timestamp. Invalid timestamps are caught
// earlier by the verifier; a zero time is returned on parse failure.
func (h Heartbeat) Time() time.Time {
	t, err := time.Parse(time.RFC3339, h.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Verdict classifies a slice of time as productive or distracting.
type Verdict string

const (
	VerdictSignal  Verdict = "signal"
	VerdictNoise   Verdict = "noise"
	VerdictUnknown Verdict = "unknown"
)

// Classification is the result of running a sample through the rule list.
type Classification struct {
	Verdict Verdict
	Rule    string // name of the matched rule, empty for unknown
}

// SampleFact is what survives of a heartbeat inside the aggregation
// window: the raw message is never persisted verbatim.
type SampleFact struct {
	Timestamp time.Time `json:"ts"`
	ScreenOn  bool      `json:"screen_on"`
	App       string    `json:"app"`
	Verdict   Verdict   `json:"verdict"`
}

// Summary is a read-only aggregate over a trailing window.
type Summary struct {
	DeviceID      string    `json:"device_id"`
	WindowMinutes int       `json:"window_minutes"`
	SignalSeconds float64   `json:"signal_seconds"`
	NoiseSeconds  float64   `json:"noise_seconds"`
	LastSeen      time.Time `json:"last_seen"`
}

// BlockPhase is the blocking state machine's position.
type BlockPhase string

const (
	BlockInactive BlockPhase = "inactive"
	BlockActive   BlockPhase = "active"
)

// BlockState describes the single global blocking session.
// Invariant: at most one active session; every transition to active
// has produced a hosts-file backup first.
type BlockState struct {
	Phase       BlockPhase `json:"phase"`
	Reason      string     `json:"reason,omitempty"`
	ActivatedAt time.Time  `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	BackupPath  string     `json:"backup_path,omitempty"`
}

// BlockAction labels history entries.
type BlockAction string

const (
	ActionActivate   BlockAction = "activate"
	ActionDeactivate BlockAction = "deactivate"
)

// BlockHistoryRecord is an immutable append-only audit entry, created
// on every state transition.
type BlockHistoryRecord struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"ts"`
	Action      BlockAction `json:"action"`
	Reason      string      `json:"reason"`
	TriggeredBy string      `json:"triggered_by"` // device-id or "manual"
}
