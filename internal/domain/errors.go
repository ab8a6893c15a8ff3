package domain

import "errors"

// Core error taxonomy. Callers match with errors.Is; the HTTP boundary
// collapses authentication, replay, and rate-limit failures into a
// single generic rejection so the cause is not distinguishable from
// outside.
var (
	// ErrAuthentication covers bad signatures, tokens, and claims.
	ErrAuthentication = errors.New("authentication failed")

	// ErrReplay marks a heartbeat whose timestamp is not strictly newer
	// than the last accepted one, or falls outside the skew window.
	ErrReplay = errors.New("replayed heartbeat")

	// ErrRateLimited marks a heartbeat rejected by the token bucket.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnknownDevice marks an unpaired or revoked device.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrDeviceExists marks an attempt to pair an already-known
	// device-id. Secrets are write-once; re-pairing means revoke and a
	// fresh device-id.
	ErrDeviceExists = errors.New("device already exists")

	// ErrStoreUnavailable is a transient shared-store or filesystem failure.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBlockerPermission means the hosts file cannot be edited with the
	// current privileges. Surfaced verbatim to the operator.
	ErrBlockerPermission = errors.New("insufficient privilege to edit hosts file")

	// ErrInvariant signals a bug, not a user error: a state transition
	// that the mutual-exclusion gate should have made unreachable.
	ErrInvariant = errors.New("invariant violation")
)
