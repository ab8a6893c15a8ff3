// Package pairing manages the device lifecycle:
// pending -> paired -> revoked. There is no way back from revoked;
// re-pairing means a fresh pairing under a new device-id (or an explicit
// admin restart of the flow).
package pairing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/geb16/prodtracker/internal/auth"
	"github.com/geb16/prodtracker/internal/domain"
)

const secretBytes = 32

// Registry owns device pairing state and per-device secrets.
type Registry struct {
	devices domain.DeviceStore
	tokens  *auth.TokenVerifier
	now     func() time.Time
	logger  *zap.Logger
}

// NewRegistry creates a registry over the given device store.
func NewRegistry(devices domain.DeviceStore, tokens *auth.TokenVerifier, logger *zap.Logger) *Registry {
	return &Registry{devices: devices, tokens: tokens, now: time.Now, logger: logger}
}

// BeginPairing creates a pending device with a fresh high-entropy
// secret and returns the secret. The secret is write-once: an existing
// device, in any state, cannot be re-keyed through this path.
func (r *Registry) BeginPairing(ctx context.Context, deviceID, name string) (string, error) {
	secret, err := generateSecret()
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}

	d := domain.Device{
		DeviceID:  deviceID,
		Name:      name,
		Secret:    secret,
		State:     domain.StatePending,
		CreatedAt: r.now(),
	}
	if err := r.devices.Insert(ctx, d); err != nil {
		return "", err
	}

	r.logger.Info("pairing started",
		zap.String("device", deviceID),
		zap.String("name", name))
	return secret, nil
}

// PairWithToken runs the full token flow: the token (and its device-id
// claim) is verified before any state exists, so a request with a bad
// token cannot squat a device-id the legitimate owner wants later.
func (r *Registry) PairWithToken(ctx context.Context, deviceID, name, token string) (string, error) {
	if err := r.tokens.VerifyPairingToken(token, deviceID); err != nil {
		return "", err
	}
	secret, err := r.BeginPairing(ctx, deviceID, name)
	if err != nil {
		return "", err
	}
	if err := r.confirm(ctx, deviceID); err != nil {
		return "", err
	}
	return secret, nil
}

// ConfirmPairingAdmin moves a pending device straight to paired on the
// strength of an already-verified admin credential.
func (r *Registry) ConfirmPairingAdmin(ctx context.Context, deviceID string) error {
	return r.confirm(ctx, deviceID)
}

func (r *Registry) confirm(ctx context.Context, deviceID string) error {
	if err := r.devices.TransitionState(ctx, deviceID, domain.StatePending, domain.StatePaired); err != nil {
		return err
	}
	r.logger.Info("device paired", zap.String("device", deviceID))
	return nil
}

// Revoke moves a paired device to revoked. Lookup stops returning the
// device, so its heartbeats fail before any signature check.
func (r *Registry) Revoke(ctx context.Context, deviceID string) error {
	if err := r.devices.TransitionState(ctx, deviceID, domain.StatePaired, domain.StateRevoked); err != nil {
		return err
	}
	r.logger.Info("device revoked", zap.String("device", deviceID))
	return nil
}

// Lookup returns a device only when it is paired; pending and revoked
// devices are rejected as unknown regardless of signature validity.
func (r *Registry) Lookup(ctx context.Context, deviceID string) (*domain.Device, error) {
	d, err := r.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d.State != domain.StatePaired {
		return nil, domain.ErrUnknownDevice
	}
	return d, nil
}

// Touch records that a device was just seen.
func (r *Registry) Touch(ctx context.Context, deviceID string, seen time.Time) error {
	return r.devices.Touch(ctx, deviceID, seen)
}

// List returns all devices for the status command.
func (r *Registry) List(ctx context.Context) ([]domain.Device, error) {
	return r.devices.List(ctx)
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
