package pairing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/geb16/prodtracker/internal/auth"
	"github.com/geb16/prodtracker/internal/domain"
)

type memDeviceStore struct {
	mu      sync.Mutex
	devices map[string]domain.Device
}

func newMemDeviceStore() *memDeviceStore {
	return &memDeviceStore{devices: make(map[string]domain.Device)}
}

func (m *memDeviceStore) Insert(_ context.Context, d domain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.DeviceID]; ok {
		return domain.ErrDeviceExists
	}
	m.devices[d.DeviceID] = d
	return nil
}

func (m *memDeviceStore) Get(_ context.Context, id string) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, domain.ErrUnknownDevice
	}
	return &d, nil
}

func (m *memDeviceStore) TransitionState(_ context.Context, id string, from, to domain.PairState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok || d.State != from {
		return domain.ErrUnknownDevice
	}
	d.State = to
	m.devices[id] = d
	return nil
}

func (m *memDeviceStore) Touch(_ context.Context, id string, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return domain.ErrUnknownDevice
	}
	d.LastSeen = seen
	m.devices[id] = d
	return nil
}

func (m *memDeviceStore) List(_ context.Context) ([]domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out, nil
}

func (m *memDeviceStore) Close() error { return nil }

func newTestRegistry() *Registry {
	return NewRegistry(newMemDeviceStore(), auth.NewTokenVerifier("pairing-secret"), zap.NewNop())
}

func TestRegistry_PairingLifecycle(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	secret, err := r.BeginPairing(ctx, "phone-001", "My Phone")
	require.NoError(t, err)
	assert.Len(t, secret, 64) // 32 bytes hex

	// Pending devices do not resolve through Lookup.
	_, err = r.Lookup(ctx, "phone-001")
	assert.ErrorIs(t, err, domain.ErrUnknownDevice)

	require.NoError(t, r.ConfirmPairingAdmin(ctx, "phone-001"))

	d, err := r.Lookup(ctx, "phone-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePaired, d.State)
	assert.Equal(t, secret, d.Secret)
}

func TestRegistry_SecretsAreUnique(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	s1, err := r.BeginPairing(ctx, "phone-001", "A")
	require.NoError(t, err)
	s2, err := r.BeginPairing(ctx, "phone-002", "B")
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}

func TestRegistry_DeviceIDIsWriteOnce(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.BeginPairing(ctx, "phone-001", "A")
	require.NoError(t, err)

	_, err = r.BeginPairing(ctx, "phone-001", "B")
	assert.Error(t, err)
}

func TestRegistry_PairWithToken(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	token, err := r.tokens.IssuePairingToken("phone-001", time.Minute)
	require.NoError(t, err)

	secret, err := r.PairWithToken(ctx, "phone-001", "A", token)
	require.NoError(t, err)
	assert.Len(t, secret, 64)

	d, err := r.Lookup(ctx, "phone-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePaired, d.State)
}

// A bad token must be rejected before any device state exists: the
// device-id stays free for its legitimate owner to pair afterwards.
func TestRegistry_BadTokenCannotSquatDeviceID(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.PairWithToken(ctx, "phone-001", "A", "garbage")
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	mismatched, err := r.tokens.IssuePairingToken("phone-other", time.Minute)
	require.NoError(t, err)
	_, err = r.PairWithToken(ctx, "phone-001", "A", mismatched)
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	// The id was never inserted, so pairing it properly still works.
	_, err = r.BeginPairing(ctx, "phone-001", "A")
	require.NoError(t, err)
	require.NoError(t, r.ConfirmPairingAdmin(ctx, "phone-001"))

	_, err = r.Lookup(ctx, "phone-001")
	assert.NoError(t, err)
}

func TestRegistry_RevokedIsTerminal(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.BeginPairing(ctx, "phone-001", "A")
	require.NoError(t, err)
	require.NoError(t, r.ConfirmPairingAdmin(ctx, "phone-001"))
	require.NoError(t, r.Revoke(ctx, "phone-001"))

	_, err = r.Lookup(ctx, "phone-001")
	assert.ErrorIs(t, err, domain.ErrUnknownDevice)

	// No transition leads out of revoked.
	assert.Error(t, r.ConfirmPairingAdmin(ctx, "phone-001"))
	assert.Error(t, r.Revoke(ctx, "phone-001"))
}

func TestRegistry_RevokeRequiresPaired(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.BeginPairing(ctx, "phone-001", "A")
	require.NoError(t, err)

	assert.Error(t, r.Revoke(ctx, "phone-001"))
	assert.Error(t, r.Revoke(ctx, "phone-never-existed"))
}

func TestRegistry_TouchUpdatesLastSeen(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.BeginPairing(ctx, "phone-001", "A")
	require.NoError(t, err)
	require.NoError(t, r.ConfirmPairingAdmin(ctx, "phone-001"))

	seen := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.Touch(ctx, "phone-001", seen))

	d, err := r.Lookup(ctx, "phone-001")
	require.NoError(t, err)
	assert.Equal(t, seen, d.LastSeen)
}
