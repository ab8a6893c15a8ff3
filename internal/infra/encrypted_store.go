package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/geb16/prodtracker/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const storeDBName = "prodtracker.db"

// EncryptedStore implements domain.DeviceStore and domain.HistoryStore
// on a SQLCipher encrypted SQLite database. Per-device shared secrets
// live here, so the database is encrypted at rest.
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStore opens (or creates) the encrypted database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		secret TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		paired_at INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS block_history (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL,
		triggered_by TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.DeviceStore implementation ---

// Insert adds a new device; an existing device-id is a conflict.
func (s *EncryptedStore) Insert(ctx context.Context, d domain.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, name, secret, state, created_at, paired_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.DeviceID, d.Name, d.Secret, string(d.State),
		d.CreatedAt.Unix(), unixOrZero(d.PairedAt), unixOrZero(d.LastSeen),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("device %s: %w", d.DeviceID, domain.ErrDeviceExists)
		}
		return fmt.Errorf("%w: insert device: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns a device by id regardless of state.
func (s *EncryptedStore) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	var (
		d                          domain.Device
		state                      string
		created, paired, lastSeen int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, name, secret, state, created_at, paired_at, last_seen
		FROM devices WHERE device_id = ?`, deviceID).
		Scan(&d.DeviceID, &d.Name, &d.Secret, &state, &created, &paired, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUnknownDevice
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get device: %v", domain.ErrStoreUnavailable, err)
	}
	d.State = domain.PairState(state)
	d.CreatedAt = time.Unix(created, 0).UTC()
	d.PairedAt = timeOrZero(paired)
	d.LastSeen = timeOrZero(lastSeen)
	return &d, nil
}

// TransitionState conditionally moves a device between pairing states.
// The WHERE clause carries the expected current state so two concurrent
// transitions cannot both succeed.
func (s *EncryptedStore) TransitionState(ctx context.Context, deviceID string, from, to domain.PairState) error {
	pairedAt := int64(0)
	if to == domain.StatePaired {
		pairedAt = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET state = ?, paired_at = CASE WHEN ? > 0 THEN ? ELSE paired_at END
		WHERE device_id = ? AND state = ?`,
		string(to), pairedAt, pairedAt, deviceID, string(from))
	if err != nil {
		return fmt.Errorf("%w: transition device state: %v", domain.ErrStoreUnavailable, err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Either the device does not exist or it is not in the expected
		// state (e.g. revoked trying to re-enter pending).
		return domain.ErrUnknownDevice
	}
	return nil
}

// Touch updates the last-seen timestamp.
func (s *EncryptedStore) Touch(ctx context.Context, deviceID string, seen time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE devices SET last_seen = ? WHERE device_id = ?`,
		seen.Unix(), deviceID)
	if err != nil {
		return fmt.Errorf("%w: touch device: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// List returns all devices.
func (s *EncryptedStore) List(ctx context.Context) ([]domain.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, name, secret, state, created_at, paired_at, last_seen
		FROM devices ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		var (
			d                          domain.Device
			state                      string
			created, paired, lastSeen int64
		)
		if err := rows.Scan(&d.DeviceID, &d.Name, &d.Secret, &state, &created, &paired, &lastSeen); err != nil {
			return nil, fmt.Errorf("%w: scan device: %v", domain.ErrStoreUnavailable, err)
		}
		d.State = domain.PairState(state)
		d.CreatedAt = time.Unix(created, 0).UTC()
		d.PairedAt = timeOrZero(paired)
		d.LastSeen = timeOrZero(lastSeen)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	return s.db.Close()
}

// --- domain.HistoryStore implementation ---

// Append inserts an immutable history record. There is no update or
// delete path by design of the schema access here.
func (s *EncryptedStore) Append(ctx context.Context, rec domain.BlockHistoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO block_history (id, ts, action, reason, triggered_by)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.Unix(), string(rec.Action), rec.Reason, rec.TriggeredBy)
	if err != nil {
		return fmt.Errorf("%w: append history: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Recent returns the newest records first.
func (s *EncryptedStore) Recent(ctx context.Context, limit int) ([]domain.BlockHistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, action, reason, triggered_by
		FROM block_history ORDER BY ts DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []domain.BlockHistoryRecord
	for rows.Next() {
		var (
			rec    domain.BlockHistoryRecord
			ts     int64
			action string
		)
		if err := rows.Scan(&rec.ID, &ts, &action, &rec.Reason, &rec.TriggeredBy); err != nil {
			return nil, fmt.Errorf("%w: scan history: %v", domain.ErrStoreUnavailable, err)
		}
		rec.Timestamp = time.Unix(ts, 0).UTC()
		rec.Action = domain.BlockAction(action)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

func isConstraintError(err error) bool {
	var sqlErr sqlcipher.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlcipher.ErrConstraint
	}
	return false
}

var (
	_ domain.DeviceStore  = (*EncryptedStore)(nil)
	_ domain.HistoryStore = (*EncryptedStore)(nil)
)
