package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/geb16/prodtracker/internal/domain"
)

// HostsBackupStore implements domain.BackupStore: timestamped copies of
// the hosts file in a fixed local directory. This core never prunes
// backups; retention is an external concern.
type HostsBackupStore struct {
	dir string
	now func() time.Time
}

// NewHostsBackupStore creates a backup store rooted at dir.
func NewHostsBackupStore(dir string) *HostsBackupStore {
	return &HostsBackupStore{dir: dir, now: time.Now}
}

// WithClock overrides the clock (for tests).
func (s *HostsBackupStore) WithClock(now func() time.Time) *HostsBackupStore {
	s.now = now
	return s
}

// Create writes a new timestamped backup and returns its path.
// The write is atomic (temp file + rename) so a crash never leaves a
// truncated backup that a later restore would trust.
func (s *HostsBackupStore) Create(content []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return "", mapFSError("create backup directory", err)
	}

	name := fmt.Sprintf("hosts_%s.bak", s.now().Format("20060102_150405.000000000"))
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".bak-*")
	if err != nil {
		return "", mapFSError("create temp backup", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", mapFSError("write backup", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", mapFSError("sync backup", err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return "", mapFSError("finalize backup", err)
	}
	success = true
	return path, nil
}

// Read returns the content of a previously created backup.
func (s *HostsBackupStore) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mapFSError("read backup", err)
	}
	return data, nil
}

var _ domain.BackupStore = (*HostsBackupStore)(nil)
