package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/geb16/prodtracker/internal/domain"
)

// OSHostsFile implements domain.HostsFile against a real path.
type OSHostsFile struct {
	path string
}

// NewHostsFile creates an editor for the given hosts path
// (normally /etc/hosts; tests point it at a temp file).
func NewHostsFile(path string) *OSHostsFile {
	return &OSHostsFile{path: path}
}

// Path returns the hosts file location.
func (h *OSHostsFile) Path() string { return h.path }

// Read returns the current hosts content.
func (h *OSHostsFile) Read() ([]byte, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return nil, mapFSError("read hosts file", err)
	}
	return data, nil
}

// Replace writes new content using the temp-file + rename pattern so a
// crash mid-edit never leaves a partially written hosts file.
func (h *OSHostsFile) Replace(content []byte) error {
	dir := filepath.Dir(h.path)
	tmp, err := os.CreateTemp(dir, ".hosts-*")
	if err != nil {
		return mapFSError("create temp hosts file", err)
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
		return mapFSError("write temp hosts file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return mapFSError("sync temp hosts file", err)
	}
	tmp.Close()

	// Preserve the original file mode; hosts must stay world-readable.
	if info, err := os.Stat(h.path); err == nil {
		_ = os.Chmod(tmpPath, info.Mode())
	} else {
		_ = os.Chmod(tmpPath, 0644)
	}

	if err := os.Rename(tmpPath, h.path); err != nil {
		return mapFSError("replace hosts file", err)
	}
	success = true
	return nil
}

// mapFSError translates filesystem failures into the core taxonomy:
// permission problems need the operator, everything else is transient.
func mapFSError(op string, err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrBlockerPermission, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

var _ domain.HostsFile = (*OSHostsFile)(nil)
