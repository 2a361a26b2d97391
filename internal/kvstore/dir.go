package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var errInvalidKey = errors.New("invalid key")

// DirBackend stores each key as <dir>/<key>.json.
type DirBackend struct {
	dir string
	mu  sync.Mutex
}

// NewDirBackend creates dir if needed and returns a backend rooted there.
func NewDirBackend(dir string) (*DirBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return &DirBackend{dir: dir}, nil
}

// Read implements Backend.
func (d *DirBackend) Read(_ context.Context, key string) ([]byte, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p) //nolint:gosec // G304: key is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Write implements Backend. The file is replaced atomically.
func (d *DirBackend) Write(_ context.Context, key string, data []byte) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.CreateTemp(d.dir, "."+key+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Remove implements Backend.
func (d *DirBackend) Remove(_ context.Context, key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *DirBackend) path(key string) (string, error) {
	if key == "" {
		return "", errInvalidKey
	}
	for _, c := range key {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '_' && c != '-' {
			return "", fmt.Errorf("%w: %q", errInvalidKey, key)
		}
	}
	return filepath.Join(d.dir, key+".json"), nil
}
