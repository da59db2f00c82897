package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FSAdapter stores documents as files below a root directory. Writes go through a
// temporary file and a rename so a power cut never leaves a half-written slot.
type FSAdapter struct {
	root   string
	logger *zap.Logger
}

// NewFSAdapter creates the root directory if needed.
func NewFSAdapter(root string, logger *zap.Logger) (*FSAdapter, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage: fs root is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FSAdapter{root: root, logger: logger}, nil
}

func (a *FSAdapter) resolve(path string) string {
	return filepath.Join(a.root, filepath.FromSlash(filepath.Clean("/"+path)))
}

// Stat implements Adapter.
func (a *FSAdapter) Stat(path string) (int64, bool, error) {
	info, err := os.Stat(a.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return info.Size(), true, nil
}

// Store implements Adapter.
func (a *FSAdapter) Store(path string, doc []byte) error {
	target := a.resolve(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("storage: create dir for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(doc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("storage: sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("storage: rename %s: %w", path, err)
	}
	tmpName = ""

	a.logger.Debug("stored document", zap.String("path", path), zap.Int("size", len(doc)))
	return nil
}

// Load implements Adapter.
func (a *FSAdapter) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(a.resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Remove implements Adapter.
func (a *FSAdapter) Remove(path string) error {
	if err := os.Remove(a.resolve(path)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: remove %s: %w", path, ErrNotExist)
		}
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	return nil
}
