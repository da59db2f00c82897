package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// FileBackend keeps the snapshot as a JSON object in a single file.
type FileBackend struct {
	path string
}

// NewFileBackend ctor.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Load implements Backend. A missing file is an empty snapshot.
func (b *FileBackend) Load(_ context.Context) (map[string]int, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]int)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	return values, nil
}

// Save implements Backend.
func (b *FileBackend) Save(_ context.Context, values map[string]int) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".durable-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", b.path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", b.path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", b.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", b.path, err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("rename %s: %w", b.path, err)
	}
	tmpName = ""

	return syncDir(dir)
}

// syncDir flushes the directory entry of a rename.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}

// RedisBackend keeps the snapshot in a redis hash.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend returns a backend storing fields under chargepoint:<id>:state.
func NewRedisBackend(client *redis.Client, chargePointID string) *RedisBackend {
	return &RedisBackend{client: client, key: fmt.Sprintf("chargepoint:%s:state", chargePointID)}
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context) (map[string]int, error) {
	raw, err := b.client.HGetAll(ctx, b.key).Result()
	if err != nil {
		return nil, err
	}
	values := make(map[string]int, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", b.key, k, err)
		}
		values[k] = n
	}
	return values, nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, values map[string]int) error {
	if len(values) == 0 {
		return nil
	}
	args := make(map[string]interface{}, len(values))
	for k, v := range values {
		args[k] = v
	}
	return b.client.HSet(ctx, b.key, args).Err()
}

// MemoryBackend is a volatile backend used when no persistence is configured.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]int
	saves  int
}

// NewMemoryBackend ctor.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]int)}
}

// Load implements Backend.
func (b *MemoryBackend) Load(context.Context) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out, nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, values map[string]int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = make(map[string]int, len(values))
	for k, v := range values {
		b.values[k] = v
	}
	b.saves++
	return nil
}

// Saves reports how many times Save was called.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// Value returns the last saved value for key.
func (b *MemoryBackend) Value(key string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return v, ok
}
