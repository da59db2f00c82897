// Package durable keeps small integer state fields that must survive a reboot,
// such as the transaction id and availability of each connector.
package durable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSaveTimeout = 3 * time.Second

var (
	// ErrEmptyKey is returned by Declare for a blank key.
	ErrEmptyKey = errors.New("durable: empty field key")
	// ErrConflict is returned by Declare when a key is redeclared with another default.
	ErrConflict = errors.New("durable: field redeclared with different spec")
)

// Backend persists the flat key/value snapshot of a Store.
type Backend interface {
	Load(ctx context.Context) (map[string]int, error)
	Save(ctx context.Context, values map[string]int) error
}

// FieldSpec declares a field before use.
type FieldSpec struct {
	Key        string
	Default    int
	Resettable bool
}

// Store owns the declared fields and writes them through a Backend.
type Store struct {
	mu      sync.Mutex
	backend Backend
	loaded  map[string]int
	fields  map[string]*Field
	timeout time.Duration
	logger  *zap.Logger
}

// NewStore loads the persisted snapshot from backend.
func NewStore(ctx context.Context, backend Backend, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("durable: backend is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("durable: load: %w", err)
	}
	if loaded == nil {
		loaded = make(map[string]int)
	}

	return &Store{
		backend: backend,
		loaded:  loaded,
		fields:  make(map[string]*Field),
		timeout: defaultSaveTimeout,
		logger:  logger,
	}, nil
}

// Declare registers a field and returns it. A persisted value wins over the default.
// Declaring the same spec twice returns the existing field.
func (s *Store) Declare(spec FieldSpec) (*Field, error) {
	key := strings.TrimSpace(spec.Key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	spec.Key = key

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.fields[key]; ok {
		if existing.spec != spec {
			return nil, fmt.Errorf("%w: %s", ErrConflict, key)
		}
		return existing, nil
	}

	value := spec.Default
	if persisted, ok := s.loaded[key]; ok {
		value = persisted
	}

	f := &Field{store: s, spec: spec, value: value}
	s.fields[key] = f
	return f, nil
}

// Save writes every declared field, plus values loaded for keys not declared yet.
func (s *Store) Save() error {
	s.mu.Lock()
	snapshot := make(map[string]int, len(s.loaded)+len(s.fields))
	for k, v := range s.loaded {
		snapshot[k] = v
	}
	for k, f := range s.fields {
		snapshot[k] = f.value
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.backend.Save(ctx, snapshot); err != nil {
		s.logger.Error("save durable fields failed", zap.Int("fields", len(snapshot)), zap.Error(err))
		return fmt.Errorf("durable: save: %w", err)
	}
	return nil
}

// Reset restores every resettable field to its default and saves.
func (s *Store) Reset() error {
	s.mu.Lock()
	for _, f := range s.fields {
		if f.spec.Resettable {
			f.setLocked(f.spec.Default)
		}
	}
	s.mu.Unlock()
	return s.Save()
}

// Field is a declared integer value.
type Field struct {
	store    *Store
	spec     FieldSpec
	value    int
	revision uint16
}

// Key returns the declared key.
func (f *Field) Key() string { return f.spec.Key }

// Get returns the current in-memory value.
func (f *Field) Get() int {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.value
}

// Set updates the in-memory value. Callers decide when to Save.
func (f *Field) Set(v int) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.setLocked(v)
}

func (f *Field) setLocked(v int) {
	if f.value == v {
		return
	}
	f.value = v
	f.revision++
}

// Revision counts value changes since the field was declared.
func (f *Field) Revision() uint16 {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.revision
}
