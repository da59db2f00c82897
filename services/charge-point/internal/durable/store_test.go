package durable

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type failingBackend struct {
	loadErr error
	saveErr error
}

func (b failingBackend) Load(context.Context) (map[string]int, error) { return nil, b.loadErr }
func (b failingBackend) Save(context.Context, map[string]int) error   { return b.saveErr }

func TestDeclareUsesDefaultThenPersistedValue(t *testing.T) {
	backend := NewMemoryBackend()
	store, err := NewStore(context.Background(), backend, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	f, err := store.Declare(FieldSpec{Key: "STATE_TRANSACTION_ID_CONNECTOR_1", Default: -1})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if f.Get() != -1 {
		t.Fatalf("expected default -1, got %d", f.Get())
	}

	f.Set(17)
	if err := store.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := NewStore(context.Background(), backend, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	f2, err := reloaded.Declare(FieldSpec{Key: "STATE_TRANSACTION_ID_CONNECTOR_1", Default: -1})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if f2.Get() != 17 {
		t.Fatalf("expected persisted value 17, got %d", f2.Get())
	}
}

func TestDeclareValidation(t *testing.T) {
	store, err := NewStore(context.Background(), NewMemoryBackend(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if _, err := store.Declare(FieldSpec{Key: " "}); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}

	a, err := store.Declare(FieldSpec{Key: "K", Default: 2})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	b, err := store.Declare(FieldSpec{Key: "K", Default: 2})
	if err != nil || a != b {
		t.Fatalf("expected same field on identical redeclare, err=%v", err)
	}
	if _, err := store.Declare(FieldSpec{Key: "K", Default: 3}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRevisionCountsChangesOnly(t *testing.T) {
	store, _ := NewStore(context.Background(), NewMemoryBackend(), nil)
	f, _ := store.Declare(FieldSpec{Key: "K", Default: -1})

	f.Set(-1)
	if f.Revision() != 0 {
		t.Fatalf("expected no revision for same value, got %d", f.Revision())
	}
	f.Set(0)
	f.Set(5)
	if f.Revision() != 2 {
		t.Fatalf("expected revision 2, got %d", f.Revision())
	}
}

func TestResetOnlyTouchesResettableFields(t *testing.T) {
	backend := NewMemoryBackend()
	store, _ := NewStore(context.Background(), backend, nil)
	sticky, _ := store.Declare(FieldSpec{Key: "STICKY", Default: 1})
	soft, _ := store.Declare(FieldSpec{Key: "SOFT", Default: 1, Resettable: true})

	sticky.Set(9)
	soft.Set(9)
	if err := store.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if sticky.Get() != 9 || soft.Get() != 1 {
		t.Fatalf("unexpected values after reset: sticky=%d soft=%d", sticky.Get(), soft.Get())
	}
	if v, _ := backend.Value("SOFT"); v != 1 {
		t.Fatalf("expected reset value to be saved, got %d", v)
	}
}

func TestStoreErrors(t *testing.T) {
	if _, err := NewStore(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil backend")
	}

	boom := errors.New("boom")
	if _, err := NewStore(context.Background(), failingBackend{loadErr: boom}, nil); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}

	store, err := NewStore(context.Background(), failingBackend{saveErr: boom}, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save(); !errors.Is(err, boom) {
		t.Fatalf("expected save error, got %v", err)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "durable.json")
	backend := NewFileBackend(path)

	values, err := backend.Load(context.Background())
	if err != nil || len(values) != 0 {
		t.Fatalf("expected empty snapshot for missing file, got %v err=%v", values, err)
	}

	if err := backend.Save(context.Background(), map[string]int{"A": 1, "B": -1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	values, err = backend.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if values["A"] != 1 || values["B"] != -1 {
		t.Fatalf("unexpected snapshot %v", values)
	}
}

func TestFileBackendSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	backend := NewFileBackend(filepath.Join(dir, "durable.json"))

	for i := 1; i <= 3; i++ {
		if err := backend.Save(context.Background(), map[string]int{"STATE_TRANSACTION_ID_CONNECTOR_1": i}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "durable.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the state file, got %v", names)
	}

	values, err := backend.Load(context.Background())
	if err != nil || values["STATE_TRANSACTION_ID_CONNECTOR_1"] != 3 {
		t.Fatalf("expected last saved value, got %v err=%v", values, err)
	}
}

func TestFileBackendSaveFailsWhenDirIsAFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	backend := NewFileBackend(filepath.Join(blocker, "durable.json"))
	if err := backend.Save(context.Background(), map[string]int{"A": 1}); err == nil {
		t.Fatalf("expected save to fail")
	}
}

func TestSaveKeepsUndeclaredLoadedKeys(t *testing.T) {
	backend := NewMemoryBackend()
	_ = backend.Save(context.Background(), map[string]int{"OTHER": 4})

	store, _ := NewStore(context.Background(), backend, nil)
	f, _ := store.Declare(FieldSpec{Key: "MINE", Default: 0})
	f.Set(1)
	if err := store.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if v, ok := backend.Value("OTHER"); !ok || v != 4 {
		t.Fatalf("expected undeclared key to survive, got %d ok=%v", v, ok)
	}
}
