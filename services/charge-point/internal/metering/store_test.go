package metering

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetOrCreateSharesLiveInstance(t *testing.T) {
	fs := newFakeAdapter()
	doc, _ := testRecord(t, 0).Document()
	fs.put(slotPath(t, 1, 5, 0), doc)

	store := NewStore(fs, testPrefix, nil)
	h1, err := store.GetOrCreate(1, 5, JSONDecoder)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	loads := fs.loads

	h2, err := store.GetOrCreate(1, 5, JSONDecoder)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h1.TransactionLog != h2.TransactionLog {
		t.Fatalf("expected the same log instance for the same key")
	}
	if fs.loads != loads {
		t.Fatalf("expected restore to run once, loads went from %d to %d", loads, fs.loads)
	}
	if h1.Len() != 1 {
		t.Fatalf("expected restored record, got %d", h1.Len())
	}
	if store.Live() != 1 {
		t.Fatalf("expected one live entry, got %d", store.Live())
	}

	other, err := store.GetOrCreate(2, 5, JSONDecoder)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if other.TransactionLog == h1.TransactionLog {
		t.Fatalf("expected distinct logs per connector")
	}
}

func TestReleaseExpiresEntry(t *testing.T) {
	store := NewStore(newFakeAdapter(), testPrefix, nil)

	h1, _ := store.GetOrCreate(1, 1, nil)
	h2, _ := store.GetOrCreate(1, 1, nil)
	first := h1.TransactionLog
	h1.Release()
	h1.Release()
	if h1.TransactionLog != nil {
		t.Fatalf("expected released handle to drop its log")
	}
	if store.Live() != 1 {
		t.Fatalf("expected entry to stay live while a handle is held")
	}

	h2.Release()
	if store.Live() != 0 {
		t.Fatalf("expected entry to expire after last release")
	}

	h3, _ := store.GetOrCreate(1, 1, nil)
	if h3.TransactionLog == first {
		t.Fatalf("expected a fresh log after expiry")
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected expired entry to be pruned, got %d entries", len(store.entries))
	}
}

func TestGetOrCreateKeepsLogWhenStatFails(t *testing.T) {
	fs := newFakeAdapter()
	doc, _ := testRecord(t, 0).Document()
	fs.put(slotPath(t, 1, 42, 0), doc)
	fs.failOnce("stat", slotPath(t, 1, 42, 0))

	store := NewStore(fs, testPrefix, nil)
	h, err := store.GetOrCreate(1, 42, JSONDecoder)
	if err != nil || h == nil {
		t.Fatalf("expected a handle despite the stat failure, got %v", err)
	}
	if h.Len() != 0 {
		t.Fatalf("expected restore to be skipped, got %d records", h.Len())
	}
	if store.Live() != 1 {
		t.Fatalf("expected the log to be registered, got %d live", store.Live())
	}

	if err := h.Append(testRecord(t, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	records, err := h.RetrieveAndFinalize()
	if err != nil || len(records) != 1 {
		t.Fatalf("expected the appended record back, got %d err=%v", len(records), err)
	}
}

func TestRemoveDeletesAppendedSlots(t *testing.T) {
	fs := newFakeAdapter()
	store := NewStore(fs, testPrefix, nil)

	h, _ := store.GetOrCreate(1, 8, JSONDecoder)
	for i := 0; i < 4; i++ {
		if err := h.Append(testRecord(t, i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if !store.Remove(1, 8) {
		t.Fatalf("expected remove to succeed")
	}
	if !h.Finalized() {
		t.Fatalf("expected live log to be finalized on remove")
	}
	if len(fs.removed) != 4 {
		t.Fatalf("expected 4 deletions, got %v", fs.removed)
	}
	if fs.removed[0] != slotPath(t, 1, 8, 3) || fs.removed[3] != slotPath(t, 1, 8, 0) {
		t.Fatalf("expected deletion from highest index down, got %v", fs.removed)
	}

	fresh, _ := store.GetOrCreate(1, 8, JSONDecoder)
	if fresh.TransactionLog == h.TransactionLog {
		t.Fatalf("expected removed log to be evicted")
	}
	if fresh.Len() != 0 {
		t.Fatalf("expected nothing to restore after remove, got %d", fresh.Len())
	}

	h.Release()
	if store.Live() != 1 {
		t.Fatalf("releasing an evicted handle must not touch the new entry")
	}
}

func TestRemoveWithoutLiveInstanceScans(t *testing.T) {
	fs := newFakeAdapter()
	writer := NewTransactionLog(3, 2, testPrefix, fs, nil)
	for i := 0; i < 5; i++ {
		if err := writer.Append(testRecord(t, i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	store := NewStore(fs, testPrefix, nil)
	if !store.Remove(3, 2) {
		t.Fatalf("expected remove to succeed")
	}
	if len(fs.removed) != 5 || len(fs.paths(testPrefix)) != 0 {
		t.Fatalf("expected all 5 slots deleted, removed=%v left=%v", fs.removed, fs.paths(testPrefix))
	}
}

func TestRemoveAfterRestore(t *testing.T) {
	fs := newFakeAdapter()
	writer := NewTransactionLog(1, 4, testPrefix, fs, nil)
	for i := 0; i < 3; i++ {
		_ = writer.Append(testRecord(t, i))
	}

	store := NewStore(fs, testPrefix, nil)
	h, err := store.GetOrCreate(1, 4, JSONDecoder)
	if err != nil || h.Len() != 3 {
		t.Fatalf("expected 3 restored records, len=%d err=%v", h.Len(), err)
	}
	if !store.Remove(1, 4) {
		t.Fatalf("expected remove to succeed")
	}
	if len(fs.removed) != 3 {
		t.Fatalf("expected 3 deletions, got %d", len(fs.removed))
	}
}

func TestRemoveReportsFailedDelete(t *testing.T) {
	fs := newFakeAdapter()
	store := NewStore(fs, testPrefix, nil)
	h, _ := store.GetOrCreate(1, 6, nil)
	for i := 0; i < 3; i++ {
		_ = h.Append(testRecord(t, i))
	}
	fs.failOnce("remove", slotPath(t, 1, 6, 1))

	if store.Remove(1, 6) {
		t.Fatalf("expected remove to report failure")
	}
	if len(fs.removed) != 2 {
		t.Fatalf("expected remaining slots to still be deleted, got %v", fs.removed)
	}
}

func TestGetOrCreateRepairsCorruption(t *testing.T) {
	fs := newFakeAdapter()
	for i := 0; i <= Capacity+1; i++ {
		doc, _ := testRecord(t, i).Document()
		fs.put(slotPath(t, 1, 3, i), doc)
	}

	observed, logs := observer.New(zapcore.ErrorLevel)
	store := NewStore(fs, testPrefix, zap.New(observed))

	h, err := store.GetOrCreate(1, 3, JSONDecoder)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h.Len() != 0 || h.Finalized() {
		t.Fatalf("expected an empty usable log after repair, len=%d", h.Len())
	}
	if left := fs.paths(testPrefix); len(left) != 0 {
		t.Fatalf("expected corrupted slots to be deleted, left %v", left)
	}
	if logs.FilterMessage("removed corrupted meter records").Len() != 1 {
		t.Fatalf("expected repair to be logged")
	}

	if err := h.Append(testRecord(t, 0)); err != nil {
		t.Fatalf("append after repair: %v", err)
	}
}

func TestVolatileStore(t *testing.T) {
	store := NewStore(nil, testPrefix, nil)
	h, err := store.GetOrCreate(1, 1, nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for i := 0; i < Capacity+1; i++ {
		if err := h.Append(testRecord(t, i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if h.Len() != Capacity {
		t.Fatalf("expected capacity bound in volatile mode, got %d", h.Len())
	}
	if !store.Remove(1, 1) {
		t.Fatalf("volatile remove always succeeds")
	}
}

func TestGetOrCreatePathTooLong(t *testing.T) {
	long := "/" + string(make([]byte, MaxPathLen))
	store := NewStore(newFakeAdapter(), long, nil)
	if _, err := store.GetOrCreate(1, 1, nil); err == nil {
		t.Fatalf("expected path error")
	}
	if store.Live() != 0 {
		t.Fatalf("failed lookup must not register an entry")
	}
}
