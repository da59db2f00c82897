package metering

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"chargepoint/services/charge-point/internal/storage"
)

var errInjected = errors.New("injected storage failure")

type fakeAdapter struct {
	mu       sync.Mutex
	docs     map[string][]byte
	failNext map[string]error
	loads    int
	removed  []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{docs: make(map[string][]byte), failNext: make(map[string]error)}
}

func (f *fakeAdapter) Stat(path string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("stat:" + path); err != nil {
		return 0, false, err
	}
	doc, ok := f.docs[path]
	return int64(len(doc)), ok, nil
}

func (f *fakeAdapter) Store(path string, doc []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("store:" + path); err != nil {
		return err
	}
	f.docs[path] = append([]byte(nil), doc...)
	return nil
}

func (f *fakeAdapter) Load(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	doc, ok := f.docs[path]
	if !ok {
		return nil, storage.ErrNotExist
	}
	return doc, nil
}

func (f *fakeAdapter) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("remove:" + path); err != nil {
		return err
	}
	if _, ok := f.docs[path]; !ok {
		return fmt.Errorf("remove %s: %w", path, storage.ErrNotExist)
	}
	delete(f.docs, path)
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeAdapter) takeFailure(key string) error {
	if err, ok := f.failNext[key]; ok {
		delete(f.failNext, key)
		return err
	}
	return nil
}

func (f *fakeAdapter) failOnce(op, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op+":"+path] = errInjected
}

func (f *fakeAdapter) put(path string, doc []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[path] = doc
}

func (f *fakeAdapter) paths(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for p := range f.docs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
