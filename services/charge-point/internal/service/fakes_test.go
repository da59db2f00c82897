package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

type recordedCall struct {
	action  string
	request interface{}
}

type fakeCaller struct {
	mu        sync.Mutex
	calls     []recordedCall
	errs      map[string]error
	txID      int
	authState types.AuthorizationStatus
}

func newFakeCaller(txID int) *fakeCaller {
	return &fakeCaller{
		errs:      make(map[string]error),
		txID:      txID,
		authState: types.AuthorizationStatusAccepted,
	}
}

func (f *fakeCaller) Call(_ context.Context, action string, request, conf interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, recordedCall{action: action, request: request})
	if err := f.errs[action]; err != nil {
		return err
	}
	if c, ok := conf.(*core.StartTransactionConfirmation); ok {
		c.TransactionId = f.txID
		c.IdTagInfo = &types.IdTagInfo{Status: f.authState}
	}
	return nil
}

func (f *fakeCaller) setErr(action string, err error) {
	f.mu.Lock()
	f.errs[action] = err
	f.mu.Unlock()
}

func (f *fakeCaller) requests(action string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interface{}
	for _, c := range f.calls {
		if c.action == action {
			out = append(out, c.request)
		}
	}
	return out
}

// chanExecutor hands confirmations back to the test goroutine.
type chanExecutor chan func()

func (e chanExecutor) Submit(fn func()) { e <- fn }

func (e chanExecutor) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-e:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a confirmation")
	}
}

func (e chanExecutor) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case <-e:
		t.Fatalf("unexpected confirmation")
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
