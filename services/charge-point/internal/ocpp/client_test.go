package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"chargepoint/services/charge-point/internal/connector"
	"chargepoint/services/charge-point/internal/metering"
	"chargepoint/services/charge-point/internal/ocpp/protocol"
)

// loopbackSender answers every CALL through reply.
type loopbackSender struct {
	mu     sync.Mutex
	frames [][]byte
	client *Client
	reply  func(msg *Message) []byte
}

func (s *loopbackSender) Send(frame []byte) error {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()

	msg, err := NewParser().Parse(frame)
	if err != nil {
		return err
	}
	if s.reply == nil {
		return nil
	}
	answer := s.reply(msg)
	go func() {
		_, _ = s.client.Process(context.Background(), answer)
	}()
	return nil
}

type memJournal struct {
	mu      sync.Mutex
	entries []string
}

func (j *memJournal) Save(_ context.Context, direction, action string, _ []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, direction+":"+action)
	return nil
}

func (j *memJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func TestCallDecodesConfirmation(t *testing.T) {
	sender := &loopbackSender{}
	journal := &memJournal{}
	client := NewClient(nil, sender, journal, nil)
	sender.client = client
	sender.reply = func(msg *Message) []byte {
		if msg.Action != core.BootNotificationFeatureName {
			t.Errorf("unexpected action %s", msg.Action)
		}
		frame, _ := BuildCallResult(msg.UniqueID, map[string]interface{}{
			"status":      "Accepted",
			"currentTime": "2024-03-01T12:00:00Z",
			"interval":    300,
		})
		return frame
	}

	conf := &core.BootNotificationConfirmation{}
	if err := client.Call(context.Background(), core.BootNotificationFeatureName, BootNotification("1.0"), conf); err != nil {
		t.Fatalf("call: %v", err)
	}
	if conf.Status != core.RegistrationStatusAccepted || conf.Interval != 300 {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if client.Pending() != 0 {
		t.Fatalf("expected no pending calls")
	}
	if journal.count() != 2 {
		t.Fatalf("expected outgoing and incoming journal entries, got %d", journal.count())
	}
}

func TestCallReturnsCallError(t *testing.T) {
	sender := &loopbackSender{}
	client := NewClient(nil, sender, nil, nil)
	sender.client = client
	sender.reply = func(msg *Message) []byte {
		frame, _ := BuildCallError(msg.UniqueID, protocol.ErrorNotSupported, "nope")
		return frame
	}

	err := client.Call(context.Background(), core.HeartbeatFeatureName, core.NewHeartbeatRequest(), nil)
	var callErr *CallError
	if !errors.As(err, &callErr) || callErr.Code != protocol.ErrorNotSupported {
		t.Fatalf("expected CallError, got %v", err)
	}
}

func TestCallTimesOut(t *testing.T) {
	client := NewClient(nil, &loopbackSender{}, nil, nil)
	client.SetTimeout(20 * time.Millisecond)

	err := client.Call(context.Background(), core.HeartbeatFeatureName, core.NewHeartbeatRequest(), nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if client.Pending() != 0 {
		t.Fatalf("expected pending call cleaned up")
	}
}

func TestParseRejectsMalformedFrames(t *testing.T) {
	parser := NewParser()
	for _, frame := range []string{`{}`, `[2,"id"]`, `[2,"id","Action"]`, `[9,"id",{}]`, `[4,"id","Code"]`} {
		if _, err := parser.Parse([]byte(frame)); err == nil {
			t.Fatalf("expected error for %s", frame)
		}
	}
}

func TestRequestBuilders(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	status := StatusNotification(connector.StatusNotificationIntent{
		ConnectorID: 1,
		Status:      core.ChargePointStatusAvailable,
		Timestamp:   at,
	})
	if status.ErrorCode != core.NoError || status.Timestamp == nil || !status.Timestamp.Time.Equal(at) {
		t.Fatalf("unexpected status notification %+v", status)
	}

	rec, err := metering.NewRecord(at, metering.EnergySample(1500, types.ReadingContextSamplePeriodic))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	mv := MeterValues(1, -1, []*metering.Record{rec, nil})
	if mv.TransactionId != nil || len(mv.MeterValue) != 1 {
		t.Fatalf("unexpected meter values %+v", mv)
	}

	stop := StopTransaction(9, "TAG", 1500, at, core.ReasonLocal, []*metering.Record{rec})
	body, err := json.Marshal(stop)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	_ = json.Unmarshal(body, &decoded)
	if decoded["transactionId"].(float64) != 9 || decoded["reason"] != "Local" {
		t.Fatalf("unexpected stop body %s", body)
	}
	if data, ok := decoded["transactionData"].([]interface{}); !ok || len(data) != 1 {
		t.Fatalf("expected transaction data, got %s", body)
	}
}
