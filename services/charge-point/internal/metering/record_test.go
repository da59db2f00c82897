package metering

import (
	"errors"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

func TestNewRecordValidation(t *testing.T) {
	tests := []struct {
		name    string
		ts      time.Time
		samples []types.SampledValue
	}{
		{"zero timestamp", time.Time{}, []types.SampledValue{{Value: "1"}}},
		{"no samples", baseTime, nil},
		{"empty value", baseTime, []types.SampledValue{{Value: ""}}},
		{"non numeric value", baseTime, []types.SampledValue{{Value: "12kWh"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRecord(tt.ts, tt.samples...); !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("expected ErrInvalidRecord, got %v", err)
			}
		})
	}
}

func TestRecordIsImmutable(t *testing.T) {
	samples := []types.SampledValue{EnergySample(1500, types.ReadingContextSamplePeriodic)}
	r, err := NewRecord(baseTime, samples...)
	if err != nil {
		t.Fatalf("new record: %v", err)
	}

	samples[0].Value = "0"
	out := r.Samples()
	out[0].Value = "1"
	if got := r.Samples()[0].Value; got != "1500" {
		t.Fatalf("record changed through aliasing, got %s", got)
	}
}

func TestRecordDocumentRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 10, 8, 15, 30, 0, time.FixedZone("CET", 3600))
	r, err := NewRecord(ts,
		EnergySample(12345.5, types.ReadingContextSamplePeriodic),
		PowerSample(7200, types.ReadingContextSamplePeriodic))
	if err != nil {
		t.Fatalf("new record: %v", err)
	}

	doc, err := r.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	back, err := DecodeJSON(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !back.Timestamp().UTC().Truncate(time.Second).Equal(ts.UTC().Truncate(time.Second)) {
		t.Fatalf("timestamp mismatch: %s vs %s", back.Timestamp(), ts)
	}
	got := back.Samples()
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0].Measurand != types.MeasurandEnergyActiveImportRegister || got[0].Unit != types.UnitOfMeasureWh || got[0].Value != "12345.5" {
		t.Fatalf("unexpected energy sample %+v", got[0])
	}
	if got[1].Measurand != types.MeasurandPowerActiveImport || got[1].Value != "7200" {
		t.Fatalf("unexpected power sample %+v", got[1])
	}
}

func TestDecodeJSONRejectsBadDocuments(t *testing.T) {
	for _, doc := range []string{
		`{`,
		`{"sampledValue":[{"value":"1"}]}`,
		`{"timestamp":"2024-03-10T08:00:00Z","sampledValue":[]}`,
	} {
		if _, err := DecodeJSON([]byte(doc)); err == nil {
			t.Fatalf("expected error for %s", doc)
		}
	}
}

func TestMeterValue(t *testing.T) {
	r := testRecord(t, 2)
	mv := r.MeterValue()
	if mv.Timestamp == nil || !mv.Timestamp.Time.Equal(r.Timestamp()) {
		t.Fatalf("unexpected timestamp %v", mv.Timestamp)
	}
	if len(mv.SampledValue) != 1 || mv.SampledValue[0].Value != "200" {
		t.Fatalf("unexpected samples %+v", mv.SampledValue)
	}
}
