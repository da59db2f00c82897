package metering

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

var validate = validator.New()

// ErrInvalidRecord is returned for records without timestamp or samples.
var ErrInvalidRecord = errors.New("metering: invalid record")

// Record is an immutable meter value snapshot.
type Record struct {
	timestamp time.Time
	samples   []types.SampledValue
}

// NewRecord validates and copies the samples.
func NewRecord(ts time.Time, samples ...types.SampledValue) (*Record, error) {
	if ts.IsZero() {
		return nil, fmt.Errorf("%w: zero timestamp", ErrInvalidRecord)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no sampled values", ErrInvalidRecord)
	}
	for i, sv := range samples {
		if err := validate.Var(sv.Value, "required,numeric"); err != nil {
			return nil, fmt.Errorf("%w: sample %d value %q", ErrInvalidRecord, i, sv.Value)
		}
	}
	cp := make([]types.SampledValue, len(samples))
	copy(cp, samples)
	return &Record{timestamp: ts, samples: cp}, nil
}

// Timestamp of the reading.
func (r *Record) Timestamp() time.Time { return r.timestamp }

// Samples returns a copy of the sampled values.
func (r *Record) Samples() []types.SampledValue {
	cp := make([]types.SampledValue, len(r.samples))
	copy(cp, r.samples)
	return cp
}

// MeterValue returns the record as an OCPP 1.6 meter value.
func (r *Record) MeterValue() types.MeterValue {
	return types.MeterValue{
		Timestamp:    types.NewDateTime(r.timestamp),
		SampledValue: r.Samples(),
	}
}

// Document serializes the record for a storage slot.
func (r *Record) Document() ([]byte, error) {
	return json.Marshal(r.MeterValue())
}

// Decoder turns a stored document back into a record.
type Decoder interface {
	DecodeRecord(doc []byte) (*Record, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(doc []byte) (*Record, error)

// DecodeRecord implements Decoder.
func (f DecoderFunc) DecodeRecord(doc []byte) (*Record, error) { return f(doc) }

// JSONDecoder reads documents written by Record.Document.
var JSONDecoder Decoder = DecoderFunc(DecodeJSON)

// DecodeJSON parses an OCPP meter value document.
func DecodeJSON(doc []byte) (*Record, error) {
	var mv types.MeterValue
	if err := json.Unmarshal(doc, &mv); err != nil {
		return nil, fmt.Errorf("metering: decode record: %w", err)
	}
	if mv.Timestamp == nil {
		return nil, fmt.Errorf("%w: missing timestamp", ErrInvalidRecord)
	}
	return NewRecord(mv.Timestamp.Time, mv.SampledValue...)
}

// EnergySample is an Energy.Active.Import.Register reading in Wh.
func EnergySample(wh float64, context types.ReadingContext) types.SampledValue {
	return types.SampledValue{
		Value:     strconv.FormatFloat(wh, 'f', -1, 64),
		Context:   context,
		Format:    types.ValueFormatRaw,
		Measurand: types.MeasurandEnergyActiveImportRegister,
		Location:  types.LocationOutlet,
		Unit:      types.UnitOfMeasureWh,
	}
}

// PowerSample is a Power.Active.Import reading in W.
func PowerSample(w float64, context types.ReadingContext) types.SampledValue {
	return types.SampledValue{
		Value:     strconv.FormatFloat(w, 'f', -1, 64),
		Context:   context,
		Format:    types.ValueFormatRaw,
		Measurand: types.MeasurandPowerActiveImport,
		Location:  types.LocationOutlet,
		Unit:      types.UnitOfMeasureW,
	}
}
