// Package connector models one OCPP 1.6 connector: it infers the connector
// status from sensor samplers and persisted session data, and decides when a
// transaction has to be started or stopped.
//
// State is not safe for concurrent use. The driving loop owns it.
package connector

import (
	"fmt"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/durable"
)

// PlaceholderIDTag is used when a session begins without a credential.
const PlaceholderIDTag = "A0-00-00-00"

// Availability as persisted in the durable field store.
type Availability int

const (
	AvailabilityInoperative          Availability = 0
	AvailabilityInoperativeScheduled Availability = 1
	AvailabilityOperative            Availability = 2
)

func (a Availability) String() string {
	switch a {
	case AvailabilityInoperative:
		return "Inoperative"
	case AvailabilityInoperativeScheduled:
		return "InoperativeScheduled"
	case AvailabilityOperative:
		return "Operative"
	}
	return fmt.Sprintf("Availability(%d)", int(a))
}

// FieldStore declares and saves durable fields.
type FieldStore interface {
	Declare(spec durable.FieldSpec) (*durable.Field, error)
	Save() error
}

// TransactionKey names the durable transaction id field of a connector.
func TransactionKey(connectorID int) string {
	return fmt.Sprintf("STATE_TRANSACTION_ID_CONNECTOR_%d", connectorID)
}

// AvailabilityKey names the durable availability field of a connector.
func AvailabilityKey(connectorID int) string {
	return fmt.Sprintf("STATE_AVAILABILITY_CONNECTOR_%d", connectorID)
}

type intField interface {
	Get() int
	Set(v int)
	Revision() uint16
}

// memField backs a field when the durable store could not declare it.
type memField struct {
	value    int
	revision uint16
}

func (f *memField) Get() int { return f.value }

func (f *memField) Set(v int) {
	if f.value != v {
		f.value = v
		f.revision++
	}
}

func (f *memField) Revision() uint16 { return f.revision }

// Option configures a State.
type Option func(*State)

// WithClock replaces time.Now for StatusNotification timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// State is the connector state machine.
type State struct {
	connectorID int
	store       FieldStore
	logger      *zap.Logger
	now         func() time.Time

	transactionID     intField
	availability      intField
	transactionIDSync int

	session    bool
	sessionTag string

	currentStatus core.ChargePointStatus

	pluggedSampler    func() bool
	evRequestsSampler func() bool
	energizedSampler  func() bool
	errorCodeSamplers []func() string
	onUnlock          func() bool
}

// New declares the durable fields of connectorID in store and returns its state.
// A nil store, or a failed declaration, leaves the state on in-memory defaults.
func New(connectorID int, store FieldStore, logger *zap.Logger, opts ...Option) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &State{
		connectorID: connectorID,
		store:       store,
		logger:      logger.With(zap.Int("connector_id", connectorID)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.transactionID = s.declare(TransactionKey(connectorID), -1)
	s.availability = s.declare(AvailabilityKey(connectorID), int(AvailabilityOperative))
	s.transactionIDSync = s.transactionID.Get()
	return s
}

func (s *State) declare(key string, def int) intField {
	if s.store == nil {
		return &memField{value: def}
	}
	f, err := s.store.Declare(durable.FieldSpec{Key: key, Default: def, Resettable: false})
	if err != nil {
		s.logger.Warn("cannot declare durable field, using in-memory default",
			zap.String("key", key), zap.Error(err))
		return &memField{value: def}
	}
	return f
}

func (s *State) save() {
	if s.store == nil {
		return
	}
	if err := s.store.Save(); err != nil {
		s.logger.Error("save connector state failed", zap.Error(err))
	}
}

// ConnectorID returns the connector number; 0 is the charge point itself.
func (s *State) ConnectorID() int { return s.connectorID }

// Evaluate runs one step of the state machine and returns at most one intent.
func (s *State) Evaluate() Intent {
	if s.TransactionID() <= 0 && s.Availability() == AvailabilityInoperativeScheduled {
		s.availability.Set(int(AvailabilityInoperative))
		s.save()
		s.logger.Info("scheduled availability change applied", zap.Stringer("availability", AvailabilityInoperative))
	}

	if s.pluggedSampler != nil {
		if s.TransactionID() >= 0 {
			if !s.pluggedSampler() || !s.session {
				s.logger.Info("session management: trigger StopTransaction")
				return StopTransactionIntent{ConnectorID: s.connectorID}
			}
		} else if s.pluggedSampler() &&
			s.session &&
			s.ErrorCode() == "" &&
			s.Availability() == AvailabilityOperative {
			s.logger.Info("session management: trigger StartTransaction")
			return StartTransactionIntent{ConnectorID: s.connectorID}
		}
	}

	in := s.inputs()
	status := InferStatus(in)
	if status == s.currentStatus {
		return nil
	}
	s.currentStatus = status
	s.logger.Debug("status changed", zap.String("status", string(status)))

	return StatusNotificationIntent{
		ConnectorID: s.connectorID,
		Status:      status,
		Timestamp:   s.now(),
		ErrorCode:   in.ErrorCode,
	}
}

func (s *State) inputs() Inputs {
	return Inputs{
		ConnectorID:     s.connectorID,
		ErrorCode:       s.ErrorCode(),
		Availability:    s.Availability(),
		Session:         s.session,
		TransactionID:   s.TransactionID(),
		Plugged:         read(s.pluggedSampler),
		EVRequestsPower: read(s.evRequestsSampler),
		Energized:       read(s.energizedSampler),
		Previous:        s.currentStatus,
	}
}

// Status returns the last status emitted by Evaluate, empty before the first one.
func (s *State) Status() core.ChargePointStatus { return s.currentStatus }

// PermitsCharge reports whether the inferred status allows energy transfer.
func (s *State) PermitsCharge() bool {
	if s.connectorID == 0 {
		s.logger.Warn("permits charge is not supported for the charge point itself")
		return false
	}
	switch InferStatus(s.inputs()) {
	case core.ChargePointStatusCharging,
		core.ChargePointStatusSuspendedEV,
		core.ChargePointStatusSuspendedEVSE:
		return true
	}
	return false
}

// ErrorCode returns the first non-empty result of the error code samplers.
func (s *State) ErrorCode() string {
	for _, sampler := range s.errorCodeSamplers {
		if code := sampler(); code != "" {
			return code
		}
	}
	return ""
}

// BeginSession starts a user session. An empty tag is replaced by PlaceholderIDTag.
func (s *State) BeginSession(idTag string) {
	if idTag == "" {
		idTag = PlaceholderIDTag
	}
	s.sessionTag = idTag
	s.session = true
}

// EndSession ends the session and clears its credential.
func (s *State) EndSession() {
	s.sessionTag = ""
	s.session = false
}

// SessionIDTag returns the credential of the running session.
func (s *State) SessionIDTag() (string, bool) {
	if !s.session {
		return "", false
	}
	return s.sessionTag, true
}

// TransactionID returns -1 without transaction and 0 while a start is pending.
func (s *State) TransactionID() int { return s.transactionID.Get() }

// SetTransactionID updates the transaction id. Setting the pending value 0 over
// "no transaction" is not persisted.
func (s *State) SetTransactionID(id int) {
	prev := s.transactionID.Get()
	s.transactionID.Set(id)
	if id != 0 || prev > 0 {
		s.save()
	}
}

// TransactionWriteCount counts changes of the transaction id field.
func (s *State) TransactionWriteCount() uint16 { return s.transactionID.Revision() }

// TransactionIDSync returns the id the protocol layer last acknowledged.
func (s *State) TransactionIDSync() int { return s.transactionIDSync }

// SetTransactionIDSync records the id the protocol layer acknowledged.
func (s *State) SetTransactionIDSync(id int) { s.transactionIDSync = id }

// Availability returns the persisted availability.
func (s *State) Availability() Availability { return Availability(s.availability.Get()) }

// SetAvailability makes the connector operative, or inoperative once no transaction runs.
func (s *State) SetAvailability(available bool) {
	switch {
	case available:
		s.availability.Set(int(AvailabilityOperative))
	case s.TransactionID() > 0:
		s.availability.Set(int(AvailabilityInoperativeScheduled))
	default:
		s.availability.Set(int(AvailabilityInoperative))
	}
	s.save()
}

// SetConnectorPluggedSampler enables transaction management by plug state.
func (s *State) SetConnectorPluggedSampler(f func() bool) { s.pluggedSampler = f }

// SetEvRequestsEnergySampler reports whether the EV draws energy.
func (s *State) SetEvRequestsEnergySampler(f func() bool) { s.evRequestsSampler = f }

// SetConnectorEnergizedSampler reports whether the EVSE offers energy.
func (s *State) SetConnectorEnergizedSampler(f func() bool) { s.energizedSampler = f }

// AddConnectorErrorCodeSampler appends an error code probe. Earlier probes win.
func (s *State) AddConnectorErrorCodeSampler(f func() string) {
	if f != nil {
		s.errorCodeSamplers = append(s.errorCodeSamplers, f)
	}
}

// SetOnUnlockConnector installs the unlock action.
func (s *State) SetOnUnlockConnector(f func() bool) { s.onUnlock = f }

// OnUnlockConnector returns the unlock action, nil if none is installed.
func (s *State) OnUnlockConnector() func() bool { return s.onUnlock }
