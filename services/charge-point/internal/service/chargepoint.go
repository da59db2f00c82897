package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/connector"
	"chargepoint/services/charge-point/internal/metering"
)

// ErrUnknownConnector is returned for connector ids the charge point does not have.
var ErrUnknownConnector = errors.New("service: unknown connector")

// ConnectorIO pairs a connector state machine with its energy meter.
type ConnectorIO struct {
	State *connector.State
	Meter EnergyMeter
}

type connectorUnit struct {
	state   *connector.State
	process *TransactionProcess
}

// ChargePoint drives all connectors of one charge point. Its methods must be
// called on the driving loop; Snapshots is the view for other goroutines.
type ChargePoint struct {
	id        string
	units     []*connectorUnit
	byID      map[int]*connectorUnit
	meters    *metering.Store
	snapshots *Snapshots
	logger    *zap.Logger
	deps      Deps
}

// NewChargePoint ctor. Connector 0 may be included to report the charge point status.
func NewChargePoint(id string, connectors []ConnectorIO, deps Deps) *ChargePoint {
	deps.ChargePointID = id
	deps = deps.withDefaults()
	cp := &ChargePoint{
		id:        id,
		byID:      make(map[int]*connectorUnit, len(connectors)),
		meters:    deps.Meters,
		snapshots: NewSnapshots(),
		logger:    deps.Logger.With(zap.String("charge_point_id", id)),
		deps:      deps,
	}
	for _, c := range connectors {
		u := &connectorUnit{state: c.State, process: NewTransactionProcess(c.State, c.Meter, deps)}
		cp.units = append(cp.units, u)
		cp.byID[c.State.ConnectorID()] = u
	}
	return cp
}

// ID returns the charge point identity.
func (cp *ChargePoint) ID() string { return cp.id }

// Snapshots returns the read-only connector views.
func (cp *ChargePoint) Snapshots() *Snapshots { return cp.snapshots }

// Meters returns the meter store.
func (cp *ChargePoint) Meters() *metering.Store { return cp.meters }

// Connector returns the state machine of connectorID.
func (cp *ChargePoint) Connector(connectorID int) (*connector.State, error) {
	u, err := cp.unit(connectorID)
	if err != nil {
		return nil, err
	}
	return u.state, nil
}

// Process returns the transaction process of connectorID.
func (cp *ChargePoint) Process(connectorID int) (*TransactionProcess, error) {
	u, err := cp.unit(connectorID)
	if err != nil {
		return nil, err
	}
	return u.process, nil
}

func (cp *ChargePoint) unit(connectorID int) (*connectorUnit, error) {
	u, ok := cp.byID[connectorID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConnector, connectorID)
	}
	return u, nil
}

// Resume continues transactions persisted before a restart.
func (cp *ChargePoint) Resume(ctx context.Context) {
	for _, u := range cp.units {
		u.process.Resume(ctx)
	}
	cp.refresh()
}

// Tick evaluates every connector once and hands the intents to their processes.
func (cp *ChargePoint) Tick(ctx context.Context) {
	for _, u := range cp.units {
		if intent := u.state.Evaluate(); intent != nil {
			u.process.Handle(ctx, intent)
		}
		u.process.Poll(ctx)
	}
	cp.refresh()
}

// SampleMeters records a periodic meter value on every running transaction.
func (cp *ChargePoint) SampleMeters(ctx context.Context) {
	for _, u := range cp.units {
		u.process.Sample(ctx)
	}
	cp.refresh()
}

func (cp *ChargePoint) refresh() {
	now := cp.deps.Now()
	for _, u := range cp.units {
		idTag, session := u.state.SessionIDTag()
		snap := ConnectorSnapshot{
			ConnectorID:   u.state.ConnectorID(),
			Status:        string(u.state.Status()),
			ErrorCode:     u.state.ErrorCode(),
			Availability:  u.state.Availability().String(),
			TransactionID: u.state.TransactionID(),
			Session:       session,
			IDTag:         idTag,
			Process:       u.process.State(),
			MeterRecords:  u.process.MeterRecords(),
			UpdatedAt:     now,
		}
		if u.state.ConnectorID() > 0 {
			snap.PermitsCharge = u.state.PermitsCharge()
		}
		cp.snapshots.Update(snap)
	}
	cp.snapshots.SetLiveLogs(cp.meters.Live())
}

// BeginSession authorizes a session on connectorID.
func (cp *ChargePoint) BeginSession(connectorID int, idTag string) error {
	u, err := cp.unit(connectorID)
	if err != nil {
		return err
	}
	u.state.BeginSession(idTag)
	cp.logger.Info("session started", zap.Int("connector_id", connectorID))
	return nil
}

// EndSession ends the session on connectorID. The next Tick stops its transaction.
func (cp *ChargePoint) EndSession(connectorID int) error {
	u, err := cp.unit(connectorID)
	if err != nil {
		return err
	}
	u.state.EndSession()
	cp.logger.Info("session ended", zap.Int("connector_id", connectorID))
	return nil
}

// ChangeAvailability applies an availability change to connectorID, or to
// every connector for id 0.
func (cp *ChargePoint) ChangeAvailability(connectorID int, available bool) (core.AvailabilityStatus, error) {
	targets := cp.units
	if connectorID != 0 {
		u, err := cp.unit(connectorID)
		if err != nil {
			return core.AvailabilityStatusRejected, err
		}
		targets = []*connectorUnit{u}
	}

	status := core.AvailabilityStatusAccepted
	for _, u := range targets {
		u.state.SetAvailability(available)
		if u.state.Availability() == connector.AvailabilityInoperativeScheduled {
			status = core.AvailabilityStatusScheduled
		}
	}
	cp.logger.Info("availability changed",
		zap.Int("connector_id", connectorID), zap.Bool("available", available), zap.String("status", string(status)))
	cp.refresh()
	return status, nil
}

// Unlock stops the transaction of connectorID and runs its unlock action.
func (cp *ChargePoint) Unlock(ctx context.Context, connectorID int) (core.UnlockStatus, error) {
	if connectorID == 0 {
		return core.UnlockStatusNotSupported, fmt.Errorf("%w: %d", ErrUnknownConnector, connectorID)
	}
	u, err := cp.unit(connectorID)
	if err != nil {
		return core.UnlockStatusNotSupported, err
	}
	unlock := u.state.OnUnlockConnector()
	if unlock == nil {
		return core.UnlockStatusNotSupported, nil
	}

	if u.state.TransactionID() > 0 {
		u.state.EndSession()
		u.process.RequestStop(ctx, core.ReasonUnlockCommand)
	}
	if !unlock() {
		cp.logger.Warn("unlock failed", zap.Int("connector_id", connectorID))
		return core.UnlockStatusUnlockFailed, nil
	}
	cp.refresh()
	return core.UnlockStatusUnlocked, nil
}

// RemoteStart begins a session requested by the central system. A nil
// connectorID picks the first free operative connector.
func (cp *ChargePoint) RemoteStart(connectorID *int, idTag string) bool {
	for _, u := range cp.units {
		id := u.state.ConnectorID()
		if id == 0 || (connectorID != nil && *connectorID != id) {
			continue
		}
		if _, busy := u.state.SessionIDTag(); busy || u.state.TransactionID() >= 0 {
			continue
		}
		if u.state.Availability() != connector.AvailabilityOperative {
			continue
		}
		u.state.BeginSession(idTag)
		cp.logger.Info("remote start accepted", zap.Int("connector_id", id))
		return true
	}
	cp.logger.Info("remote start rejected")
	return false
}

// RemoteStop stops the transaction with transactionID.
func (cp *ChargePoint) RemoteStop(ctx context.Context, transactionID int) bool {
	if transactionID <= 0 {
		return false
	}
	for _, u := range cp.units {
		if u.state.TransactionID() != transactionID {
			continue
		}
		u.state.EndSession()
		u.process.RequestStop(ctx, core.ReasonRemote)
		cp.refresh()
		return true
	}
	return false
}
