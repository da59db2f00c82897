package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/looplab/fsm"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/connector"
	"chargepoint/services/charge-point/internal/metering"
	"chargepoint/services/charge-point/internal/notify"
	"chargepoint/services/charge-point/internal/ocpp"
	"chargepoint/services/charge-point/internal/ocpp/protocol"
)

// Transaction process states.
const (
	StateIdle     = "idle"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
)

// Transaction process events.
const (
	EventStart       = "start"
	EventStarted     = "started"
	EventStartFailed = "start_failed"
	EventResume      = "resume"
	EventStop        = "stop"
	EventStopped     = "stopped"
)

var (
	errInvalidTransactionID = errors.New("service: central system returned no transaction id")
	errNoCaller             = errors.New("service: no central system configured")
)

// StopRetryInterval spaces StopTransaction retries after a failed attempt.
const StopRetryInterval = 30 * time.Second

// Caller sends a CALL and decodes its confirmation.
type Caller interface {
	Call(ctx context.Context, action string, request, conf interface{}) error
}

// EnergyMeter reads the energy register in Wh. ok is false while the meter is silent.
type EnergyMeter interface {
	EnergyWh() (wh float64, ok bool)
}

// PowerMeter is optionally implemented by an EnergyMeter.
type PowerMeter interface {
	PowerW() float64
}

// Deps are shared by every transaction process of a charge point.
type Deps struct {
	ChargePointID string
	Caller        Caller
	Executor      Executor
	Meters        *metering.Store
	Publisher     notify.Publisher
	Logger        *zap.Logger
	Now           func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Publisher == nil {
		d.Publisher = notify.Nop{}
	}
	if d.Meters == nil {
		d.Meters = metering.NewStore(nil, "", d.Logger)
	}
	if d.Caller == nil {
		d.Caller = offline{}
	}
	if d.Executor == nil {
		d.Executor = dropExecutor{logger: d.Logger}
	}
	return d
}

// offline fails every call.
type offline struct{}

func (offline) Call(context.Context, string, interface{}, interface{}) error { return errNoCaller }

type dropExecutor struct{ logger *zap.Logger }

func (e dropExecutor) Submit(func()) { e.logger.Warn("no executor configured, dropping confirmation") }

// TransactionProcess turns the intents of one connector into OCPP calls and
// owns the meter log of its running transaction. Confirmations come back
// through the Executor, so all methods run on the driving loop.
type TransactionProcess struct {
	deps   Deps
	state  *connector.State
	meter  EnergyMeter
	logger *zap.Logger
	fsm    *fsm.FSM

	handle     *metering.Handle
	inFlight   bool
	idTag      string
	lastEnergy float64
	waitSince  time.Time

	stopReq  *core.StopTransactionRequest
	stopTxID int
	retryAt  time.Time
}

// NewTransactionProcess ctor. meter may be nil.
func NewTransactionProcess(state *connector.State, meter EnergyMeter, deps Deps) *TransactionProcess {
	deps = deps.withDefaults()
	p := &TransactionProcess{
		deps:   deps,
		state:  state,
		meter:  meter,
		logger: deps.Logger.With(zap.Int("connector_id", state.ConnectorID())),
	}

	p.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventStart, Src: []string{StateIdle}, Dst: StateStarting},
			{Name: EventStarted, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: EventStartFailed, Src: []string{StateStarting}, Dst: StateIdle},
			{Name: EventResume, Src: []string{StateIdle}, Dst: StateRunning},
			{Name: EventStop, Src: []string{StateIdle, StateRunning}, Dst: StateStopping},
			{Name: EventStopped, Src: []string{StateStopping}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				p.logger.Debug("transaction process transition",
					zap.String("event", e.Event), zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)
	return p
}

// State returns the current process state.
func (p *TransactionProcess) State() string { return p.fsm.Current() }

// MeterRecords returns the number of records held for the running transaction.
func (p *TransactionProcess) MeterRecords() int {
	if p.handle == nil {
		return 0
	}
	return p.handle.Len()
}

func (p *TransactionProcess) fire(event string) {
	if err := p.fsm.Event(context.Background(), event); err != nil {
		p.logger.Warn("transaction process event rejected", zap.String("event", event), zap.Error(err))
	}
}

func (p *TransactionProcess) publish(ctx context.Context, e notify.Event) {
	e.ChargePointID = p.deps.ChargePointID
	e.ConnectorID = p.state.ConnectorID()
	go func() {
		if err := p.deps.Publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
			p.logger.Debug("publish event failed", zap.String("kind", e.Kind), zap.Error(err))
		}
	}()
}

// acquire holds the meter log of txID.
func (p *TransactionProcess) acquire(txID int) error {
	if p.handle != nil {
		if p.handle.TxNr() == txID {
			return nil
		}
		p.handle.Release()
		p.handle = nil
	}
	h, err := p.deps.Meters.GetOrCreate(p.state.ConnectorID(), txID, metering.JSONDecoder)
	if err != nil {
		return err
	}
	p.handle = h
	return nil
}

func (p *TransactionProcess) appendRecord(at time.Time, wh float64, rc types.ReadingContext) *metering.Record {
	samples := []types.SampledValue{metering.EnergySample(wh, rc)}
	if pm, ok := p.meter.(PowerMeter); ok && rc == types.ReadingContextSamplePeriodic {
		samples = append(samples, metering.PowerSample(pm.PowerW(), rc))
	}
	rec, err := metering.NewRecord(at, samples...)
	if err != nil {
		p.logger.Warn("build meter record failed", zap.Error(err))
		return nil
	}
	if p.handle != nil {
		if err := p.handle.Append(rec); err != nil {
			p.logger.Warn("append meter record failed", zap.Error(err))
		}
	}
	return rec
}

// meterReading returns the energy register. While the meter is silent it
// reports not ready until EnergyMeterTimeout has passed since the first
// attempt, then falls back to the last known value.
func (p *TransactionProcess) meterReading() (wh float64, fresh, ready bool) {
	if p.meter == nil {
		return p.lastEnergy, false, true
	}
	if v, ok := p.meter.EnergyWh(); ok {
		p.lastEnergy = v
		p.waitSince = time.Time{}
		return v, true, true
	}

	now := p.deps.Now()
	if p.waitSince.IsZero() {
		p.waitSince = now
	}
	if now.Sub(p.waitSince) < protocol.EnergyMeterTimeout {
		return 0, false, false
	}
	p.logger.Warn("energy meter timed out, continuing without reading",
		zap.Duration("timeout", protocol.EnergyMeterTimeout))
	p.waitSince = time.Time{}
	return p.lastEnergy, false, true
}

// Handle dispatches one intent of the connector state machine.
func (p *TransactionProcess) Handle(ctx context.Context, intent connector.Intent) {
	switch in := intent.(type) {
	case connector.StartTransactionIntent:
		p.start(ctx)
	case connector.StopTransactionIntent:
		reason := core.ReasonLocal
		if _, ok := p.state.SessionIDTag(); ok {
			reason = core.ReasonEVDisconnected
		}
		p.RequestStop(ctx, reason)
	case connector.StatusNotificationIntent:
		p.notifyStatus(ctx, in)
	}
}

// Resume continues a transaction persisted before a restart.
func (p *TransactionProcess) Resume(ctx context.Context) {
	txID := p.state.TransactionID()
	if txID <= 0 || p.fsm.Current() != StateIdle {
		return
	}
	if err := p.acquire(txID); err != nil {
		p.logger.Error("restore meter log failed", zap.Int("transaction_id", txID), zap.Error(err))
	}
	p.state.SetTransactionIDSync(txID)
	p.fire(EventResume)
	p.logger.Info("resumed transaction", zap.Int("transaction_id", txID), zap.Int("meter_records", p.MeterRecords()))
}

func (p *TransactionProcess) start(ctx context.Context) {
	if !p.fsm.Can(EventStart) {
		p.logger.Debug("start ignored", zap.String("state", p.fsm.Current()))
		return
	}
	wh, _, ready := p.meterReading()
	if !ready {
		return
	}

	idTag, _ := p.state.SessionIDTag()
	at := p.deps.Now()
	req := ocpp.StartTransaction(p.state.ConnectorID(), idTag, int(math.Round(wh)), at)

	p.fire(EventStart)
	p.idTag = idTag
	p.state.SetTransactionID(0)
	p.inFlight = true

	// The call outlives the API request or tick that triggered it; the client timeout bounds it.
	go func() {
		conf := &core.StartTransactionConfirmation{}
		err := p.deps.Caller.Call(context.WithoutCancel(ctx), core.StartTransactionFeatureName, req, conf)
		p.deps.Executor.Submit(func() { p.onStarted(ctx, wh, at, conf, err) })
	}()
}

func (p *TransactionProcess) onStarted(ctx context.Context, meterStart float64, at time.Time, conf *core.StartTransactionConfirmation, err error) {
	p.inFlight = false
	if err == nil && conf.TransactionId <= 0 {
		err = errInvalidTransactionID
	}
	if err != nil {
		p.logger.Warn("start transaction failed", zap.Error(err))
		p.state.SetTransactionID(-1)
		p.fire(EventStartFailed)
		return
	}

	txID := conf.TransactionId
	p.state.SetTransactionID(txID)
	p.state.SetTransactionIDSync(txID)
	if err := p.acquire(txID); err != nil {
		p.logger.Error("open meter log failed", zap.Int("transaction_id", txID), zap.Error(err))
	}
	p.appendRecord(at, meterStart, types.ReadingContextTransactionBegin)
	p.fire(EventStarted)
	p.publish(ctx, notify.Event{Kind: notify.KindTransactionStart, TransactionID: txID, EnergyWh: meterStart, Timestamp: at})
	p.logger.Info("transaction started", zap.Int("transaction_id", txID))

	if conf.IdTagInfo == nil || conf.IdTagInfo.Status != types.AuthorizationStatusAccepted {
		p.logger.Warn("transaction not authorized, stopping", zap.Int("transaction_id", txID))
		p.state.EndSession()
		p.RequestStop(ctx, core.ReasonDeAuthorized)
	}
}

// RequestStop stops the running or restored transaction with reason.
func (p *TransactionProcess) RequestStop(ctx context.Context, reason core.Reason) {
	switch p.fsm.Current() {
	case StateStarting:
		p.logger.Debug("stop deferred until start is confirmed")
		return
	case StateStopping:
		return
	case StateIdle:
		txID := p.state.TransactionID()
		if txID <= 0 {
			if txID == 0 {
				p.state.SetTransactionID(-1)
			}
			return
		}
		if err := p.acquire(txID); err != nil {
			p.logger.Error("restore meter log failed", zap.Int("transaction_id", txID), zap.Error(err))
		}
	}

	wh, fresh, ready := p.meterReading()
	if !ready {
		return
	}

	txID := p.state.TransactionID()
	at := p.deps.Now()
	var records []*metering.Record
	if p.handle != nil {
		if fresh {
			p.appendRecord(at, wh, types.ReadingContextTransactionEnd)
		}
		var err error
		if records, err = p.handle.RetrieveAndFinalize(); err != nil {
			p.logger.Warn("meter log already retrieved", zap.Int("transaction_id", txID))
		}
	}

	p.stopReq = ocpp.StopTransaction(txID, p.idTag, int(math.Round(wh)), at, reason, records)
	p.stopTxID = txID
	p.fire(EventStop)
	p.sendStop(ctx)
}

func (p *TransactionProcess) sendStop(ctx context.Context) {
	req, txID := p.stopReq, p.stopTxID
	p.inFlight = true
	go func() {
		conf := &core.StopTransactionConfirmation{}
		err := p.deps.Caller.Call(context.WithoutCancel(ctx), core.StopTransactionFeatureName, req, conf)
		p.deps.Executor.Submit(func() { p.onStopped(ctx, txID, err) })
	}()
}

func (p *TransactionProcess) onStopped(ctx context.Context, txID int, err error) {
	p.inFlight = false
	if err != nil {
		p.retryAt = p.deps.Now().Add(StopRetryInterval)
		p.logger.Warn("stop transaction failed, will retry", zap.Int("transaction_id", txID), zap.Error(err))
		return
	}

	p.state.SetTransactionID(-1)
	p.state.SetTransactionIDSync(-1)
	if !p.deps.Meters.Remove(p.state.ConnectorID(), txID) {
		p.logger.Warn("meter records not fully removed", zap.Int("transaction_id", txID))
	}
	if p.handle != nil {
		p.handle.Release()
		p.handle = nil
	}
	p.stopReq = nil
	p.idTag = ""
	p.fire(EventStopped)
	p.publish(ctx, notify.Event{Kind: notify.KindTransactionStop, TransactionID: txID, EnergyWh: p.lastEnergy, Timestamp: p.deps.Now()})
	p.logger.Info("transaction stopped", zap.Int("transaction_id", txID))
}

// Poll retries a failed StopTransaction once StopRetryInterval has passed.
func (p *TransactionProcess) Poll(ctx context.Context) {
	if p.fsm.Current() != StateStopping || p.inFlight || p.stopReq == nil {
		return
	}
	if p.deps.Now().Before(p.retryAt) {
		return
	}
	p.logger.Info("retrying stop transaction", zap.Int("transaction_id", p.stopTxID))
	p.sendStop(ctx)
}

// Sample appends a periodic reading to the running transaction and reports it.
func (p *TransactionProcess) Sample(ctx context.Context) {
	if p.fsm.Current() != StateRunning || p.meter == nil {
		return
	}
	wh, ok := p.meter.EnergyWh()
	if !ok {
		p.logger.Debug("energy meter silent, skipping sample")
		return
	}
	p.lastEnergy = wh

	rec := p.appendRecord(p.deps.Now(), wh, types.ReadingContextSamplePeriodic)
	if rec == nil {
		return
	}
	req := ocpp.MeterValues(p.state.ConnectorID(), p.state.TransactionID(), []*metering.Record{rec})
	go func() {
		if err := p.deps.Caller.Call(context.WithoutCancel(ctx), core.MeterValuesFeatureName, req, &core.MeterValuesConfirmation{}); err != nil {
			p.logger.Warn("meter values failed", zap.Error(err))
		}
	}()
	p.publish(ctx, notify.Event{Kind: notify.KindMeterValue, TransactionID: p.state.TransactionID(), EnergyWh: wh, Timestamp: rec.Timestamp()})
}

func (p *TransactionProcess) notifyStatus(ctx context.Context, in connector.StatusNotificationIntent) {
	req := ocpp.StatusNotification(in)
	go func() {
		if err := p.deps.Caller.Call(context.WithoutCancel(ctx), core.StatusNotificationFeatureName, req, &core.StatusNotificationConfirmation{}); err != nil {
			p.logger.Warn("status notification failed", zap.String("status", string(in.Status)), zap.Error(err))
		}
	}()
	p.publish(ctx, notify.Event{Kind: notify.KindStatus, Status: string(in.Status), ErrorCode: in.ErrorCode, Timestamp: in.Timestamp})
}
