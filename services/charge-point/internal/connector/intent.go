package connector

import (
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

// Intent is a request for the protocol layer produced by Evaluate.
type Intent interface {
	Action() string
}

// StartTransactionIntent asks the protocol layer to start a transaction.
type StartTransactionIntent struct {
	ConnectorID int
}

// Action implements Intent.
func (StartTransactionIntent) Action() string { return core.StartTransactionFeatureName }

// StopTransactionIntent asks the protocol layer to stop the running transaction.
type StopTransactionIntent struct {
	ConnectorID int
}

// Action implements Intent.
func (StopTransactionIntent) Action() string { return core.StopTransactionFeatureName }

// StatusNotificationIntent reports a changed connector status. ErrorCode is empty
// when no error sampler reports a fault.
type StatusNotificationIntent struct {
	ConnectorID int
	Status      core.ChargePointStatus
	Timestamp   time.Time
	ErrorCode   string
}

// Action implements Intent.
func (StatusNotificationIntent) Action() string { return core.StatusNotificationFeatureName }
