// Package handlers serves the CALLs the central system sends to the charge point.
package handlers

import (
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/ocpp"
	"chargepoint/services/charge-point/internal/service"
)

// Register attaches every supported action to router.
func Register(router *ocpp.Router, loop service.Dispatcher, cp *service.ChargePoint, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	router.Register(core.ChangeAvailabilityFeatureName, NewChangeAvailabilityHandler(loop, cp, logger))
	router.Register(core.UnlockConnectorFeatureName, NewUnlockConnectorHandler(loop, cp, logger))
	router.Register(core.RemoteStartTransactionFeatureName, NewRemoteStartTransactionHandler(loop, cp, logger))
	router.Register(core.RemoteStopTransactionFeatureName, NewRemoteStopTransactionHandler(loop, cp, logger))
}
