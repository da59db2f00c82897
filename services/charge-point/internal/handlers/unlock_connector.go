package handlers

import (
	"context"
	"encoding/json"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/ocpp"
	"chargepoint/services/charge-point/internal/service"
)

// NewUnlockConnectorHandler stops a running transaction and releases the cable.
func NewUnlockConnectorHandler(loop service.Dispatcher, cp *service.ChargePoint, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[core.UnlockConnectorRequest](payload)
		if err != nil {
			return nil, err
		}

		status := core.UnlockStatusNotSupported
		err = loop.Do(ctx, func() {
			s, uerr := cp.Unlock(ctx, req.ConnectorId)
			if uerr != nil {
				logger.Warn("unlock connector rejected", zap.Int("connector_id", req.ConnectorId), zap.Error(uerr))
			}
			status = s
		})
		if err != nil {
			return nil, err
		}

		return core.NewUnlockConnectorConfirmation(status), nil
	}
}
