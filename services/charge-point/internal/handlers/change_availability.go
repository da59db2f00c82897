package handlers

import (
	"context"
	"encoding/json"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/ocpp"
	"chargepoint/services/charge-point/internal/service"
)

// NewChangeAvailabilityHandler applies availability changes. Connector 0 targets every connector.
func NewChangeAvailabilityHandler(loop service.Dispatcher, cp *service.ChargePoint, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[core.ChangeAvailabilityRequest](payload)
		if err != nil {
			return nil, err
		}

		status := core.AvailabilityStatusRejected
		switch req.Type {
		case core.AvailabilityTypeOperative, core.AvailabilityTypeInoperative:
		default:
			logger.Warn("unknown availability type", zap.String("type", string(req.Type)))
			return core.NewChangeAvailabilityConfirmation(status), nil
		}

		err = loop.Do(ctx, func() {
			s, cerr := cp.ChangeAvailability(req.ConnectorId, req.Type == core.AvailabilityTypeOperative)
			if cerr != nil {
				logger.Warn("change availability rejected", zap.Int("connector_id", req.ConnectorId), zap.Error(cerr))
				return
			}
			status = s
		})
		if err != nil {
			return nil, err
		}

		return core.NewChangeAvailabilityConfirmation(status), nil
	}
}
