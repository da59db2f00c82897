package handlers

import (
	"context"
	"encoding/json"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/ocpp"
	"chargepoint/services/charge-point/internal/service"
)

// NewRemoteStartTransactionHandler opens a session for the given id tag.
func NewRemoteStartTransactionHandler(loop service.Dispatcher, cp *service.ChargePoint, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[core.RemoteStartTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		status := types.RemoteStartStopStatusRejected
		if req.IdTag == "" || len(req.IdTag) > 20 {
			logger.Warn("remote start with invalid id tag")
			return core.NewRemoteStartTransactionConfirmation(status), nil
		}

		err = loop.Do(ctx, func() {
			if cp.RemoteStart(req.ConnectorId, req.IdTag) {
				status = types.RemoteStartStopStatusAccepted
			}
		})
		if err != nil {
			return nil, err
		}

		return core.NewRemoteStartTransactionConfirmation(status), nil
	}
}

// NewRemoteStopTransactionHandler stops the transaction with the given id.
func NewRemoteStopTransactionHandler(loop service.Dispatcher, cp *service.ChargePoint, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[core.RemoteStopTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		status := types.RemoteStartStopStatusRejected
		err = loop.Do(ctx, func() {
			if cp.RemoteStop(ctx, req.TransactionId) {
				status = types.RemoteStartStopStatusAccepted
			}
		})
		if err != nil {
			return nil, err
		}
		if status == types.RemoteStartStopStatusRejected {
			logger.Info("remote stop for unknown transaction", zap.Int("transaction_id", req.TransactionId))
		}

		return core.NewRemoteStopTransactionConfirmation(status), nil
	}
}
