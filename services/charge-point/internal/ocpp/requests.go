package ocpp

import (
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"chargepoint/services/charge-point/internal/connector"
	"chargepoint/services/charge-point/internal/metering"
	"chargepoint/services/charge-point/internal/ocpp/protocol"
)

// BootNotification builds the request sent after every connect.
func BootNotification(firmware string) *core.BootNotificationRequest {
	req := core.NewBootNotificationRequest(protocol.ChargePointModel, protocol.ChargePointVendor)
	req.FirmwareVersion = firmware
	return req
}

// StatusNotification converts the intent. An empty error code is reported as NoError.
func StatusNotification(intent connector.StatusNotificationIntent) *core.StatusNotificationRequest {
	code := core.NoError
	if intent.ErrorCode != "" {
		code = core.ChargePointErrorCode(intent.ErrorCode)
	}
	req := core.NewStatusNotificationRequest(intent.ConnectorID, code, intent.Status)
	req.Timestamp = types.NewDateTime(intent.Timestamp)
	return req
}

// StartTransaction builds the request for a StartTransactionIntent.
func StartTransaction(connectorID int, idTag string, meterStartWh int, at time.Time) *core.StartTransactionRequest {
	return core.NewStartTransactionRequest(connectorID, idTag, meterStartWh, types.NewDateTime(at))
}

// StopTransaction builds the closing report with the retrieved meter records.
func StopTransaction(transactionID int, idTag string, meterStopWh int, at time.Time, reason core.Reason, records []*metering.Record) *core.StopTransactionRequest {
	req := core.NewStopTransactionRequest(meterStopWh, types.NewDateTime(at), transactionID)
	req.IdTag = idTag
	req.Reason = reason
	req.TransactionData = MeterValueList(records)
	return req
}

// MeterValues builds a MeterValues request. transactionID < 0 omits the id.
func MeterValues(connectorID, transactionID int, records []*metering.Record) *core.MeterValuesRequest {
	req := core.NewMeterValuesRequest(connectorID, MeterValueList(records))
	if transactionID >= 0 {
		id := transactionID
		req.TransactionId = &id
	}
	return req
}

// MeterValueList converts records, skipping nil entries.
func MeterValueList(records []*metering.Record) []types.MeterValue {
	if len(records) == 0 {
		return nil
	}
	out := make([]types.MeterValue, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		out = append(out, r.MeterValue())
	}
	return out
}
