package protocol

import "time"

// MessageType values as per OCPP-J.
const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Subprotocol negotiated on the websocket upgrade.
const Subprotocol = "ocpp1.6"

// EnergyMeterTimeout bounds the wait for meter readings before a message is
// sent without them.
const EnergyMeterTimeout = 30 * time.Second

// DefaultCallTimeout bounds the wait for a CALLRESULT.
const DefaultCallTimeout = 30 * time.Second

// CALLERROR codes.
const (
	ErrorNotImplemented                = "NotImplemented"
	ErrorNotSupported                  = "NotSupported"
	ErrorInternalError                 = "InternalError"
	ErrorProtocolError                 = "ProtocolError"
	ErrorFormationViolation            = "FormationViolation"
	ErrorPropertyConstraintViolation   = "PropertyConstraintViolation"
	ErrorOccurrenceConstraintViolation = "OccurrenceConstraintViolation"
	ErrorGenericError                  = "GenericError"
)

// Charge point identity reported in BootNotification.
const (
	ChargePointVendor = "chargepoint"
	ChargePointModel  = "connector-agent"
)
