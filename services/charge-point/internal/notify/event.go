// Package notify mirrors connector status and transaction events to message brokers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event kinds.
const (
	KindStatus           = "status"
	KindTransactionStart = "transaction_started"
	KindTransactionStop  = "transaction_stopped"
	KindMeterValue       = "meter_value"
)

// Event is one published message.
type Event struct {
	ChargePointID string    `json:"charge_point_id"`
	ConnectorID   int       `json:"connector_id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	TransactionID int       `json:"transaction_id,omitempty"`
	EnergyWh      float64   `json:"energy_wh,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Payload returns the JSON body of the event.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// MQTTTopic is chargepoint/<id>/connector/<n>/<kind>.
func MQTTTopic(e Event) string {
	return fmt.Sprintf("chargepoint/%s/connector/%d/%s", e.ChargePointID, e.ConnectorID, e.Kind)
}

// NATSSubject is chargepoint.<id>.connector.<n>.<kind>.
func NATSSubject(e Event) string {
	return fmt.Sprintf("chargepoint.%s.connector.%d.%s", e.ChargePointID, e.ConnectorID, e.Kind)
}

// Multi fans an event out to every publisher.
type Multi []Publisher

// Publish implements Publisher. All publishers are tried; errors are joined.
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }
