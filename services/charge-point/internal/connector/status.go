package connector

import (
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

// Reading is the outcome of an optional boolean sampler.
type Reading uint8

const (
	ReadingAbsent Reading = iota
	ReadingFalse
	ReadingTrue
)

func read(sampler func() bool) Reading {
	if sampler == nil {
		return ReadingAbsent
	}
	if sampler() {
		return ReadingTrue
	}
	return ReadingFalse
}

// Inputs is one snapshot of everything status inference looks at.
type Inputs struct {
	ConnectorID     int
	ErrorCode       string
	Availability    Availability
	Session         bool
	TransactionID   int
	Plugged         Reading
	EVRequestsPower Reading
	Energized       Reading
	Previous        core.ChargePointStatus
}

type rule struct {
	status core.ChargePointStatus
	match  func(in Inputs) bool
}

// chargePointRules apply to connector 0, the charge point itself.
var chargePointRules = []rule{
	{core.ChargePointStatusFaulted, hasError},
	{core.ChargePointStatusUnavailable, isInoperative},
	{core.ChargePointStatusAvailable, always},
}

var connectorRules = []rule{
	{core.ChargePointStatusFaulted, hasError},
	{core.ChargePointStatusUnavailable, isInoperative},
	{core.ChargePointStatusAvailable, func(in Inputs) bool {
		return !in.Session && in.TransactionID < 0 && in.Plugged != ReadingTrue
	}},
	{core.ChargePointStatusFinishing, func(in Inputs) bool {
		return in.TransactionID <= 0 && in.Plugged == ReadingTrue && wasActive(in.Previous)
	}},
	{core.ChargePointStatusPreparing, func(in Inputs) bool {
		return in.TransactionID <= 0
	}},
	{core.ChargePointStatusSuspendedEV, func(in Inputs) bool {
		return in.EVRequestsPower == ReadingFalse
	}},
	{core.ChargePointStatusSuspendedEVSE, func(in Inputs) bool {
		return in.Energized == ReadingFalse
	}},
	{core.ChargePointStatusCharging, always},
}

func hasError(in Inputs) bool      { return in.ErrorCode != "" }
func isInoperative(in Inputs) bool { return in.Availability == AvailabilityInoperative }
func always(Inputs) bool           { return true }

func wasActive(s core.ChargePointStatus) bool {
	switch s {
	case core.ChargePointStatusFinishing,
		core.ChargePointStatusCharging,
		core.ChargePointStatusSuspendedEV,
		core.ChargePointStatusSuspendedEVSE:
		return true
	}
	return false
}

// InferStatus walks the ordered decision table and returns the first match.
func InferStatus(in Inputs) core.ChargePointStatus {
	rules := connectorRules
	if in.ConnectorID == 0 {
		rules = chargePointRules
	}
	for _, r := range rules {
		if r.match(in) {
			return r.status
		}
	}
	return core.ChargePointStatusCharging
}
