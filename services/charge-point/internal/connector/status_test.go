package connector

import (
	"testing"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

// referenceStatus is a nested if/else formulation of status inference used to
// cross-check the rule table.
func referenceStatus(in Inputs) core.ChargePointStatus {
	if in.ConnectorID == 0 {
		if in.ErrorCode != "" {
			return core.ChargePointStatusFaulted
		} else if in.Availability == AvailabilityInoperative {
			return core.ChargePointStatusUnavailable
		}
		return core.ChargePointStatusAvailable
	}

	plugged := in.Plugged == ReadingTrue
	if in.ErrorCode != "" {
		return core.ChargePointStatusFaulted
	} else if in.Availability == AvailabilityInoperative {
		return core.ChargePointStatusUnavailable
	} else if !in.Session && in.TransactionID < 0 && (in.Plugged == ReadingAbsent || !plugged) {
		return core.ChargePointStatusAvailable
	} else if in.TransactionID <= 0 {
		if plugged && (in.Previous == core.ChargePointStatusFinishing ||
			in.Previous == core.ChargePointStatusCharging ||
			in.Previous == core.ChargePointStatusSuspendedEV ||
			in.Previous == core.ChargePointStatusSuspendedEVSE) {
			return core.ChargePointStatusFinishing
		}
		return core.ChargePointStatusPreparing
	}
	if in.EVRequestsPower == ReadingFalse {
		return core.ChargePointStatusSuspendedEV
	}
	if in.Energized == ReadingFalse {
		return core.ChargePointStatusSuspendedEVSE
	}
	return core.ChargePointStatusCharging
}

func allInputs() []Inputs {
	readings := []Reading{ReadingAbsent, ReadingFalse, ReadingTrue}
	previous := []core.ChargePointStatus{
		"",
		core.ChargePointStatusAvailable,
		core.ChargePointStatusPreparing,
		core.ChargePointStatusCharging,
		core.ChargePointStatusSuspendedEV,
		core.ChargePointStatusSuspendedEVSE,
		core.ChargePointStatusFinishing,
		core.ChargePointStatusUnavailable,
		core.ChargePointStatusFaulted,
	}

	var out []Inputs
	for _, cid := range []int{0, 1, 2} {
		for _, code := range []string{"", string(core.GroundFailure)} {
			for _, avail := range []Availability{AvailabilityInoperative, AvailabilityInoperativeScheduled, AvailabilityOperative} {
				for _, session := range []bool{false, true} {
					for _, tx := range []int{-1, 0, 1, 4711} {
						for _, plugged := range readings {
							for _, ev := range readings {
								for _, energized := range readings {
									for _, prev := range previous {
										out = append(out, Inputs{
											ConnectorID:     cid,
											ErrorCode:       code,
											Availability:    avail,
											Session:         session,
											TransactionID:   tx,
											Plugged:         plugged,
											EVRequestsPower: ev,
											Energized:       energized,
											Previous:        prev,
										})
									}
								}
							}
						}
					}
				}
			}
		}
	}
	return out
}

func TestInferStatusMatchesReferenceForAllInputs(t *testing.T) {
	inputs := allInputs()
	for _, in := range inputs {
		got := InferStatus(in)
		want := referenceStatus(in)
		if got != want {
			t.Fatalf("InferStatus(%+v) = %s, want %s", in, got, want)
		}
	}
}

func TestInferStatusChargePointOutputSet(t *testing.T) {
	allowed := map[core.ChargePointStatus]bool{
		core.ChargePointStatusAvailable:   true,
		core.ChargePointStatusUnavailable: true,
		core.ChargePointStatusFaulted:     true,
	}
	for _, in := range allInputs() {
		if in.ConnectorID != 0 {
			continue
		}
		if got := InferStatus(in); !allowed[got] {
			t.Fatalf("connector 0 inferred %s for %+v", got, in)
		}
	}
}

func TestInferStatusRows(t *testing.T) {
	base := Inputs{ConnectorID: 1, Availability: AvailabilityOperative, TransactionID: -1}

	tests := []struct {
		name string
		edit func(in *Inputs)
		want core.ChargePointStatus
	}{
		{"idle", func(in *Inputs) {}, core.ChargePointStatusAvailable},
		{"error wins over everything", func(in *Inputs) {
			in.ErrorCode = "OtherError"
			in.Availability = AvailabilityInoperative
		}, core.ChargePointStatusFaulted},
		{"inoperative", func(in *Inputs) { in.Availability = AvailabilityInoperative }, core.ChargePointStatusUnavailable},
		{"scheduled is still operative for status", func(in *Inputs) {
			in.Availability = AvailabilityInoperativeScheduled
		}, core.ChargePointStatusAvailable},
		{"plugged without session", func(in *Inputs) { in.Plugged = ReadingTrue }, core.ChargePointStatusPreparing},
		{"session without plug sampler", func(in *Inputs) { in.Session = true }, core.ChargePointStatusPreparing},
		{"start pending", func(in *Inputs) {
			in.Session = true
			in.TransactionID = 0
			in.Plugged = ReadingTrue
		}, core.ChargePointStatusPreparing},
		{"finishing after charge", func(in *Inputs) {
			in.Plugged = ReadingTrue
			in.Previous = core.ChargePointStatusCharging
		}, core.ChargePointStatusFinishing},
		{"finishing is sticky", func(in *Inputs) {
			in.Plugged = ReadingTrue
			in.Previous = core.ChargePointStatusFinishing
		}, core.ChargePointStatusFinishing},
		{"unplugged after charge", func(in *Inputs) {
			in.Plugged = ReadingFalse
			in.Previous = core.ChargePointStatusCharging
		}, core.ChargePointStatusAvailable},
		{"charging", func(in *Inputs) { in.TransactionID = 7 }, core.ChargePointStatusCharging},
		{"ev suspended", func(in *Inputs) {
			in.TransactionID = 7
			in.EVRequestsPower = ReadingFalse
			in.Energized = ReadingFalse
		}, core.ChargePointStatusSuspendedEV},
		{"evse suspended", func(in *Inputs) {
			in.TransactionID = 7
			in.EVRequestsPower = ReadingTrue
			in.Energized = ReadingFalse
		}, core.ChargePointStatusSuspendedEVSE},
		{"absent samplers never suspend", func(in *Inputs) {
			in.TransactionID = 7
		}, core.ChargePointStatusCharging},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.edit(&in)
			if got := InferStatus(in); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
