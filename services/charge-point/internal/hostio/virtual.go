// Package hostio provides the host side of a connector: sensor samplers, the
// energy register and the unlock actuator. VirtualConnector keeps these values
// in memory so they can be driven over the diagnostics API.
package hostio

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"chargepoint/services/charge-point/internal/connector"
)

// IO is the desired state of the virtual inputs. Nil fields are left unchanged.
type IO struct {
	Plugged        *bool    `json:"plugged,omitempty"`
	EVRequests     *bool    `json:"ev_requests_energy,omitempty"`
	Energized      *bool    `json:"energized,omitempty"`
	ErrorCode      *string  `json:"error_code,omitempty" validate:"omitempty,max=50"`
	PowerW         *float64 `json:"power_w,omitempty" validate:"omitempty,gte=0,lte=350000"`
	EnergyWh       *float64 `json:"energy_wh,omitempty" validate:"omitempty,gte=0"`
	MeterAvailable *bool    `json:"meter_available,omitempty"`
}

// Readings is a snapshot of the virtual inputs.
type Readings struct {
	Plugged        bool    `json:"plugged"`
	EVRequests     bool    `json:"ev_requests_energy"`
	Energized      bool    `json:"energized"`
	ErrorCode      string  `json:"error_code,omitempty"`
	PowerW         float64 `json:"power_w"`
	EnergyWh       float64 `json:"energy_wh"`
	MeterAvailable bool    `json:"meter_available"`
	Unlocks        int64   `json:"unlocks"`
}

// VirtualConnector is safe for concurrent use.
type VirtualConnector struct {
	plugged        atomic.Bool
	evRequests     atomic.Bool
	energized      atomic.Bool
	meterAvailable atomic.Bool
	powerBits      atomic.Uint64
	energyBits     atomic.Uint64
	unlocks        atomic.Int64

	mu        sync.Mutex
	errorCode string
}

// NewVirtualConnector returns an unplugged connector whose EV would draw energy.
func NewVirtualConnector() *VirtualConnector {
	v := &VirtualConnector{}
	v.evRequests.Store(true)
	v.energized.Store(true)
	v.meterAvailable.Store(true)
	return v
}

// Attach installs the samplers and the unlock action on state.
func (v *VirtualConnector) Attach(state *connector.State) {
	state.SetConnectorPluggedSampler(v.plugged.Load)
	state.SetEvRequestsEnergySampler(v.evRequests.Load)
	state.SetConnectorEnergizedSampler(v.energized.Load)
	state.AddConnectorErrorCodeSampler(v.ErrorCode)
	state.SetOnUnlockConnector(v.Unlock)
}

// Apply sets the non-nil fields of io.
func (v *VirtualConnector) Apply(io IO) {
	if io.Plugged != nil {
		v.plugged.Store(*io.Plugged)
	}
	if io.EVRequests != nil {
		v.evRequests.Store(*io.EVRequests)
	}
	if io.Energized != nil {
		v.energized.Store(*io.Energized)
	}
	if io.ErrorCode != nil {
		v.mu.Lock()
		v.errorCode = *io.ErrorCode
		v.mu.Unlock()
	}
	if io.PowerW != nil {
		v.powerBits.Store(math.Float64bits(*io.PowerW))
	}
	if io.EnergyWh != nil {
		v.energyBits.Store(math.Float64bits(*io.EnergyWh))
	}
	if io.MeterAvailable != nil {
		v.meterAvailable.Store(*io.MeterAvailable)
	}
}

// ErrorCode returns the simulated fault, empty without fault.
func (v *VirtualConnector) ErrorCode() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.errorCode
}

// EnergyWh reads the energy register. ok is false while the meter is unavailable.
func (v *VirtualConnector) EnergyWh() (wh float64, ok bool) {
	if !v.meterAvailable.Load() {
		return 0, false
	}
	return math.Float64frombits(v.energyBits.Load()), true
}

// PowerW returns the simulated power draw.
func (v *VirtualConnector) PowerW() float64 {
	return math.Float64frombits(v.powerBits.Load())
}

// Integrate adds power*elapsed to the energy register while delivering is true.
func (v *VirtualConnector) Integrate(elapsed time.Duration, delivering bool) {
	if !delivering || elapsed <= 0 || !v.evRequests.Load() || !v.energized.Load() {
		return
	}
	added := v.PowerW() * elapsed.Hours()
	for {
		old := v.energyBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + added)
		if v.energyBits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Unlock releases the cable. It fails while a cable is plugged and energized.
func (v *VirtualConnector) Unlock() bool {
	v.unlocks.Add(1)
	if v.plugged.Load() && v.energized.Load() && v.PowerW() > 0 {
		return false
	}
	v.plugged.Store(false)
	return true
}

// Readings returns a snapshot.
func (v *VirtualConnector) Readings() Readings {
	return Readings{
		Plugged:        v.plugged.Load(),
		EVRequests:     v.evRequests.Load(),
		Energized:      v.energized.Load(),
		ErrorCode:      v.ErrorCode(),
		PowerW:         v.PowerW(),
		EnergyWh:       math.Float64frombits(v.energyBits.Load()),
		MeterAvailable: v.meterAvailable.Load(),
		Unlocks:        v.unlocks.Load(),
	}
}
