// Package registry attributes decoded weight samples to the physical
// transducers on the bus and applies per-device calibration.
package registry

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/weighworks/loadcell-dash/internal/protocol"
)

var (
	// ErrUnknownDevice is returned for zero/calibrate on an address that
	// has never reported a weight.
	ErrUnknownDevice = errors.New("registry: unknown device address")

	// ErrCalibrationNearZero is returned when the zeroed reading is too
	// small to derive a reliable scale factor. Re-tare and retry with a
	// reference weight on the platform.
	ErrCalibrationNearZero = errors.New("registry: reading too close to zero to calibrate")

	// ErrBadScaleFactor is returned when a calibration would produce a
	// zero, negative, or non-finite scale factor.
	ErrBadScaleFactor = errors.New("registry: calibration yields unusable scale factor")
)

// calibrationFloor is the minimum |zeroed reading| accepted by Calibrate.
const calibrationFloor = 0.1

// DeviceState is the per-address calibration and last-sample state.
type DeviceState struct {
	Address             byte                 `json:"address"`
	ZeroOffsetGrams     float64              `json:"zeroOffsetGrams"`
	ScaleFactor         float64              `json:"scaleFactor"`
	LastRawGrams        float64              `json:"lastRawGrams"`
	LastCalibratedGrams float64              `json:"lastCalibratedGrams"`
	SampleCount         uint64               `json:"sampleCount"`
	LastStatus          protocol.StatusFlags `json:"lastStatus"`
	LastResolutionGrams float64              `json:"lastResolutionGrams"`
}

// Registry maps responding addresses to device state. Devices are created
// on first sighting and never evicted; a transducer that stops responding
// simply stops updating.
type Registry struct {
	mu         sync.Mutex
	devices    map[byte]*DeviceState
	correction Correction
}

// New returns an empty registry. A nil correction means Identity.
func New(correction Correction) *Registry {
	if correction == nil {
		correction = Identity{}
	}
	return &Registry{
		devices:    make(map[byte]*DeviceState),
		correction: correction,
	}
}

// Record attributes a decoded weight to its source address, registering
// the address on first sighting. It never fails.
func (r *Registry) Record(address byte, w protocol.DecodedWeight) DeviceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[address]
	if !ok {
		d = &DeviceState{Address: address, ScaleFactor: 1}
		r.devices[address] = d
	}
	d.LastRawGrams = w.Grams
	d.LastStatus = w.Flags()
	d.LastResolutionGrams = w.ResolutionGrams
	d.SampleCount++
	r.recompute(d)
	return *d
}

func (r *Registry) recompute(d *DeviceState) {
	zeroed := (d.LastRawGrams - d.ZeroOffsetGrams) * d.ScaleFactor
	d.LastCalibratedGrams = r.correction.Correct(zeroed)
}

// Zero tares the device: the current raw reading becomes its zero offset.
func (r *Registry) Zero(address byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[address]
	if !ok {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownDevice, address)
	}
	d.ZeroOffsetGrams = d.LastRawGrams
	r.recompute(d)
	return nil
}

// Calibrate derives the scale factor from a reference weight currently on
// the platform. The factor is replaced outright, not compounded: with a
// fresh zero, replace and the original's multiply-a-correction-ratio flow
// converge after one call, and replace stays idempotent under retry.
func (r *Registry) Calibrate(address byte, knownGrams float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[address]
	if !ok {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownDevice, address)
	}
	zeroed := d.LastRawGrams - d.ZeroOffsetGrams
	if math.Abs(zeroed) < calibrationFloor {
		return fmt.Errorf("%w: zeroed reading %.3f g", ErrCalibrationNearZero, zeroed)
	}
	factor := knownGrams / zeroed
	if factor <= 0 || math.IsInf(factor, 0) || math.IsNaN(factor) {
		return fmt.Errorf("%w: %v", ErrBadScaleFactor, factor)
	}
	d.ScaleFactor = factor
	r.recompute(d)
	return nil
}

// Snapshot returns a copy of every known device, ordered by address.
func (r *Registry) Snapshot() []DeviceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DeviceState, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Device returns the state for one address.
func (r *Registry) Device(address byte) (DeviceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[address]
	if !ok {
		return DeviceState{}, false
	}
	return *d, true
}
