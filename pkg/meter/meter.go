// Package meter decodes the telemetry frames of ATorch battery meters.
package meter

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidSize        = errors.New("invalid frame size")
	ErrUnsupportedVariant = errors.New("unsupported meter variant")
)

// frameSize is the length of every telemetry notification.
// The firmware occasionally emits short text-like frames (looks like AT
// commands leaking through); everything that is not exactly frameSize
// bytes is discarded.
const frameSize = 36

// Variant selects the frame layout and scale factors of a meter family.
type Variant int

const (
	// DL24 is the constant current test dummy load.
	DL24 Variant = iota
	// UD18 is the USB power meter.
	UD18
)

// String returns the variant name as used in the configuration file.
func (v Variant) String() string {
	switch v {
	case DL24:
		return "dl24"
	case UD18:
		return "ud18"
	}
	return "unknown"
}

// VariantFromString maps a configuration value to a Variant.
func VariantFromString(s string) (Variant, error) {
	switch s {
	case "dl24":
		return DL24, nil
	case "ud18":
		return UD18, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedVariant, s)
}

// Reading is one normalized telemetry sample.
type Reading struct {
	TimeStamp time.Time
	// Voltage in V
	Voltage float64
	// Current in A
	Current float64
	// CapacityMilliampHours is the accumulated capacity in mAh.
	CapacityMilliampHours int
	// EnergyWattHours is the accumulated energy in Wh.
	EnergyWattHours float64
}
