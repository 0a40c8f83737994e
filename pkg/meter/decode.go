package meter

import "time"

// Decode converts a raw telemetry frame to a Reading.
// All multi byte fields are big endian, most significant byte first.
// The capacity and energy counters of the DL24 are rounded down by the
// hardware to multiples of 10.
func Decode(variant Variant, b []byte) (Reading, error) {
	var r Reading

	if len(b) != frameSize {
		return r, ErrInvalidSize
	}

	switch variant {
	case DL24:
		r.Voltage = float64(u24(b[4:7])) / 10
		r.Current = float64(u24(b[7:10])) / 1000
		r.CapacityMilliampHours = int(u24(b[10:13])) * 10
		r.EnergyWattHours = float64(u32(b[13:17])) * 10
	case UD18:
		r.Voltage = float64(u16(b[5:7])) / 100
		r.Current = float64(u16(b[8:10])) / 100
		r.CapacityMilliampHours = int(u24(b[10:13]))
		r.EnergyWattHours = float64(u32(b[13:17])) / 100
	default:
		return r, ErrUnsupportedVariant
	}

	r.TimeStamp = time.Now()
	return r, nil
}

func u16(b []byte) uint32 {
	return uint32(b[0])<<8 | uint32(b[1])
}

func u24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func u32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
