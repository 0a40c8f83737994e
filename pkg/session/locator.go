package session

import (
	"strings"

	"batlog/pkg/ble"
)

// Descriptor identifies the physical meter to bind to.
type Descriptor struct {
	// Name is the advertised device name, e.g. "DL24_BLE" or "UD18_BLE".
	Name string
	// Address optionally pins a unit by its MAC address,
	// compared case-insensitively.
	Address string
}

// Locate runs one scan pass and returns the first advertisement matching
// the descriptor, in scan order. A name match wins when it occurs first;
// the address is only ever compared against the enumerated candidate
// itself. A miss is ErrDeviceNotFound, not a fault.
func Locate(scanner ble.Scanner, d Descriptor) (ble.Advertisement, error) {
	devices, err := scanner.Discover()
	if err != nil {
		return ble.Advertisement{}, err
	}

	for _, adv := range devices {
		if d.Name != "" && adv.Name == d.Name {
			return adv, nil
		}
		if d.Address != "" && strings.EqualFold(adv.Address, d.Address) {
			return adv, nil
		}
	}

	return ble.Advertisement{}, ErrDeviceNotFound
}
