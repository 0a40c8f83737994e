// Package ble holds the boundary to the wireless stack.
// The acquisition core only talks to the Scanner and Link interfaces;
// Adapter is the production implementation on the host bluetooth stack.
package ble

const (
	// ServiceUUID is the telemetry service shared by the DL24 and UD18.
	ServiceUUID = "0000ffe0-0000-1000-8000-00805f9b34fb"
	// TelemetryCharacteristic carries the telemetry frames,
	// one notification per frame, about one per second.
	TelemetryCharacteristic = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// Advertisement is one advertising peripheral seen during a scan pass.
type Advertisement struct {
	Name    string
	Address string
}

// Scanner enumerates currently advertising peripherals.
type Scanner interface {
	// Discover runs a single blocking scan pass and returns every
	// peripheral seen, in the order the stack reported them.
	Discover() ([]Advertisement, error)
}

// Link establishes connections to peripherals.
type Link interface {
	Connect(address string) (Conn, error)
}

// Conn is an established link to a peripheral.
type Conn interface {
	// Subscribe enables notifications on the characteristic.
	// onFrame is invoked from the link layer's delivery goroutine,
	// once per notification, in arrival order.
	Subscribe(characteristic string, onFrame func([]byte)) error
	// Lost is closed when the link drops.
	Lost() <-chan struct{}
	Disconnect() error
}
