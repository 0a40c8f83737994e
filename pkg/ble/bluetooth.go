package ble

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/womat/debug"
	"tinygo.org/x/bluetooth"
)

var (
	ErrServiceNotFound        = errors.New("telemetry service not found")
	ErrCharacteristicNotFound = errors.New("telemetry characteristic not found")
)

// defaultScanWindow is how long one Discover pass listens for advertisements.
const defaultScanWindow = 5 * time.Second

// Adapter drives the host bluetooth stack.
// Adapter implements Scanner and Link.
type Adapter struct {
	adapter    *bluetooth.Adapter
	scanWindow time.Duration

	mu      sync.Mutex
	enabled bool
	// seen caches the stack addresses of scanned peripherals,
	// so Connect can be called with the address string of an Advertisement.
	seen    map[string]bluetooth.Address
	current *gattConn
}

// NewAdapter returns a handler for the default host bluetooth adapter.
func NewAdapter(scanWindow time.Duration) *Adapter {
	if scanWindow <= 0 {
		scanWindow = defaultScanWindow
	}

	return &Adapter{
		adapter:    bluetooth.DefaultAdapter,
		scanWindow: scanWindow,
		seen:       map[string]bluetooth.Address{},
	}
}

// enable powers the adapter on first use and registers the
// connect/disconnect handler of the stack.
func (a *Adapter) enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enabled {
		return nil
	}

	if err := a.adapter.Enable(); err != nil {
		return err
	}

	a.adapter.SetConnectHandler(a.connectEvent)
	a.enabled = true
	return nil
}

// connectEvent marks the active connection lost when the stack reports
// a disconnect for its address.
func (a *Adapter) connectEvent(device bluetooth.Address, connected bool) {
	if connected {
		return
	}

	a.mu.Lock()
	c := a.current
	a.mu.Unlock()

	if c != nil && strings.EqualFold(device.String(), c.address) {
		debug.DebugLog.Printf("link to %s lost", c.address)
		c.markLost()
	}
}

// Discover runs one scan pass of scanWindow length and returns every
// advertising peripheral seen, deduplicated by address.
func (a *Adapter) Discover() ([]Advertisement, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		found []Advertisement
		dup   = map[string]bool{}
	)

	stop := time.AfterFunc(a.scanWindow, func() { _ = a.adapter.StopScan() })
	defer stop.Stop()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		key := strings.ToLower(addr)

		mu.Lock()
		if !dup[key] {
			dup[key] = true
			found = append(found, Advertisement{Name: result.LocalName(), Address: addr})
		}
		mu.Unlock()

		a.mu.Lock()
		a.seen[key] = result.Address
		a.mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	debug.TraceLog.Printf("scan pass finished, %d peripherals seen", len(found))
	return found, nil
}

// Connect establishes a link to the peripheral with the given address.
func (a *Adapter) Connect(address string) (Conn, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	target, err := a.resolve(address)
	if err != nil {
		return nil, err
	}

	device, err := a.adapter.Connect(target, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}

	c := &gattConn{
		device:  device,
		address: address,
		lost:    make(chan struct{}),
	}

	a.mu.Lock()
	a.current = c
	a.mu.Unlock()

	return c, nil
}

// resolve maps an address string to a stack address, preferring the
// cached scan result over parsing.
func (a *Adapter) resolve(address string) (bluetooth.Address, error) {
	a.mu.Lock()
	cached, ok := a.seen[strings.ToLower(address)]
	a.mu.Unlock()

	if ok {
		return cached, nil
	}

	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return bluetooth.Address{}, err
	}
	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}

// gattConn is an established GATT link.
type gattConn struct {
	device  *bluetooth.Device
	address string

	once sync.Once
	lost chan struct{}
}

// Subscribe discovers the telemetry service and enables notifications
// on the characteristic.
func (c *gattConn) Subscribe(characteristic string, onFrame func([]byte)) error {
	charUUID, err := bluetooth.ParseUUID(characteristic)
	if err != nil {
		return err
	}
	serviceUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return err
	}

	services, err := c.device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return ErrServiceNotFound
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return err
	}
	if len(chars) == 0 {
		return ErrCharacteristicNotFound
	}

	return chars[0].EnableNotifications(onFrame)
}

// Lost is closed when the stack reports a disconnect for this link.
func (c *gattConn) Lost() <-chan struct{} {
	return c.lost
}

func (c *gattConn) markLost() {
	c.once.Do(func() { close(c.lost) })
}

// Disconnect releases the link.
func (c *gattConn) Disconnect() error {
	return c.device.Disconnect()
}
