// Package session owns the lifecycle from "no device" to "subscribed and
// receiving telemetry notifications" and pumps decoded readings to the
// embedding application.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"batlog/pkg/ble"
	"batlog/pkg/meter"

	"github.com/womat/debug"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrConnectFailed   = errors.New("can't connect to device")
	ErrSubscribeFailed = errors.New("can't subscribe to telemetry characteristic")
	ErrLinkLost        = errors.New("link lost")
)

// State is the connection state of a session.
type State int

const (
	Idle State = iota
	Scanning
	Found
	Connecting
	Subscribed
	Failed
)

// String returns a human readable state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Found:
		return "found"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

const (
	defaultScanInterval = time.Second
	defaultQueueSize    = 16
)

// Config holds the session parameters.
type Config struct {
	Descriptor Descriptor
	Variant    meter.Variant

	// KeepTrying rescans until the device shows up.
	// When false a single missed scan pass gives up.
	KeepTrying bool
	// ScanInterval is the minimum delay between two scan passes,
	// so a fast returning scanner can't busy-loop.
	ScanInterval time.Duration

	// Reconnect re-enters scanning with backoff after link loss.
	Reconnect  bool
	BackoffMin time.Duration
	BackoffMax time.Duration

	// QueueSize bounds the inbound frame queue between the link layer
	// and the pump.
	QueueSize int
}

// Session is the state machine that binds one meter.
type Session struct {
	scanner ble.Scanner
	link    ble.Link
	config  Config

	mu     sync.Mutex
	state  State
	device ble.Advertisement
	conn   ble.Conn
	lost   <-chan struct{}

	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// New creates a session for the device described in config.
func New(scanner ble.Scanner, link ble.Link, config Config) *Session {
	if config.ScanInterval <= 0 {
		config.ScanInterval = defaultScanInterval
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}

	return &Session{
		scanner: scanner,
		link:    link,
		config:  config,
		state:   Idle,
		frames:  make(chan []byte, config.QueueSize),
		done:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device returns the discovered device, valid from state Found on.
func (s *Session) Device() ble.Advertisement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Frames is the queue of raw notification frames, in arrival order.
func (s *Session) Frames() <-chan []byte {
	return s.frames
}

// Lost is closed when the current link drops.
// Only meaningful while the session is Subscribed.
func (s *Session) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// EnsureSubscribed drives the session to Subscribed:
// scan for the device, connect and enable telemetry notifications.
// A missed scan pass is retried while config.KeepTrying is set, waiting
// config.ScanInterval between passes; connect and subscribe failures give
// up immediately. ctx is observed at every suspension point.
func (s *Session) EnsureSubscribed(ctx context.Context) error {
	if s.State() == Subscribed {
		return nil
	}

	s.setState(Scanning)
	for {
		device, err := Locate(s.scanner, s.config.Descriptor)
		if err == nil {
			debug.InfoLog.Printf("device %q found, address: %s", device.Name, device.Address)
			s.mu.Lock()
			s.device = device
			s.mu.Unlock()
			s.setState(Found)
			break
		}

		if !errors.Is(err, ErrDeviceNotFound) {
			debug.ErrorLog.Printf("scan pass failed: %v", err)
			s.setState(Failed)
			return err
		}

		if !s.config.KeepTrying {
			debug.InfoLog.Print("device not found")
			s.setState(Failed)
			return ErrDeviceNotFound
		}

		debug.DebugLog.Print("device not found, retrying")
		select {
		case <-ctx.Done():
			s.setState(Failed)
			return ctx.Err()
		case <-time.After(s.config.ScanInterval):
		}
	}

	s.setState(Connecting)
	conn, err := s.link.Connect(s.Device().Address)
	if err != nil {
		debug.ErrorLog.Printf("can't connect to %s: %v", s.Device().Address, err)
		s.setState(Failed)
		return fmt.Errorf("%w: %s: %v", ErrConnectFailed, s.Device().Address, err)
	}

	err = conn.Subscribe(ble.TelemetryCharacteristic, s.enqueue)
	if err != nil {
		debug.ErrorLog.Printf("can't subscribe: %v", err)
		_ = conn.Disconnect()
		s.setState(Failed)
		return fmt.Errorf("%w: %s", ErrSubscribeFailed, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.lost = conn.Lost()
	s.mu.Unlock()
	s.setState(Subscribed)
	debug.InfoLog.Print("connected, notifications started")

	return nil
}

// enqueue copies an inbound notification frame to the queue.
// The send blocks when the queue is full, stalling the link layer's
// delivery goroutine, so frames are never reordered or dropped.
func (s *Session) enqueue(frame []byte) {
	buf := append([]byte(nil), frame...)

	select {
	case s.frames <- buf:
	case <-s.done:
	}
}

// dropLink releases the current link and re-enters Scanning,
// never Idle, so a target once set stays set.
func (s *Session) dropLink() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.lost = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Disconnect()
	}
	s.setState(Scanning)
}

// Close releases the link deterministically.
func (s *Session) Close() error {
	s.once.Do(func() { close(s.done) })

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.lost = nil
	s.mu.Unlock()

	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	old := s.state
	s.state = state
	s.mu.Unlock()

	if old != state {
		debug.TraceLog.Printf("session state %s -> %s", old, state)
	}
}
