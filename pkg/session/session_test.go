package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"batlog/pkg/ble"
	"batlog/pkg/meter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScanner replays one prepared result set per scan pass,
// repeating the last one.
type fakeScanner struct {
	mu      sync.Mutex
	passes  [][]ble.Advertisement
	calls   int
	scanErr error
}

func (f *fakeScanner) Discover() ([]ble.Advertisement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	if len(f.passes) == 0 {
		return nil, nil
	}
	pass := f.passes[0]
	if len(f.passes) > 1 {
		f.passes = f.passes[1:]
	}
	return pass, nil
}

func (f *fakeScanner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeLink hands out fakeConns and records the dialed address.
type fakeLink struct {
	mu         sync.Mutex
	conn       *fakeConn
	connectErr error
	dialed     string
}

func (f *fakeLink) Connect(address string) (ble.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dialed = address
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.conn, nil
}

func (f *fakeLink) setConn(c *fakeConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conn = c
}

func (f *fakeLink) dialedAddress() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialed
}

type fakeConn struct {
	mu           sync.Mutex
	subscribeErr error
	onFrame      func([]byte)
	lost         chan struct{}
	disconnected bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{lost: make(chan struct{})}
}

func (f *fakeConn) Subscribe(characteristic string, onFrame func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.onFrame = onFrame
	return nil
}

func (f *fakeConn) Lost() <-chan struct{} { return f.lost }

func (f *fakeConn) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

// frame delivers one notification as the link layer would.
func (f *fakeConn) frame(b []byte) {
	f.mu.Lock()
	onFrame := f.onFrame
	f.mu.Unlock()
	onFrame(b)
}

func (f *fakeConn) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onFrame != nil
}

func (f *fakeConn) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

var testDevice = ble.Advertisement{Name: "DL24_BLE", Address: "27:4B:B0:47:69:84"}

func testConfig() Config {
	return Config{
		Descriptor:   Descriptor{Name: "DL24_BLE"},
		Variant:      meter.DL24,
		ScanInterval: time.Millisecond,
	}
}

func TestEnsureSubscribed(t *testing.T) {
	scanner := &fakeScanner{passes: [][]ble.Advertisement{{testDevice}}}
	conn := newFakeConn()
	link := &fakeLink{conn: conn}

	s := New(scanner, link, testConfig())
	assert.Equal(t, Idle, s.State())

	err := s.EnsureSubscribed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Subscribed, s.State())
	assert.Equal(t, testDevice, s.Device())
	assert.Equal(t, testDevice.Address, link.dialedAddress())
	assert.True(t, conn.subscribed())

	// already subscribed, no second scan pass
	require.NoError(t, s.EnsureSubscribed(context.Background()))
	assert.Equal(t, 1, scanner.callCount())
}

func TestEnsureSubscribedGivesUpAfterOnePass(t *testing.T) {
	scanner := &fakeScanner{}
	s := New(scanner, &fakeLink{}, testConfig())

	err := s.EnsureSubscribed(context.Background())
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, Failed, s.State())
	assert.Equal(t, 1, scanner.callCount())
}

func TestEnsureSubscribedKeepTrying(t *testing.T) {
	scanner := &fakeScanner{passes: [][]ble.Advertisement{
		nil,
		{{Name: "somebody else", Address: "11:22:33:44:55:66"}},
		{testDevice},
	}}
	link := &fakeLink{conn: newFakeConn()}

	cfg := testConfig()
	cfg.KeepTrying = true
	s := New(scanner, link, cfg)

	err := s.EnsureSubscribed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Subscribed, s.State())
	assert.Equal(t, 3, scanner.callCount())
}

func TestEnsureSubscribedKeepTryingCancelled(t *testing.T) {
	scanner := &fakeScanner{}
	cfg := testConfig()
	cfg.KeepTrying = true
	s := New(scanner, &fakeLink{}, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.EnsureSubscribed(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Failed, s.State())
}

func TestEnsureSubscribedConnectFailed(t *testing.T) {
	scanner := &fakeScanner{passes: [][]ble.Advertisement{{testDevice}}}
	link := &fakeLink{connectErr: errors.New("host is down")}

	s := New(scanner, link, testConfig())

	err := s.EnsureSubscribed(context.Background())
	assert.ErrorIs(t, err, ErrConnectFailed)
	// the stack's reason survives the wrap
	assert.Contains(t, err.Error(), "host is down")
	assert.Equal(t, Failed, s.State())
}

func TestEnsureSubscribedSubscribeFailed(t *testing.T) {
	scanner := &fakeScanner{passes: [][]ble.Advertisement{{testDevice}}}
	conn := newFakeConn()
	conn.subscribeErr = errors.New("no such characteristic")
	link := &fakeLink{conn: conn}

	s := New(scanner, link, testConfig())

	// connect succeeded but subscribe failed is overall failure,
	// not partial success
	err := s.EnsureSubscribed(context.Background())
	assert.ErrorIs(t, err, ErrSubscribeFailed)
	assert.Equal(t, Failed, s.State())
	assert.True(t, conn.isDisconnected())
}

func TestFailedSessionRescansNotIdle(t *testing.T) {
	scanner := &fakeScanner{passes: [][]ble.Advertisement{
		nil,
		{testDevice},
	}}
	link := &fakeLink{conn: newFakeConn()}
	s := New(scanner, link, testConfig())

	err := s.EnsureSubscribed(context.Background())
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	// second call re-enters scanning and succeeds
	require.NoError(t, s.EnsureSubscribed(context.Background()))
	assert.Equal(t, Subscribed, s.State())
}

func TestFramesArriveInOrder(t *testing.T) {
	scanner := &fakeScanner{passes: [][]ble.Advertisement{{testDevice}}}
	conn := newFakeConn()
	link := &fakeLink{conn: conn}

	s := New(scanner, link, testConfig())
	require.NoError(t, s.EnsureSubscribed(context.Background()))

	conn.frame([]byte{1})
	conn.frame([]byte{2})
	conn.frame([]byte{3})

	assert.Equal(t, []byte{1}, <-s.Frames())
	assert.Equal(t, []byte{2}, <-s.Frames())
	assert.Equal(t, []byte{3}, <-s.Frames())
}

func TestCloseReleasesLink(t *testing.T) {
	scanner := &fakeScanner{passes: [][]ble.Advertisement{{testDevice}}}
	conn := newFakeConn()
	link := &fakeLink{conn: conn}

	cfg := testConfig()
	cfg.QueueSize = 1
	s := New(scanner, link, cfg)
	require.NoError(t, s.EnsureSubscribed(context.Background()))

	require.NoError(t, s.Close())
	assert.True(t, conn.isDisconnected())

	// notifications after Close must not block the link layer,
	// even with the queue full
	done := make(chan struct{})
	go func() {
		conn.frame(make([]byte, 36))
		conn.frame(make([]byte, 36))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked after Close")
	}
}
