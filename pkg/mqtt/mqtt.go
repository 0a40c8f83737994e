// Package mqtt republishes readings to an mqtt broker.
package mqtt

import (
	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/womat/debug"
)

// quiesce is the number of milliseconds Disconnect waits for pending work.
const quiesce = 250

// Handler is the client of the mqtt broker.
// Messages sent to channel C are published asynchronously; a lost broker
// connection is re-established on the next publish.
type Handler struct {
	broker string
	client mqttlib.Client

	// C is the publishing queue.
	C chan Message
}

// Message contains the properties of one mqtt message.
type Message struct {
	Topic    string
	Payload  []byte
	Qos      byte
	Retained bool
}

// New generates a new broker handler.
// Connect must be called before messages are published.
func New() *Handler {
	return &Handler{C: make(chan Message)}
}

// Connect connects to the mqtt broker.
// An empty broker string disables publishing, messages are then discarded.
func (m *Handler) Connect(broker string) error {
	m.broker = broker
	if broker == "" {
		debug.InfoLog.Print("no mqtt broker configured, publishing disabled")
		return nil
	}

	m.client = mqttlib.NewClient(mqttlib.NewClientOptions().AddBroker(broker))
	return m.ReConnect()
}

// ReConnect re-establishes the broker connection.
func (m *Handler) ReConnect() error {
	t := m.client.Connect()
	<-t.Done()
	return t.Error()
}

// Disconnect ends the connection to the broker.
func (m *Handler) Disconnect() error {
	if m.client == nil {
		return nil
	}

	m.client.Disconnect(quiesce)
	return nil
}

// Service consumes channel C and publishes each message.
// Run it in its own goroutine; it returns when C is closed.
func (m *Handler) Service() {
	for msg := range m.C {
		if m.client == nil || msg.Topic == "" {
			continue
		}
		go m.publish(msg)
	}
}

// publish sends one message, reconnecting to the broker if necessary.
// Publish errors are logged, not surfaced; readings keep flowing even
// while the broker is away.
func (m *Handler) publish(msg Message) {
	if !m.client.IsConnected() {
		debug.DebugLog.Printf("mqtt broker %s isn't connected, reconnect it", m.broker)

		if err := m.ReConnect(); err != nil {
			debug.ErrorLog.Printf("can't reconnect to mqtt broker %s: %v", m.broker, err)
			return
		}
	}

	debug.DebugLog.Printf("publishing %v bytes to topic %v", len(msg.Payload), msg.Topic)
	t := m.client.Publish(msg.Topic, msg.Qos, msg.Retained, msg.Payload)

	go func() {
		<-t.Done()
		if err := t.Error(); err != nil {
			debug.ErrorLog.Printf("publishing topic %v: %v", msg.Topic, err)
		}
	}()
}
