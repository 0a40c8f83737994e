package app

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"batlog/pkg/meter"
	"batlog/pkg/mqtt"

	"github.com/womat/debug"
)

// runTelemetry runs the acquisition loop until the application closes.
// The pump delivers one reading per telemetry notification, about one
// per second.
func (app *App) runTelemetry() {
	err := app.pump.Run(app.ctx, app.handleReading)

	if err != nil && !errors.Is(err, context.Canceled) {
		debug.ErrorLog.Printf("telemetry loop ended: %v", err)
		app.shutdown <- struct{}{}
	}
}

// handleReading saves the reading to the app main structure and forwards
// it to the mqtt gating.
func (app *App) handleReading(r meter.Reading) {
	debug.DebugLog.Printf("reading: %+v", r)

	app.reading.Lock()
	app.reading.data = r
	app.reading.Unlock()

	app.checkDelta(r)
}

// checkDelta sends the reading to mqtt if the publish interval elapsed
// or voltage/current moved further than the configured deltas since the
// last published reading.
func (app *App) checkDelta(r meter.Reading) {
	app.published.Lock()
	defer app.published.Unlock()

	last := app.published.data

	deltaT := r.TimeStamp.Sub(last.TimeStamp)
	deltaV := math.Abs(r.Voltage - last.Voltage)
	deltaA := math.Abs(r.Current - last.Current)

	if deltaT >= app.config.MQTT.Interval ||
		deltaV >= app.config.MQTT.DeltaVolt ||
		deltaA >= app.config.MQTT.DeltaAmp {
		app.sendMQTT(app.config.MQTT.Topic, r)
		app.published.data = r
	}
}

// sendMQTT send message struct to the mqtt broker.
func (app *App) sendMQTT(topic string, message interface{}) {
	go func(t string, r interface{}) {
		debug.TraceLog.Printf("prepare mqtt message %v %v", t, r)

		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			debug.ErrorLog.Printf("sendMQTT marshal: %v", err)
			return
		}

		app.mqtt.C <- mqtt.Message{
			Qos:      0,
			Retained: true,
			Topic:    t,
			Payload:  b,
		}
	}(topic, message)
}
