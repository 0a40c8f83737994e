package app

import (
	"context"
	"net/url"
	"sync"

	"batlog/pkg/app/config"
	"batlog/pkg/ble"
	"batlog/pkg/meter"
	"batlog/pkg/mqtt"
	"batlog/pkg/session"

	"github.com/gofiber/fiber/v2"
	"github.com/womat/debug"
)

// App is the main application struct.
// App is where the application is wired up.
type App struct {
	// web is the fiber web framework instance
	web *fiber.App

	// config is the application configuration
	config *config.Config

	// urlParsed contains the parsed Config.Url parameter
	// and makes it easier to get params out of e.g.
	// url: https://0.0.0.0:7844/?minTls=1.2&bodyLimit=50MB
	urlParsed *url.URL

	// mqtt is the handler to the mqtt broker
	mqtt *mqtt.Handler

	// adapter is the handler to the host bluetooth stack
	adapter *ble.Adapter

	// session binds the configured meter
	session *session.Session

	// pump decodes inbound telemetry frames
	pump *session.Pump

	// reading is the last decoded telemetry sample
	reading struct {
		sync.RWMutex
		data meter.Reading
	}

	// published is the last reading sent to the mqtt broker
	published struct {
		sync.Mutex
		data meter.Reading
	}

	// ctx cancels the telemetry loop on Close
	ctx    context.Context
	cancel context.CancelFunc

	// shutdown signals application shutdown
	shutdown chan struct{}
}

// New checks the Web server URL and initialize the main app structure
func New(cfg *config.Config) (*App, error) {
	u, err := url.Parse(cfg.Webserver.URL)
	if err != nil {
		debug.ErrorLog.Printf("Error parsing url %q: %s", cfg.Webserver.URL, err.Error())
		return &App{}, err
	}

	adapter := ble.NewAdapter(cfg.Device.ScanWindow)
	s := session.New(adapter, adapter, session.Config{
		Descriptor: session.Descriptor{
			Name:    cfg.Device.Name,
			Address: cfg.Device.Address,
		},
		Variant:      cfg.Device.Variant,
		KeepTrying:   cfg.Retry.KeepTrying,
		ScanInterval: cfg.Retry.ScanInterval,
		Reconnect:    cfg.Retry.Reconnect,
		BackoffMin:   cfg.Retry.BackoffMin,
		BackoffMax:   cfg.Retry.BackoffMax,
	})

	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		config:    cfg,
		urlParsed: u,

		adapter: adapter,
		session: s,
		pump:    session.NewPump(s),
		web:     fiber.New(),
		mqtt:    mqtt.New(),

		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}, err
}

// Run starts the application.
func (app *App) Run() error {
	if err := app.init(); err != nil {
		return err
	}

	go app.mqtt.Service()
	go app.runWebServer()
	go app.runTelemetry()

	return nil
}

// init initializes the application.
func (app *App) init() error {
	if err := app.mqtt.Connect(app.config.MQTT.Connection); err != nil {
		debug.ErrorLog.Printf("can't open mqtt broker %v", err)
		return err
	}

	// initRoutes and initDefaultRoutes should be always called last because it may access things like app.api
	// which must be initialized before in initAPI()
	app.initDefaultRoutes()

	return nil
}

// Shutdown returns the read only shutdown channel.
// Shutdown is used to be able to react on application shutdown. (see cmd/main.go)
func (app *App) Shutdown() <-chan struct{} {
	return app.shutdown
}

func (app *App) Close() error {
	app.cancel()

	if app.mqtt != nil {
		_ = app.mqtt.Disconnect()
	}

	if app.session != nil {
		_ = app.session.Close()
	}
	return nil
}
