package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"batlog/pkg/meter"

	"github.com/womat/debug"
	"gopkg.in/yaml.v2"
)

// Config holds the application configuration. Attention!
// To make it possible to overwrite fields with the -overwrite command
// line option each of the struct fields must be in the format
// first letter uppercase -> followed by CamelCase as in the config file.
// Config defines the struct of global config and the struct of the configuration file
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Retry     RetryConfig     `yaml:"retry"`
	Flag      FlagConfig      `yaml:"-"`
	Debug     DebugConfig     `yaml:"debug"`
	Webserver WebserverConfig `yaml:"webserver"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// FlagConfig defines the configured flags (parameters)
type FlagConfig struct {
	Version    bool
	Debug      string
	ConfigFile string
}

// DeviceConfig defines which meter to bind to.
type DeviceConfig struct {
	// VariantString is the meter family, "dl24" or "ud18".
	VariantString string        `yaml:"variant"`
	Variant       meter.Variant `yaml:"-"`
	// Name is the advertised device name.
	Name string `yaml:"name"`
	// Address optionally pins a unit by MAC address, e.g. "27:4B:B0:47:69:84".
	Address string `yaml:"address"`
	// ScanWindowInt is the scan pass length in seconds.
	ScanWindowInt int           `yaml:"scanwindow"`
	ScanWindow    time.Duration `yaml:"-"`
}

// RetryConfig defines the struct of the discovery and reconnect configuration.
type RetryConfig struct {
	// KeepTrying rescans until the device shows up.
	KeepTrying bool `yaml:"keeptrying"`
	// ScanIntervalInt is the minimum delay between scan passes in seconds.
	ScanIntervalInt int           `yaml:"scaninterval"`
	ScanInterval    time.Duration `yaml:"-"`
	// Reconnect resubscribes with backoff after link loss.
	Reconnect     bool          `yaml:"reconnect"`
	BackoffMinInt int           `yaml:"backoffmin"`
	BackoffMin    time.Duration `yaml:"-"`
	BackoffMaxInt int           `yaml:"backoffmax"`
	BackoffMax    time.Duration `yaml:"-"`
}

// WebserverConfig defines the struct of the webserver and webservice configuration and configuration file
type WebserverConfig struct {
	URL         string          `yaml:"url"`
	Webservices map[string]bool `yaml:"webservices"`
}

// MQTTConfig defines the struct of the mqtt client configuration and configuration file
type MQTTConfig struct {
	Connection  string        `yaml:"connection"`
	Interval    time.Duration `yaml:"-"`
	IntervalInt int           `yaml:"interval"`
	Topic       string        `yaml:"topic"`
	// DeltaVolt and DeltaAmp publish immediately when a reading moved
	// at least this far from the last published one.
	DeltaVolt float64 `yaml:"deltavolt"`
	DeltaAmp  float64 `yaml:"deltaamp"`
}

// DebugConfig defines the struct of the debug configuration and configuration file
type DebugConfig struct {
	File       io.WriteCloser `yaml:"-"`
	Flag       int            `yaml:"-"`
	FlagString string         `yaml:"flag"`
	FileString string         `yaml:"file"`
}

func NewConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			VariantString: "dl24",
			Name:          "DL24_BLE",
			ScanWindowInt: 5,
		},
		Retry: RetryConfig{
			KeepTrying:      true,
			ScanIntervalInt: 1,
			Reconnect:       true,
			BackoffMinInt:   1,
			BackoffMaxInt:   60,
		},
		Flag: FlagConfig{},
		Debug: DebugConfig{
			FileString: "stderr",
			FlagString: "standard",
		},
		Webserver: WebserverConfig{
			URL: "http://0.0.0.0:4000",
			Webservices: map[string]bool{
				"version": true,
				"health":  true,
				"data":    true,
			},
		},
		MQTT: MQTTConfig{
			Connection:  "tcp://127.0.0.1:1883",
			IntervalInt: 60,
			Topic:       "/test/batlog",
			DeltaVolt:   0.1,
			DeltaAmp:    0.05,
		},
	}
}

func (c *Config) LoadConfig() error {
	if err := c.readConfigFile(); err != nil {
		return fmt.Errorf("error reading config file %q: %w", c.Flag.ConfigFile, err)
	}

	if c.Flag.Debug != "" {
		c.Debug.FlagString = c.Flag.Debug
	}
	if err := c.setDebugConfig(); err != nil {
		return fmt.Errorf("unable to open debug file %q: %w", c.Debug.FileString, err)
	}

	variant, err := meter.VariantFromString(c.Device.VariantString)
	if err != nil {
		return err
	}
	c.Device.Variant = variant

	c.Device.ScanWindow = time.Duration(c.Device.ScanWindowInt) * time.Second
	c.Retry.ScanInterval = time.Duration(c.Retry.ScanIntervalInt) * time.Second
	c.Retry.BackoffMin = time.Duration(c.Retry.BackoffMinInt) * time.Second
	c.Retry.BackoffMax = time.Duration(c.Retry.BackoffMaxInt) * time.Second
	c.MQTT.Interval = time.Duration(c.MQTT.IntervalInt) * time.Second

	return nil
}

func (c *Config) readConfigFile() error {
	file, err := os.Open(c.Flag.ConfigFile)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	decoder := yaml.NewDecoder(file)
	if err = decoder.Decode(c); err != nil {
		return err
	}

	return nil
}

func (c *Config) setDebugConfig() (err error) {
	// defines Debug section of global.Config
	switch c.Debug.FlagString {
	case "trace", "full":
		c.Debug.Flag = debug.Full
	case "debug":
		c.Debug.Flag = debug.Warning | debug.Info | debug.Error | debug.Fatal | debug.Debug
	case "standard":
		c.Debug.Flag = debug.Standard
	}

	switch c.Debug.FileString {
	case "stderr":
		c.Debug.File = os.Stderr
	case "stdout":
		c.Debug.File = os.Stdout
	default:
		if c.Debug.File, err = os.OpenFile(c.Debug.FileString, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666); err != nil {
			return
		}
	}

	return
}
