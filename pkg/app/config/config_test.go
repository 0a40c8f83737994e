package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"batlog/pkg/meter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYaml = `
device:
  variant: ud18
  name: UD18_BLE
  address: "27:4B:B0:47:69:84"
  scanwindow: 10
retry:
  keeptrying: false
  scaninterval: 3
  reconnect: false
  backoffmin: 2
  backoffmax: 30
mqtt:
  connection: tcp://broker.local:1883
  interval: 120
  topic: /meters/ud18
  deltavolt: 0.5
  deltaamp: 0.2
webserver:
  url: http://0.0.0.0:7844
  webservices:
    version: true
    health: false
    data: true
debug:
  flag: debug
  file: stderr
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	file := filepath.Join(t.TempDir(), "batlog.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	return file
}

func TestLoadConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Flag.ConfigFile = writeConfigFile(t, testYaml)

	require.NoError(t, cfg.LoadConfig())

	assert.Equal(t, meter.UD18, cfg.Device.Variant)
	assert.Equal(t, "UD18_BLE", cfg.Device.Name)
	assert.Equal(t, "27:4B:B0:47:69:84", cfg.Device.Address)
	assert.Equal(t, 10*time.Second, cfg.Device.ScanWindow)

	assert.False(t, cfg.Retry.KeepTrying)
	assert.Equal(t, 3*time.Second, cfg.Retry.ScanInterval)
	assert.False(t, cfg.Retry.Reconnect)
	assert.Equal(t, 2*time.Second, cfg.Retry.BackoffMin)
	assert.Equal(t, 30*time.Second, cfg.Retry.BackoffMax)

	assert.Equal(t, "tcp://broker.local:1883", cfg.MQTT.Connection)
	assert.Equal(t, 2*time.Minute, cfg.MQTT.Interval)
	assert.Equal(t, "/meters/ud18", cfg.MQTT.Topic)
	assert.Equal(t, 0.5, cfg.MQTT.DeltaVolt)
	assert.Equal(t, 0.2, cfg.MQTT.DeltaAmp)

	assert.Equal(t, "http://0.0.0.0:7844", cfg.Webserver.URL)
	assert.False(t, cfg.Webserver.Webservices["health"])
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	cfg.Flag.ConfigFile = writeConfigFile(t, "{}\n")

	require.NoError(t, cfg.LoadConfig())

	assert.Equal(t, meter.DL24, cfg.Device.Variant)
	assert.Equal(t, "DL24_BLE", cfg.Device.Name)
	assert.True(t, cfg.Retry.KeepTrying)
	assert.True(t, cfg.Retry.Reconnect)
	assert.Equal(t, time.Second, cfg.Retry.ScanInterval)
	assert.Equal(t, time.Minute, cfg.Retry.BackoffMax)
	assert.Equal(t, time.Minute, cfg.MQTT.Interval)
}

func TestLoadConfigUnknownVariant(t *testing.T) {
	cfg := NewConfig()
	cfg.Flag.ConfigFile = writeConfigFile(t, "device:\n  variant: um25c\n")

	assert.ErrorIs(t, cfg.LoadConfig(), meter.ErrUnsupportedVariant)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := NewConfig()
	cfg.Flag.ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")

	assert.Error(t, cfg.LoadConfig())
}
