package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/radbridge/device"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	require := require.New(t)

	cfg, err := Load("")
	require.NoError(err)
	require.Empty(cfg.Warnings)

	require.Equal(5*time.Second, cfg.PollInterval())
	require.Equal(60*time.Second, cfg.FirstDataTimeout())
	require.Equal(30*time.Second, cfg.Watchdog())
	require.Equal(30*time.Second, cfg.StatusPublishEvery())
	require.True(cfg.BLEScanEnabled)
	require.Equal(5*time.Second, cfg.BLEScanDuration())
	require.Equal(20*time.Second, cfg.BLEConnectTimeout())
	require.Equal(8, cfg.BLEMaxRecoveriesBeforeExit)
	require.Equal(2*time.Second, cfg.BLEBackoff())
	require.Equal(60*time.Second, cfg.BLEBackoffMax())
	require.False(cfg.Spectrum.Enabled)
	require.Equal(120*time.Second, cfg.SpectrumInterval())
	require.Equal("core-mosquitto", cfg.MQTT.Host)
	require.Equal(1883, cfg.MQTT.Port)
	require.Equal("radiacode", cfg.MQTT.TopicPrefix)
	require.Equal("homeassistant", cfg.MQTT.DiscoveryPrefix)
	require.True(cfg.MQTT.Discovery)
	require.Equal(BusMQTT, cfg.Bus.Kind)
	require.Equal([]string{"bluepy-helper"}, cfg.Helper.KillPatterns)
	require.Equal(LogJSON, cfg.Log.Format)
	require.Equal("µSv/h", cfg.Units().RateUnit())
	require.Equal(device.ModeUSB, cfg.Target().Mode)
}

func TestLoadJSONOptionsFile(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, "options.json", `{
  "radiacode_mac": " 52:AF:00:11:AA:BB ",
  "poll_interval_s": 2,
  "watchdog_s": 45.5,
  "debug": true,
  "spectrum": {"enabled": true, "interval_s": 30, "retain": true},
  "dose": {"system": "R", "prefix": "milli"},
  "mqtt": {"host": "broker", "port": 1884, "username": "u", "password": "secret", "topic_prefix": "rc/"}
}`)

	cfg, err := Load(path)
	require.NoError(err)
	require.Empty(cfg.Warnings)

	require.Equal(device.ModeBLE, cfg.Target().Mode)
	require.Equal("52af0011aabb", cfg.Target().DeviceID())
	require.Equal(2*time.Second, cfg.PollInterval())
	require.Equal(45500*time.Millisecond, cfg.Watchdog())
	require.True(cfg.Debug)
	require.True(cfg.Spectrum.Enabled)
	require.True(cfg.Spectrum.Retain)
	require.Equal(30*time.Second, cfg.SpectrumInterval())
	require.Equal("mR/h", cfg.Units().RateUnit())
	require.Equal("broker", cfg.MQTT.Host)
	require.Equal(1884, cfg.MQTT.Port)
	require.Equal("rc", cfg.MQTT.TopicPrefix)
	require.Equal("homeassistant", cfg.MQTT.DiscoveryPrefix)
}

func TestLoadDoseRateAlias(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, "options.yaml", "dose_rate:\n  system: R\n  prefix: nano\n")
	cfg, err := Load(path)
	require.NoError(err)
	require.Equal("R", cfg.Dose.System)
	require.Equal("nano", cfg.Dose.Prefix)

	path = writeFile(t, "options.yaml", "dose:\n  prefix: milli\ndose_rate:\n  system: R\n  prefix: nano\n")
	cfg, err = Load(path)
	require.NoError(err)
	require.Equal("Sv", cfg.Dose.System)
	require.Equal("milli", cfg.Dose.Prefix)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	require := require.New(t)

	path := writeFile(t, "options.yaml", `
poll_interval_s: fast
watchdog_s: -3
ble_max_recoveries_before_exit: 0
ble_backoff_s: 10
ble_backoff_max_s: 4
dose:
  system: Gy
  prefix: kilo
bus:
  kind: kafka
log:
  format: xml
`)
	cfg, err := Load(path)
	require.NoError(err)

	require.Equal(5*time.Second, cfg.PollInterval())
	require.Equal(30*time.Second, cfg.Watchdog())
	require.Equal(8, cfg.BLEMaxRecoveriesBeforeExit)
	require.Equal(10*time.Second, cfg.BLEBackoffMax())
	require.Equal("Sv", cfg.Dose.System)
	require.Equal("micro", cfg.Dose.Prefix)
	require.Equal(BusMQTT, cfg.Bus.Kind)
	require.Equal(LogJSON, cfg.Log.Format)
	require.Len(cfg.Warnings, 8)
}

func TestLoadEnvOverrides(t *testing.T) {
	require := require.New(t)

	t.Setenv("RADBRIDGE_MQTT__HOST", "env-broker")
	t.Setenv("RADBRIDGE_POLL_INTERVAL_S", "3")
	t.Setenv("RADBRIDGE_DEBUG", "true")
	t.Setenv("RADBRIDGE_BUS__KIND", "NATS")
	t.Setenv("RADBRIDGE_HELPER__ARGS", "--mode ble")
	t.Setenv("RADBRIDGE_HELPER__KILL_PATTERNS", "bluepy-helper, radiacode-helper")

	path := writeFile(t, "options.yaml", "mqtt:\n  host: file-broker\n  port: 1999\n")
	cfg, err := Load(path)
	require.NoError(err)

	require.Equal("env-broker", cfg.MQTT.Host)
	require.Equal(1999, cfg.MQTT.Port)
	require.Equal(3*time.Second, cfg.PollInterval())
	require.True(cfg.Debug)
	require.Equal(BusNATS, cfg.Bus.Kind)
	require.Equal([]string{"--mode", "ble"}, cfg.Helper.Args)
	require.Equal([]string{"bluepy-helper", "radiacode-helper"}, cfg.Helper.KillPatterns)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestYAMLRedactsSecrets(t *testing.T) {
	require := require.New(t)

	cfg, err := Load("")
	require.NoError(err)
	cfg.MQTT.Password = "hunter2"
	cfg.NATS.Password = "s3cret"

	out, err := cfg.YAML()
	require.NoError(err)
	require.NotContains(string(out), "hunter2")
	require.NotContains(string(out), "s3cret")
	require.Equal("hunter2", cfg.MQTT.Password)

	var parsed map[string]any
	require.NoError(yaml.Unmarshal(out, &parsed))
	require.Equal(redacted, parsed["mqtt"].(map[string]any)["password"])
	require.NotContains(parsed, "warnings")
}
