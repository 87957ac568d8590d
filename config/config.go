// Package config loads the bridge options from a YAML or JSON options file
// and RADBRIDGE_ environment variables.
package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/radbridge/device"
	"github.com/arloliu/radbridge/telemetry"
)

// Bus kinds.
const (
	BusMQTT = "mqtt"
	BusNATS = "nats"
)

// Log formats.
const (
	LogJSON    = "json"
	LogConsole = "console"
)

const redacted = "******"

// Config is the effective bridge configuration.
type Config struct {
	RadiacodeMAC string `koanf:"radiacode_mac" yaml:"radiacode_mac"`

	PollIntervalS       int     `koanf:"poll_interval_s" yaml:"poll_interval_s"`
	FirstDataTimeoutS   float64 `koanf:"first_data_timeout_s" yaml:"first_data_timeout_s"`
	WatchdogS           float64 `koanf:"watchdog_s" yaml:"watchdog_s"`
	StatusPublishEveryS float64 `koanf:"status_publish_every_s" yaml:"status_publish_every_s"`
	Debug               bool    `koanf:"debug" yaml:"debug"`

	BLEScanEnabled             bool    `koanf:"ble_scan_enabled" yaml:"ble_scan_enabled"`
	BLEScanSeconds             float64 `koanf:"ble_scan_seconds" yaml:"ble_scan_seconds"`
	BLEConnectTimeoutS         int     `koanf:"ble_connect_timeout_s" yaml:"ble_connect_timeout_s"`
	BLEMaxRecoveriesBeforeExit int     `koanf:"ble_max_recoveries_before_exit" yaml:"ble_max_recoveries_before_exit"`
	BLEBackoffS                float64 `koanf:"ble_backoff_s" yaml:"ble_backoff_s"`
	BLEBackoffMaxS             float64 `koanf:"ble_backoff_max_s" yaml:"ble_backoff_max_s"`

	Spectrum SpectrumConfig `koanf:"spectrum" yaml:"spectrum"`
	Dose     DoseConfig     `koanf:"dose" yaml:"dose"`
	MQTT     MQTTConfig     `koanf:"mqtt" yaml:"mqtt"`
	Bus      BusConfig      `koanf:"bus" yaml:"bus"`
	NATS     NATSConfig     `koanf:"nats" yaml:"nats"`
	Helper   HelperConfig   `koanf:"helper" yaml:"helper"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`

	// Warnings lists the values that were replaced by defaults.
	Warnings []string `koanf:"-" yaml:"-"`
}

type SpectrumConfig struct {
	Enabled   bool `koanf:"enabled" yaml:"enabled"`
	IntervalS int  `koanf:"interval_s" yaml:"interval_s"`
	Retain    bool `koanf:"retain" yaml:"retain"`
}

type DoseConfig struct {
	System string `koanf:"system" yaml:"system"`
	Prefix string `koanf:"prefix" yaml:"prefix"`
}

type MQTTConfig struct {
	Host            string `koanf:"host" yaml:"host"`
	Port            int    `koanf:"port" yaml:"port"`
	Username        string `koanf:"username" yaml:"username"`
	Password        string `koanf:"password" yaml:"password"`
	TopicPrefix     string `koanf:"topic_prefix" yaml:"topic_prefix"`
	DiscoveryPrefix string `koanf:"discovery_prefix" yaml:"discovery_prefix"`
	Discovery       bool   `koanf:"discovery" yaml:"discovery"`
}

type BusConfig struct {
	Kind string `koanf:"kind" yaml:"kind"`
}

type NATSConfig struct {
	URL      string `koanf:"url" yaml:"url"`
	Username string `koanf:"username" yaml:"username"`
	Password string `koanf:"password" yaml:"password"`
}

// HelperConfig describes the device helper subprocess.
type HelperConfig struct {
	Command string   `koanf:"command" yaml:"command"`
	Args    []string `koanf:"args" yaml:"args"`
	// KillPatterns are matched by the recovery cleanup against stray helper processes.
	KillPatterns []string `koanf:"kill_patterns" yaml:"kill_patterns"`
}

type LogConfig struct {
	Format     string `koanf:"format" yaml:"format"`
	File       string `koanf:"file" yaml:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days" yaml:"max_age_days"`
}

type MetricsConfig struct {
	// Listen is the metrics server address. Empty disables the server.
	Listen string `koanf:"listen" yaml:"listen"`
}

// Target returns the device target selected by RadiacodeMAC.
func (c *Config) Target() device.Target {
	return device.NewTarget(c.RadiacodeMAC)
}

// Units returns the configured dose unit.
func (c *Config) Units() telemetry.Units {
	return telemetry.NewUnits(c.Dose.System, c.Dose.Prefix)
}

func (c *Config) PollInterval() time.Duration { return time.Duration(c.PollIntervalS) * time.Second }

func (c *Config) FirstDataTimeout() time.Duration { return seconds(c.FirstDataTimeoutS) }

func (c *Config) Watchdog() time.Duration { return seconds(c.WatchdogS) }

func (c *Config) StatusPublishEvery() time.Duration { return seconds(c.StatusPublishEveryS) }

func (c *Config) BLEScanDuration() time.Duration { return seconds(c.BLEScanSeconds) }

func (c *Config) BLEConnectTimeout() time.Duration {
	return time.Duration(c.BLEConnectTimeoutS) * time.Second
}

func (c *Config) BLEBackoff() time.Duration { return seconds(c.BLEBackoffS) }

func (c *Config) BLEBackoffMax() time.Duration { return seconds(c.BLEBackoffMaxS) }

func (c *Config) SpectrumInterval() time.Duration {
	return time.Duration(c.Spectrum.IntervalS) * time.Second
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// YAML renders the configuration with secrets redacted.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.MQTT.Password != "" {
		out.MQTT.Password = redacted
	}
	if out.NATS.Password != "" {
		out.NATS.Password = redacted
	}

	return yaml.Marshal(&out)
}
