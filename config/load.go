package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/arloliu/radbridge/telemetry"
)

// DefaultEnvPrefix is the prefix of environment overrides. Nested keys use a
// double underscore: RADBRIDGE_MQTT__HOST sets mqtt.host.
const DefaultEnvPrefix = "RADBRIDGE_"

// DefaultPath is the add-on options file.
const DefaultPath = "/data/options.json"

func defaults() map[string]any {
	return map[string]any{
		"radiacode_mac":                  "",
		"poll_interval_s":                5,
		"first_data_timeout_s":           60.0,
		"watchdog_s":                     30.0,
		"status_publish_every_s":         30.0,
		"debug":                          false,
		"ble_scan_enabled":               true,
		"ble_scan_seconds":               5.0,
		"ble_connect_timeout_s":          20,
		"ble_max_recoveries_before_exit": 8,
		"ble_backoff_s":                  2.0,
		"ble_backoff_max_s":              60.0,
		"spectrum": map[string]any{
			"enabled":    false,
			"interval_s": 120,
			"retain":     false,
		},
		"dose": map[string]any{
			"system": telemetry.DefaultSystem,
			"prefix": telemetry.DefaultPrefix,
		},
		"mqtt": map[string]any{
			"host":             "core-mosquitto",
			"port":             1883,
			"username":         "",
			"password":         "",
			"topic_prefix":     "radiacode",
			"discovery_prefix": "homeassistant",
			"discovery":        true,
		},
		"bus":  map[string]any{"kind": BusMQTT},
		"nats": map[string]any{"url": "nats://127.0.0.1:4222"},
		"helper": map[string]any{
			"command":       "radiacode-helper",
			"args":          []string{},
			"kill_patterns": []string{"bluepy-helper"},
		},
		"log": map[string]any{
			"format":       LogJSON,
			"file":         "",
			"max_size_mb":  10,
			"max_backups":  3,
			"max_age_days": 7,
		},
		"metrics": map[string]any{"listen": ""},
	}
}

// numericRule bounds a numeric key. Values that do not parse or fall below
// min are replaced by the default.
type numericRule struct {
	key string
	min float64
}

var numericRules = []numericRule{
	{"poll_interval_s", 1},
	{"first_data_timeout_s", 0},
	{"watchdog_s", 1},
	{"status_publish_every_s", 1},
	{"ble_scan_seconds", 0.1},
	{"ble_connect_timeout_s", 1},
	{"ble_max_recoveries_before_exit", 1},
	{"ble_backoff_s", 0.1},
	{"ble_backoff_max_s", 0.1},
	{"spectrum.interval_s", 1},
	{"mqtt.port", 1},
	{"log.max_size_mb", 1},
	{"log.max_backups", 0},
	{"log.max_age_days", 0},
}

// Option customizes Load.
type Option func(*loader)

type loader struct {
	envPrefix string
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) {
		l.envPrefix = prefix
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// fills in defaults. Invalid values are replaced by defaults and reported in
// Config.Warnings.
func Load(path string, opts ...Option) (*Config, error) {
	l := &loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}

	user := koanf.New(".")
	if path != "" {
		if err := user.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := user.Load(env.ProviderWithValue(l.envPrefix, ".", l.envValue), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	applyDoseAlias(user)

	def := koanf.New(".")
	if err := def.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	k := koanf.New(".")
	if err := k.Merge(def); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}
	if err := k.Merge(user); err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}

	var warnings []string
	for _, rule := range numericRules {
		if !user.Exists(rule.key) {
			continue
		}
		v, ok := toFloat(k.Get(rule.key))
		if ok && v >= rule.min {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("%s: invalid value %v, using %v", rule.key, k.Get(rule.key), def.Get(rule.key)))
		if err := k.Set(rule.key, def.Get(rule.key)); err != nil {
			return nil, fmt.Errorf("reset %s: %w", rule.key, err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Warnings = append(warnings, cfg.normalize()...)

	return cfg, nil
}

// envValue maps RADBRIDGE_MQTT__HOST to mqtt.host. List values are comma separated.
func (l *loader) envValue(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, l.envPrefix))
	key = strings.ReplaceAll(key, "__", ".")

	switch key {
	case "helper.args":
		return key, strings.Fields(value)
	case "helper.kill_patterns":
		var out []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}

		return key, out
	}

	return key, value
}

// applyDoseAlias honours the legacy dose_rate section when no dose section is set.
func applyDoseAlias(k *koanf.Koanf) {
	if k.Exists("dose") || !k.Exists("dose_rate") {
		return
	}
	for _, field := range []string{"system", "prefix"} {
		if v := k.Get("dose_rate." + field); v != nil {
			_ = k.Set("dose."+field, v)
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// normalize replaces invalid enumerations and inconsistent bounds.
func (c *Config) normalize() []string {
	var warnings []string

	if c.Dose.System != telemetry.SystemSievert && c.Dose.System != telemetry.SystemRoentgen {
		warnings = append(warnings, fmt.Sprintf("dose.system: invalid value %q, using %s", c.Dose.System, telemetry.DefaultSystem))
		c.Dose.System = telemetry.DefaultSystem
	}
	if !telemetry.ValidPrefix(c.Dose.Prefix) {
		warnings = append(warnings, fmt.Sprintf("dose.prefix: invalid value %q, using %s", c.Dose.Prefix, telemetry.DefaultPrefix))
		c.Dose.Prefix = telemetry.DefaultPrefix
	}

	c.Bus.Kind = strings.ToLower(strings.TrimSpace(c.Bus.Kind))
	if c.Bus.Kind != BusMQTT && c.Bus.Kind != BusNATS {
		warnings = append(warnings, fmt.Sprintf("bus.kind: invalid value %q, using %s", c.Bus.Kind, BusMQTT))
		c.Bus.Kind = BusMQTT
	}

	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format != LogJSON && c.Log.Format != LogConsole {
		warnings = append(warnings, fmt.Sprintf("log.format: invalid value %q, using %s", c.Log.Format, LogJSON))
		c.Log.Format = LogJSON
	}

	if c.BLEBackoffMaxS < c.BLEBackoffS {
		warnings = append(warnings, fmt.Sprintf("ble_backoff_max_s: %v is below ble_backoff_s, using %v", c.BLEBackoffMaxS, c.BLEBackoffS))
		c.BLEBackoffMaxS = c.BLEBackoffS
	}

	c.RadiacodeMAC = strings.TrimSpace(c.RadiacodeMAC)
	c.MQTT.TopicPrefix = strings.Trim(c.MQTT.TopicPrefix, "/")
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "radiacode"
	}

	return warnings
}
