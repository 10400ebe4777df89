// Package config handles TOML (or YAML) configuration loading with sensible
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for eventwatch.
type Config struct {
	NATS    NATSConfig    `toml:"nats" yaml:"nats"`
	Monitor MonitorConfig `toml:"monitor" yaml:"monitor"`
	Probe   ProbeConfig   `toml:"probe" yaml:"probe"`
	API     APIConfig     `toml:"api" yaml:"api"`
	Ntfy    NtfyConfig    `toml:"ntfy" yaml:"ntfy"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

// NATSConfig locates the bus the collector agents listen on.
type NATSConfig struct {
	URL            string   `toml:"url" yaml:"url"`
	Name           string   `toml:"name" yaml:"name"`
	SubjectPrefix  string   `toml:"subject_prefix" yaml:"subject_prefix"`
	RequestTimeout Duration `toml:"request_timeout" yaml:"request_timeout"`
	CredsFile      string   `toml:"creds_file" yaml:"creds_file"`
}

// MonitorConfig describes what to watch and how the watches behave.
type MonitorConfig struct {
	Hosts        []string `toml:"hosts" yaml:"hosts"`
	EventIDs     []int    `toml:"event_ids" yaml:"event_ids"`
	Severities   []string `toml:"severities" yaml:"severities"`
	LogName      string   `toml:"log_name" yaml:"log_name"`
	Query        string   `toml:"query" yaml:"query"`
	Persistent   bool     `toml:"persistent" yaml:"persistent"`
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
	GracePeriod  Duration `toml:"grace_period" yaml:"grace_period"`
	RetryBackoff Duration `toml:"retry_backoff" yaml:"retry_backoff"`
	WarnInterval Duration `toml:"warn_interval" yaml:"warn_interval"`
}

// ProbeConfig selects how host reachability is checked.
type ProbeConfig struct {
	Mode    string   `toml:"mode" yaml:"mode"` // "nats" or "tcp"
	Port    int      `toml:"port" yaml:"port"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// DefaultListen is where the HTTP API listens unless configured otherwise.
const DefaultListen = "127.0.0.1:9180"

// APIConfig controls the HTTP listing/metrics endpoint. Setting Listen to
// "" disables it.
type APIConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
}

// NtfyConfig controls the ntfy notification target.
type NtfyConfig struct {
	URL         string            `toml:"url" yaml:"url"`
	PriorityMap map[string]string `toml:"priority_map" yaml:"priority_map"`
	AlertCodes  []int             `toml:"alert_codes" yaml:"alert_codes"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Duration wraps time.Duration for string parsing (e.g. "5s", "1m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			Name:           "eventwatch",
			SubjectPrefix:  "eventlog",
			RequestTimeout: Duration{10 * time.Second},
		},
		Monitor: MonitorConfig{
			LogName:      "Security",
			Persistent:   true,
			PollInterval: Duration{5 * time.Second},
			GracePeriod:  Duration{10 * time.Second},
			RetryBackoff: Duration{5 * time.Second},
			WarnInterval: Duration{time.Minute},
		},
		Probe: ProbeConfig{
			Mode:    "nats",
			Port:    135,
			Timeout: Duration{2 * time.Second},
		},
		API: APIConfig{
			Listen: DefaultListen,
		},
		Ntfy: NtfyConfig{
			PriorityMap: map[string]string{
				"error":         "high",
				"audit-failure": "high",
				"warning":       "default",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "eventwatch", "config.toml")
}

// Load reads configuration from the given path, falling back to defaults
// for any unset fields. If the file does not exist, returns defaults.
// Files ending in .yaml or .yml are parsed as YAML, anything else as TOML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be sensibly defaulted.
func (c *Config) Validate() error {
	var errs []error

	switch c.Probe.Mode {
	case "nats", "tcp":
	default:
		errs = append(errs, fmt.Errorf("probe.mode %q: must be nats or tcp", c.Probe.Mode))
	}
	if c.Probe.Mode == "tcp" && (c.Probe.Port <= 0 || c.Probe.Port > 65535) {
		errs = append(errs, fmt.Errorf("probe.port %d out of range", c.Probe.Port))
	}

	for name, d := range map[string]Duration{
		"monitor.poll_interval": c.Monitor.PollInterval,
		"monitor.grace_period":  c.Monitor.GracePeriod,
		"monitor.retry_backoff": c.Monitor.RetryBackoff,
		"probe.timeout":         c.Probe.Timeout,
		"nats.request_timeout":  c.NATS.RequestTimeout,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}

	return errors.Join(errs...)
}

// ShouldAlert returns true if records with the given event code are
// forwarded to ntfy. An empty alert_codes list forwards everything.
func (c *Config) ShouldAlert(code uint32) bool {
	if len(c.Ntfy.AlertCodes) == 0 {
		return true
	}
	for _, want := range c.Ntfy.AlertCodes {
		if uint32(want) == code {
			return true
		}
	}
	return false
}

// NtfyPriority maps a severity name to an ntfy priority string.
func (c *Config) NtfyPriority(severity string) string {
	if p, ok := c.Ntfy.PriorityMap[strings.ToLower(severity)]; ok {
		return p
	}
	return "default"
}
