// Package userconfig provides user-level configuration for keytrail.
// This configuration is stored in ~/.config/keytrail/config.yaml and holds
// the telemetry settings, the collector connection and local state paths.
package userconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"

	"github.com/docker/keytrail/pkg/paths"
	"github.com/docker/keytrail/pkg/telemetry"
	"github.com/docker/keytrail/pkg/transport"
)

// CurrentVersion is the current version of the user config format
const CurrentVersion = "v1"

// Telemetry holds the pipeline settings. Unset fields keep the built-in
// defaults. Durations use Go syntax ("5m", "1s").
type Telemetry struct {
	Enabled               *bool  `yaml:"enabled,omitempty"`
	ReportEnabled         *bool  `yaml:"report_enabled,omitempty"`
	ReportInterval        string `yaml:"report_interval,omitempty"`
	BatchSize             *int   `yaml:"batch_size,omitempty"`
	RetryAttempts         *int   `yaml:"retry_attempts,omitempty"`
	RetryDelay            string `yaml:"retry_delay,omitempty"`
	MaxRetryDelay         string `yaml:"max_retry_delay,omitempty"`
	RequestTimeout        string `yaml:"request_timeout,omitempty"`
	FlushDelay            string `yaml:"flush_delay,omitempty"`
	QueueCapacity         *int   `yaml:"queue_capacity,omitempty"`
	FailedQueueMultiplier *int   `yaml:"failed_queue_multiplier,omitempty"`
	SuggestionMaxAge      string `yaml:"suggestion_max_age,omitempty"`
	SessionGap            string `yaml:"session_gap,omitempty"`
}

// Collector describes where reports are sent.
type Collector struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	APIKey      string `yaml:"api_key,omitempty"`
	Header      string `yaml:"header,omitempty"`
	Compression string `yaml:"compression,omitempty"`
}

// Journal configures the local record of flush outcomes.
type Journal struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// Config represents the user-level keytrail configuration
type Config struct {
	// Version is the config format version
	Version   string    `yaml:"version,omitempty"`
	Telemetry Telemetry `yaml:"telemetry,omitempty"`
	Collector Collector `yaml:"collector,omitempty"`
	Journal   Journal   `yaml:"journal,omitempty"`
	// SessionTokenFile is the token left by the authentication subsystem
	SessionTokenFile string `yaml:"session_token_file,omitempty"`
	// StateDir holds the device identifier; defaults to the config directory
	StateDir string `yaml:"state_dir,omitempty"`
}

// Path returns the path to the config file
func Path() string {
	return filepath.Join(paths.GetConfigDir(), "config.yaml")
}

// Load loads the user configuration from the config file. Environment
// overrides are not applied; see ApplyEnv.
func Load() (*Config, error) {
	return readConfig(Path())
}

// readConfig reads and parses the config file, returning an empty config if file doesn't exist.
func readConfig(configPath string) (*Config, error) {
	config := &Config{}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv applies the environment overrides. Only an explicit "false"
// disables telemetry through KEYTRAIL_TELEMETRY_ENABLED.
func (c *Config) ApplyEnv() {
	if env := os.Getenv("KEYTRAIL_TELEMETRY_ENABLED"); env != "" {
		enabled := env != "false"
		c.Telemetry.Enabled = &enabled
	}
	if env := os.Getenv("KEYTRAIL_ENDPOINT"); env != "" {
		c.Collector.Endpoint = env
	}
	if env := os.Getenv("KEYTRAIL_API_KEY"); env != "" {
		c.Collector.APIKey = env
	}
}

// Save saves the configuration to the config file
func (c *Config) Save() error {
	return c.saveTo(Path())
}

func (c *Config) saveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Ensure version is always set to current version when saving
	c.Version = CurrentVersion

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return atomic.WriteFile(path, bytes.NewReader(data))
}

// TelemetryConfig returns the pipeline configuration: the defaults with the
// configured fields applied, validated.
func (c *Config) TelemetryConfig() (telemetry.Config, error) {
	p, err := c.Telemetry.Patch()
	if err != nil {
		return telemetry.Config{}, err
	}
	cfg := p.Apply(telemetry.DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return telemetry.Config{}, err
	}
	return cfg, nil
}

// Patch converts the file settings to a telemetry patch.
func (t Telemetry) Patch() (telemetry.Patch, error) {
	p := telemetry.Patch{
		Enabled:               t.Enabled,
		ReportEnabled:         t.ReportEnabled,
		BatchSize:             t.BatchSize,
		RetryAttempts:         t.RetryAttempts,
		QueueCapacity:         t.QueueCapacity,
		FailedQueueMultiplier: t.FailedQueueMultiplier,
	}

	var errs []error
	duration := func(name, value string) *time.Duration {
		if value == "" {
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("telemetry.%s: %w", name, err))
			return nil
		}
		return &d
	}
	p.ReportInterval = duration("report_interval", t.ReportInterval)
	p.RetryDelay = duration("retry_delay", t.RetryDelay)
	p.MaxRetryDelay = duration("max_retry_delay", t.MaxRetryDelay)
	p.RequestTimeout = duration("request_timeout", t.RequestTimeout)
	p.FlushDelay = duration("flush_delay", t.FlushDelay)
	p.SuggestionMaxAge = duration("suggestion_max_age", t.SuggestionMaxAge)
	p.SessionGap = duration("session_gap", t.SessionGap)

	if len(errs) > 0 {
		return telemetry.Patch{}, errors.Join(errs...)
	}
	return p, nil
}

// TransportConfig returns the collector settings for the transport.
func (c *Config) TransportConfig() transport.Config {
	return transport.Config{
		Endpoint:    c.Collector.Endpoint,
		APIKey:      c.Collector.APIKey,
		Header:      c.Collector.Header,
		Compression: c.Collector.Compression,
	}
}

// JournalPath returns the journal database location, or "" when the journal
// is disabled.
func (c *Config) JournalPath() string {
	if !c.Journal.Enabled {
		return ""
	}
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(paths.GetDataDir(), "journal.db")
}

type setter func(c *Config, value string) error

func boolSetter(field func(*Config) **bool) setter {
	return func(c *Config, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*field(c) = &b
		return nil
	}
}

func intSetter(field func(*Config) **int) setter {
	return func(c *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*field(c) = &n
		return nil
	}
}

func durationSetter(field func(*Config) *string) setter {
	return func(c *Config, value string) error {
		if _, err := time.ParseDuration(value); err != nil {
			return err
		}
		*field(c) = value
		return nil
	}
}

func stringSetter(field func(*Config) *string) setter {
	return func(c *Config, value string) error {
		*field(c) = value
		return nil
	}
}

var setters = map[string]setter{
	"telemetry.enabled":                 boolSetter(func(c *Config) **bool { return &c.Telemetry.Enabled }),
	"telemetry.report_enabled":          boolSetter(func(c *Config) **bool { return &c.Telemetry.ReportEnabled }),
	"telemetry.report_interval":         durationSetter(func(c *Config) *string { return &c.Telemetry.ReportInterval }),
	"telemetry.batch_size":              intSetter(func(c *Config) **int { return &c.Telemetry.BatchSize }),
	"telemetry.retry_attempts":          intSetter(func(c *Config) **int { return &c.Telemetry.RetryAttempts }),
	"telemetry.retry_delay":             durationSetter(func(c *Config) *string { return &c.Telemetry.RetryDelay }),
	"telemetry.max_retry_delay":         durationSetter(func(c *Config) *string { return &c.Telemetry.MaxRetryDelay }),
	"telemetry.request_timeout":         durationSetter(func(c *Config) *string { return &c.Telemetry.RequestTimeout }),
	"telemetry.flush_delay":             durationSetter(func(c *Config) *string { return &c.Telemetry.FlushDelay }),
	"telemetry.queue_capacity":          intSetter(func(c *Config) **int { return &c.Telemetry.QueueCapacity }),
	"telemetry.failed_queue_multiplier": intSetter(func(c *Config) **int { return &c.Telemetry.FailedQueueMultiplier }),
	"telemetry.suggestion_max_age":      durationSetter(func(c *Config) *string { return &c.Telemetry.SuggestionMaxAge }),
	"telemetry.session_gap":             durationSetter(func(c *Config) *string { return &c.Telemetry.SessionGap }),
	"collector.endpoint":                stringSetter(func(c *Config) *string { return &c.Collector.Endpoint }),
	"collector.api_key":                 stringSetter(func(c *Config) *string { return &c.Collector.APIKey }),
	"collector.header":                  stringSetter(func(c *Config) *string { return &c.Collector.Header }),
	"collector.compression": func(c *Config, value string) error {
		if err := (transport.Config{Compression: value}).Validate(); err != nil {
			return err
		}
		c.Collector.Compression = value
		return nil
	},
	"journal.enabled": func(c *Config, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.Journal.Enabled = b
		return nil
	},
	"journal.path":       stringSetter(func(c *Config) *string { return &c.Journal.Path }),
	"session_token_file": stringSetter(func(c *Config) *string { return &c.SessionTokenFile }),
	"state_dir":          stringSetter(func(c *Config) *string { return &c.StateDir }),
}

// Keys returns the settable keys, sorted.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Set updates one setting addressed by its dotted key. The resulting
// telemetry settings must still be valid.
func (c *Config) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown key %q (valid keys: %s)", key, strings.Join(Keys(), ", "))
	}

	next := *c
	if err := set(&next, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if _, err := next.TelemetryConfig(); err != nil {
		return err
	}
	*c = next
	return nil
}
