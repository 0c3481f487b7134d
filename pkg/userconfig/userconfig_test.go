package userconfig

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/keytrail/pkg/telemetry"
	"github.com/docker/keytrail/pkg/transport"
)

func TestConfig_Empty(t *testing.T) {
	t.Parallel()

	config, err := readConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	cfg, err := config.TelemetryConfig()
	require.NoError(t, err)
	assert.Equal(t, telemetry.DefaultConfig(), cfg)
	assert.Empty(t, config.JournalPath())
}

func TestConfig_Load(t *testing.T) {
	t.Parallel()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
version: v1
telemetry:
  report_enabled: false
  report_interval: 2m
  batch_size: 10
  retry_delay: 500ms
collector:
  endpoint: https://collector.example.com/v1/events
  api_key: secret
  compression: br
journal:
  enabled: true
  path: /tmp/journal.db
session_token_file: /tmp/session.jwt
`), 0o644))

	config, err := readConfig(configFile)
	require.NoError(t, err)

	cfg, err := config.TelemetryConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.ReportEnabled)
	assert.Equal(t, 2*time.Minute, cfg.ReportInterval)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 3, cfg.RetryAttempts)

	assert.Equal(t, transport.Config{
		Endpoint:    "https://collector.example.com/v1/events",
		APIKey:      "secret",
		Compression: transport.CompressionBrotli,
	}, config.TransportConfig())
	assert.Equal(t, "/tmp/journal.db", config.JournalPath())
	assert.Equal(t, "/tmp/session.jwt", config.SessionTokenFile)
}

func TestConfig_InvalidYAML(t *testing.T) {
	t.Parallel()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("telemetry: [unclosed"), 0o644))

	_, err := readConfig(configFile)
	require.Error(t, err)
}

func TestConfig_InvalidDuration(t *testing.T) {
	t.Parallel()

	config := &Config{Telemetry: Telemetry{RetryDelay: "soon", FlushDelay: "5 seconds"}}
	_, err := config.TelemetryConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry.retry_delay")
	assert.Contains(t, err.Error(), "telemetry.flush_delay")
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	t.Parallel()

	configFile := filepath.Join(t.TempDir(), "nested", "config.yaml")
	config := &Config{}
	require.NoError(t, config.Set("telemetry.batch_size", "20"))
	require.NoError(t, config.Set("collector.endpoint", "http://localhost:9000"))
	require.NoError(t, config.saveTo(configFile))

	loaded, err := readConfig(configFile)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, loaded.Version)
	require.NotNil(t, loaded.Telemetry.BatchSize)
	assert.Equal(t, 20, *loaded.Telemetry.BatchSize)
	assert.Equal(t, "http://localhost:9000", loaded.Collector.Endpoint)
}

func TestConfig_Set(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key     string
		value   string
		wantErr bool
	}{
		{"telemetry.enabled", "false", false},
		{"telemetry.enabled", "maybe", true},
		{"telemetry.report_interval", "10m", false},
		{"telemetry.report_interval", "10", true},
		{"telemetry.batch_size", "0", true},
		{"telemetry.batch_size", "many", true},
		{"telemetry.max_retry_delay", "1ms", true},
		{"collector.compression", "gzip", false},
		{"collector.compression", "zstd", true},
		{"journal.enabled", "true", false},
		{"unknown.key", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Parallel()

			config := &Config{}
			err := config.Set(tt.key, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, &Config{}, config, "a rejected value must not change the config")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"false disables", "false", false},
		{"true enables", "true", true},
		{"other values enable", "0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KEYTRAIL_TELEMETRY_ENABLED", tt.value)
			t.Setenv("KEYTRAIL_ENDPOINT", "http://env")
			t.Setenv("KEYTRAIL_API_KEY", "env-key")

			config := &Config{}
			config.ApplyEnv()
			require.NotNil(t, config.Telemetry.Enabled)
			assert.Equal(t, tt.want, *config.Telemetry.Enabled)
			assert.Equal(t, "http://env", config.Collector.Endpoint)
			assert.Equal(t, "env-key", config.Collector.APIKey)
		})
	}
}

func TestConfig_ApplyEnvUnset(t *testing.T) {
	t.Setenv("KEYTRAIL_TELEMETRY_ENABLED", "")

	config := &Config{}
	config.ApplyEnv()
	assert.Nil(t, config.Telemetry.Enabled)
}

func TestPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KEYTRAIL_CONFIG_DIR", dir)

	assert.Equal(t, filepath.Join(dir, "config.yaml"), Path())
}

func TestKeys(t *testing.T) {
	t.Parallel()

	keys := Keys()
	assert.Contains(t, keys, "telemetry.batch_size")
	assert.Contains(t, keys, "collector.endpoint")
	assert.IsIncreasing(t, keys)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("telemetry:\n  batch_size: 5\n"), 0o644))

	var (
		mu  sync.Mutex
		got []*Config
	)
	w := NewWatcher(configFile, func(c *Config) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, c)
	})
	w.debounce = 10 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	config := &Config{}
	require.NoError(t, config.Set("telemetry.batch_size", "7"))
	require.NoError(t, config.saveTo(configFile))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Telemetry.BatchSize != nil && *got[len(got)-1].Telemetry.BatchSize == 7
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	called := make(chan struct{}, 1)
	w := NewWatcher(configFile, func(*Config) {
		called <- struct{}{}
	})
	w.debounce = 10 * time.Millisecond
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o644))

	select {
	case <-called:
		t.Fatal("callback fired for an unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "config.yaml"), nil)
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
