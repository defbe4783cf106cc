package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func envMap(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

// TEST100: Defaults are valid
func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "plugview-helper", filepath.Base(cfg.HelperPath))
	assert.Equal(t, 3*time.Second, cfg.StopTimeout)
	assert.Equal(t, 16_777_216, cfg.Limits.MaxFrame)
}

// TEST101: YAML overlays the defaults, leaving unset keys alone
func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
helper_path: /opt/plugview/helper
url: http://127.0.0.1:5173/
stop_timeout: 500ms
limits:
  max_frame: 4096
watch: true
asset_dir: ./ui
log_level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/plugview/helper", cfg.HelperPath)
	assert.Equal(t, "http://127.0.0.1:5173/", cfg.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.StopTimeout)
	assert.Equal(t, 4096, cfg.Limits.MaxFrame)
	assert.True(t, cfg.Watch)
	assert.Equal(t, 800, cfg.Width, "unset keys keep their defaults")
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)
}

// TEST102: Unknown keys, unreadable files and empty documents
func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("helper_pth: /x\n"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "helper_pth")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = Load(empty)
	assert.NoError(t, err)
}

// TEST103: PLUGVIEW_* variables override the file
func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{
		"PLUGVIEW_URL":          "app://editor",
		"PLUGVIEW_HEADLESS":     "true",
		"PLUGVIEW_STOP_TIMEOUT": "10s",
		"PLUGVIEW_LOG_LEVEL":    "",
	})))
	assert.Equal(t, "app://editor", cfg.URL)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 10*time.Second, cfg.StopTimeout)
	assert.Equal(t, "info", cfg.LogLevel, "empty values are ignored")

	err := cfg.ApplyEnv(envMap(map[string]string{"PLUGVIEW_WATCH": "maybe"}))
	assert.ErrorContains(t, err, "PLUGVIEW_WATCH")
	err = cfg.ApplyEnv(envMap(map[string]string{"PLUGVIEW_POLL_INTERVAL": "soon"}))
	assert.ErrorContains(t, err, "PLUGVIEW_POLL_INTERVAL")
}

// TEST104: Validate reports every problem at once
func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HelperPath = ""
	cfg.Width = 0
	cfg.StopTimeout = 0
	cfg.Watch = true
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"helper_path", "invalid size", "stop_timeout", "asset_dir", "log_level"} {
		assert.ErrorContains(t, err, want)
	}
}

// TEST105: NewLogger honors the configured level
func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	cfg.LogLevel = "loud"
	_, err = cfg.NewLogger()
	assert.Error(t, err)
}
