package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POS_CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Service.Port)
	assert.Equal(t, 20*time.Second, cfg.Print.RetryInterval)
	assert.Equal(t, 3, cfg.Print.AlertThreshold)
	assert.Equal(t, 60*time.Second, cfg.Orders.Interval)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("POS_CONFIG_FILE", "")
	t.Setenv("POS_SERVICE_PORT", "9000")
	t.Setenv("POS_TERMINAL_PROVIDER", "Windcave")
	t.Setenv("POS_TERMINAL_CONFIG", `{"station_id":"3801585856","poll_interval_ms":1000}`)
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, "Windcave", cfg.Terminal.Provider)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	raw, err := cfg.TerminalRaw()
	require.NoError(t, err)
	assert.JSONEq(t, `{"station_id":"3801585856","poll_interval_ms":1000}`, string(raw))
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
terminal:
  provider: Tyro
  config:
    merchant_id: "123"
    terminal_id: "4"
print:
  retry_interval: 5s
  alert_threshold: 10
`), 0o644))
	t.Setenv("POS_CONFIG_FILE", path)
	t.Setenv("POS_SERVICE_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Service.Port, "env values survive when the file does not set them")
	assert.Equal(t, "Tyro", cfg.Terminal.Provider)
	assert.Equal(t, 5*time.Second, cfg.Print.RetryInterval)
	assert.Equal(t, 10, cfg.Print.AlertThreshold)
	assert.Equal(t, "123", cfg.Terminal.Config["merchant_id"])
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("POS_CONFIG_FILE", "")
	t.Setenv("POS_TERMINAL_PROVIDER", "Square")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("POS_TERMINAL_PROVIDER", "")
	t.Setenv("KAFKA_ENABLED", "true")
	_, err = Load()
	assert.Error(t, err, "kafka enabled without brokers")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("POS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
