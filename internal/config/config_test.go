package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "metrics:updates", cfg.Redis.Channel)
	assert.Equal(t, 10*time.Second, cfg.Simulator.TickEvery())
	assert.Equal(t, 85.0, cfg.Alerts.CPUWarning)
}

func TestLoadFile_OverridesAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  port: 9090
simulator:
  tick_interval: 20
  timezone: "Not/AZone"
  nodes:
    - { id: "n1", online: true, temperature: 30 }
alerts:
  temperature_warning: 60
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("MYSQL_DSN", "u:p@tcp(db)/x")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Simulator.TickEvery())
	assert.Equal(t, time.UTC, cfg.Simulator.Location())
	require.Len(t, cfg.Simulator.Nodes, 1)
	assert.Equal(t, "n1", cfg.Simulator.Nodes[0].ID)
	assert.Equal(t, 60.0, cfg.Alerts.TemperatureWarning)
	assert.Equal(t, 80.0, cfg.Alerts.TemperatureCritical, "unset keys keep defaults")
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.True(t, cfg.MySQL.Enabled)
}

func TestLoadFile_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
