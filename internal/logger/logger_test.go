package logger

import (
	"os"
	"path/filepath"
	"testing"

	"fleetsim/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "fleetsim.log")
	require.NoError(t, Init(config.LoggerConfig{Level: "debug", Output: "file", File: path}))

	Infof("tick batch size=%d", 3)
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tick batch size=3")
}

func TestSetLogger_Observed(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetLogger(zap.New(core))

	Debug("hidden")
	Warn("stress rejected", zap.String("node_id", "a"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "stress rejected", entries[0].Message)
	assert.Equal(t, "a", entries[0].ContextMap()["node_id"])
}
