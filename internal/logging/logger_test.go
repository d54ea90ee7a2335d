package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "afipws.log")

	logger, err := New(Config{Level: "debug", OutputPath: path, Format: "json"})
	require.NoError(t, err)
	logger.Info("ticket refreshed")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"ticket refreshed"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	logger, err := New(Config{Level: "loud", OutputPath: "stderr", Format: "console"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
	assert.True(t, logger.Core().Enabled(0))
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
