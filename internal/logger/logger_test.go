package logger

import (
	"equity-cycle-bot/internal/models"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSBeforeInit(t *testing.T) {
	assert.NotNil(t, S())
	assert.NotNil(t, ForWorker("control"))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	l := New(models.LogConfig{Level: "debug", Output: "file", File: path, MaxSize: 1})

	l.Info("cycle started")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cycle started")
	assert.Contains(t, string(data), "INFO")
}

func TestForWorkerAddsField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	InitLogger(models.LogConfig{Level: "info", Output: "file", File: path})
	t.Cleanup(func() {
		mu.Lock()
		baseLogger = nil
		mu.Unlock()
	})

	ForWorker("sell").Info("escalation pass")
	_ = L().Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"worker": "sell"`)
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	l := New(models.LogConfig{Level: "loud", Output: "file", File: path})
	l.Debug("hidden")
	l.Info("shown")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}
