package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestConfigWatcherReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	initial := "assistant:\n  language_and_mode: English\n" + minimalHomeAssistant
	require.NoError(t, os.WriteFile(configPath, []byte(initial), 0644))

	cw, err := NewConfigWatcher(configPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer cw.Close()

	assert.Equal(t, "English", cw.GetCurrentConfig().Assistant.LanguageAndMode)

	updates := cw.Subscribe()
	updated := "assistant:\n  language_and_mode: Dutch\n" + minimalHomeAssistant
	require.NoError(t, os.WriteFile(configPath, []byte(updated), 0644))

	select {
	case cfg := <-updates:
		assert.Equal(t, "Dutch", cfg.Assistant.LanguageAndMode)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
	assert.Equal(t, "Dutch", cw.GetCurrentConfig().Assistant.LanguageAndMode)
}

func TestConfigWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(minimalHomeAssistant), 0644))

	cw, err := NewConfigWatcher(configPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer cw.Close()

	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: loud\n"+minimalHomeAssistant), 0644))
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, "info", cw.GetCurrentConfig().Logging.Level)
}

func TestNewConfigWatcherMissingFile(t *testing.T) {
	_, err := NewConfigWatcher(filepath.Join(t.TempDir(), "absent.yaml"), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestConfigWatcherCloseTwice(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(minimalHomeAssistant), 0644))

	cw, err := NewConfigWatcher(configPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, cw.Close())
	assert.NoError(t, cw.Close())
}
