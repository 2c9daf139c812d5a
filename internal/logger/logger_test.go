package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/disposable/internal/config"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(Config{Level: "info", Output: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("hello", zap.String("address", "alice@domain"))
	require.NoError(t, log.Sync())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "alice@domain", entry["address"])
	assert.Contains(t, entry, "timestamp")
	assert.Contains(t, entry, "caller")
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(Config{Level: "loud", Output: &buf})
	require.NoError(t, err)

	log.Debug("hidden")
	assert.Empty(t, buf.String())
	log.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_File(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "app.log")

	cfg := FromConfig(config.LogConfig{Level: "info", File: file})
	cfg.Output = &buf
	log, err := NewLogger(cfg)
	require.NoError(t, err)

	log.Info("to file")
	assert.FileExists(t, file)
	assert.Contains(t, buf.String(), "to file")
}

func TestSMTPErrorLog(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(Config{Level: "info", Output: &buf})
	require.NoError(t, err)

	adapter := NewSMTPErrorLog(log)
	adapter.Printf("accept error: %v\n", "boom")
	adapter.Println("handler", "error")

	out := buf.String()
	assert.Contains(t, out, "accept error: boom")
	assert.Contains(t, out, "handler error")
}
