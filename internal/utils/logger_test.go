package utils

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogger_JSONIncludesComponent(t *testing.T) {
	ConfigureLogging(LogConfig{Level: "debug", Format: "json"})
	t.Cleanup(func() { ConfigureLogging(LogConfig{Level: "info"}) })

	var buf bytes.Buffer
	SetLogOutput(&buf)

	GetLogger("cache").WithField("namespace", "page").Infof("evicted %d", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cache", entry["component"])
	assert.Equal(t, "page", entry["namespace"])
	assert.Equal(t, "evicted 3", entry["msg"])
	assert.Equal(t, "info", entry["level"])
}

func TestConfigureLogging_Level(t *testing.T) {
	ConfigureLogging(LogConfig{Level: "warn"})
	t.Cleanup(func() { ConfigureLogging(LogConfig{Level: "info"}) })

	var buf bytes.Buffer
	SetLogOutput(&buf)

	log := NewLogger()
	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.WithFields(map[string]interface{}{"service": "api"}).Warn("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "service=api")
}
