package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	Configure("debug", "json", &buf)
	t.Cleanup(func() { Configure("info", "console", nil) })

	l := NewLogger("Pipeline").With("surface", "kitchen")
	l.Info("Outcome delivered", "session", "abc", "kind", "navigate", "dangling")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Pipeline", line["component"])
	assert.Equal(t, "kitchen", line["surface"])
	assert.Equal(t, "abc", line["session"])
	assert.Equal(t, "navigate", line["kind"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "Outcome delivered", line["message"])
	assert.NotContains(t, line, "dangling")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "warn", parseLevel("warning").String())
	assert.Equal(t, "info", parseLevel("bogus").String())
	assert.Equal(t, "debug", parseLevel("debug").String())
}
