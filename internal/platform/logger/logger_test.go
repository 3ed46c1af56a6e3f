package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("json handler filters below level", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewWithWriter(&buf, "warn", "json")
		log.Info("hidden")
		log.Warn("shown", "vault_id", "v1")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "shown", line["msg"])
		assert.Equal(t, "vigil", line["service"])
		assert.Equal(t, "v1", line["vault_id"])
	})

	t.Run("text handler", func(t *testing.T) {
		var buf bytes.Buffer
		NewWithWriter(&buf, "debug", "text").Debug("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})
}
