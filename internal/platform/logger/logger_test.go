package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	setup(&buf, "warn", false)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log.Info().Msg("dropped")
	log.Warn().Str("event_id", "e1").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "e1", line["event_id"])
	assert.Equal(t, "batch-invite", line["service"])
}

func TestSetup_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	setup(&buf, "loud", false)

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
