package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Formats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Options{Format: FormatJSON, Writer: &buf})
		require.NoError(t, err)

		logger.Info().Str("module", "src/index.ts").Msg("Module transformed")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "src/index.ts", entry["module"])
		assert.Equal(t, "Module transformed", entry["message"])
	})

	t.Run("console without colour off a terminal", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Options{Writer: &buf})
		require.NoError(t, err)

		logger.Info().Str("phase", "emit").Msg("Build phase finished")
		out := buf.String()
		assert.Contains(t, out, "Build phase finished")
		assert.Contains(t, out, "phase=emit")
		assert.NotContains(t, out, "\x1b[")
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := New(Options{Format: "xml"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log format")
	})
}

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		debug   bool
		info    bool
		warning bool
	}{
		{name: "default", opts: Options{}, debug: false, info: true, warning: true},
		{name: "debug", opts: Options{Debug: true}, debug: true, info: true, warning: true},
		{name: "quiet", opts: Options{Quiet: true}, debug: false, info: false, warning: true},
		{name: "debug wins over quiet", opts: Options{Debug: true, Quiet: true}, debug: true, info: true, warning: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Format = FormatJSON
			tt.opts.Writer = &buf
			logger, err := New(tt.opts)
			require.NoError(t, err)

			logger.Debug().Msg("d")
			assert.Equal(t, tt.debug, buf.Len() > 0)
			buf.Reset()
			logger.Info().Msg("i")
			assert.Equal(t, tt.info, buf.Len() > 0)
			buf.Reset()
			logger.Warn().Msg("w")
			assert.Equal(t, tt.warning, buf.Len() > 0)
		})
	}
}

func TestSetup_ReplacesGlobalLogger(t *testing.T) {
	previous, previousLevel := log.Logger, zerolog.GlobalLevel()
	defer func() {
		log.Logger = previous
		zerolog.SetGlobalLevel(previousLevel)
	}()

	var buf bytes.Buffer
	require.NoError(t, Setup(Options{Format: FormatJSON, Writer: &buf}))
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"message":"hello"`)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
