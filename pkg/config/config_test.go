package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/strato3003/jimny/pkg/assign"
	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jimny.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, models.DefaultChannels, cfg.ChannelList())
	assert.Equal(t, models.DefaultFields, cfg.FieldList())
	assert.Equal(t, models.DefaultFormulas, cfg.FormulaTable())
	assert.Equal(t, assign.Hybrid, cfg.Policy())
	assert.Equal(t, reader.ASCIIHex, cfg.Encoding())

	overrides, err := cfg.PriorityOverrides()
	require.NoError(t, err)
	assert.Equal(t, models.DefaultOverrides, overrides)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.Len(t, rules, 3)

	ro := cfg.RefineOptions()
	assert.Equal(t, 10, ro.Iterations)
	assert.Equal(t, 0.001, ro.Threshold)
	ao := cfg.AssignOptions()
	assert.Equal(t, assign.DefaultOptions(), ao)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `engine:
  policy: by-shape
  iterations: 3
  linear_fit: false
input:
  raw_encoding: hex
exclude:
  - "engine_rpm:21a2:12"
logging:
  level: debug
  format: json
store:
  path: runs.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, assign.ByShape, cfg.Policy())
	assert.Equal(t, 3, cfg.Engine.Iterations)
	assert.False(t, cfg.ScorerOptions().LinearFit)
	assert.Equal(t, 60, cfg.Engine.MaxOffset)
	assert.Equal(t, reader.Hex, cfg.Encoding())
	assert.Equal(t, "runs.db", cfg.Store.Path)
	assert.Len(t, cfg.Fields, 20)

	excl, err := cfg.Exclusions()
	require.NoError(t, err)
	require.Len(t, excl, 1)
	assert.Equal(t, "engine_rpm:21A2:12", excl[0].String())

	logger := cfg.Logger()
	assert.Equal(t, pterm.LogLevelDebug, logger.Level)
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"odd max offset", "engine:\n  max_offset: 61\n", "max_offset"},
		{"zero iterations", "engine:\n  iterations: 0\n", "iterations"},
		{"unknown policy", "engine:\n  policy: greedy\n", "policy"},
		{"unknown encoding", "input:\n  raw_encoding: base64\n", "raw_encoding"},
		{"typo in override", "overrides:\n  - {field: engine_rmp, channel: 21A2, offset: 12, formula: raw*8}\n", "engine_rpm"},
		{"unknown formula", "overrides:\n  - {field: engine_rpm, channel: 21A2, offset: 12, formula: raw*9}\n", "unknown formula"},
		{"odd override offset", "overrides:\n  - {field: engine_rpm, channel: 21A2, offset: 13, formula: raw*8}\n", "even"},
		{"duplicate field", "fields: [a, b, a]\noverrides: []\nnormalize: []\n", "duplicate"},
		{"bad rule", "normalize:\n  - {field: battery_v, above: 10, below: 5, divisor: 10}\n", "below > above"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadReportsReadAndParseErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read")

	_, err = Load(writeConfig(t, "engine: [1, 2\n"))
	assert.ErrorContains(t, err, "failed to parse")
}

func TestParseExclusionsSuggestsNames(t *testing.T) {
	_, err := ParseExclusions([]string{"speed_kmh:21A7:4"}, models.DefaultFields, models.DefaultChannels)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnknownChannel)

	_, err = ParseExclusions([]string{"speed_kmh:21A2"}, models.DefaultFields, models.DefaultChannels)
	assert.ErrorIs(t, err, models.ErrBadExclusion)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]pterm.LogLevel{
		"trace": pterm.LogLevelTrace,
		"DEBUG": pterm.LogLevelDebug,
		"":      pterm.LogLevelInfo,
		"warn":  pterm.LogLevelWarn,
		"error": pterm.LogLevelError,
		"off":   pterm.LogLevelDisabled,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
