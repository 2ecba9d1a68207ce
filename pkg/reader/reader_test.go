package reader

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asciiHex(dump string) string {
	return hex.EncodeToString([]byte(dump))
}

func TestDecodePage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		enc  Encoding
		want []byte
	}{
		{"ascii-hex with prompt", asciiHex("61A00069\r\r>"), ASCIIHex, []byte{0x61, 0xA0, 0x00, 0x69}},
		{"ascii-hex lower case", asciiHex("61a0"), ASCIIHex, []byte{0x61, 0xA0}},
		{"ascii-hex with spaces", asciiHex("61 A0 01"), ASCIIHex, []byte{0x61, 0xA0, 0x01}},
		{"hex", "61a00069", Hex, []byte{0x61, 0xA0, 0x00, 0x69}},
		{"hex with whitespace", "61 a0\r\n", Hex, []byte{0x61, 0xA0}},
		{"empty", "", ASCIIHex, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePage(tt.in, tt.enc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodePageMalformed(t *testing.T) {
	for _, tc := range []struct {
		in  string
		enc Encoding
	}{
		{asciiHex("61A"), ASCIIHex},
		{"61zz", Hex},
		{"616", Hex},
		{"6161", "base64"},
	} {
		_, err := DecodePage(tc.in, tc.enc)
		assert.ErrorIs(t, err, ErrMalformedPage, tc.in)
	}
}

func TestEncodePageRoundTrip(t *testing.T) {
	page := []byte{0x61, 0xA0, 0x00, 0xFF, 0x12}
	for _, enc := range []Encoding{ASCIIHex, Hex} {
		got, err := DecodePage(EncodePage(page, enc), enc)
		require.NoError(t, err)
		assert.Equal(t, page, got, string(enc))
	}
}

func TestParseEncoding(t *testing.T) {
	e, err := ParseEncoding("HEX")
	require.NoError(t, err)
	assert.Equal(t, Hex, e)
	e, err = ParseEncoding("")
	require.NoError(t, err)
	assert.Equal(t, ASCIIHex, e)
	_, err = ParseEncoding("base64")
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	input := strings.Join([]string{
		`{"frame": 1, "t": "00:00:01", "raw": {"21A0": "` + asciiHex("61A00069\r\r>") + `", "21FF": "` + asciiHex("00") + `"}, "values": {"engine_rpm": 840, "speed_kmh": null}}`,
		``,
		`{"frame": 2, "t": "00:00:02", "values": {"engine_rpm": 850}}`,
		`{"frame": 3, "t": "00:00:03", "raw": {"21A0": ""}, "values": {"engine_rpm": 860, "speed_kmh": 12.5, "other": 1}}`,
		`{"frame": 4, "raw": {}, "values": {"engine_rpm": 870}}`,
		`{"frame": 5, "raw": {"21A0": "` + asciiHex("61A0") + `"}, "values": {}}`,
		`{"frame": 6, "raw": {"21A0": ""}, "values": {"speed_kmh": null}}`,
	}, "\n")

	ds, err := Load(strings.NewReader(input), Options{
		Channels: []models.Channel{"21A0"},
		Fields:   []models.Field{"engine_rpm", "speed_kmh"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())

	first := ds.Observations[0]
	assert.Equal(t, 1, first.Frame)
	assert.Equal(t, "00:00:01", first.Time)
	assert.Equal(t, map[models.Channel][]byte{"21A0": {0x61, 0xA0, 0x00, 0x69}}, first.Raw)
	assert.Equal(t, map[models.Field]float64{"engine_rpm": 840}, first.Values)

	second := ds.Observations[1]
	assert.Empty(t, second.Raw)
	assert.Equal(t, map[models.Field]float64{"engine_rpm": 860, "speed_kmh": 12.5}, second.Values)

	// empty objects are skipped, objects holding only nulls are not
	last := ds.Observations[2]
	assert.Equal(t, 6, last.Frame)
	assert.Empty(t, last.Raw)
	assert.Empty(t, last.Values)

	assert.Equal(t, []models.Channel{"21A0"}, ds.Channels)
	assert.NotZero(t, ds.Digest)
}

func TestLoadDiscoversNamesAndHonoursLimit(t *testing.T) {
	input := `{"raw": {"B": "0102", "A": "0304"}, "values": {"y": 1, "x": 2}}
{"raw": {"A": "0506"}, "values": {"x": 3}}
{"raw": {"A": "0708"}, "values": {"x": 4}}
`
	ds, err := Load(strings.NewReader(input), Options{Encoding: Hex, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []models.Channel{"A", "B"}, ds.Channels)
	assert.Equal(t, []models.Field{"x", "y"}, ds.Fields)
}

func TestLoadErrorsCarryLineNumbers(t *testing.T) {
	_, err := Load(strings.NewReader("{\"raw\":{},\"values\":{}}\n{oops\n"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = Load(strings.NewReader(`{"raw":{"A":"zz"},"values":{}}`), Options{Encoding: Hex})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedPage)
	assert.Contains(t, err.Error(), "line 1")
}

func TestDigestFollowsContent(t *testing.T) {
	a, err := Load(strings.NewReader(`{"raw":{"A":"0102"},"values":{"x":1}}`), Options{Encoding: Hex})
	require.NoError(t, err)
	b, err := Load(strings.NewReader(`{"raw":{"A":"0102"},"values":{"x":2}}`), Options{Encoding: Hex})
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest, b.Digest)
}

func TestWriteThenLoadKeepsObservations(t *testing.T) {
	cfg := synth.DefaultConfig()
	cfg.Observations = 40
	ds := synth.Generate(cfg)

	for _, enc := range []Encoding{ASCIIHex, Hex} {
		var buf bytes.Buffer
		require.NoError(t, WriteJSONL(&buf, ds, enc))

		got, err := Load(&buf, Options{Encoding: enc, Channels: ds.Channels, Fields: ds.Fields})
		require.NoError(t, err)
		assert.Equal(t, ds.Observations, got.Observations, string(enc))
	}
}

func TestReadDatasetFromFile(t *testing.T) {
	cfg := synth.DefaultConfig()
	cfg.Observations = 10
	ds := synth.Generate(cfg)

	path := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, WriteFile(path, ds, ASCIIHex))

	got, err := ReadDataset(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 10, got.Len())
	assert.ElementsMatch(t, ds.Channels, got.Channels)

	_, err = ReadDataset(filepath.Join(t.TempDir(), "missing.jsonl"), Options{})
	assert.Error(t, err)
}
