package export

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/strato3003/jimny/pkg/compare"
	"github.com/strato3003/jimny/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fields   = []models.Field{"engine_rpm", "air_temp_c", "speed_kmh"}
	channels = []models.Channel{"21A0", "21A2"}
)

func sample() *models.Assignment {
	a := models.NewAssignment(fields)
	a.Set(models.CandidateMapping{
		Field:     "engine_rpm",
		Slot:      models.Slot{Channel: "21A2", Offset: 12},
		Transform: models.FormulaTransform(models.Formula{Label: "raw*8", Mult: 8, Div: 1}),
		Samples:   120,
		Override:  true,
	})
	a.Set(models.CandidateMapping{
		Field:     "air_temp_c",
		Slot:      models.Slot{Channel: "21A0", Offset: 8},
		Transform: models.LinearTransform(0.75, -48),
		Error:     0.125,
		Samples:   98,
	})
	return a
}

func TestMappingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.json")
	require.NoError(t, WriteMapping(path, sample()))

	got, err := ReadMapping(path, fields, channels)
	require.NoError(t, err)
	assert.True(t, sample().Equal(got))
	assert.Equal(t, []models.Field{"speed_kmh"}, got.NoFit())
}

func TestReadLegacyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sz_decode_mapping.json")
	legacy := `{
  "engine_rpm": {"page": "21A2", "offset": 12, "mult": 8, "div": 1, "add": 0, "label": "raw*8"},
  "air_temp_c": {"page": "21a0", "offset": 8, "mult": 0.75, "div": 1, "add": -48, "label": "linear"}
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	a, err := ReadMapping(path, fields, channels)
	require.NoError(t, err)
	rpm, ok := a.Get("engine_rpm")
	require.True(t, ok)
	assert.Equal(t, models.Slot{Channel: "21A2", Offset: 12}, rpm.Slot)
	assert.Equal(t, models.KindFormula, rpm.Transform.Kind)
	air, _ := a.Get("air_temp_c")
	assert.Equal(t, models.KindLinear, air.Transform.Kind)
	assert.Equal(t, models.Channel("21A0"), air.Slot.Channel)
	assert.InDelta(t, 6.0, air.Transform.Apply(72), 1e-12)
}

func TestReadMappingRejectsBadDocuments(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"unknown field":  `{"engine_rmp": {"channel": "21A2", "offset": 12, "mult": 8, "div": 1}}`,
		"unknown page":   `{"engine_rpm": {"channel": "21A9", "offset": 12, "mult": 8, "div": 1}}`,
		"shared slot":    `{"engine_rpm": {"channel": "21A2", "offset": 12, "mult": 8}, "speed_kmh": {"channel": "21A2", "offset": 12, "mult": 1}}`,
		"invalid json":   `{"engine_rpm": `,
		"negative index": `{"engine_rpm": {"channel": "21A2", "offset": -2, "mult": 8}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := ReadMapping(path, fields, channels)
			assert.Error(t, err)
		})
	}
}

func TestEntryOfInfiniteError(t *testing.T) {
	e := EntryOf(models.CandidateMapping{Error: math.Inf(1)})
	assert.Equal(t, -1.0, e.Error)
}

func TestExportResultWritesBothFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	a := sample()
	table := compare.Table{
		{Field: "engine_rpm", Assigned: true, Mapping: a.Mappings["engine_rpm"]},
		{Field: "air_temp_c", Assigned: true, Mapping: a.Mappings["air_temp_c"]},
		{Field: "speed_kmh"},
	}
	mappingPath := filepath.Join(dir, "mapping.json")
	csvPath := filepath.Join(dir, "errors.csv")
	require.NoError(t, ExportResult(mappingPath, csvPath, a, table, "test run"))

	_, err := os.Stat(mappingPath)
	require.NoError(t, err)

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)
	// the blank separator line is skipped by the reader
	require.Len(t, records, 6)
	assert.Equal(t, "# test run", records[0][0])
	assert.Equal(t, "# Max error: 0.125000", records[1][0])
	assert.Equal(t, "field", records[2][0])
	assert.Equal(t, []string{"engine_rpm", "21A2", "12", "raw*8", "raw*8", "0.000000", "120", "true"}, records[3])
	assert.Equal(t, "no fit", records[5][3])
}

func TestExportResultWithoutPathsIsNoop(t *testing.T) {
	assert.NoError(t, ExportResult("", "", sample(), nil, ""))
}
