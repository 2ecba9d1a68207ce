package export

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pterm/pterm"

	"github.com/strato3003/jimny/pkg/compare"
	"github.com/strato3003/jimny/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is one field of a mapping document. Page is the older name of
// Channel and is only read.
type Entry struct {
	Channel  string  `json:"channel"`
	Page     string  `json:"page,omitempty"`
	Offset   int     `json:"offset"`
	Mult     float64 `json:"mult"`
	Div      float64 `json:"div"`
	Add      float64 `json:"add"`
	Label    string  `json:"label"`
	Kind     string  `json:"kind,omitempty"`
	Error    float64 `json:"error"`
	Samples  int     `json:"samples"`
	Override bool    `json:"override,omitempty"`
}

// Document maps field names to their decoding. Unassigned fields are absent.
type Document map[string]Entry

// FromAssignment builds the document of an assignment
func FromAssignment(a *models.Assignment) Document {
	doc := make(Document, len(a.Mappings))
	for _, f := range a.Fields {
		m, ok := a.Get(f)
		if !ok {
			continue
		}
		doc[string(f)] = EntryOf(m)
	}
	return doc
}

// EntryOf converts one mapping
func EntryOf(m models.CandidateMapping) Entry {
	e := Entry{
		Channel:  string(m.Slot.Channel),
		Offset:   m.Slot.Offset,
		Mult:     m.Transform.Mult,
		Div:      m.Transform.Div,
		Add:      m.Transform.Add,
		Label:    m.Transform.Label,
		Kind:     m.Transform.Kind.String(),
		Samples:  m.Samples,
		Override: m.Override,
	}
	if math.IsInf(m.Error, 0) || math.IsNaN(m.Error) {
		e.Error = -1
	} else {
		e.Error = m.Error
	}
	return e
}

// Assignment resolves the document against known fields and channels
func (d Document) Assignment(fields []models.Field, channels []models.Channel) (*models.Assignment, error) {
	a := models.NewAssignment(fields)
	for name, e := range d {
		f, err := models.ResolveField(name, fields)
		if err != nil {
			return nil, err
		}
		chName := e.Channel
		if chName == "" {
			chName = e.Page
		}
		ch, err := models.ResolveChannel(chName, channels)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if e.Offset < 0 {
			return nil, fmt.Errorf("%s: negative offset %d", name, e.Offset)
		}
		div := e.Div
		if div == 0 {
			div = 1
		}
		formula := models.Formula{Label: e.Label, Mult: e.Mult, Div: div, Add: e.Add}
		tr := models.FormulaTransform(formula)
		if e.Kind == models.KindLinear.String() || (e.Kind == "" && e.Label == "linear") {
			tr.Kind = models.KindLinear
		}
		a.Set(models.CandidateMapping{
			Field:     f,
			Slot:      models.Slot{Channel: ch, Offset: e.Offset},
			Transform: tr,
			Error:     e.Error,
			Samples:   e.Samples,
			Override:  e.Override,
		})
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// WriteMapping writes the mapping document of an assignment
func WriteMapping(filename string, a *models.Assignment) error {
	data, err := json.MarshalIndent(FromAssignment(a), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, append(data, '\n'), 0644)
}

// ReadMapping reads a mapping document
func ReadMapping(filename string, fields []models.Field, channels []models.Channel) (*models.Assignment, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	a, err := doc.Assignment(fields, channels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return a, nil
}

// WriteErrorTable writes the per-field error table as CSV
func WriteErrorTable(filename string, table compare.Table, title string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	// Write metadata as comments
	writer.Write([]string{fmt.Sprintf("# %s", title)})
	writer.Write([]string{fmt.Sprintf("# Max error: %s", strconv.FormatFloat(table.Max(), 'f', 6, 64))})
	writer.Write([]string{""})

	writer.Write([]string{"field", "channel", "offset", "transform", "label", "error", "samples", "override"})
	for _, r := range table {
		if !r.Assigned {
			writer.Write([]string{string(r.Field), "", "", "no fit", "", "", "0", "false"})
			continue
		}
		m := r.Mapping
		writer.Write([]string{
			string(r.Field),
			string(m.Slot.Channel),
			strconv.Itoa(m.Slot.Offset),
			m.Transform.Describe(),
			m.Transform.Label,
			strconv.FormatFloat(m.Error, 'f', 6, 64),
			strconv.Itoa(m.Samples),
			strconv.FormatBool(m.Override),
		})
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

// ExportResult writes the mapping document and the error table, skipping
// empty paths
func ExportResult(mappingPath, csvPath string, a *models.Assignment, table compare.Table, title string) error {
	if mappingPath == "" && csvPath == "" {
		return nil
	}
	spinner, _ := pterm.DefaultSpinner.Start("Exporting mapping...")

	for _, p := range []string{mappingPath, csvPath} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			spinner.Fail(fmt.Sprintf("Failed to create %s", filepath.Dir(p)))
			return err
		}
	}
	if mappingPath != "" {
		if err := WriteMapping(mappingPath, a); err != nil {
			spinner.Fail(fmt.Sprintf("Failed to write %s", mappingPath))
			return err
		}
	}
	if csvPath != "" {
		if err := WriteErrorTable(csvPath, table, title); err != nil {
			spinner.Fail(fmt.Sprintf("Failed to write %s", csvPath))
			return err
		}
	}

	spinner.Success("Mapping exported")
	return nil
}
