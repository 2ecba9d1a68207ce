package compare

import (
	"fmt"
	"math"
	"strings"

	"github.com/pterm/pterm"

	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/scorer"
)

// Row is one field of an error table. Unassigned fields carry no mapping.
type Row struct {
	Field    models.Field
	Assigned bool
	Mapping  models.CandidateMapping
}

// Error returns the evaluated error, 0 for unassigned fields
func (r Row) Error() float64 {
	if !r.Assigned {
		return 0
	}
	return r.Mapping.Error
}

// Table is the per-field error table over the whole observation sequence
type Table []Row

// Evaluate re-scores every assigned mapping over the entire sequence with the
// same pairing the scorer ranks with, so a row reproduces the error the
// mapping was chosen with
func Evaluate(sc *scorer.Scorer, a *models.Assignment) Table {
	out := make(Table, 0, len(a.Fields))
	for _, f := range a.Fields {
		m, ok := a.Get(f)
		if !ok {
			out = append(out, Row{Field: f})
			continue
		}
		c, ok := sc.EvaluateAt(f, m.Slot, m.Transform)
		if !ok {
			c = m
			c.Error, c.Samples = math.Inf(1), 0
		}
		c.Override = m.Override
		out = append(out, Row{Field: f, Assigned: true, Mapping: c})
	}
	return out
}

// Max returns the largest error of the table, 0 when nothing is assigned
func (t Table) Max() float64 {
	max := 0.0
	for _, r := range t {
		if e := r.Error(); e > max {
			max = e
		}
	}
	return max
}

// Assigned counts the rows holding a mapping
func (t Table) Assigned() int {
	n := 0
	for _, r := range t {
		if r.Assigned {
			n++
		}
	}
	return n
}

// Worst returns the assigned row with the largest strictly positive error.
// The first such row wins a tie.
func (t Table) Worst() (Row, bool) {
	var worst Row
	found := false
	for _, r := range t {
		e := r.Error()
		if e <= 0 {
			continue
		}
		if !found || e > worst.Error() {
			worst, found = r, true
		}
	}
	return worst, found
}

// Get returns the row of a field
func (t Table) Get(f models.Field) (Row, bool) {
	for _, r := range t {
		if r.Field == f {
			return r, true
		}
	}
	return Row{}, false
}

// Assignment rebuilds an assignment from the evaluated rows
func (t Table) Assignment() *models.Assignment {
	fields := make([]models.Field, 0, len(t))
	for _, r := range t {
		fields = append(fields, r.Field)
	}
	a := models.NewAssignment(fields)
	for _, r := range t {
		if r.Assigned {
			a.Set(r.Mapping)
		}
	}
	return a
}

// ChangeKind classifies how a field differs between two assignments
type ChangeKind int

const (
	Same ChangeKind = iota
	Added
	Removed
	Moved
	Rescaled
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Moved:
		return "moved"
	case Rescaled:
		return "rescaled"
	default:
		return "same"
	}
}

// Change is one field of a diff
type Change struct {
	Field  models.Field
	Kind   ChangeKind
	Before *models.CandidateMapping
	After  *models.CandidateMapping
}

// Delta is the error difference After - Before, 0 unless both sides exist
func (c Change) Delta() float64 {
	if c.Before == nil || c.After == nil {
		return 0
	}
	return c.After.Error - c.Before.Error
}

// Diff compares two assignments field by field, in the field order of before
// followed by fields only after knows
func Diff(before, after *models.Assignment) []Change {
	var fields []models.Field
	seen := make(map[models.Field]bool)
	for _, a := range []*models.Assignment{before, after} {
		for _, f := range a.Fields {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}

	out := make([]Change, 0, len(fields))
	for _, f := range fields {
		ch := Change{Field: f}
		if m, ok := before.Get(f); ok {
			ch.Before = &m
		}
		if m, ok := after.Get(f); ok {
			ch.After = &m
		}
		switch {
		case ch.Before == nil && ch.After == nil:
			ch.Kind = Same
		case ch.Before == nil:
			ch.Kind = Added
		case ch.After == nil:
			ch.Kind = Removed
		case ch.Before.Slot != ch.After.Slot:
			ch.Kind = Moved
		case !sameTransform(ch.Before.Transform, ch.After.Transform):
			ch.Kind = Rescaled
		default:
			ch.Kind = Same
		}
		out = append(out, ch)
	}
	return out
}

// Changed drops the unchanged entries of a diff
func Changed(changes []Change) []Change {
	var out []Change
	for _, c := range changes {
		if c.Kind != Same {
			out = append(out, c)
		}
	}
	return out
}

const transformTolerance = 1e-9

func sameTransform(a, b models.Transform) bool {
	return math.Abs(a.Formula.Apply(0)-b.Formula.Apply(0)) < transformTolerance &&
		math.Abs(a.Formula.Apply(1)-b.Formula.Apply(1)) < transformTolerance
}

// DisplayDiff prints a diff with a change summary and a symbol per field
func DisplayDiff(title string, changes []Change) {
	pterm.DefaultSection.Println(title)

	changed := Changed(changes)
	pterm.Info.Printf("Changed fields: %d / %d\n", len(changed), len(changes))
	if len(changed) == 0 {
		pterm.Success.Println("Both mappings agree")
		return
	}

	maxAbs := 0.0
	for _, c := range changed {
		maxAbs = math.Max(maxAbs, math.Abs(c.Delta()))
	}

	var result strings.Builder
	for _, c := range changed {
		result.WriteString(getDiffSymbol(c.Delta(), maxAbs))
		result.WriteString(fmt.Sprintf("%-28s %-9s %s → %s\n", c.Field, c.Kind, describe(c.Before), describe(c.After)))
	}

	result.WriteString("\nLegend: ")
	result.WriteString(pterm.FgGreen.Sprint("▼▼") + " Much Better  ")
	result.WriteString(pterm.FgCyan.Sprint("▼ ") + " Better  ")
	result.WriteString(pterm.FgGray.Sprint("··") + " Same Error  ")
	result.WriteString(pterm.FgYellow.Sprint("▲ ") + " Worse  ")
	result.WriteString(pterm.FgRed.Sprint("▲▲") + " Much Worse")

	pterm.DefaultBox.Println(result.String())
}

func describe(m *models.CandidateMapping) string {
	if m == nil {
		return "no fit"
	}
	return fmt.Sprintf("%s %s (err %.4f)", m.Slot, m.Transform.Describe(), m.Error)
}

func getDiffSymbol(val, maxAbs float64) string {
	if val == 0 || maxAbs == 0 {
		return pterm.FgGray.Sprint("·· ")
	}

	normalized := val / maxAbs

	if normalized < -0.5 {
		return pterm.FgGreen.Sprint("▼▼ ")
	} else if normalized < -0.1 {
		return pterm.FgCyan.Sprint("▼  ")
	} else if normalized > 0.5 {
		return pterm.FgRed.Sprint("▲▲ ")
	} else if normalized > 0.1 {
		return pterm.FgYellow.Sprint("▲  ")
	}

	return pterm.FgGray.Sprint("·  ")
}
