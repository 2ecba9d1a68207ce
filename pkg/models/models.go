package models

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// MinSamples is the minimum number of paired instants a candidate needs
// before it is considered at all.
const MinSamples = 5

// Channel names one of the diagnostic pages (message types) of the stream
type Channel string

// Field names a physical quantity whose true value is intermittently known
type Field string

// Observation is one merged record: the raw page buffers and reference
// values known at a single capture instant. A missing map entry means absent.
type Observation struct {
	Frame  int
	Time   string
	Raw    map[Channel][]byte
	Values map[Field]float64
}

// Dataset is the ordered, read-only input of a run
type Dataset struct {
	Channels     []Channel
	Fields       []Field
	Observations []Observation
	Digest       uint64
}

// Len returns the number of observations
func (d *Dataset) Len() int {
	return len(d.Observations)
}

// DigestHex renders the dataset digest as a fixed-width hex string
func (d *Dataset) DigestHex() string {
	return fmt.Sprintf("%016x", d.Digest)
}

// Slot is a (channel, byte offset) position of a 16-bit window
type Slot struct {
	Channel Channel
	Offset  int
}

func (s Slot) String() string {
	return fmt.Sprintf("%s:%d", s.Channel, s.Offset)
}

// Formula is an affine transform raw*Mult/Div + Add from the fixed table
type Formula struct {
	Label string
	Mult  float64
	Div   float64
	Add   float64
}

// Apply converts a raw 16-bit value with the formula
func (f Formula) Apply(raw float64) float64 {
	div := f.Div
	if div == 0 {
		div = 1
	}
	return raw*f.Mult/div + f.Add
}

// TransformKind tells how a transform was obtained
type TransformKind int

const (
	KindFormula TransformKind = iota
	KindLinear
)

func (k TransformKind) String() string {
	switch k {
	case KindLinear:
		return "linear"
	default:
		return "formula"
	}
}

// Transform is the affine conversion of a candidate. Linear fits keep Div = 1.
type Transform struct {
	Kind TransformKind
	Formula
}

// LinearTransform builds the transform of a least-squares fit
func LinearTransform(scale, intercept float64) Transform {
	return Transform{
		Kind:    KindLinear,
		Formula: Formula{Label: "linear", Mult: scale, Div: 1, Add: intercept},
	}
}

// FormulaTransform wraps a table formula
func FormulaTransform(f Formula) Transform {
	return Transform{Kind: KindFormula, Formula: f}
}

// Describe renders the transform the way it would be written in a decoder
func (t Transform) Describe() string {
	var b strings.Builder
	b.WriteString("raw")
	div := t.Div
	if div == 0 {
		div = 1
	}
	if t.Mult != 1 {
		b.WriteString(fmt.Sprintf("*%s", trimFloat(t.Mult)))
	}
	if div != 1 {
		b.WriteString(fmt.Sprintf("/%s", trimFloat(div)))
	}
	if t.Add > 0 {
		b.WriteString(fmt.Sprintf(" + %s", trimFloat(t.Add)))
	} else if t.Add < 0 {
		b.WriteString(fmt.Sprintf(" - %s", trimFloat(-t.Add)))
	}
	return b.String()
}

func trimFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.0f", v)
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}

// CandidateMapping is the hypothesis that Slot, converted with Transform,
// reproduces Field. Error is the mean absolute deviation over Samples instants.
type CandidateMapping struct {
	Field     Field
	Slot      Slot
	Transform Transform
	Error     float64
	Samples   int
	Override  bool
}

// Valid reports whether the candidate has enough paired samples
func (c CandidateMapping) Valid() bool {
	return c.Samples >= MinSamples && !math.IsNaN(c.Error) && !math.IsInf(c.Error, 0)
}

// Better orders candidates by error ascending, then sample count descending
func (c CandidateMapping) Better(o CandidateMapping) bool {
	if c.Error != o.Error {
		return c.Error < o.Error
	}
	return c.Samples > o.Samples
}

// ShapeCandidate is a slot ranked by scale-independent shape similarity
type ShapeCandidate struct {
	Slot        Slot
	Correlation float64
	Samples     int
}

// PriorityOverride is an externally known (field → slot, formula) fact
type PriorityOverride struct {
	Field   Field
	Slot    Slot
	Formula Formula
}

// Exclusion forbids a slot for one field
type Exclusion struct {
	Field Field
	Slot  Slot
}

func (e Exclusion) String() string {
	return fmt.Sprintf("%s:%s:%d", e.Field, e.Slot.Channel, e.Slot.Offset)
}

// ExclusionSet is an append-only set of exclusions, kept in insertion order
type ExclusionSet struct {
	entries []Exclusion
	index   map[Exclusion]struct{}
}

// NewExclusionSet builds a set seeded with the given entries
func NewExclusionSet(entries ...Exclusion) *ExclusionSet {
	s := &ExclusionSet{index: make(map[Exclusion]struct{})}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

// Add appends an exclusion; it returns false if it was already present
func (s *ExclusionSet) Add(e Exclusion) bool {
	if s.index == nil {
		s.index = make(map[Exclusion]struct{})
	}
	if _, ok := s.index[e]; ok {
		return false
	}
	s.index[e] = struct{}{}
	s.entries = append(s.entries, e)
	return true
}

// Excludes reports whether slot is forbidden for field
func (s *ExclusionSet) Excludes(field Field, slot Slot) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[Exclusion{Field: field, Slot: slot}]
	return ok
}

// Entries returns a copy of the exclusions in insertion order
func (s *ExclusionSet) Entries() []Exclusion {
	if s == nil {
		return nil
	}
	out := make([]Exclusion, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of exclusions
func (s *ExclusionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Assignment maps fields to candidates; distinct fields never share a slot.
// Fields absent from Mappings are "no fit".
type Assignment struct {
	Fields   []Field
	Mappings map[Field]CandidateMapping
}

// NewAssignment creates an empty assignment over fields
func NewAssignment(fields []Field) *Assignment {
	return &Assignment{
		Fields:   append([]Field(nil), fields...),
		Mappings: make(map[Field]CandidateMapping),
	}
}

// Get returns the mapping of field, if any
func (a *Assignment) Get(field Field) (CandidateMapping, bool) {
	m, ok := a.Mappings[field]
	return m, ok
}

// Set assigns a candidate to its field
func (a *Assignment) Set(c CandidateMapping) {
	a.Mappings[c.Field] = c
}

// NoFit lists the fields left unassigned, in field order
func (a *Assignment) NoFit() []Field {
	var out []Field
	for _, f := range a.Fields {
		if _, ok := a.Mappings[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Claimed returns the slots in use and the field holding each one
func (a *Assignment) Claimed() map[Slot]Field {
	out := make(map[Slot]Field, len(a.Mappings))
	for f, m := range a.Mappings {
		out[m.Slot] = f
	}
	return out
}

// Validate checks that no two fields share a slot
func (a *Assignment) Validate() error {
	seen := make(map[Slot]Field, len(a.Mappings))
	fields := make([]Field, 0, len(a.Mappings))
	for f := range a.Mappings {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	for _, f := range fields {
		m := a.Mappings[f]
		if other, ok := seen[m.Slot]; ok {
			return fmt.Errorf("slot %s assigned to both %s and %s", m.Slot, other, f)
		}
		seen[m.Slot] = f
	}
	return nil
}

// Equal reports whether two assignments map every field identically
func (a *Assignment) Equal(b *Assignment) bool {
	if len(a.Mappings) != len(b.Mappings) {
		return false
	}
	for f, m := range a.Mappings {
		o, ok := b.Mappings[f]
		if !ok || o != m {
			return false
		}
	}
	return true
}
