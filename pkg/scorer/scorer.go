package scorer

import (
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/series"
)

// Options controls candidate generation
type Options struct {
	Formulas  []models.Formula
	LinearFit bool
	TopN      int
	Workers   int
}

// DefaultOptions returns the formula table with linear fitting enabled
func DefaultOptions() Options {
	return Options{
		Formulas:  models.DefaultFormulas,
		LinearFit: true,
		TopN:      20,
	}
}

// MeanAbsError averages |f(raw) - ref| over the instants where the reference
// was observed directly and the raw series holds a value, possibly retained.
// A carried-forward reference value is not a sample. With no such instant the
// error is +Inf.
func MeanAbsError(ref, raw series.Series, f models.Formula) (float64, int) {
	n := ref.Len()
	if raw.Len() < n {
		n = raw.Len()
	}
	sum := 0.0
	count := 0
	for i := 0; i < n; i++ {
		if !ref.Direct[i] || !raw.Known(i) {
			continue
		}
		sum += math.Abs(f.Apply(raw.Values[i]) - ref.Values[i])
		count++
	}
	if count == 0 {
		return math.Inf(1), 0
	}
	return sum / float64(count), count
}

// Evaluate scores an arbitrary transform at a slot, without the sample minimum
func Evaluate(field models.Field, slot models.Slot, ref, raw series.Series, tr models.Transform) models.CandidateMapping {
	mae, n := MeanAbsError(ref, raw, tr.Formula)
	return models.CandidateMapping{
		Field:     field,
		Slot:      slot,
		Transform: tr,
		Error:     mae,
		Samples:   n,
	}
}

// FormulaScores evaluates every table formula at a slot, in table order
func FormulaScores(field models.Field, slot models.Slot, ref, raw series.Series, formulas []models.Formula) []models.CandidateMapping {
	out := make([]models.CandidateMapping, 0, len(formulas))
	for _, f := range formulas {
		out = append(out, Evaluate(field, slot, ref, raw, models.FormulaTransform(f)))
	}
	return out
}

// BestAt returns the best valid candidate at a slot across formula and
// linear-fit modes. Ties keep the earlier formula.
func BestAt(field models.Field, slot models.Slot, ref, raw series.Series, opts Options) (models.CandidateMapping, bool) {
	var best models.CandidateMapping
	found := false
	for _, c := range FormulaScores(field, slot, ref, raw, opts.Formulas) {
		if !c.Valid() {
			continue
		}
		if !found || c.Better(best) {
			best, found = c, true
		}
	}
	if opts.LinearFit {
		if c, ok := LinearCandidate(field, slot, ref, raw); ok && (!found || c.Better(best)) {
			best, found = c, true
		}
	}
	return best, found
}

// Scorer ranks slots for fields over a precomputed index
type Scorer struct {
	idx  *series.Index
	opts Options
}

// New creates a scorer
func New(idx *series.Index, opts Options) *Scorer {
	return &Scorer{idx: idx, opts: opts}
}

// Options returns the scorer configuration
func (s *Scorer) Options() Options {
	return s.opts
}

// Index returns the series index the scorer reads
func (s *Scorer) Index() *series.Index {
	return s.idx
}

// Rank returns the field's best candidate per slot, sorted by error then
// samples, skipping excluded slots and keeping at most topN (0 keeps all)
func (s *Scorer) Rank(field models.Field, excl *models.ExclusionSet, topN int) []models.CandidateMapping {
	ref, ok := s.idx.Field(field)
	if !ok || ref.KnownCount() == 0 {
		return nil
	}
	var out []models.CandidateMapping
	for _, slot := range s.idx.Slots {
		if excl.Excludes(field, slot) {
			continue
		}
		if c, ok := BestAt(field, slot, ref, s.idx.Raw(slot), s.opts); ok {
			out = append(out, c)
		}
	}
	// Slots are already in scan order, so a stable sort keeps ties deterministic.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Better(out[j]) })
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// RankAll ranks every field concurrently. The result does not depend on
// scheduling since each field writes only its own entry.
func (s *Scorer) RankAll(fields []models.Field, excl *models.ExclusionSet, topN int) map[models.Field][]models.CandidateMapping {
	results := make([][]models.CandidateMapping, len(fields))
	var g errgroup.Group
	g.SetLimit(workers(s.opts.Workers))
	for i, f := range fields {
		g.Go(func() error {
			results[i] = s.Rank(f, excl, topN)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[models.Field][]models.CandidateMapping, len(fields))
	for i, f := range fields {
		out[f] = results[i]
	}
	return out
}

// EvaluateAt scores a transform for a field at any slot of the index
func (s *Scorer) EvaluateAt(field models.Field, slot models.Slot, tr models.Transform) (models.CandidateMapping, bool) {
	ref, ok := s.idx.Field(field)
	if !ok {
		return models.CandidateMapping{}, false
	}
	return Evaluate(field, slot, ref, s.idx.Raw(slot), tr), true
}

// LinearAt fits a linear transform for a field at any slot of the index
func (s *Scorer) LinearAt(field models.Field, slot models.Slot) (models.CandidateMapping, bool) {
	ref, ok := s.idx.Field(field)
	if !ok {
		return models.CandidateMapping{}, false
	}
	return LinearCandidate(field, slot, ref, s.idx.Raw(slot))
}

func workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
