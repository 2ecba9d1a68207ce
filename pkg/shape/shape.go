// Package shape ranks slots by how well the raw series follows the
// reference series once both are rescaled to [0,1].
package shape

import (
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/series"
)

const (
	minAmplitude = 1e-15
	minVariance  = 1e-20
)

// Correlation returns the Pearson coefficient of the min-max normalized
// series over instants where both are known, and the number of such
// instants. A constant series correlates 1 with another constant series
// and 0 with anything else. ok is false below MinSamples pairs.
func Correlation(ref, raw series.Series) (r float64, n int, ok bool) {
	m := ref.Len()
	if raw.Len() < m {
		m = raw.Len()
	}
	var xs, ys []float64
	for i := 0; i < m; i++ {
		if ref.Known(i) && raw.Known(i) {
			xs = append(xs, ref.Values[i])
			ys = append(ys, raw.Values[i])
		}
	}
	n = len(xs)
	if n < models.MinSamples {
		return 0, n, false
	}

	nx, constX := normalize(xs)
	ny, constY := normalize(ys)
	switch {
	case constX && constY:
		return 1, n, true
	case constX || constY:
		return 0, n, true
	}
	return pearson(nx, ny), n, true
}

// normalize rescales values to [0,1] with their own range
func normalize(vals []float64) ([]float64, bool) {
	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	amp := hi - lo
	if amp < minAmplitude {
		return nil, true
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = (v - lo) / amp
	}
	return out, false
}

func pearson(xs, ys []float64) float64 {
	fn := float64(len(xs))
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= fn
	my /= fn

	var vx, vy, cov float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		vx += dx * dx
		vy += dy * dy
		cov += dx * dy
	}
	vx /= fn
	vy /= fn
	cov /= fn
	if vx < minVariance || vy < minVariance {
		return 0
	}
	r := cov / math.Sqrt(vx*vy)
	return math.Max(-1, math.Min(1, r))
}

// Ranker ranks slots by shape correlation over a precomputed index
type Ranker struct {
	idx     *series.Index
	workers int
}

// NewRanker creates a ranker; workers <= 0 uses GOMAXPROCS
func NewRanker(idx *series.Index, workers int) *Ranker {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Ranker{idx: idx, workers: workers}
}

// Better orders by correlation descending, then samples descending
func Better(a, b models.ShapeCandidate) bool {
	if a.Correlation != b.Correlation {
		return a.Correlation > b.Correlation
	}
	return a.Samples > b.Samples
}

// At scores a single slot for a field
func (r *Ranker) At(field models.Field, slot models.Slot) (models.ShapeCandidate, bool) {
	ref, ok := r.idx.Field(field)
	if !ok {
		return models.ShapeCandidate{}, false
	}
	c, n, ok := Correlation(ref, r.idx.Raw(slot))
	if !ok {
		return models.ShapeCandidate{}, false
	}
	return models.ShapeCandidate{Slot: slot, Correlation: c, Samples: n}, true
}

// Rank returns the field's slots by descending correlation, skipping
// excluded slots, keeping at most topN (0 keeps all)
func (r *Ranker) Rank(field models.Field, excl *models.ExclusionSet, topN int) []models.ShapeCandidate {
	ref, ok := r.idx.Field(field)
	if !ok || ref.KnownCount() == 0 {
		return nil
	}
	var out []models.ShapeCandidate
	for _, slot := range r.idx.Slots {
		if excl.Excludes(field, slot) {
			continue
		}
		if c, n, ok := Correlation(ref, r.idx.Raw(slot)); ok {
			out = append(out, models.ShapeCandidate{Slot: slot, Correlation: c, Samples: n})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return Better(out[i], out[j]) })
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// RankAll ranks every field concurrently with a deterministic result
func (r *Ranker) RankAll(fields []models.Field, excl *models.ExclusionSet, topN int) map[models.Field][]models.ShapeCandidate {
	results := make([][]models.ShapeCandidate, len(fields))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, f := range fields {
		g.Go(func() error {
			results[i] = r.Rank(f, excl, topN)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[models.Field][]models.ShapeCandidate, len(fields))
	for i, f := range fields {
		out[f] = results[i]
	}
	return out
}
