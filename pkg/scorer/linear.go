package scorer

import (
	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/series"
)

// minVariance below which the raw series is treated as constant
const minVariance = 1e-15

// FitLinear computes the least-squares line reference ≈ scale*raw + intercept
// over instants where both values were observed directly. It rejects fits
// with fewer than MinSamples pairs or a constant raw series.
func FitLinear(ref, raw series.Series) (scale, intercept float64, n int, ok bool) {
	m := ref.Len()
	if raw.Len() < m {
		m = raw.Len()
	}
	var xs, ys []float64
	for i := 0; i < m; i++ {
		if !ref.Direct[i] || !raw.Direct[i] {
			continue
		}
		xs = append(xs, raw.Values[i])
		ys = append(ys, ref.Values[i])
	}
	n = len(xs)
	if n < models.MinSamples {
		return 0, 0, n, false
	}

	fn := float64(n)
	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= fn
	meanY /= fn

	var varX, cov float64
	for i := range xs {
		dx := xs[i] - meanX
		varX += dx * dx
		cov += dx * (ys[i] - meanY)
	}
	varX /= fn
	cov /= fn
	if varX < minVariance {
		return 0, 0, n, false
	}

	scale = cov / varX
	intercept = meanY - scale*meanX
	return scale, intercept, n, true
}

// LinearCandidate fits a transform at a slot and scores it like a formula,
// so the error also covers reference readings paired with a retained raw value
func LinearCandidate(field models.Field, slot models.Slot, ref, raw series.Series) (models.CandidateMapping, bool) {
	scale, intercept, _, ok := FitLinear(ref, raw)
	if !ok {
		return models.CandidateMapping{}, false
	}
	c := Evaluate(field, slot, ref, raw, models.LinearTransform(scale, intercept))
	if !c.Valid() {
		return models.CandidateMapping{}, false
	}
	return c, true
}
