package series

import (
	"math"

	"github.com/strato3003/jimny/pkg/models"
)

// Rule rescales reference values of one field that fall strictly between
// Above and Below. It models the OCR dropping a decimal point.
type Rule struct {
	Field   models.Field
	Above   float64
	Below   float64
	Divisor float64
}

// PercentRules returns the ×100 correction for the given fields
func PercentRules(fields []models.Field) []Rule {
	rules := make([]Rule, 0, len(fields))
	for _, f := range fields {
		rules = append(rules, Rule{Field: f, Above: 100, Below: 100000, Divisor: 100})
	}
	return rules
}

// Normalizer applies per-field rules to reference values
type Normalizer struct {
	rules map[models.Field][]Rule
}

// NewNormalizer indexes rules by field
func NewNormalizer(rules []Rule) *Normalizer {
	n := &Normalizer{rules: make(map[models.Field][]Rule)}
	for _, r := range rules {
		if r.Divisor == 0 {
			continue
		}
		n.rules[r.Field] = append(n.rules[r.Field], r)
	}
	return n
}

// Normalize maps a reported reference value to the value used for
// comparison. Non-finite values are absent. The first matching rule applies.
func (n *Normalizer) Normalize(field models.Field, v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if n == nil {
		return v, true
	}
	for _, r := range n.rules[field] {
		if v > r.Above && v < r.Below {
			return v / r.Divisor, true
		}
	}
	return v, true
}
