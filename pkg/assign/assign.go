package assign

import (
	"sort"

	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/scorer"
	"github.com/strato3003/jimny/pkg/shape"
)

// Options tunes the resolver
type Options struct {
	Policy          Policy
	TopN            int
	ShapeTopN       int
	FallbackTopN    int
	FreezeThreshold float64
}

// DefaultOptions mirrors the defaults of the command line tool
func DefaultOptions() Options {
	return Options{
		Policy:       Hybrid,
		TopN:         20,
		ShapeTopN:    80,
		FallbackTopN: 30,
	}
}

// ShapeEntry is one element of a field's shape-ranked list. Override is set
// when the entry stands for a priority override rather than a discovered slot.
type ShapeEntry struct {
	models.ShapeCandidate
	Override *models.CandidateMapping
}

// FitFunc turns a shape entry into a scored candidate, or reports false
type FitFunc func(field models.Field, e ShapeEntry) (models.CandidateMapping, bool)

// FallbackFunc lists candidates to try, in order, for a field none of whose
// shape entries could be fitted
type FallbackFunc func(field models.Field) []models.CandidateMapping

// Resolver builds assignments from the scorer and the shape ranker
type Resolver struct {
	scorer    *scorer.Scorer
	shapes    *shape.Ranker
	overrides map[models.Field]models.PriorityOverride
	opts      Options
}

// NewResolver creates a resolver. Later overrides for the same field win.
func NewResolver(sc *scorer.Scorer, sh *shape.Ranker, overrides []models.PriorityOverride, opts Options) *Resolver {
	r := &Resolver{
		scorer:    sc,
		shapes:    sh,
		overrides: make(map[models.Field]models.PriorityOverride, len(overrides)),
		opts:      opts,
	}
	for _, o := range overrides {
		r.overrides[o.Field] = o
	}
	return r
}

// Options returns the resolver configuration
func (r *Resolver) Options() Options {
	return r.opts
}

// Resolve produces one assignment under the configured policy
func (r *Resolver) Resolve(fields []models.Field, excl *models.ExclusionSet) *models.Assignment {
	switch r.opts.Policy {
	case ByShape:
		return AssignByShape(fields, r.shapeLists(fields, excl), r.fit, nil, nil)
	case Hybrid:
		return r.hybrid(fields, excl)
	default:
		return AssignNoConflict(fields, r.formulaLists(fields, excl, r.opts.TopN), nil)
	}
}

func (r *Resolver) hybrid(fields []models.Field, excl *models.ExclusionSet) *models.Assignment {
	first := AssignNoConflict(fields, r.formulaLists(fields, excl, r.opts.TopN), nil)

	frozen := models.NewAssignment(fields)
	var rest []models.Field
	for _, f := range fields {
		if c, ok := first.Get(f); ok && c.Error <= r.opts.FreezeThreshold {
			frozen.Set(c)
			continue
		}
		rest = append(rest, f)
	}
	if len(rest) == 0 {
		return first
	}

	fallback := func(f models.Field) []models.CandidateMapping {
		return r.formulaList(f, excl, r.opts.FallbackTopN)
	}
	return AssignByShape(rest, r.shapeLists(rest, excl), r.fit, fallback, frozen)
}

// AssignNoConflict walks fields from most to least confident and gives each
// the first free slot of its ranked list. Fields already in seed keep their
// mapping and slot.
func AssignNoConflict(fields []models.Field, ranked map[models.Field][]models.CandidateMapping, seed *models.Assignment) *models.Assignment {
	out := seeded(fields, seed)
	claimed := out.Claimed()

	order := pending(fields, out)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := ranked[order[i]], ranked[order[j]]
		if len(a) == 0 || len(b) == 0 {
			return len(a) > 0 && len(b) == 0
		}
		return a[0].Better(b[0])
	})

	for _, f := range order {
		for _, c := range ranked[f] {
			if _, taken := claimed[c.Slot]; taken {
				continue
			}
			claimed[c.Slot] = f
			out.Set(c)
			break
		}
	}
	return out
}

// AssignByShape walks fields from most to least distinctive shape and gives
// each the first free slot for which fit succeeds. When no entry fits and
// fallback is set, the field takes the first free slot of its fallback list
// before the next field is considered.
func AssignByShape(fields []models.Field, ranked map[models.Field][]ShapeEntry, fit FitFunc, fallback FallbackFunc, seed *models.Assignment) *models.Assignment {
	out := seeded(fields, seed)
	claimed := out.Claimed()

	order := pending(fields, out)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := ranked[order[i]], ranked[order[j]]
		if len(a) == 0 || len(b) == 0 {
			return len(a) > 0 && len(b) == 0
		}
		return shape.Better(a[0].ShapeCandidate, b[0].ShapeCandidate)
	})

	for _, f := range order {
		for _, e := range ranked[f] {
			if _, taken := claimed[e.Slot]; taken {
				continue
			}
			c, ok := fit(f, e)
			if !ok {
				continue
			}
			claimed[e.Slot] = f
			out.Set(c)
			break
		}
		if _, ok := out.Get(f); ok || fallback == nil {
			continue
		}
		for _, c := range fallback(f) {
			if _, taken := claimed[c.Slot]; taken {
				continue
			}
			claimed[c.Slot] = f
			out.Set(c)
			break
		}
	}
	return out
}

// seeded starts from a copy of seed, covering the seed's fields then the
// ones it does not know
func seeded(fields []models.Field, seed *models.Assignment) *models.Assignment {
	if seed == nil {
		return models.NewAssignment(fields)
	}
	all := append([]models.Field(nil), seed.Fields...)
	known := make(map[models.Field]bool, len(all))
	for _, f := range all {
		known[f] = true
	}
	for _, f := range fields {
		if !known[f] {
			all = append(all, f)
		}
	}
	out := models.NewAssignment(all)
	for _, c := range seed.Mappings {
		out.Set(c)
	}
	return out
}

func pending(fields []models.Field, a *models.Assignment) []models.Field {
	var out []models.Field
	for _, f := range fields {
		if _, ok := a.Get(f); !ok {
			out = append(out, f)
		}
	}
	return out
}
