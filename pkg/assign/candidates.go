package assign

import (
	"github.com/strato3003/jimny/pkg/models"
)

// identity scores slots at scale 1 when linear fitting is off
var identity = models.Formula{Label: "raw", Mult: 1, Div: 1}

// overrideCandidate scores the field's priority override unless the
// exclusion set forbids its slot or it lacks samples
func (r *Resolver) overrideCandidate(field models.Field, excl *models.ExclusionSet) (models.CandidateMapping, bool) {
	o, ok := r.overrides[field]
	if !ok || excl.Excludes(field, o.Slot) {
		return models.CandidateMapping{}, false
	}
	c, ok := r.scorer.EvaluateAt(field, o.Slot, models.FormulaTransform(o.Formula))
	if !ok || !c.Valid() {
		return models.CandidateMapping{}, false
	}
	c.Override = true
	return c, true
}

// formulaList is the field's ranked list with its override on top
func (r *Resolver) formulaList(field models.Field, excl *models.ExclusionSet, topN int) []models.CandidateMapping {
	return r.withOverride(field, excl, r.scorer.Rank(field, excl, topN))
}

func (r *Resolver) formulaLists(fields []models.Field, excl *models.ExclusionSet, topN int) map[models.Field][]models.CandidateMapping {
	lists := r.scorer.RankAll(fields, excl, topN)
	for _, f := range fields {
		lists[f] = r.withOverride(f, excl, lists[f])
	}
	return lists
}

func (r *Resolver) withOverride(field models.Field, excl *models.ExclusionSet, ranked []models.CandidateMapping) []models.CandidateMapping {
	prio, ok := r.overrideCandidate(field, excl)
	if !ok {
		return ranked
	}
	out := make([]models.CandidateMapping, 0, len(ranked)+1)
	out = append(out, prio)
	for _, c := range ranked {
		if c.Slot != prio.Slot {
			out = append(out, c)
		}
	}
	return out
}

func (r *Resolver) shapeLists(fields []models.Field, excl *models.ExclusionSet) map[models.Field][]ShapeEntry {
	ranked := r.shapes.RankAll(fields, excl, r.opts.ShapeTopN)
	out := make(map[models.Field][]ShapeEntry, len(fields))
	for _, f := range fields {
		var entries []ShapeEntry
		if prio, ok := r.overrideCandidate(f, excl); ok {
			if sc, ok := r.shapes.At(f, prio.Slot); ok {
				p := prio
				entries = append(entries, ShapeEntry{ShapeCandidate: sc, Override: &p})
			}
		}
		for _, sc := range ranked[f] {
			if len(entries) > 0 && entries[0].Override != nil && sc.Slot == entries[0].Slot {
				continue
			}
			entries = append(entries, ShapeEntry{ShapeCandidate: sc})
		}
		out[f] = entries
	}
	return out
}

// fit converts a shape entry into a candidate: overrides keep their
// formula, other slots get a linear fit or an identity score
func (r *Resolver) fit(field models.Field, e ShapeEntry) (models.CandidateMapping, bool) {
	if e.Override != nil {
		return *e.Override, true
	}
	if r.scorer.Options().LinearFit {
		return r.scorer.LinearAt(field, e.Slot)
	}
	c, ok := r.scorer.EvaluateAt(field, e.Slot, models.FormulaTransform(identity))
	if !ok || !c.Valid() {
		return models.CandidateMapping{}, false
	}
	return c, true
}
