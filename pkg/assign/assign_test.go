package assign

import (
	"encoding/binary"
	"testing"

	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/scorer"
	"github.com/strato3003/jimny/pkg/series"
	"github.com/strato3003/jimny/pkg/shape"
	"github.com/strato3003/jimny/pkg/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slot(ch models.Channel, off int) models.Slot {
	return models.Slot{Channel: ch, Offset: off}
}

// cleanConfig has exact references every frame and one field whose scale is
// missing from the formula table
func cleanConfig() synth.Config {
	return synth.Config{
		Seed:         7,
		Observations: 120,
		Channels: []synth.ChannelSpec{
			{Channel: "X", Length: 12, Every: 1},
			{Channel: "Y", Length: 8, Every: 1},
		},
		Truths: []synth.Truth{
			{Field: "rpm", Slot: slot("X", 2), Formula: models.Formula{Label: "raw*8", Mult: 8, Div: 1}, Signal: synth.Signal{Base: 1800, Amp: 900, Period: 37}},
			{Field: "pressure", Slot: slot("X", 6), Formula: models.Formula{Label: "raw/10", Mult: 1, Div: 10}, Signal: synth.Signal{Base: 600, Amp: 250, Period: 23, Phase: 1}},
			{Field: "air", Slot: slot("Y", 4), Formula: models.Formula{Label: "linear", Mult: 0.75, Div: 1, Add: -48}, Signal: synth.Signal{Base: 20, Amp: 9, Period: 53, Phase: 2}},
			{Field: "speed", Slot: slot("Y", 2), Formula: models.Formula{Label: "raw", Mult: 1, Div: 1}, Signal: synth.Signal{Base: 60, Amp: 40, Period: 71, Phase: 0.5}},
		},
		ReferenceEvery: 1,
		Decimals:       -1,
	}
}

func newResolver(ds *models.Dataset, overrides []models.PriorityOverride, policy Policy, linear bool) *Resolver {
	idx := series.NewIndex(ds, nil, 60)
	opts := scorer.DefaultOptions()
	opts.LinearFit = linear
	o := DefaultOptions()
	o.Policy = policy
	return NewResolver(scorer.New(idx, opts), shape.NewRanker(idx, 0), overrides, o)
}

func TestPoliciesRecoverCleanLayout(t *testing.T) {
	cfg := cleanConfig()
	ds := synth.Generate(cfg)

	for _, p := range []Policy{NoConflict, ByShape, Hybrid} {
		t.Run(p.String(), func(t *testing.T) {
			a := newResolver(ds, nil, p, true).Resolve(ds.Fields, nil)
			require.NoError(t, a.Validate())
			require.Empty(t, a.NoFit())
			for _, truth := range cfg.Truths {
				got, ok := a.Get(truth.Field)
				require.True(t, ok, truth.Field)
				assert.Equal(t, truth.Slot, got.Slot, truth.Field)
				assert.InDelta(t, 0, got.Error, 1e-6, truth.Field)
				assert.GreaterOrEqual(t, got.Samples, models.MinSamples)
			}
		})
	}
}

func TestHybridFreezesExactMatches(t *testing.T) {
	ds := synth.Generate(cleanConfig())
	a := newResolver(ds, nil, Hybrid, true).Resolve(ds.Fields, nil)

	rpm, _ := a.Get("rpm")
	assert.Equal(t, models.KindFormula, rpm.Transform.Kind)
	assert.Equal(t, "raw*8", rpm.Transform.Label)
	assert.Equal(t, 0.0, rpm.Error)

	air, _ := a.Get("air")
	assert.Equal(t, models.KindLinear, air.Transform.Kind)
	assert.InDelta(t, 0.75, air.Transform.Mult, 1e-9)
}

func TestByShapeWithoutLinearFitScoresIdentity(t *testing.T) {
	ds := synth.Generate(cleanConfig())
	a := newResolver(ds, nil, ByShape, false).Resolve(ds.Fields, nil)

	speed, ok := a.Get("speed")
	require.True(t, ok)
	assert.Equal(t, slot("Y", 2), speed.Slot)
	assert.Equal(t, "raw", speed.Transform.Label)
	assert.Equal(t, 0.0, speed.Error)

	rpm, ok := a.Get("rpm")
	require.True(t, ok)
	assert.Equal(t, slot("X", 2), rpm.Slot)
	assert.Greater(t, rpm.Error, 0.0, "scale 1 misses the ×8")
}

// conflictDataset: p is exactly X:0, q is X:0 + 0.4 and X:2 - 0.6
func conflictDataset() *models.Dataset {
	ds := &models.Dataset{
		Channels: []models.Channel{"X"},
		Fields:   []models.Field{"q", "p"},
	}
	for i := 0; i < 10; i++ {
		v := uint16(100 + 3*i)
		buf := make([]byte, 4)
		binary.BigEndian.PutUint16(buf[0:], v)
		binary.BigEndian.PutUint16(buf[2:], v+1)
		ds.Observations = append(ds.Observations, models.Observation{
			Raw:    map[models.Channel][]byte{"X": buf},
			Values: map[models.Field]float64{"p": float64(v), "q": float64(v) + 0.4},
		})
	}
	return ds
}

func TestNoConflictGivesContestedSlotToMostConfidentField(t *testing.T) {
	ds := conflictDataset()
	a := newResolver(ds, nil, NoConflict, false).Resolve(ds.Fields, nil)
	require.NoError(t, a.Validate())

	p, _ := a.Get("p")
	q, _ := a.Get("q")
	assert.Equal(t, slot("X", 0), p.Slot)
	assert.Equal(t, slot("X", 2), q.Slot)
	assert.InDelta(t, 0.6, q.Error, 1e-9)
}

func TestOverrideIsRankedFirstUnlessExcluded(t *testing.T) {
	ds := conflictDataset()
	overrides := []models.PriorityOverride{{
		Field:   "p",
		Slot:    slot("X", 2),
		Formula: models.Formula{Label: "raw-1", Mult: 1, Div: 1, Add: -1},
	}}

	for _, pol := range []Policy{NoConflict, ByShape, Hybrid} {
		t.Run(pol.String(), func(t *testing.T) {
			r := newResolver(ds, overrides, pol, false)

			a := r.Resolve(ds.Fields, nil)
			require.NoError(t, a.Validate())
			p, _ := a.Get("p")
			assert.Equal(t, slot("X", 2), p.Slot)
			assert.True(t, p.Override)
			assert.Equal(t, 0.0, p.Error)
			q, _ := a.Get("q")
			assert.Equal(t, slot("X", 0), q.Slot)

			excl := models.NewExclusionSet(models.Exclusion{Field: "p", Slot: slot("X", 2)})
			a = r.Resolve(ds.Fields, excl)
			require.NoError(t, a.Validate())
			if p, ok := a.Get("p"); ok {
				assert.NotEqual(t, slot("X", 2), p.Slot)
				assert.False(t, p.Override)
			}
		})
	}
}

func TestSingleSampleFieldIsNoFitUnderEveryPolicy(t *testing.T) {
	ds := synth.Generate(cleanConfig())
	ds.Fields = append(ds.Fields, "rare")
	ds.Observations[40].Values["rare"] = 12

	for _, p := range []Policy{NoConflict, ByShape, Hybrid} {
		a := newResolver(ds, nil, p, true).Resolve(ds.Fields, nil)
		assert.Equal(t, []models.Field{"rare"}, a.NoFit(), p.String())
	}
}

func TestAssignByShapeOrdersByCorrelation(t *testing.T) {
	shared := slot("X", 0)
	ranked := map[models.Field][]ShapeEntry{
		"weak":   {{ShapeCandidate: models.ShapeCandidate{Slot: shared, Correlation: 0.6, Samples: 9}}},
		"strong": {{ShapeCandidate: models.ShapeCandidate{Slot: shared, Correlation: 0.99, Samples: 9}}},
		"none":   nil,
	}
	fit := func(f models.Field, e ShapeEntry) (models.CandidateMapping, bool) {
		return models.CandidateMapping{Field: f, Slot: e.Slot, Samples: e.Samples}, true
	}

	a := AssignByShape([]models.Field{"weak", "none", "strong"}, ranked, fit, nil, nil)
	got, ok := a.Get("strong")
	require.True(t, ok)
	assert.Equal(t, shared, got.Slot)
	assert.ElementsMatch(t, []models.Field{"weak", "none"}, a.NoFit())
}

func TestShapeFallbackClaimsBeforeWeakerFields(t *testing.T) {
	contested, spare, unfit := slot("X", 4), slot("Y", 0), slot("X", 8)
	ranked := map[models.Field][]ShapeEntry{
		"strong": {{ShapeCandidate: models.ShapeCandidate{Slot: unfit, Correlation: 0.98, Samples: 40}}},
		"weak": {
			{ShapeCandidate: models.ShapeCandidate{Slot: contested, Correlation: 0.7, Samples: 40}},
			{ShapeCandidate: models.ShapeCandidate{Slot: spare, Correlation: 0.5, Samples: 40}},
		},
	}
	// too few direct pairs for any linear fit of strong
	fit := func(f models.Field, e ShapeEntry) (models.CandidateMapping, bool) {
		if f == "strong" {
			return models.CandidateMapping{}, false
		}
		return models.CandidateMapping{Field: f, Slot: e.Slot, Samples: e.Samples}, true
	}
	fallback := func(f models.Field) []models.CandidateMapping {
		if f != "strong" {
			return nil
		}
		return []models.CandidateMapping{{Field: f, Slot: contested, Error: 0.5, Samples: 6}}
	}

	a := AssignByShape([]models.Field{"weak", "strong"}, ranked, fit, fallback, nil)
	require.NoError(t, a.Validate())
	strong, ok := a.Get("strong")
	require.True(t, ok)
	assert.Equal(t, contested, strong.Slot)
	weak, ok := a.Get("weak")
	require.True(t, ok)
	assert.Equal(t, spare, weak.Slot)

	// without a fallback strong stays unassigned and weak keeps its first pick
	a = AssignByShape([]models.Field{"weak", "strong"}, ranked, fit, nil, nil)
	weak, _ = a.Get("weak")
	assert.Equal(t, contested, weak.Slot)
	assert.Equal(t, []models.Field{"strong"}, a.NoFit())
}

func TestAssignNoConflictKeepsSeed(t *testing.T) {
	seed := models.NewAssignment([]models.Field{"frozen"})
	seed.Set(models.CandidateMapping{Field: "frozen", Slot: slot("X", 0), Samples: 5})
	ranked := map[models.Field][]models.CandidateMapping{
		"other": {
			{Field: "other", Slot: slot("X", 0), Samples: 5},
			{Field: "other", Slot: slot("X", 2), Error: 3, Samples: 5},
		},
	}

	a := AssignNoConflict([]models.Field{"frozen", "other"}, ranked, seed)
	other, _ := a.Get("other")
	assert.Equal(t, slot("X", 2), other.Slot)
	frozen, _ := a.Get("frozen")
	assert.Equal(t, slot("X", 0), frozen.Slot)
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{NoConflict, ByShape, Hybrid} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePolicy("greedy")
	assert.Error(t, err)

	var p Policy
	require.NoError(t, p.UnmarshalText([]byte("By-Shape")))
	assert.Equal(t, ByShape, p)
}
