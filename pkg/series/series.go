package series

import (
	"math"

	"github.com/strato3003/jimny/pkg/models"
)

// Series is a value per observation with last-known-value retention.
// Values[i] is NaN until a first value is seen; Direct[i] is true only where
// the value was observed at instant i rather than carried forward.
type Series struct {
	Values []float64
	Direct []bool
}

func newSeries(n int) Series {
	return Series{Values: make([]float64, n), Direct: make([]bool, n)}
}

// Len returns the number of instants
func (s Series) Len() int {
	return len(s.Values)
}

// Known reports whether a value (direct or retained) exists at i
func (s Series) Known(i int) bool {
	return !math.IsNaN(s.Values[i])
}

// KnownCount returns how many instants hold a value
func (s Series) KnownCount() int {
	n := 0
	for i := range s.Values {
		if s.Known(i) {
			n++
		}
	}
	return n
}

// retain fills a series from a per-instant lookup
func retain(n int, at func(i int) (float64, bool)) Series {
	s := newSeries(n)
	last := math.NaN()
	for i := 0; i < n; i++ {
		if v, ok := at(i); ok {
			last = v
			s.Direct[i] = true
		}
		s.Values[i] = last
	}
	return s
}

// FieldSeries builds the retained, normalized reference series of a field
func FieldSeries(ds *models.Dataset, field models.Field, norm *Normalizer) Series {
	return retain(ds.Len(), func(i int) (float64, bool) {
		v, ok := ds.Observations[i].Values[field]
		if !ok {
			return 0, false
		}
		return norm.Normalize(field, v)
	})
}

// RawSeries builds the retained raw 16-bit series of a slot
func RawSeries(ds *models.Dataset, slot models.Slot) Series {
	return retain(ds.Len(), func(i int) (float64, bool) {
		raw, ok := Raw16(ds.Observations[i].Raw[slot.Channel], slot.Offset)
		return float64(raw), ok
	})
}

// Index holds every series a run needs, computed once and read-only
// afterwards so that scoring can fan out across goroutines.
type Index struct {
	Dataset   *models.Dataset
	MaxOffset int
	Slots     []models.Slot

	fields map[models.Field]Series
	raws   map[models.Slot]Series
}

// NewIndex precomputes the reference series of every field and the raw
// series of every admissible slot
func NewIndex(ds *models.Dataset, norm *Normalizer, maxOffset int) *Index {
	idx := &Index{
		Dataset:   ds,
		MaxOffset: maxOffset,
		Slots:     Slots(ds, maxOffset),
		fields:    make(map[models.Field]Series, len(ds.Fields)),
	}
	idx.raws = make(map[models.Slot]Series, len(idx.Slots))
	for _, f := range ds.Fields {
		idx.fields[f] = FieldSeries(ds, f, norm)
	}
	for _, s := range idx.Slots {
		idx.raws[s] = RawSeries(ds, s)
	}
	return idx
}

// Field returns the reference series of field
func (x *Index) Field(field models.Field) (Series, bool) {
	s, ok := x.fields[field]
	return s, ok
}

// Raw returns the raw series of slot. Slots outside the scanned range (for
// example an override beyond max offset) are built on demand and not cached.
func (x *Index) Raw(slot models.Slot) Series {
	if s, ok := x.raws[slot]; ok {
		return s
	}
	return RawSeries(x.Dataset, slot)
}

// Fields returns the dataset's fields in order
func (x *Index) Fields() []models.Field {
	return x.Dataset.Fields
}
