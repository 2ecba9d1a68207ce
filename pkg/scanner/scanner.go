package scanner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/series"
)

// SlotStats holds raw statistics of one 16-bit window across a session
type SlotStats struct {
	Slot     models.Slot
	Samples  int // instants where the window was present in the page
	Coverage float64
	Changes  int
	Min      float64
	Max      float64
	Variance float64
	Preview  string
}

// Range returns max - min
func (s SlotStats) Range() float64 {
	return s.Max - s.Min
}

// Active reports whether the window moved at all
func (s SlotStats) Active() bool {
	return s.Samples > 0 && s.Changes > 0
}

// Survey computes statistics of every admissible slot of idx, in slot order.
// Only directly observed values count; retained values are ignored.
func Survey(idx *series.Index) []SlotStats {
	n := idx.Dataset.Len()
	out := make([]SlotStats, 0, len(idx.Slots))
	for _, slot := range idx.Slots {
		raw := idx.Raw(slot)
		var values []float64
		for i := 0; i < raw.Len(); i++ {
			if raw.Direct[i] {
				values = append(values, raw.Values[i])
			}
		}
		st := SlotStats{Slot: slot, Samples: len(values)}
		if n > 0 {
			st.Coverage = float64(len(values)) / float64(n)
		}
		st.Min, st.Max, st.Variance = calculateStats(values)
		st.Changes = changes(values)
		st.Preview = preview(values, 4)
		out = append(out, st)
	}
	return out
}

// Filter keeps slots whose range is at least minRange and that changed at
// least once
func Filter(stats []SlotStats, minRange float64) []SlotStats {
	var out []SlotStats
	for _, s := range stats {
		if s.Active() && s.Range() >= minRange {
			out = append(out, s)
		}
	}
	return out
}

// ByVariance orders slots by descending variance, slot order breaking ties
func ByVariance(stats []SlotStats) []SlotStats {
	out := append([]SlotStats(nil), stats...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Variance > out[j].Variance
	})
	return out
}

func changes(values []float64) int {
	n := 0
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			n++
		}
	}
	return n
}

// preview lists the first distinct values as hex words
func preview(values []float64, max int) string {
	var parts []string
	seen := map[float64]bool{}
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		parts = append(parts, fmt.Sprintf("%04X", uint16(v)))
		if len(parts) == max {
			return strings.Join(parts, " ") + " ..."
		}
	}
	return strings.Join(parts, " ")
}

func calculateStats(values []float64) (float64, float64, float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}

	min := values[0]
	max := values[0]
	sum := 0.0

	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	avg := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - avg
		variance += diff * diff
	}
	variance /= float64(len(values))

	return min, max, variance
}

// Rows renders stats as table rows with a header
func Rows(stats []SlotStats) pterm.TableData {
	tableData := pterm.TableData{
		{"Channel", "Offset", "Samples", "Coverage", "Changes", "Min", "Max", "Variance", "Preview"},
	}
	for _, s := range stats {
		tableData = append(tableData, []string{
			string(s.Slot.Channel),
			fmt.Sprintf("%d", s.Slot.Offset),
			humanize.Comma(int64(s.Samples)),
			fmt.Sprintf("%.0f%%", s.Coverage*100),
			humanize.Comma(int64(s.Changes)),
			fmt.Sprintf("%.0f", s.Min),
			fmt.Sprintf("%.0f", s.Max),
			fmt.Sprintf("%.1f", s.Variance),
			s.Preview,
		})
	}
	return tableData
}

// DisplayResults prints the survey of the slots that pass minRange
func DisplayResults(stats []SlotStats, minRange float64) {
	pterm.DefaultSection.Println("Raw Window Survey")

	active := Filter(stats, minRange)
	if len(active) == 0 {
		pterm.Info.Println("No varying windows found")
		return
	}

	pterm.DefaultTable.WithHasHeader().WithData(Rows(active)).Render()
	pterm.Info.Printf("\n%d of %d window(s) vary by at least %.0f\n", len(active), len(stats), minRange)
}
