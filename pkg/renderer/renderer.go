package renderer

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/strato3003/jimny/pkg/compare"
	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/refine"
	"github.com/strato3003/jimny/pkg/store"
)

const noFit = "no fit"

// ErrorTableRows builds the per-field error table with a header row
func ErrorTableRows(table compare.Table) pterm.TableData {
	data := pterm.TableData{
		{"Field", "Channel", "Offset", "Transform", "Error", "Samples", ""},
	}
	for _, r := range table {
		if !r.Assigned {
			data = append(data, []string{string(r.Field), "-", "-", noFit, "-", "-", ""})
			continue
		}
		m := r.Mapping
		flag := ""
		if m.Override {
			flag = "override"
		}
		data = append(data, []string{
			string(r.Field),
			string(m.Slot.Channel),
			fmt.Sprintf("%d", m.Slot.Offset),
			m.Transform.Describe(),
			formatError(m.Error),
			humanize.Comma(int64(m.Samples)),
			flag,
		})
	}
	return data
}

func formatError(e float64) string {
	if math.IsInf(e, 0) || math.IsNaN(e) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", e)
}

// RenderErrorTable prints the error table, colouring each error against the
// table's maximum
func RenderErrorTable(title string, table compare.Table) {
	pterm.DefaultSection.Println(title)

	data := ErrorTableRows(table)
	max := table.Max()
	for i, r := range table {
		if r.Assigned && !math.IsInf(r.Mapping.Error, 0) {
			row := data[i+1]
			row[4] = getSymbolForValue(r.Mapping.Error, 0, max) + " " + getColorStyle(r.Mapping.Error, 0, max).Sprint(row[4])
		}
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	assigned := 0
	for _, r := range table {
		if r.Assigned {
			assigned++
		}
	}
	pterm.Info.Printf("Assigned %d / %d fields, max error %.6f\n", assigned, len(table), max)
}

// TraceRows builds one row per refinement iteration with a header row
func TraceRows(trace []refine.Step) pterm.TableData {
	data := pterm.TableData{{"Iteration", "Max error", "Worst field", "Worst error", "Excluded"}}
	for _, s := range trace {
		worst, worstErr, excluded := "-", "-", "-"
		if s.Worst != "" {
			worst = string(s.Worst)
			worstErr = formatError(s.WorstError)
		}
		if s.Excluded != nil {
			excluded = s.Excluded.String()
		}
		data = append(data, []string{
			fmt.Sprintf("%d", s.Iteration),
			formatError(s.MaxError),
			worst,
			worstErr,
			excluded,
		})
	}
	return data
}

// RenderTrace prints the refinement trace
func RenderTrace(trace []refine.Step) {
	pterm.DefaultSection.Println("Refinement")
	pterm.DefaultTable.WithHasHeader().WithData(TraceRows(trace)).Render()
}

// Summary returns the text of the result box
func Summary(res *refine.Result) string {
	var b strings.Builder
	assigned, total := 0, 0
	if res.Assignment != nil {
		assigned, total = len(res.Assignment.Mappings), len(res.Assignment.Fields)
	}
	fmt.Fprintf(&b, "Outcome:    %s\n", res.Outcome)
	fmt.Fprintf(&b, "Iterations: %d\n", res.Iterations)
	fmt.Fprintf(&b, "Assigned:   %d / %d\n", assigned, total)
	fmt.Fprintf(&b, "Max error:  %.6f", res.Table.Max())
	if res.Assignment != nil {
		if nf := res.Assignment.NoFit(); len(nf) > 0 {
			names := make([]string, len(nf))
			for i, f := range nf {
				names[i] = string(f)
			}
			fmt.Fprintf(&b, "\nNo fit:     %s", strings.Join(names, ", "))
		}
	}
	if len(res.Exclusions) > 0 {
		ex := make([]string, len(res.Exclusions))
		for i, e := range res.Exclusions {
			ex[i] = e.String()
		}
		fmt.Fprintf(&b, "\nExcluded:   %s", strings.Join(ex, ", "))
	}
	return b.String()
}

// RenderResult prints the trace, the final error table and a summary box
func RenderResult(res *refine.Result) {
	RenderTrace(res.Trace)
	pterm.Println()
	RenderErrorTable("Final Mapping", res.Table)
	pterm.Println()

	box := pterm.DefaultBox.WithTitle("Result").WithTitleTopLeft()
	if res.Outcome == refine.Converged {
		box = box.WithBoxStyle(pterm.NewStyle(pterm.FgGreen))
	} else {
		box = box.WithBoxStyle(pterm.NewStyle(pterm.FgYellow))
	}
	box.Println(Summary(res))
}

// RenderDatasetSummary prints the size of a loaded session
func RenderDatasetSummary(source string, ds *models.Dataset) {
	known := 0
	for _, o := range ds.Observations {
		known += len(o.Values)
	}
	pterm.Info.Printf("%s: %s observations, %d channels, %d fields, %s reference values (digest %s)\n",
		source, humanize.Comma(int64(ds.Len())), len(ds.Channels), len(ds.Fields),
		humanize.Comma(int64(known)), ds.DigestHex())
}

// RunRows lists stored runs with a header row. Times are relative to now.
func RunRows(runs []store.Summary, now time.Time) pterm.TableData {
	data := pterm.TableData{{"ID", "Created", "Source", "Observations", "Policy", "Outcome", "Iterations", "Assigned", "Max error"}}
	for _, r := range runs {
		data = append(data, []string{
			r.ID,
			humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
			r.Source,
			humanize.Comma(int64(r.Observations)),
			r.Policy,
			r.Outcome,
			fmt.Sprintf("%d", r.Iterations),
			fmt.Sprintf("%d / %d", r.Assigned, r.Fields),
			formatError(r.MaxError),
		})
	}
	return data
}

// RenderRuns prints the run history
func RenderRuns(runs []store.Summary) {
	pterm.DefaultSection.Println("Stored Runs")
	if len(runs) == 0 {
		pterm.Info.Println("No runs recorded")
		return
	}
	pterm.DefaultTable.WithHasHeader().WithData(RunRows(runs, time.Now())).Render()
}

// RenderRun prints one stored run: its trace and mapping
func RenderRun(r *store.Run) {
	pterm.DefaultSection.Println("Run " + r.ID)
	pterm.Info.Printf("%s, %s observations, digest %s, policy %s, %s after %d iteration(s)\n",
		r.CreatedAt.Format(time.RFC3339), humanize.Comma(int64(r.Observations)), r.Digest, r.Policy, r.Outcome, r.Iterations)

	trace := pterm.TableData{{"Iteration", "Max error", "Worst field", "Excluded"}}
	for _, s := range r.Trace {
		trace = append(trace, []string{fmt.Sprintf("%d", s.Iteration), formatError(s.MaxError), s.Worst, s.Excluded})
	}
	pterm.DefaultTable.WithHasHeader().WithData(trace).Render()

	mapping := pterm.TableData{{"Field", "Channel", "Offset", "Label", "Error", "Samples"}}
	for _, f := range sortedKeys(r.Mapping) {
		e := r.Mapping[f]
		mapping = append(mapping, []string{f, e.Channel, fmt.Sprintf("%d", e.Offset), e.Label, fmt.Sprintf("%.4f", e.Error), humanize.Comma(int64(e.Samples))})
	}
	pterm.DefaultTable.WithHasHeader().WithData(mapping).Render()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func getSymbolForValue(value, min, max float64) string {
	if max == min {
		return pterm.FgGray.Sprint("·")
	}

	normalized := (value - min) / (max - min)

	switch {
	case normalized < 0.25:
		return pterm.FgCyan.Sprint("░")
	case normalized < 0.5:
		return pterm.FgGreen.Sprint("▒")
	case normalized < 0.75:
		return pterm.FgYellow.Sprint("▓")
	default:
		return pterm.FgRed.Sprint("█")
	}
}

func getColorStyle(value, min, max float64) *pterm.Style {
	if max == min {
		return pterm.NewStyle(pterm.FgGray)
	}

	normalized := (value - min) / (max - min)

	switch {
	case normalized < 0.25:
		return pterm.NewStyle(pterm.FgCyan)
	case normalized < 0.5:
		return pterm.NewStyle(pterm.FgGreen)
	case normalized < 0.75:
		return pterm.NewStyle(pterm.FgYellow)
	default:
		return pterm.NewStyle(pterm.FgRed)
	}
}
