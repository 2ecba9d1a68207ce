// Package refine drives the resolve, evaluate and exclude cycle until the
// worst field is good enough or the iteration budget runs out.
package refine

import (
	"github.com/pterm/pterm"

	"github.com/strato3003/jimny/pkg/assign"
	"github.com/strato3003/jimny/pkg/compare"
	"github.com/strato3003/jimny/pkg/models"
	"github.com/strato3003/jimny/pkg/scorer"
)

// State of the loop
type State int

const (
	Resolving State = iota
	Evaluating
	Excluding
	Converged
	Exhausted
)

func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Evaluating:
		return "evaluating"
	case Excluding:
		return "excluding"
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the loop stops in this state
func (s State) Terminal() bool {
	return s == Converged || s == Exhausted
}

// Options bounds the loop
type Options struct {
	Iterations int
	Threshold  float64
}

// DefaultOptions returns a budget of 10 iterations and a 0.001 threshold
func DefaultOptions() Options {
	return Options{Iterations: 10, Threshold: 0.001}
}

// Step records one evaluated iteration. Excluded is nil when the iteration
// ended the loop.
type Step struct {
	Iteration  int
	MaxError   float64
	Worst      models.Field
	WorstError float64
	Excluded   *models.Exclusion
}

// Result is the outcome of a run
type Result struct {
	Outcome    State
	Iterations int
	Assignment *models.Assignment
	Table      compare.Table
	Trace      []Step
	Exclusions []models.Exclusion
}

// Loop is the refinement state machine. The exclusion set is the only state
// carried from one iteration to the next.
type Loop struct {
	resolver *assign.Resolver
	scorer   *scorer.Scorer
	fields   []models.Field
	opts     Options
	logger   *pterm.Logger

	state      State
	iteration  int
	exclusions *models.ExclusionSet
	assignment *models.Assignment
	table      compare.Table
	trace      []Step
}

// New creates a loop in the Resolving state. initial seeds the exclusion set
// with externally supplied entries and may be nil.
func New(r *assign.Resolver, sc *scorer.Scorer, fields []models.Field, opts Options, initial []models.Exclusion) *Loop {
	if opts.Iterations < 1 {
		opts.Iterations = 1
	}
	return &Loop{
		resolver:   r,
		scorer:     sc,
		fields:     fields,
		opts:       opts,
		state:      Resolving,
		exclusions: models.NewExclusionSet(initial...),
	}
}

// WithLogger makes the loop log one entry per iteration
func (l *Loop) WithLogger(logger *pterm.Logger) *Loop {
	l.logger = logger
	return l
}

// State returns the current state
func (l *Loop) State() State {
	return l.state
}

// Exclusions returns the entries accumulated so far
func (l *Loop) Exclusions() []models.Exclusion {
	return l.exclusions.Entries()
}

// Advance performs one transition and returns the new state
func (l *Loop) Advance() State {
	switch l.state {
	case Resolving:
		l.iteration++
		l.assignment = l.resolver.Resolve(l.fields, l.exclusions)
		l.state = Evaluating

	case Evaluating:
		l.table = compare.Evaluate(l.scorer, l.assignment)
		step := Step{Iteration: l.iteration, MaxError: l.table.Max()}
		worst, found := l.table.Worst()
		if found {
			step.Worst, step.WorstError = worst.Field, worst.Error()
		}
		l.trace = append(l.trace, step)

		switch {
		case l.table.Assigned() == 0:
			// nothing to measure, a zero max error is not a fit
			l.state = Exhausted
		case step.MaxError < l.opts.Threshold:
			l.state = Converged
		case !found || l.iteration >= l.opts.Iterations:
			l.state = Exhausted
		default:
			l.state = Excluding
		}
		if l.state != Excluding {
			l.log(step)
		}

	case Excluding:
		step := &l.trace[len(l.trace)-1]
		worst, _ := l.table.Get(step.Worst)
		e := models.Exclusion{Field: worst.Field, Slot: worst.Mapping.Slot}
		if !l.exclusions.Add(e) {
			// already excluded, a rerun would repeat this iteration
			l.state = Exhausted
			l.log(*step)
			break
		}
		step.Excluded = &e
		l.log(*step)
		l.state = Resolving
	}
	return l.state
}

// Run advances until a terminal state
func (l *Loop) Run() *Result {
	for !l.state.Terminal() {
		l.Advance()
	}
	if l.logger != nil {
		args := l.logger.Args("iterations", l.iteration, "max_error", l.table.Max(), "exclusions", l.exclusions.Len())
		if l.state == Converged {
			l.logger.Info("refinement converged", args)
		} else {
			l.logger.Warn("refinement exhausted", args)
		}
	}
	return l.Result()
}

// Result returns a snapshot of the loop's output so far
func (l *Loop) Result() *Result {
	return &Result{
		Outcome:    l.state,
		Iterations: l.iteration,
		Assignment: l.assignment,
		Table:      l.table,
		Trace:      append([]Step(nil), l.trace...),
		Exclusions: l.exclusions.Entries(),
	}
}

func (l *Loop) log(s Step) {
	if l.logger == nil {
		return
	}
	args := []any{"iteration", s.Iteration, "max_error", s.MaxError}
	if s.Worst != "" {
		args = append(args, "worst", string(s.Worst), "worst_error", s.WorstError)
	}
	if s.Excluded != nil {
		args = append(args, "exclude", s.Excluded.String())
	}
	l.logger.Info("refinement iteration", l.logger.Args(args...))
}
