// Package check runs compiled rules against a populated store.
package check

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/phobologic/rulecheck/internal/rules"
	"github.com/phobologic/rulecheck/internal/ruleset"
	"github.com/phobologic/rulecheck/internal/store"
)

// Finding is a violation with the names of the entity and reference it
// points at resolved.
type Finding struct {
	store.Violation
	Entity    string
	Reference string // empty for rules without a reference column
}

// Result is the outcome of one rule.
type Result struct {
	Rule     *rules.Rule
	Findings []Finding
	Err      error
}

// Failed reports whether the rule was violated or could not run.
func (r Result) Failed() bool { return r.Err != nil || len(r.Findings) > 0 }

// Report collects the results of a run in rule order.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Results  []Result
	Invalid  []error // rule-file statements that did not compile
}

// Passed reports whether every statement compiled and no rule failed.
func (r *Report) Passed() bool {
	return len(r.Invalid) == 0 && len(r.Failed()) == 0
}

// Failed returns the results of violated or broken rules.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Failed() {
			out = append(out, res)
		}
	}
	return out
}

// Total counts findings over all rules.
func (r *Report) Total() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Findings)
	}
	return n
}

// Errors counts statements that did not compile and rules that could not
// run.
func (r *Report) Errors() int {
	n := len(r.Invalid)
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Runner executes rules concurrently against DB.
type Runner struct {
	DB          *store.DB
	Logger      *slog.Logger
	Parallelism int // GOMAXPROCS when <= 0
}

// RunSet checks the rules of set and carries its compile failures into the
// report.
func (r *Runner) RunSet(ctx context.Context, set *ruleset.RuleSet) (*Report, error) {
	rep, err := r.Run(ctx, set.Rules)
	if err != nil {
		return nil, err
	}
	rep.Invalid = set.Errors
	return rep, nil
}

// Run checks every rule. A rule that fails to compile or execute is
// recorded in its Result and does not stop the others; only cancellation of
// ctx aborts the run.
func (r *Runner) Run(ctx context.Context, rs []*rules.Rule) (*Report, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := r.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	rep := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Results: make([]Result, len(rs)),
	}
	logger = logger.With("run", rep.RunID)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, rule := range rs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			findings, err := r.runRule(gctx, rule)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			if err != nil {
				logger.Warn("rule failed", "rule", rule.String(), "err", err)
			} else {
				logger.Debug("rule checked", "rule", rule.String(), "violations", len(findings))
			}
			rep.Results[i] = Result{Rule: rule, Findings: findings, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("checking rules: %w", err)
	}

	rep.Duration = time.Since(rep.Started)
	logger.Info("check finished",
		"rules", len(rs), "violations", rep.Total(), "errors", rep.Errors(),
		"duration", rep.Duration)
	return rep, nil
}

func (r *Runner) runRule(ctx context.Context, rule *rules.Rule) ([]Finding, error) {
	stmt, err := rule.Compile(ctx, r.DB)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	violations, err := stmt.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(violations))
	for _, v := range violations {
		f := Finding{Violation: v}
		e, err := r.DB.Entity(ctx, v.EntityID)
		if err != nil {
			return nil, err
		}
		f.Entity = e.Name
		if f.Line == 0 {
			f.Line = e.StartLine // contain text rows carry no line
		}
		if v.ReferenceID != 0 {
			ref, err := r.DB.LookupReference(ctx, v.ReferenceID)
			if err != nil {
				return nil, err
			}
			f.Reference = ref.Name
		}
		findings = append(findings, f)
	}
	return findings, nil
}
