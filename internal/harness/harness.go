package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/ledger"
	"github.com/roach88/atlas/internal/projector"
	"github.com/roach88/atlas/internal/resolver"
	"github.com/roach88/atlas/internal/taxonomy"
	"github.com/roach88/atlas/internal/testutil"
)

// Harness holds the ledger of one scenario run.
type Harness struct {
	scenario *Scenario
	tax      *taxonomy.Taxonomy
	ledger   *ledger.Ledger
	proj     *projector.Projector
	now      func() time.Time
	saved    map[string]ir.UnitID
}

// Run executes a scenario against a fresh in-memory ledger with a
// deterministic clock and returns the result. Errors setting up the ledger
// are returned; failed expectations are recorded in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	tax, err := taxonomy.Norway()
	if err != nil {
		return nil, err
	}
	dim, err := ir.ParseDimension(scenario.Dimension)
	if err != nil {
		return nil, err
	}
	l, err := ledger.New(ctx, ledger.NewMemoryLog(), dim,
		ledger.WithCodeValidator(tax),
		ledger.WithClock(testutil.NewDeterministicClock()),
		ledger.WithEventChecker(func(l *ledger.Ledger) ledger.EventChecker { return projector.New(l) }),
	)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		scenario: scenario,
		tax:      tax,
		ledger:   l,
		proj:     projector.New(l),
		now:      time.Now,
		saved:    map[string]ir.UnitID{},
	}
	if scenario.Today != "" {
		today := ir.MustDate(scenario.Today).Time()
		h.now = func() time.Time { return today }
	}

	if err := h.setup(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	evs, err := l.Events(ctx)
	if err != nil {
		return nil, err
	}
	result.Appended = len(evs)

	for i, step := range scenario.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := h.runStep(ctx, i, step, result)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		result.Outcomes = append(result.Outcomes, out)
	}
	return result, nil
}

func (h *Harness) setup(ctx context.Context) error {
	sc := h.scenario
	for i, m := range sc.Mappings {
		if _, err := h.ledger.PublishMapping(ctx, m.mapping(sc.Dimension)); err != nil {
			return fmt.Errorf("mappings[%d]: %w", i, err)
		}
	}
	for i, ev := range sc.Events {
		if _, err := h.ledger.Append(ctx, ev.event(sc.Dimension)); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}

	byLevel := map[ir.Level][]ir.RawChange{}
	var levels []ir.Level
	for _, c := range sc.Changes {
		level := ir.Level(c.Level)
		if _, ok := byLevel[level]; !ok {
			levels = append(levels, level)
		}
		byLevel[level] = append(byLevel[level], c.raw())
	}
	slices.Sort(levels)
	var evs []ir.ChangeEvent
	for _, level := range levels {
		grouped, err := ledger.GroupChanges(h.ledger.Dimension(), level, byLevel[level])
		if err != nil {
			return fmt.Errorf("changes level %d: %w", level, err)
		}
		evs = append(evs, grouped...)
	}
	ledger.SortAppendOrder(evs)
	if _, err := h.ledger.AppendBatch(ctx, evs); err != nil {
		return fmt.Errorf("changes: %w", err)
	}
	return nil
}

func (h *Harness) resolver(ctx context.Context) (*resolver.Resolver, error) {
	tl, err := h.proj.Timeline(ctx)
	if err != nil {
		return nil, err
	}
	return resolver.New(tl, resolver.WithCodeValidator(h.tax), resolver.WithNow(h.now)), nil
}

func (h *Harness) runStep(ctx context.Context, i int, step Step, result *Result) (Outcome, error) {
	switch {
	case step.Resolve != nil:
		return h.runResolve(ctx, i, step, result)
	case step.History != nil:
		return h.runHistory(ctx, i, step, result)
	case step.Project != nil:
		return h.runProject(ctx, i, step, result)
	default:
		return h.runAppend(ctx, i, step, result)
	}
}

func (h *Harness) runResolve(ctx context.Context, i int, step Step, result *Result) (Outcome, error) {
	rs := step.Resolve
	out := Outcome{Step: i, Op: "resolve", Input: rs.input()}
	if rs.Nearest {
		out.Op = "resolve_nearest"
	}
	r, err := h.resolver(ctx)
	if err != nil {
		return out, err
	}
	res, err := rs.resolve(r)
	out.Result = resolutionResult(res, err)
	if err == nil && step.Save != "" {
		h.saved[step.Save] = res.UnitID
	}
	h.check(i, step.Expect, out.Result, res.UnitID, result)
	return out, nil
}

func (h *Harness) runHistory(ctx context.Context, i int, step Step, result *Result) (Outcome, error) {
	rs := step.History
	out := Outcome{Step: i, Op: "history", Input: rs.input()}
	r, err := h.resolver(ctx)
	if err != nil {
		return out, err
	}
	res, err := rs.resolve(r)
	if err != nil {
		out.Result = errorResult(err)
		h.check(i, step.Expect, out.Result, "", result)
		return out, nil
	}
	if step.Save != "" {
		h.saved[step.Save] = res.UnitID
	}
	versions, err := h.proj.History(ctx, res.UnitID)
	if err != nil {
		return out, err
	}
	list := make([]any, 0, len(versions))
	for _, v := range versions {
		list = append(list, versionResult(v))
	}
	out.Result = map[string]any{"versions": list}
	h.check(i, step.Expect, out.Result, res.UnitID, result)
	return out, nil
}

func (h *Harness) runProject(ctx context.Context, i int, step Step, result *Result) (Outcome, error) {
	asOf := ir.MustDate(step.Project.AsOf)
	out := Outcome{Step: i, Op: "project", Input: asOf.String()}
	snap, err := h.proj.Project(ctx, asOf)
	if err != nil {
		out.Result = errorResult(err)
		h.check(i, step.Expect, out.Result, "", result)
		return out, nil
	}
	out.Result = snapshotResult(snap)
	h.check(i, step.Expect, out.Result, "", result)
	return out, nil
}

func (h *Harness) runAppend(ctx context.Context, i int, step Step, result *Result) (Outcome, error) {
	ev := step.Append.event(h.scenario.Dimension)
	out := Outcome{Step: i, Op: "append", Input: fmt.Sprintf("%s level %d %v -> %v",
		ev.EffectiveDate, ev.Level, ev.OldCodes(), ev.NewCodes())}
	appended, err := h.ledger.Append(ctx, ev)
	if err != nil {
		out.Result = errorResult(err)
	} else {
		out.Result = map[string]any{"appended": appended}
	}
	h.check(i, step.Expect, out.Result, "", result)
	return out, nil
}

func (rs *ResolveStep) input() string {
	return fmt.Sprintf("%s@%d %s", rs.Code, rs.Level, rs.AsOf)
}

func (rs *ResolveStep) resolve(r *resolver.Resolver) (ir.Resolution, error) {
	asOf := ir.MustDate(rs.AsOf)
	if rs.Nearest {
		return r.ResolveNearest(rs.Code, asOf, ir.Level(rs.Level))
	}
	return r.Resolve(rs.Code, asOf, ir.Level(rs.Level))
}

func errorResult(err error) map[string]any {
	code := ir.CodeOf(err)
	if code == "" {
		code = "ERROR"
		if errors.Is(err, projector.ErrNoBase) {
			code = "NO_BASE"
		}
	}
	return map[string]any{"error": string(code)}
}

func resolutionResult(res ir.Resolution, err error) map[string]any {
	if err != nil {
		return errorResult(err)
	}
	out := versionResult(res.Version)
	out["direction"] = string(res.Direction)
	out["hops"] = res.Hops
	return out
}

func versionResult(v ir.UnitVersion) map[string]any {
	out := map[string]any{
		"code":       v.Code,
		"name":       v.Name,
		"valid_from": v.ValidFrom.String(),
	}
	if v.ValidTo != nil {
		out["valid_to"] = v.ValidTo.String()
	}
	return out
}

func snapshotResult(snap *projector.Snapshot) map[string]any {
	codes := map[string]any{}
	for _, v := range snap.Versions {
		key := fmt.Sprint(int(v.Level))
		acc, _ := codes[key].([]string)
		codes[key] = append(acc, v.Code)
	}
	for k, v := range codes {
		codes[k] = sortedStrings(v.([]string))
	}
	constituents := map[string]any{}
	for _, c := range snap.Constituents {
		constituents[c.ParentCode] = sortedStrings(c.Codes())
	}
	return map[string]any{"codes": codes, "constituents": constituents}
}
