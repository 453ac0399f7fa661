// Package ingest runs the yearly pipeline: fetch the base mapping, then
// for every later year fetch the change windows, group them into events,
// append them to the ledger, publish that year's mapping and check the
// projection against it.
//
// Raw upstream documents and projected snapshots are written to an object
// store when one is configured. Re-running a range is idempotent: events
// and mappings already recorded are skipped and objects are overwritten
// with the same content.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/ledger"
	"github.com/roach88/atlas/internal/objstore"
	"github.com/roach88/atlas/internal/projector"
	"github.com/roach88/atlas/internal/source"
	"github.com/roach88/atlas/internal/taxonomy"
)

// Object key data types.
const (
	RawData       = "raw"
	SnapshotsData = "dimensions"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObjectStore writes raw documents and snapshots to store.
func WithObjectStore(store objstore.Store) Option {
	return func(p *Pipeline) {
		p.objects = store
	}
}

// WithRunIDGenerator sets the run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(p *Pipeline) {
		p.runIDs = g
	}
}

// WithProjector sets the projector used for snapshots and reconciliation,
// e.g. one backed by a cache. It must read the same ledger.
func WithProjector(proj *projector.Projector) Option {
	return func(p *Pipeline) {
		p.proj = proj
	}
}

// Pipeline ingests one dimension into its ledger.
type Pipeline struct {
	adapter *source.Adapter
	ledger  *ledger.Ledger
	proj    *projector.Projector
	objects objstore.Store
	runIDs  RunIDGenerator
}

// New creates a pipeline feeding l from adapter.
func New(adapter *source.Adapter, l *ledger.Ledger, opts ...Option) *Pipeline {
	p := &Pipeline{
		adapter: adapter,
		ledger:  l,
		runIDs:  UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.proj == nil {
		p.proj = projector.New(l)
	}
	return p
}

// Report summarises a run.
type Report struct {
	RunID     string       `json:"run_id"`
	Dimension ir.Dimension `json:"dimension"`
	FromYear  int          `json:"from_year"`
	ToYear    int          `json:"to_year"`
	Years     []YearReport `json:"years"`
}

// Appended returns the number of events newly appended over the run.
func (r *Report) Appended() int {
	n := 0
	for _, y := range r.Years {
		n += y.Appended
	}
	return n
}

// Consistent reports whether every year reconciled.
func (r *Report) Consistent() bool {
	for _, y := range r.Years {
		for _, rec := range y.Reconciliations {
			if !rec.Consistent() {
				return false
			}
		}
	}
	return true
}

// YearReport is one year of a run.
type YearReport struct {
	Year            int                         `json:"year"`
	From            ir.Date                     `json:"from,omitzero"`
	To              ir.Date                     `json:"to"`
	Records         int                         `json:"records"`
	Events          int                         `json:"events"`
	Appended        int                         `json:"appended"`
	Published       int                         `json:"published"`
	Reconciliations []*projector.Reconciliation `json:"reconciliations,omitempty"`
}

// Run ingests fromYear as the base and every year up to toYear.
func (p *Pipeline) Run(ctx context.Context, fromYear, toYear int) (*Report, error) {
	dim := p.ledger.Dimension()
	if fromYear <= 0 || toYear < fromYear {
		return nil, ir.NewValidationError("years", fmt.Sprintf("%d..%d", fromYear, toYear),
			"want 0 < from <= to")
	}
	spec, err := p.adapter.Taxonomy.Dimension(dim)
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: p.runIDs.Generate(), Dimension: dim, FromYear: fromYear, ToYear: toYear}
	log := slog.With("run_id", report.RunID, "dimension", dim.String())
	log.Info("ingest started", "from", fromYear, "to", toYear)

	r := &run{Pipeline: p, dim: dim, spec: spec, log: log}
	for year := fromYear; year <= toYear; year++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		yr, err := r.year(ctx, year, year == fromYear)
		if err != nil {
			return report, fmt.Errorf("ingest %s %d: %w", dim, year, err)
		}
		report.Years = append(report.Years, yr)
	}

	log.Info("ingest finished",
		"years", len(report.Years),
		"appended", report.Appended(),
		"consistent", report.Consistent(),
	)
	return report, nil
}

// run carries the per-run state.
type run struct {
	*Pipeline
	dim  ir.Dimension
	spec *taxonomy.DimensionSpec
	log  *slog.Logger
}

// mappingLevels are the levels that have children, in order.
func (r *run) mappingLevels() []ir.Level {
	var levels []ir.Level
	for _, l := range r.spec.Levels {
		if _, ok := l.Level.Child(); ok && l.Level < r.spec.MaxLevel() {
			levels = append(levels, l.Level)
		}
	}
	return levels
}

func (r *run) year(ctx context.Context, year int, base bool) (YearReport, error) {
	tax := r.adapter.Taxonomy
	yr := YearReport{Year: year, To: tax.ReferenceDate(year)}

	mappings := map[ir.Level]ir.ParentChildMapping{}
	for _, level := range r.mappingLevels() {
		m, err := r.adapter.Mapping(ctx, r.dim, level, year)
		if err != nil {
			return yr, err
		}
		if err := r.writeRaw(ctx, year, fmt.Sprintf("mapping-l%d.json", level), m); err != nil {
			return yr, err
		}
		mappings[level] = m
	}

	if !base {
		yr.From = tax.ReferenceDate(year - 1).AddDays(1)
		var events []ir.ChangeEvent
		for _, level := range r.levels() {
			records, evs, err := r.changes(ctx, year, level, yr.From, yr.To, mappings)
			if err != nil {
				return yr, err
			}
			yr.Records += records
			events = append(events, evs...)
		}
		// The window spans levels; appends must not go back in time.
		ledger.SortAppendOrder(events)
		yr.Events = len(events)
		appended, err := r.appendAll(ctx, events, mappings)
		if err != nil {
			return yr, err
		}
		yr.Appended = appended
	}

	for _, level := range r.mappingLevels() {
		published, err := r.ledger.PublishMapping(ctx, mappings[level])
		if err != nil {
			return yr, err
		}
		if published {
			yr.Published++
		}
		if base {
			continue
		}
		rec, err := r.proj.Reconcile(ctx, mappings[level])
		if err != nil {
			return yr, err
		}
		if !rec.Consistent() {
			r.log.Warn("projection disagrees with published mapping",
				"year", year,
				"level", int(level),
				"missing", len(rec.Missing),
				"unexpected", len(rec.Unexpected),
				"reparented", len(rec.Reparented),
			)
		}
		yr.Reconciliations = append(yr.Reconciliations, rec)
	}

	if err := r.writeSnapshot(ctx, year, yr.To); err != nil {
		return yr, err
	}

	r.log.Info("year ingested",
		"year", year,
		"records", yr.Records,
		"events", yr.Events,
		"appended", yr.Appended,
		"published", yr.Published,
	)
	return yr, nil
}

func (r *run) levels() []ir.Level {
	levels := make([]ir.Level, 0, len(r.spec.Levels))
	for _, l := range r.spec.Levels {
		levels = append(levels, l.Level)
	}
	return levels
}

// changes fetches and groups one level's window.
func (r *run) changes(ctx context.Context, year int, level ir.Level, from, to ir.Date, mappings map[ir.Level]ir.ParentChildMapping) (int, []ir.ChangeEvent, error) {
	raws, err := r.adapter.ChangesFor(ctx, r.dim, level, from, to)
	if err != nil {
		return 0, nil, err
	}
	if err := r.writeRaw(ctx, year, fmt.Sprintf("changes-l%d.json", level), raws); err != nil {
		return 0, nil, err
	}
	events, err := ledger.GroupChanges(r.dim, level, raws)
	if err != nil {
		return len(raws), nil, err
	}
	for i := range events {
		events[i].Source = r.adapter.Name
	}
	return len(raws), events, nil
}

// appendAll appends a window's events in order. Parents and split
// children come from the year's mapping, checked against the ledger as it
// stands just before each event.
func (r *run) appendAll(ctx context.Context, events []ir.ChangeEvent, mappings map[ir.Level]ir.ParentChildMapping) (int, error) {
	appended := 0
	for i := range events {
		ev := &events[i]
		parentLevel, hasParent := ev.Level.Parent()
		parents, needParents := mappings[parentLevel]
		needParents = needParents && hasParent && len(ev.Parents) == 0
		_, hasChild := ev.Level.Child()
		children, needChildren := mappings[ev.Level]
		needChildren = needChildren && hasChild && len(ev.New) > 1 && len(ev.Children) == 0

		if needParents || needChildren {
			st, err := r.stateOn(ctx, ev.EffectiveDate, events[:i])
			if err != nil {
				return appended, err
			}
			snap := st.Snapshot(ev.EffectiveDate)
			if needParents {
				assignParents(ev, parentLevel, parents, snap)
			}
			if needChildren {
				assignChildren(ev, children, snap)
			}
		}

		ok, err := r.ledger.Append(ctx, *ev)
		if err != nil {
			return appended, err
		}
		if ok {
			appended++
		}
	}
	return appended, nil
}

// stateOn is the ledger on d just before the next event of the window:
// the replay up to the day before plus the window's earlier events of d.
// It does not depend on whether those events are already appended.
func (r *run) stateOn(ctx context.Context, d ir.Date, earlier []ir.ChangeEvent) (*projector.State, error) {
	st, err := r.proj.Replay(ctx, d.AddDays(-1))
	if err != nil {
		return nil, err
	}
	var sameDay []ir.ChangeEvent
	for _, ev := range earlier {
		if ev.EffectiveDate.Equal(d) {
			sameDay = append(sameDay, ev)
		}
	}
	return st.Apply(sameDay...)
}

// assignParents places every new code of ev under its parent in the
// year's mapping when that parent exists on the event date. Other codes
// are left to the projector's defaults.
func assignParents(ev *ir.ChangeEvent, level ir.Level, m ir.ParentChildMapping, snap *projector.Snapshot) {
	for _, ref := range ev.New {
		parent, ok := m.ParentOf(ref.Code)
		if !ok {
			continue
		}
		if _, ok := snap.Version(level, parent); !ok {
			continue
		}
		ev.Parents = append(ev.Parents, ir.ParentAssignment{Code: ref.Code, ParentCode: parent})
	}
	ev.Normalize()
}

// assignChildren tells a split where the old units' children go, using the
// year's mapping. Children whose new parent is outside the event are left
// to the projector's defaults.
func assignChildren(ev *ir.ChangeEvent, m ir.ParentChildMapping, snap *projector.Snapshot) {
	targets := map[string]bool{}
	for _, ref := range ev.New {
		targets[ref.Code] = true
	}
	for _, old := range ev.Old {
		c, ok := snap.Constituent(ev.Level, old.Code)
		if !ok {
			continue
		}
		for _, member := range c.Children {
			parent, ok := m.ParentOf(member.Code)
			if !ok || !targets[parent] {
				continue
			}
			ev.Children = append(ev.Children, ir.ParentAssignment{Code: member.Code, ParentCode: parent})
		}
	}
	ev.Normalize()
}

func (r *run) key(dataType string, year int, name string) string {
	return objstore.Key{
		DataType: dataType,
		Country:  r.dim.Country,
		Year:     year,
		Level:    r.dim.Taxonomy,
		Name:     name,
	}.String()
}

func (r *run) writeRaw(ctx context.Context, year int, name string, v any) error {
	if r.objects == nil {
		return nil
	}
	return r.objects.WriteJSON(ctx, r.key(RawData, year, name), v)
}

func (r *run) writeSnapshot(ctx context.Context, year int, asOf ir.Date) error {
	if r.objects == nil {
		return nil
	}
	snap, err := r.proj.Project(ctx, asOf)
	if err != nil {
		return err
	}
	return r.objects.WriteJSON(ctx, r.key(SnapshotsData, year, "snapshot.json"), snap)
}
