// Package results collects parliamentary election results per unit and
// attributes each one to the unit identity that reported it.
//
// A result is fetched for the code a unit carried on election day. The
// ledger resolves that code to its stable unit, lists the units it
// continues as today, and for electoral districts the municipalities
// that voted in it. Records are written to the object store under
//
//	results/country={country}/year={year}/level={level_code}/{code}.json
//
// so a later boundary change never moves a historical result.
package results

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/objstore"
	"github.com/roach88/atlas/internal/projector"
	"github.com/roach88/atlas/internal/resolver"
	"github.com/roach88/atlas/internal/source"
)

// DataType is the object key data type of result records.
const DataType = "results"

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObjectStore writes every record to store.
func WithObjectStore(store objstore.Store) Option {
	return func(p *Pipeline) {
		p.objects = store
	}
}

// WithNow sets the clock that dates the successor lookup.
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline fetches results and attributes them through one projector.
type Pipeline struct {
	adapter *source.Adapter
	proj    *projector.Projector
	objects objstore.Store
	now     func() time.Time
}

// New creates a pipeline reading results from adapter and identities
// from proj.
func New(adapter *source.Adapter, proj *projector.Projector, opts ...Option) *Pipeline {
	p := &Pipeline{adapter: adapter, proj: proj, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attribution ties a result to the ledger.
type Attribution struct {
	UnitID       ir.UnitID          `json:"unit_id"`
	Version      ir.UnitVersion     `json:"version"`
	Successors   []ir.UnitID        `json:"successors"`
	SuccessorsOn ir.Date            `json:"successors_on"`
	Members      []projector.Member `json:"members,omitempty"`
}

// Record is a result with its attribution.
type Record struct {
	ir.ElectionResult
	ElectionDay ir.Date     `json:"election_day"`
	Attribution Attribution `json:"attribution"`
}

// Report summarises a run.
type Report struct {
	Dimension   ir.Dimension `json:"dimension"`
	Year        int          `json:"year"`
	Level       ir.Level     `json:"level"`
	ElectionDay ir.Date      `json:"election_day"`
	Records     []Record     `json:"records"`
	Written     []string     `json:"written,omitempty"`
}

// Run collects the results of year at level. With no codes it takes every
// unit active at level on election day; given codes must each name exactly
// one unit on that day.
func (p *Pipeline) Run(ctx context.Context, year int, level ir.Level, codes ...string) (*Report, error) {
	day, err := ir.ElectionDay(year)
	if err != nil {
		return nil, err
	}
	if !level.Valid() {
		return nil, ir.NewValidationError("level", fmt.Sprint(int(level)), "unknown level")
	}

	tl, err := p.proj.Timeline(ctx)
	if err != nil {
		return nil, err
	}
	res := resolver.New(tl, resolver.WithCodeValidator(p.adapter.Taxonomy), resolver.WithNow(p.now))
	dim := res.Dimension()
	_, today := res.Range()

	if len(codes) == 0 {
		snap, err := p.proj.Project(ctx, day)
		if err != nil {
			return nil, err
		}
		for _, v := range snap.Versions {
			if v.Level == level {
				codes = append(codes, v.Code)
			}
		}
		slices.Sort(codes)
	}

	report := &Report{Dimension: dim, Year: year, Level: level, ElectionDay: day, Records: []Record{}}
	log := slog.With("dimension", dim.String(), "year", year, "level", int(level))
	log.Info("results started", "units", len(codes), "election_day", day.String())

	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec, err := p.record(ctx, res, dim, level, year, day, today, code)
		if err != nil {
			return report, fmt.Errorf("results %s %d %s: %w", dim, year, code, err)
		}
		report.Records = append(report.Records, rec)

		if p.objects == nil {
			continue
		}
		key := objstore.Key{
			DataType: DataType,
			Country:  dim.Country,
			Year:     year,
			Level:    rec.LevelCode,
			Name:     code + ".json",
		}.String()
		if err := p.objects.WriteJSON(ctx, key, rec); err != nil {
			return report, fmt.Errorf("write %s: %w", key, err)
		}
		report.Written = append(report.Written, key)
	}

	log.Info("results finished", "records", len(report.Records), "written", len(report.Written))
	return report, nil
}

// record resolves code on election day before fetching its result, so a
// code the ledger never knew fails without a request upstream.
func (p *Pipeline) record(ctx context.Context, res *resolver.Resolver, dim ir.Dimension, level ir.Level, year int, day, today ir.Date, code string) (Record, error) {
	r, err := res.Resolve(code, day, level)
	if err != nil {
		return Record{}, err
	}
	successors, err := res.Successors(r.UnitID, today)
	if err != nil {
		return Record{}, err
	}
	attr := Attribution{
		UnitID:       r.UnitID,
		Version:      r.Version,
		Successors:   successors,
		SuccessorsOn: today,
	}
	if _, ok := level.Child(); ok {
		c, err := p.proj.Constituents(ctx, code, level, day)
		if err != nil {
			return Record{}, err
		}
		attr.Members = c.Children
	}

	result, err := p.adapter.ResultFor(ctx, dim, level, year, code)
	if err != nil {
		return Record{}, err
	}
	slog.Debug("result attributed",
		"code", code,
		"unit_id", string(r.UnitID),
		"successors", len(successors),
		"valid_votes", result.ValidVotesCast,
	)
	return Record{ElectionResult: result, ElectionDay: day, Attribution: attr}, nil
}
