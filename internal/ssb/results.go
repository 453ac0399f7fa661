package ssb

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/roach88/atlas/internal/ir"
)

// DefaultTablesURL is the public statistics bank (PxWeb) API.
const DefaultTablesURL = "https://data.ssb.no/api/v0/no/table"

// Statistics bank tables of the parliamentary election.
const (
	TableVotesCast    = "11691" // valid, discarded and blank ballots by time of voting
	TableVotesByParty = "08092" // approved votes per party
	TableTurnout      = "08243" // turnout in percent
	TableSeats        = "08219" // seats won per party and district
)

// Region value sets: electoral districts with Bergen as its own district,
// and municipalities as they voted.
const (
	districtValueSet     = "vs:ValgdistrikterMedBergen"
	municipalityValueSet = "vs:KommunValg"
)

// The statistics bank labels the pre-2020 districts v01..v20, and the
// later ones by their bare code.
const districtPrefixBefore = 2020

type tableQuery struct {
	Query    []tableSelection `json:"query"`
	Response struct {
		Format string `json:"format"`
	} `json:"response"`
}

type tableSelection struct {
	Code      string `json:"code"`
	Selection struct {
		Filter string   `json:"filter"`
		Values []string `json:"values"`
	} `json:"selection"`
}

func selection(code, filter string, values ...string) tableSelection {
	s := tableSelection{Code: code}
	s.Selection.Filter = filter
	s.Selection.Values = values
	return s
}

func newQuery(sels ...tableSelection) tableQuery {
	q := tableQuery{Query: sels}
	q.Response.Format = "json-stat2"
	return q
}

// dataset is a json-stat2 response.
type dataset struct {
	Updated   string                      `json:"updated"`
	Value     []*float64                  `json:"value"`
	Dimension map[string]datasetDimension `json:"dimension"`
}

type datasetDimension struct {
	Category struct {
		Index map[string]int    `json:"index"`
		Label map[string]string `json:"label"`
	} `json:"category"`
}

type category struct {
	code  string
	label string
	index int
}

// categories returns a dimension's categories in index order.
func (d *dataset) categories(dim string) []category {
	var out []category
	for code, idx := range d.Dimension[dim].Category.Index {
		out = append(out, category{code: code, label: d.Dimension[dim].Category.Label[code], index: idx})
	}
	slices.SortFunc(out, func(a, b category) int { return a.index - b.index })
	return out
}

// count returns value i as a whole number; missing values count zero.
func (d *dataset) count(i int) int {
	if i >= len(d.Value) || d.Value[i] == nil {
		return 0
	}
	return int(math.Round(*d.Value[i]))
}

// updatedOn returns the date part of the dataset's update stamp.
func (d *dataset) updatedOn() string {
	if len(d.Updated) < len("2006-01-02") {
		return d.Updated
	}
	return d.Updated[:len("2006-01-02")]
}

type region struct {
	filter string
	value  string
}

// regionOf maps a ledger code to the statistics bank's region value.
// Electoral district codes carry a "v" prefix in the ledger from 2020.
func regionOf(level ir.Level, year int, code string) (region, error) {
	switch level {
	case ir.LevelCounty:
		bare := strings.TrimPrefix(code, "v")
		if year < districtPrefixBefore {
			return region{filter: districtValueSet, value: "v" + bare}, nil
		}
		return region{filter: districtValueSet, value: bare}, nil
	case ir.LevelMunicipality:
		return region{filter: municipalityValueSet, value: code}, nil
	}
	return region{}, ir.NewValidationError("level", level.String(), "no election results at this level")
}

// Result fetches a unit's parliamentary election result: ballots cast,
// votes per party and turnout, plus the seat distribution for electoral
// districts. It implements source.ResultSource.
func (c *Client) Result(ctx context.Context, _ ir.Dimension, level ir.Level, year int, code string) (ir.ElectionResult, error) {
	if _, err := ir.ElectionDay(year); err != nil {
		return ir.ElectionResult{}, err
	}
	reg, err := regionOf(level, year, code)
	if err != nil {
		return ir.ElectionResult{}, err
	}
	regionSel := selection("Region", reg.filter, reg.value)
	yearSel := selection("Tid", "item", fmt.Sprint(year))

	var votes dataset
	if err := c.table(ctx, TableVotesByParty, newQuery(
		regionSel,
		selection("ContentsCode", "item", "Godkjente1"),
		yearSel,
	), &votes); err != nil {
		return ir.ElectionResult{}, err
	}
	name, ok := votes.Dimension["Region"].Category.Label[reg.value]
	if !ok {
		return ir.ElectionResult{}, fmt.Errorf("table %s: no region %s in %d", TableVotesByParty, reg.value, year)
	}

	r := ir.ElectionResult{
		Year:         year,
		ElectionType: ir.ElectionParliamentary,
		UnitCode:     code,
		UnitName:     name,
		RetrievedOn:  c.now().UTC().Format(time.DateOnly),
		LastUpdated:  votes.updatedOn(),
		Results:      []ir.PartyVotes{},
	}
	for _, p := range votes.categories("PolitParti") {
		if p.index >= len(votes.Value) || votes.Value[p.index] == nil {
			continue
		}
		r.Results = append(r.Results, ir.PartyVotes{PartyCode: p.code, PartyName: p.label, Votes: votes.count(p.index)})
	}

	var cast dataset
	if err := c.table(ctx, TableVotesCast, newQuery(
		regionSel,
		selection("StemmeGyldigNyn", "item", "1N", "2N", "3N"),
		selection("StemmeTidspktNyn", "item", "1N", "2N"),
		yearSel,
	), &cast); err != nil {
		return ir.ElectionResult{}, err
	}
	if len(cast.Value) < 6 {
		return ir.ElectionResult{}, fmt.Errorf("table %s: %d values for %s, want 6", TableVotesCast, len(cast.Value), reg.value)
	}
	// Values run validity-major: valid, discarded, blank, each split into
	// election day and early.
	r.VotesByType = ir.VotesByType{
		ElectionDay: ir.BallotCount{Valid: cast.count(0), Discarded: cast.count(2), Blank: cast.count(4)},
		Early:       ir.BallotCount{Valid: cast.count(1), Discarded: cast.count(3), Blank: cast.count(5)},
	}
	r.ValidVotesCast = r.VotesByType.ElectionDay.Valid + r.VotesByType.Early.Valid
	r.DiscardedVotes = r.VotesByType.ElectionDay.Discarded + r.VotesByType.Early.Discarded
	r.BlankVotes = r.VotesByType.ElectionDay.Blank + r.VotesByType.Early.Blank

	var turnout dataset
	if err := c.table(ctx, TableTurnout, newQuery(regionSel, yearSel), &turnout); err != nil {
		return ir.ElectionResult{}, err
	}
	if len(turnout.Value) == 0 || turnout.Value[0] == nil {
		return ir.ElectionResult{}, fmt.Errorf("table %s: no turnout for %s in %d", TableTurnout, reg.value, year)
	}
	r.Turnout = *turnout.Value[0] / 100

	if level == ir.LevelCounty {
		var seats dataset
		if err := c.table(ctx, TableSeats, newQuery(
			regionSel,
			selection("PolitParti", "all", "*"),
			yearSel,
		), &seats); err != nil {
			return ir.ElectionResult{}, err
		}
		for _, p := range seats.categories("PolitParti") {
			if n := seats.count(p.index); n > 0 {
				r.SeatDistribution = append(r.SeatDistribution, ir.PartySeats{PartyCode: p.code, PartyName: p.label, Seats: n})
			}
		}
	}
	return r, nil
}

// table posts a query to a statistics bank table.
func (c *Client) table(ctx context.Context, id string, q tableQuery, v any) error {
	body, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("%s/%s/", c.tables, id), body, v)
}
