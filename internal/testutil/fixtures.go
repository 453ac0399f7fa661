// Package testutil provides deterministic clocks, id generators and
// fixture builders shared by package tests and the scenario harness.
package testutil

import (
	"strings"

	"github.com/roach88/atlas/internal/ir"
)

// Refs builds code references from "code" or "code=name" strings.
//
//	Refs("12=Hordaland", "14=Sogn og Fjordane")
func Refs(specs ...string) []ir.CodeRef {
	out := make([]ir.CodeRef, 0, len(specs))
	for _, s := range specs {
		code, name, ok := strings.Cut(s, "=")
		if !ok {
			name = "Unit " + code
		}
		out = append(out, ir.CodeRef{Code: code, Name: name})
	}
	return out
}

// Parent builds one mapping entry from "code=name" and child specs.
func Parent(spec string, children ...string) ir.ParentEntry {
	ref := Refs(spec)[0]
	return ir.ParentEntry{Code: ref.Code, Name: ref.Name, Children: Refs(children...)}
}

// Mapping builds a level-1 mapping for a dimension and year with the
// reference date April 1st.
func Mapping(dim string, year int, parents ...ir.ParentEntry) ir.ParentChildMapping {
	m := ir.ParentChildMapping{
		Dimension:     ir.MustDimension(dim),
		Year:          year,
		ReferenceDate: ir.NewDate(year, 4, 1),
		Level:         ir.LevelCounty,
		Source:        "fixture",
		Parents:       parents,
	}
	m.Normalize()
	return m
}

// Event builds a normalized change event. from and to take Refs specs.
func Event(dim, date string, level ir.Level, from, to []string) ir.ChangeEvent {
	ev := ir.ChangeEvent{
		Dimension:     ir.MustDimension(dim),
		Level:         level,
		EffectiveDate: ir.MustDate(date),
		Old:           Refs(from...),
		New:           Refs(to...),
		Source:        "fixture",
	}
	ev.Normalize()
	return ev
}

// Codes is shorthand for a list of Refs specs.
func Codes(specs ...string) []string { return specs }

// ElectoralBase2019 is the nor/1b base mapping used across tests:
// Hordaland with two municipalities, Sogn og Fjordane with two, and Oslo.
func ElectoralBase2019() ir.ParentChildMapping {
	return Mapping("nor/1b", 2019,
		Parent("12=Hordaland", "1201=Bergen", "1202=Voss"),
		Parent("14=Sogn og Fjordane", "1401=Flora", "1439=Vågsøy"),
		Parent("03=Oslo", "0301=Oslo"),
	)
}

// ElectoralTransition2020 renames every 2019 county to its v-prefixed
// electoral district on 2020-01-01.
func ElectoralTransition2020() []ir.ChangeEvent {
	return []ir.ChangeEvent{
		Event("nor/1b", "2020-01-01", ir.LevelCounty, Codes("03=Oslo"), Codes("v03=Oslo valgdistrikt")),
		Event("nor/1b", "2020-01-01", ir.LevelCounty, Codes("12=Hordaland"), Codes("v12=Hordaland valgdistrikt")),
		Event("nor/1b", "2020-01-01", ir.LevelCounty, Codes("14=Sogn og Fjordane"), Codes("v14=Sogn og Fjordane valgdistrikt")),
	}
}

// CountyBase2023 is a nor/1a base with counties 10 and 12 about to merge.
func CountyBase2023() ir.ParentChildMapping {
	return Mapping("nor/1a", 2023,
		Parent("10=Agder Vest", "1001=Kristiansand", "1002=Mandal"),
		Parent("12=Hordaland", "1201=Bergen"),
		Parent("30=Viken", "3001=Halden", "3025=Asker"),
	)
}

// CountyMerge2024 merges counties 10 and 12 into 11 on 2024-01-01.
func CountyMerge2024() ir.ChangeEvent {
	return Event("nor/1a", "2024-01-01", ir.LevelCounty,
		Codes("10=Agder Vest", "12=Hordaland"), Codes("11=Vestkyst"))
}

// Result builds a consistent election result for a unit: valid votes split
// evenly between election day and early voting, two parties sharing them,
// and a turnout of 0.75.
func Result(year int, code, name string, valid int) ir.ElectionResult {
	day := valid / 2
	return ir.ElectionResult{
		Year:           year,
		ElectionType:   ir.ElectionParliamentary,
		UnitCode:       code,
		UnitName:       name,
		RetrievedOn:    "2024-05-02",
		LastUpdated:    "2021-10-01",
		ValidVotesCast: valid,
		Turnout:        0.75,
		VotesByType: ir.VotesByType{
			ElectionDay: ir.BallotCount{Valid: day},
			Early:       ir.BallotCount{Valid: valid - day},
		},
		Results: []ir.PartyVotes{
			{PartyCode: "01", PartyName: "Arbeiderpartiet", Votes: valid - valid/3},
			{PartyCode: "02", PartyName: "Høyre", Votes: valid / 3},
		},
	}
}
