// Package harness runs YAML scenarios against a fresh in-memory ledger.
//
// A scenario publishes mappings, appends change events (written directly
// or as raw change records to be grouped), then runs steps that resolve,
// project and inspect history, checking each outcome against its expect
// clause.
//
// # Scenario Format
//
//	name: electoral_transition
//	description: "Electoral districts take a v prefix and keep identity"
//	dimension: nor/1b
//	mappings:
//	  - year: 2019
//	    parents:
//	      - parent: "12=Hordaland"
//	        children: ["1201=Bergen", "1202=Voss"]
//	events:
//	  - date: 2020-01-01
//	    level: 1
//	    old: ["12=Hordaland"]
//	    new: ["v12=Hordaland valgdistrikt"]
//	changes:
//	  - level: 2
//	    date: 2020-01-01
//	    old: "1202=Voss"
//	    new: "4621=Voss"
//	steps:
//	  - resolve: {code: "12", level: 1, as_of: 2019-06-01}
//	    save: hordaland
//	    expect: {code: "12", name: Hordaland}
//	  - resolve: {code: "v12", level: 1, as_of: 2020-06-01}
//	    expect: {same_as: hordaland}
//	  - project: {as_of: 2020-06-01}
//	    expect:
//	      codes: {1: ["v12"]}
//	      constituents: {v12: ["1201", "4621"]}
//
// Codes are written "code=name"; a bare code gets the name "Unit <code>".
//
// # Steps
//
//   - resolve: strict resolution, or nearest with nearest: true
//   - history: resolve, then list every version of the unit
//   - project: active codes per level and constituents on a date
//   - append: append one more event, typically to check it is rejected
//
// # Deterministic Output
//
// Outcomes carry codes, names, dates and error codes, never unit ids or
// event hashes, and render as canonical JSON. RunWithGolden compares them
// to testdata/golden/{name}.golden.
package harness
