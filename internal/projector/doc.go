// Package projector replays a dimension's change event ledger over its
// base mapping and answers SCD2 questions: which unit versions were active
// on a date, what a unit's full version chain is, and which children a
// parent had.
//
// # Replay
//
// Every call starts from the base mapping and applies events in replay
// order (effective date, level, seq). No state survives between calls, so
// the same ledger always projects to the same versions, and Snapshot
// renders them as byte-identical canonical JSON.
//
// Replays compose: Advance(Replay(d1), d2) equals Replay(d2).
//
// # Event application
//
// An event closes the current versions of its old units on the effective
// date. Pairs marked Continues reopen the same identity under the new code;
// other new codes start new identities. Old units with no continuation
// retire. Children of changed parents follow an explicit assignment, stay
// with a continuing parent, or move to a single merge target; anything else
// is a validation error rather than a guess.
package projector
