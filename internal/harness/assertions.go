package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/atlas/internal/ir"
)

// AssertionError describes one failed expectation.
type AssertionError struct {
	Step     int
	Field    string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("step %d: %s: expected %s, got %s", e.Step, e.Field, e.Expected, e.Actual)
}

// check matches an outcome against its expect clause and records every
// mismatch in result. A nil clause expects success.
func (h *Harness) check(step int, exp *Expect, out map[string]any, id ir.UnitID, result *Result) {
	for _, err := range h.mismatches(step, exp, out, id) {
		result.AddError(err.Error())
	}
}

func (h *Harness) mismatches(step int, exp *Expect, out map[string]any, id ir.UnitID) []*AssertionError {
	var errs []*AssertionError
	fail := func(field string, expected, actual any) {
		errs = append(errs, &AssertionError{
			Step:     step,
			Field:    field,
			Expected: fmt.Sprint(expected),
			Actual:   fmt.Sprint(actual),
		})
	}

	gotErr, _ := out["error"].(string)
	if exp == nil || exp.Error == "" {
		if gotErr != "" {
			fail("error", "none", gotErr)
		}
	} else if gotErr != exp.Error {
		fail("error", exp.Error, orNone(gotErr))
	}
	if exp == nil || gotErr != "" {
		return errs
	}

	str := func(field, want string) {
		if want == "" {
			return
		}
		if got, _ := out[field].(string); got != want {
			fail(field, want, orNone(got))
		}
	}
	str("code", exp.Code)
	str("name", exp.Name)
	str("valid_from", exp.ValidFrom)
	str("valid_to", exp.ValidTo)
	str("direction", exp.Direction)

	if exp.Hops != nil {
		if got, _ := out["hops"].(int); got != *exp.Hops {
			fail("hops", *exp.Hops, got)
		}
	}
	if exp.SameAs != "" {
		want, ok := h.saved[exp.SameAs]
		switch {
		case !ok:
			fail("same_as", "saved unit "+exp.SameAs, "no such label")
		case want != id:
			fail("same_as", "unit "+exp.SameAs, "a different unit")
		}
	}
	if exp.NotSameAs != "" {
		if want, ok := h.saved[exp.NotSameAs]; ok && want == id {
			fail("not_same_as", "a unit other than "+exp.NotSameAs, "unit "+exp.NotSameAs)
		}
	}
	if exp.Versions != nil {
		list, _ := out["versions"].([]any)
		if len(list) != *exp.Versions {
			fail("versions", *exp.Versions, len(list))
		}
	}
	if exp.Codes != nil {
		codes, _ := out["codes"].(map[string]any)
		for level, want := range exp.Codes {
			got, _ := codes[fmt.Sprint(level)].([]string)
			if !slices.Equal(sortedStrings(want), got) {
				fail(fmt.Sprintf("codes[%d]", level), list(want), list(got))
			}
		}
	}
	if exp.Constituents != nil {
		cs, _ := out["constituents"].(map[string]any)
		for parent, want := range exp.Constituents {
			got, _ := cs[parent].([]string)
			if !slices.Equal(sortedStrings(want), got) {
				fail("constituents["+parent+"]", list(want), list(got))
			}
		}
	}
	if exp.Appended != nil {
		if got, _ := out["appended"].(bool); got != *exp.Appended {
			fail("appended", *exp.Appended, got)
		}
	}
	return errs
}

func sortedStrings(in []string) []string {
	out := slices.Clone(in)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return out
}

func list(codes []string) string {
	return "[" + strings.Join(codes, ", ") + "]"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
