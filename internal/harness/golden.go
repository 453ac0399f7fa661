package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/atlas/internal/ir"
)

// Canonical renders a scenario's outcomes as canonical JSON. The output
// carries no unit ids or event hashes, so it is stable across changes to
// id derivation.
func Canonical(scenario *Scenario, result *Result) ([]byte, error) {
	outcomes := make([]any, len(result.Outcomes))
	for i, o := range result.Outcomes {
		outcomes[i] = map[string]any{
			"step":   o.Step,
			"op":     o.Op,
			"input":  o.Input,
			"result": o.Result,
		}
	}
	return ir.MarshalCanonical(map[string]any{
		"scenario": scenario.Name,
		"appended": result.Appended,
		"outcomes": outcomes,
	})
}

// RunWithGolden executes a scenario, fails the test on unmet expectations
// and compares the outcomes against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, e)
	}

	out, err := Canonical(scenario, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, out)
	return nil
}
