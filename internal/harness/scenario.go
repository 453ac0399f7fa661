package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/testutil"
)

// Scenario is one conformance scenario.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Dimension is the tracked dimension, e.g. nor/1b.
	Dimension string `yaml:"dimension"`

	// Today bounds as-of dates. Defaults to the wall clock.
	Today string `yaml:"today,omitempty"`

	// Mappings are published before any event. The earliest year is the base.
	Mappings []MappingSpec `yaml:"mappings"`

	// Events are appended in order after the mappings.
	Events []EventSpec `yaml:"events,omitempty"`

	// Changes are raw change records, grouped into events per level and
	// appended after Events.
	Changes []ChangeSpec `yaml:"changes,omitempty"`

	// Steps run against the resulting ledger.
	Steps []Step `yaml:"steps"`
}

// MappingSpec is a published level-1 mapping.
type MappingSpec struct {
	Year    int          `yaml:"year"`
	Parents []ParentSpec `yaml:"parents"`
}

// ParentSpec is a parent with its children, in code=name form.
type ParentSpec struct {
	Parent   string   `yaml:"parent"`
	Children []string `yaml:"children"`
}

// EventSpec is a change event.
type EventSpec struct {
	Date  string   `yaml:"date"`
	Level int      `yaml:"level"`
	Old   []string `yaml:"old"`
	New   []string `yaml:"new"`

	// Continues lists "old->new" pairs that keep identity. When empty the
	// default pairing applies.
	Continues []string `yaml:"continues,omitempty"`

	// Parents and Children map a code to its parent code.
	Parents  map[string]string `yaml:"parents,omitempty"`
	Children map[string]string `yaml:"children,omitempty"`
}

// ChangeSpec is one raw change record.
type ChangeSpec struct {
	Level int    `yaml:"level"`
	Date  string `yaml:"date"`
	Old   string `yaml:"old"`
	New   string `yaml:"new"`
}

// Step is one check. Exactly one of Resolve, History, Project or Append
// is set.
type Step struct {
	Resolve *ResolveStep `yaml:"resolve,omitempty"`
	History *ResolveStep `yaml:"history,omitempty"`
	Project *ProjectStep `yaml:"project,omitempty"`
	Append  *EventSpec   `yaml:"append,omitempty"`

	// Save records the resolved unit under a label for later same_as checks.
	Save string `yaml:"save,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// ResolveStep selects a code at a date.
type ResolveStep struct {
	Code    string `yaml:"code"`
	Level   int    `yaml:"level"`
	AsOf    string `yaml:"as_of"`
	Nearest bool   `yaml:"nearest,omitempty"`
}

// ProjectStep selects a projection date.
type ProjectStep struct {
	AsOf string `yaml:"as_of"`
}

// Expect is a subset match on a step's outcome. Unset fields are not
// checked.
type Expect struct {
	Error     string `yaml:"error,omitempty"` // an ir.ErrorCode
	Code      string `yaml:"code,omitempty"`
	Name      string `yaml:"name,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty"`
	Direction string `yaml:"direction,omitempty"`
	Hops      *int   `yaml:"hops,omitempty"`
	SameAs    string `yaml:"same_as,omitempty"`
	NotSameAs string `yaml:"not_same_as,omitempty"`

	// Versions is the expected number of history versions.
	Versions *int `yaml:"versions,omitempty"`

	// Codes maps a level to its exact sorted active codes.
	Codes map[int][]string `yaml:"codes,omitempty"`

	// Constituents maps a parent code to its exact sorted child codes.
	Constituents map[string][]string `yaml:"constituents,omitempty"`

	Appended *bool `yaml:"appended,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := ir.ParseDimension(s.Dimension); err != nil {
		return fmt.Errorf("dimension: %w", err)
	}
	if s.Today != "" {
		if _, err := ir.ParseDate(s.Today); err != nil {
			return fmt.Errorf("today: %w", err)
		}
	}
	if len(s.Mappings) == 0 {
		return fmt.Errorf("mappings list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, m := range s.Mappings {
		if m.Year <= 0 {
			return fmt.Errorf("mappings[%d]: year is required", i)
		}
	}
	for i, ev := range s.Events {
		if err := validateEvent(ev); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	for i, c := range s.Changes {
		if _, err := ir.ParseDate(c.Date); err != nil {
			return fmt.Errorf("changes[%d]: %w", i, err)
		}
		if c.Old == "" || c.New == "" {
			return fmt.Errorf("changes[%d]: old and new are required", i)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func validateEvent(ev EventSpec) error {
	if _, err := ir.ParseDate(ev.Date); err != nil {
		return err
	}
	if !ir.Level(ev.Level).Valid() {
		return fmt.Errorf("invalid level %d", ev.Level)
	}
	if len(ev.Old) == 0 || len(ev.New) == 0 {
		return fmt.Errorf("old and new are required")
	}
	for _, c := range ev.Continues {
		if _, _, ok := strings.Cut(c, "->"); !ok {
			return fmt.Errorf("continues %q: want old->new", c)
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	for _, ok := range []bool{step.Resolve != nil, step.History != nil, step.Project != nil, step.Append != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of resolve, history, project or append is required")
	}
	for _, rs := range []*ResolveStep{step.Resolve, step.History} {
		if rs == nil {
			continue
		}
		if rs.Code == "" {
			return fmt.Errorf("code is required")
		}
		if _, err := ir.ParseDate(rs.AsOf); err != nil {
			return fmt.Errorf("as_of: %w", err)
		}
	}
	if step.Project != nil {
		if _, err := ir.ParseDate(step.Project.AsOf); err != nil {
			return fmt.Errorf("as_of: %w", err)
		}
	}
	if step.Append != nil {
		if err := validateEvent(*step.Append); err != nil {
			return err
		}
	}
	if step.Save != "" && step.Resolve == nil && step.History == nil {
		return fmt.Errorf("save needs a resolve or history step")
	}
	return nil
}

// mapping builds the ir mapping of a MappingSpec.
func (m MappingSpec) mapping(dim string) ir.ParentChildMapping {
	parents := make([]ir.ParentEntry, 0, len(m.Parents))
	for _, p := range m.Parents {
		parents = append(parents, testutil.Parent(p.Parent, p.Children...))
	}
	return testutil.Mapping(dim, m.Year, parents...)
}

// event builds the ir change event of an EventSpec.
func (e EventSpec) event(dim string) ir.ChangeEvent {
	ev := ir.ChangeEvent{
		Dimension:     ir.MustDimension(dim),
		Level:         ir.Level(e.Level),
		EffectiveDate: ir.MustDate(e.Date),
		Old:           testutil.Refs(e.Old...),
		New:           testutil.Refs(e.New...),
		Source:        "scenario",
	}
	if len(e.Continues) > 0 {
		continues := map[[2]string]bool{}
		for _, c := range e.Continues {
			o, n, _ := strings.Cut(c, "->")
			continues[[2]string{strings.TrimSpace(o), strings.TrimSpace(n)}] = true
		}
		for _, o := range ev.Old {
			for _, n := range ev.New {
				ev.Pairs = append(ev.Pairs, ir.CodePair{
					Old:       o.Code,
					New:       n.Code,
					Continues: continues[[2]string{o.Code, n.Code}],
				})
			}
		}
	}
	for _, code := range sortedKeys(e.Parents) {
		ev.Parents = append(ev.Parents, ir.ParentAssignment{Code: code, ParentCode: e.Parents[code]})
	}
	for _, code := range sortedKeys(e.Children) {
		ev.Children = append(ev.Children, ir.ParentAssignment{Code: code, ParentCode: e.Children[code]})
	}
	ev.Normalize()
	return ev
}

// raw builds the ir change record of a ChangeSpec.
func (c ChangeSpec) raw() ir.RawChange {
	o := testutil.Refs(c.Old)[0]
	n := testutil.Refs(c.New)[0]
	return ir.RawChange{
		OldCode:        o.Code,
		OldName:        o.Name,
		NewCode:        n.Code,
		NewName:        n.Name,
		ChangeOccurred: ir.MustDate(c.Date),
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
