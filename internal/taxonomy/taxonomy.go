// Package taxonomy loads country taxonomies: the dimensions a country
// publishes, the levels inside each dimension, the code syntax per level
// and the upstream classification ids used to fetch them.
//
// Taxonomies are CUE documents validated against the embedded #Taxonomy
// schema. Norway is embedded as the default.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/atlas/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

//go:embed norway.cue
var norwayCUE []byte

// Taxonomy describes one country.
type Taxonomy struct {
	Country        string
	Name           string
	ReferenceMonth time.Month
	ReferenceDay   int
	Dimensions     []*DimensionSpec // sorted by taxonomy id
}

// DimensionSpec describes one dimension of a country.
type DimensionSpec struct {
	Dimension     ir.Dimension
	Name          string
	LevelTypeCode string
	LevelTypeName string
	Levels        []LevelSpec // sorted by level
	Transitions   []Transition
}

// LevelSpec describes the codes of one level.
type LevelSpec struct {
	Level           ir.Level
	Name            string
	Pattern         *regexp.Regexp
	Classifications []Classification
}

// Classification is an upstream classification id, valid for a range of
// years. Zero bounds are open.
type Classification struct {
	ID       int
	FromYear int
	ToYear   int
}

// Covers reports whether the classification is used for year.
func (c Classification) Covers(year int) bool {
	return (c.FromYear == 0 || year >= c.FromYear) && (c.ToYear == 0 || year <= c.ToYear)
}

// Transition is a change the upstream source never published as change
// records: every code of SourceClassification in SourceYear is renamed to
// Prefix+code with NameSuffix appended, effective on Effective.
type Transition struct {
	Year                 int
	Level                ir.Level
	Effective            ir.Date
	Prefix               string
	NameSuffix           string
	SourceClassification int
	SourceYear           int
}

// Rename applies the transition to one code and name.
func (t Transition) Rename(code, name string) (string, string) {
	return t.Prefix + code, name + t.NameSuffix
}

// rawTaxonomy mirrors the CUE document for Decode.
type rawTaxonomy struct {
	Country   string `json:"country"`
	Name      string `json:"name"`
	Reference struct {
		Month int `json:"month"`
		Day   int `json:"day"`
	} `json:"reference"`
	Dimensions map[string]rawDimension `json:"dimensions"`
}

type rawDimension struct {
	Name          string `json:"name"`
	LevelTypeCode string `json:"level_type_code"`
	LevelTypeName string `json:"level_type_name"`
	Levels        []struct {
		Level           int    `json:"level"`
		Name            string `json:"name"`
		Pattern         string `json:"pattern"`
		Classifications []struct {
			ID       int `json:"id"`
			FromYear int `json:"from_year"`
			ToYear   int `json:"to_year"`
		} `json:"classifications"`
	} `json:"levels"`
	Transitions []struct {
		Year                 int    `json:"year"`
		Level                int    `json:"level"`
		Effective            string `json:"effective"`
		Prefix               string `json:"prefix"`
		NameSuffix           string `json:"name_suffix"`
		SourceClassification int    `json:"source_classification"`
		SourceYear           int    `json:"source_year"`
	} `json:"transitions"`
}

// Norway returns the embedded Norwegian taxonomy.
func Norway() (*Taxonomy, error) {
	return Load("norway.cue", norwayCUE)
}

// LoadFile loads a taxonomy document from disk.
func LoadFile(path string) (*Taxonomy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return Load(path, src)
}

// Load compiles a taxonomy document, validates it against #Taxonomy and
// decodes it.
func Load(filename string, src []byte) (*Taxonomy, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	def := schema.LookupPath(cue.ParsePath("#Taxonomy"))

	doc := ctx.CompileBytes(src, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := def.Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var raw rawTaxonomy
	if err := v.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}
	return build(raw, v)
}

func build(raw rawTaxonomy, v cue.Value) (*Taxonomy, error) {
	t := &Taxonomy{
		Country:        raw.Country,
		Name:           raw.Name,
		ReferenceMonth: time.Month(raw.Reference.Month),
		ReferenceDay:   raw.Reference.Day,
	}

	ids := make([]string, 0, len(raw.Dimensions))
	for id := range raw.Dimensions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rd := raw.Dimensions[id]
		pos := v.LookupPath(cue.MakePath(cue.Str("dimensions"), cue.Str(id))).Pos()
		spec := &DimensionSpec{
			Dimension:     ir.Dimension{Country: raw.Country, Taxonomy: id},
			Name:          rd.Name,
			LevelTypeCode: rd.LevelTypeCode,
			LevelTypeName: rd.LevelTypeName,
		}
		if len(rd.Levels) == 0 {
			return nil, &LoadError{Field: "dimensions." + id + ".levels", Message: "at least one level is required", Pos: pos}
		}
		for _, rl := range rd.Levels {
			re, err := regexp.Compile(rl.Pattern)
			if err != nil {
				return nil, &LoadError{
					Field:   fmt.Sprintf("dimensions.%s.levels[%d].pattern", id, rl.Level),
					Message: err.Error(),
					Pos:     pos,
				}
			}
			ls := LevelSpec{Level: ir.Level(rl.Level), Name: rl.Name, Pattern: re}
			for _, c := range rl.Classifications {
				ls.Classifications = append(ls.Classifications, Classification{ID: c.ID, FromYear: c.FromYear, ToYear: c.ToYear})
			}
			spec.Levels = append(spec.Levels, ls)
		}
		slices.SortFunc(spec.Levels, func(a, b LevelSpec) int { return int(a.Level) - int(b.Level) })
		for i := 1; i < len(spec.Levels); i++ {
			if spec.Levels[i].Level != spec.Levels[i-1].Level+1 {
				return nil, &LoadError{Field: "dimensions." + id + ".levels", Message: "levels must be contiguous from 1", Pos: pos}
			}
		}
		if spec.Levels[0].Level != ir.LevelCounty {
			return nil, &LoadError{Field: "dimensions." + id + ".levels", Message: "levels must be contiguous from 1", Pos: pos}
		}

		for _, rt := range rd.Transitions {
			eff, err := ir.ParseDate(rt.Effective)
			if err != nil {
				return nil, &LoadError{Field: "dimensions." + id + ".transitions", Message: err.Error(), Pos: pos}
			}
			spec.Transitions = append(spec.Transitions, Transition{
				Year:                 rt.Year,
				Level:                ir.Level(rt.Level),
				Effective:            eff,
				Prefix:               rt.Prefix,
				NameSuffix:           rt.NameSuffix,
				SourceClassification: rt.SourceClassification,
				SourceYear:           rt.SourceYear,
			})
		}
		t.Dimensions = append(t.Dimensions, spec)
	}
	return t, nil
}

// Dimension returns the definition of a dimension of this country.
func (t *Taxonomy) Dimension(dim ir.Dimension) (*DimensionSpec, error) {
	for _, d := range t.Dimensions {
		if d.Dimension == dim {
			return d, nil
		}
	}
	return nil, ir.NewValidationError("dimension", dim.String(),
		fmt.Sprintf("not defined by the %s taxonomy", t.Country))
}

// ReferenceDate returns the date yearly mappings are published for.
func (t *Taxonomy) ReferenceDate(year int) ir.Date {
	return ir.NewDate(year, t.ReferenceMonth, t.ReferenceDay)
}

// ValidateCode checks code syntax for a level of a dimension.
func (t *Taxonomy) ValidateCode(dim ir.Dimension, level ir.Level, code string) error {
	d, err := t.Dimension(dim)
	if err != nil {
		return err
	}
	return d.ValidateCode(level, code)
}

// Level returns the definition of one level.
func (d *DimensionSpec) Level(level ir.Level) (LevelSpec, bool) {
	for _, l := range d.Levels {
		if l.Level == level {
			return l, true
		}
	}
	return LevelSpec{}, false
}

// MaxLevel returns the deepest level of the dimension.
func (d *DimensionSpec) MaxLevel() ir.Level {
	return d.Levels[len(d.Levels)-1].Level
}

// ValidateCode checks code syntax for a level.
func (d *DimensionSpec) ValidateCode(level ir.Level, code string) error {
	l, ok := d.Level(level)
	if !ok {
		return ir.NewValidationError("level", level.String(),
			fmt.Sprintf("dimension %s has no such level", d.Dimension))
	}
	if !l.Pattern.MatchString(code) {
		return ir.NewValidationError("code", code,
			fmt.Sprintf("does not match %s pattern %s", l.Name, l.Pattern))
	}
	return nil
}

// Classification returns the upstream classification id for a level in year.
func (d *DimensionSpec) Classification(level ir.Level, year int) (int, bool) {
	l, ok := d.Level(level)
	if !ok {
		return 0, false
	}
	for _, c := range l.Classifications {
		if c.Covers(year) {
			return c.ID, true
		}
	}
	return 0, false
}

// Transition returns the synthesized transition for (year, level), if any.
func (d *DimensionSpec) Transition(year int, level ir.Level) (Transition, bool) {
	for _, t := range d.Transitions {
		if t.Year == year && t.Level == level {
			return t, true
		}
	}
	return Transition{}, false
}

// LoadError represents a taxonomy error with source position.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
