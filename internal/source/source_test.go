package source

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/taxonomy"
	"github.com/roach88/atlas/internal/testutil"
)

var (
	_ MappingSource = (*StaticSource)(nil)
	_ ChangeSource  = (*StaticSource)(nil)
	_ ChangeSource  = (*CSVChangeSource)(nil)
	_ ResultSource  = (*StaticSource)(nil)
)

const changesCSV = `level,old_code,old_name,new_code,new_name,change_occurred
2,5030,Klæbu,5001,Trondheim,2020-01-01
2,5001,Trondheim,5001,Trondheim,2020-01-01
1,16,Sør-Trøndelag,50,Trøndelag,2018-01-01
`

func TestReadChangesCSV(t *testing.T) {
	records, err := ReadChangesCSV(strings.NewReader(changesCSV))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, ir.LevelMunicipality, records[0].Level)
	assert.Equal(t, "5030", records[0].OldCode)
	assert.Equal(t, "Trondheim", records[0].NewName)
	assert.Equal(t, "2020-01-01", records[0].ChangeOccurred.String())
}

func TestReadChangesCSV_Invalid(t *testing.T) {
	_, err := ReadChangesCSV(strings.NewReader("level,old_code,old_name,new_code,new_name,change_occurred\n9,1,a,2,b,2020-01-01\n"))
	assert.True(t, ir.IsValidation(err), "got %v", err)

	_, err = ReadChangesCSV(strings.NewReader("level,old_code,old_name,new_code,new_name,change_occurred\n2,1,a,2,b,not-a-date\n"))
	assert.Error(t, err)
}

func TestWriteChangesCSV_RoundTrip(t *testing.T) {
	records, err := ReadChangesCSV(strings.NewReader(changesCSV))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteChangesCSV(&buf, records))
	assert.Equal(t, changesCSV, buf.String())

	buf.Reset()
	require.NoError(t, WriteChangesCSV(&buf, nil))
	assert.Equal(t, "level,old_code,old_name,new_code,new_name,change_occurred\n", buf.String())
}

func TestCSVChangeSource_FiltersLevelAndWindow(t *testing.T) {
	ctx := context.Background()
	dim := ir.MustDimension("nor/1a")
	src, err := NewCSVChangeSource(dim, strings.NewReader(changesCSV))
	require.NoError(t, err)

	raws, err := src.Changes(ctx, dim, ir.LevelMunicipality, ir.MustDate("2019-04-01"), ir.MustDate("2020-04-01"))
	require.NoError(t, err)
	assert.Len(t, raws, 2)

	raws, err = src.Changes(ctx, dim, ir.LevelCounty, ir.MustDate("2019-04-01"), ir.MustDate("2020-04-01"))
	require.NoError(t, err)
	assert.Empty(t, raws)

	_, err = src.Changes(ctx, ir.MustDimension("nor/1b"), ir.LevelCounty, ir.MustDate("2017-04-01"), ir.MustDate("2018-04-01"))
	assert.ErrorIs(t, err, ErrNotPublished)

	assert.Len(t, src.ByLevel()[ir.LevelCounty], 1)
}

func newAdapter(t *testing.T, src *StaticSource) *Adapter {
	t.Helper()
	tax, err := taxonomy.Norway()
	require.NoError(t, err)
	return &Adapter{Taxonomy: tax, Mappings: src, Changes: src}
}

func TestAdapter_Mapping(t *testing.T) {
	base := testutil.ElectoralBase2019()
	base.LevelTypeCode = ""
	a := newAdapter(t, NewStaticSource().AddMapping(base))

	m, err := a.Mapping(context.Background(), base.Dimension, ir.LevelCounty, 2019)
	require.NoError(t, err)
	assert.Equal(t, "1b", m.LevelTypeCode)
	assert.Equal(t, "valgdistrikt", m.LevelTypeName)
	assert.Equal(t, "2019-04-01", m.ReferenceDate.String())

	_, err = a.Mapping(context.Background(), base.Dimension, ir.LevelCounty, 2020)
	assert.ErrorIs(t, err, ErrNotPublished)
}

func TestAdapter_SynthesisesTransition(t *testing.T) {
	dim := ir.MustDimension("nor/1b")
	upstream := ir.RawChange{OldCode: "1201", NewCode: "4601", ChangeOccurred: ir.MustDate("2020-01-01")}
	src := NewStaticSource().
		AddMapping(testutil.ElectoralBase2019()).
		AddChanges(dim, ir.LevelCounty, ir.RawChange{OldCode: "99", NewCode: "98", ChangeOccurred: ir.MustDate("2020-01-01")}).
		AddChanges(dim, ir.LevelMunicipality, upstream)
	a := newAdapter(t, src)
	ctx := context.Background()
	from, to := ir.MustDate("2019-04-01"), ir.MustDate("2020-04-01")

	raws, err := a.ChangesFor(ctx, dim, ir.LevelCounty, from, to)
	require.NoError(t, err)
	require.Len(t, raws, 3)
	assert.Equal(t, ir.RawChange{
		OldCode:        "12",
		OldName:        "Hordaland",
		NewCode:        "v12",
		NewName:        "Hordaland valgdistrikt",
		ChangeOccurred: ir.MustDate("2020-01-01"),
	}, raws[1])

	// Other levels and windows go upstream.
	raws, err = a.ChangesFor(ctx, dim, ir.LevelMunicipality, from, to)
	require.NoError(t, err)
	assert.Equal(t, []ir.RawChange{upstream}, raws)

	raws, err = a.ChangesFor(ctx, dim, ir.LevelCounty, ir.MustDate("2020-04-01"), ir.MustDate("2021-04-01"))
	require.NoError(t, err)
	assert.Empty(t, raws)
}

func TestAdapter_UnknownDimension(t *testing.T) {
	a := newAdapter(t, NewStaticSource())
	_, err := a.ChangesFor(context.Background(), ir.MustDimension("swe/1a"), ir.LevelCounty,
		ir.MustDate("2019-04-01"), ir.MustDate("2020-04-01"))
	assert.Error(t, err)
}

func TestAdapter_ResultFor(t *testing.T) {
	ctx := context.Background()
	dim := ir.MustDimension("nor/1b")
	district := testutil.Result(2021, "v12", "Hordaland valgdistrikt", 300)
	district.LevelCode = "upstream"
	municipality := testutil.Result(2021, "1201", "Bergen", 200)
	municipality.ElectionType = ""
	src := NewStaticSource().
		AddResult(dim, ir.LevelCounty, district).
		AddResult(dim, ir.LevelMunicipality, municipality)
	a := newAdapter(t, src)
	a.Results = src

	r, err := a.ResultFor(ctx, dim, ir.LevelCounty, 2021, "v12")
	require.NoError(t, err)
	assert.Equal(t, "1b", r.LevelCode)
	assert.Equal(t, 300, r.ValidVotesCast)

	r, err = a.ResultFor(ctx, dim, ir.LevelMunicipality, 2021, "1201")
	require.NoError(t, err)
	assert.Equal(t, "2", r.LevelCode)
	assert.Equal(t, ir.ElectionParliamentary, r.ElectionType)

	_, err = a.ResultFor(ctx, dim, ir.LevelMunicipality, 2017, "1201")
	assert.ErrorIs(t, err, ErrNotPublished)
}

func TestAdapter_ResultFor_RejectsInconsistentTotals(t *testing.T) {
	dim := ir.MustDimension("nor/1b")
	r := testutil.Result(2021, "0301", "Oslo", 100)
	r.BlankVotes = 4
	src := NewStaticSource().AddResult(dim, ir.LevelMunicipality, r)
	a := newAdapter(t, src)
	a.Results = src

	_, err := a.ResultFor(context.Background(), dim, ir.LevelMunicipality, 2021, "0301")
	assert.True(t, ir.IsValidation(err), "got %v", err)
}

func TestAdapter_ResultFor_NoSource(t *testing.T) {
	a := newAdapter(t, NewStaticSource())
	a.Name = "static"
	_, err := a.ResultFor(context.Background(), ir.MustDimension("nor/1b"), ir.LevelCounty, 2021, "v12")
	assert.ErrorIs(t, err, ErrNotPublished)
}
