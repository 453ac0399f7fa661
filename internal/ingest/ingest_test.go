package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/ledger"
	"github.com/roach88/atlas/internal/objstore"
	"github.com/roach88/atlas/internal/projector"
	"github.com/roach88/atlas/internal/source"
	"github.com/roach88/atlas/internal/taxonomy"
	"github.com/roach88/atlas/internal/testutil"
)

var nor1a = ir.MustDimension("nor/1a")

func raw(date, from, to string) ir.RawChange {
	old := testutil.Refs(from)[0]
	nw := testutil.Refs(to)[0]
	return ir.RawChange{
		OldCode:        old.Code,
		OldName:        old.Name,
		NewCode:        nw.Code,
		NewName:        nw.Name,
		ChangeOccurred: ir.MustDate(date),
	}
}

type fixture struct {
	ledger  *ledger.Ledger
	objects *objstore.FSStore
	pipe    *Pipeline
}

func newFixture(t *testing.T, dim ir.Dimension, src *source.StaticSource) *fixture {
	t.Helper()
	tax, err := taxonomy.Norway()
	require.NoError(t, err)
	l, err := ledger.New(context.Background(), ledger.NewMemoryLog(), dim,
		ledger.WithCodeValidator(tax),
		ledger.WithEventChecker(func(l *ledger.Ledger) ledger.EventChecker { return projector.New(l) }),
	)
	require.NoError(t, err)
	objects, err := objstore.NewFS(t.TempDir())
	require.NoError(t, err)

	adapter := &source.Adapter{Name: "static", Taxonomy: tax, Mappings: src, Changes: src}
	pipe := New(adapter, l,
		WithObjectStore(objects),
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("run-1")),
	)
	return &fixture{ledger: l, objects: objects, pipe: pipe}
}

// countyMergeSource merges counties 10 and 12 into 11 and municipality
// 1002 into 1001, all on 2024-01-01.
func countyMergeSource() *source.StaticSource {
	return source.NewStaticSource().
		AddMapping(testutil.CountyBase2023()).
		AddMapping(testutil.Mapping("nor/1a", 2024,
			testutil.Parent("11=Vestkyst", "1001=Kristiansand", "1201=Bergen"),
			testutil.Parent("30=Viken", "3001=Halden", "3025=Asker"),
		)).
		AddChanges(nor1a, ir.LevelCounty,
			raw("2024-01-01", "10=Agder Vest", "11=Vestkyst"),
			raw("2024-01-01", "12=Hordaland", "11=Vestkyst"),
		).
		AddChanges(nor1a, ir.LevelMunicipality,
			raw("2024-01-01", "1001=Kristiansand", "1001=Kristiansand"),
			raw("2024-01-01", "1002=Mandal", "1001=Kristiansand"),
		)
}

func TestRun_CountyMerge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nor1a, countyMergeSource())

	report, err := f.pipe.Run(ctx, 2023, 2024)
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	require.Len(t, report.Years, 2)
	assert.Equal(t, YearReport{Year: 2023, To: ir.MustDate("2023-04-01"), Published: 1}, report.Years[0])

	y := report.Years[1]
	assert.Equal(t, ir.MustDate("2023-04-02"), y.From)
	assert.Equal(t, 4, y.Records)
	assert.Equal(t, 2, y.Events)
	assert.Equal(t, 2, y.Appended)
	assert.Equal(t, 1, y.Published)
	require.Len(t, y.Reconciliations, 1)
	assert.True(t, report.Consistent(), "%+v", y.Reconciliations[0])

	evs, err := f.ledger.Events(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ir.ChangeMerge, evs[0].Kind)
	assert.Equal(t, "static", evs[0].Source)
	assert.Equal(t, []ir.ParentAssignment{{Code: "1001", ParentCode: "11"}}, evs[1].Parents)

	snap, err := projector.New(f.ledger).Project(ctx, ir.MustDate("2024-06-01"))
	require.NoError(t, err)
	c, ok := snap.Constituent(ir.LevelCounty, "11")
	require.True(t, ok)
	assert.Equal(t, []string{"1001", "1201"}, c.Codes())
}

func TestRun_WritesObjects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nor1a, countyMergeSource())

	_, err := f.pipe.Run(ctx, 2023, 2024)
	require.NoError(t, err)

	keys, err := f.objects.ListKeys(ctx, "raw/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"raw/country=nor/year=2023/level=1a/mapping-l1.json",
		"raw/country=nor/year=2024/level=1a/changes-l1.json",
		"raw/country=nor/year=2024/level=1a/changes-l2.json",
		"raw/country=nor/year=2024/level=1a/mapping-l1.json",
	}, keys)

	var raws []ir.RawChange
	require.NoError(t, f.objects.ReadJSON(ctx, "raw/country=nor/year=2024/level=1a/changes-l1.json", &raws))
	assert.Len(t, raws, 2)

	var snap projector.Snapshot
	require.NoError(t, f.objects.ReadJSON(ctx, "dimensions/country=nor/year=2024/level=1a/snapshot.json", &snap))
	assert.Equal(t, "2024-04-01", snap.AsOf.String())
	_, ok := snap.Version(ir.LevelCounty, "11")
	assert.True(t, ok)
	_, ok = snap.Version(ir.LevelCounty, "10")
	assert.False(t, ok)
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nor1a, countyMergeSource())

	_, err := f.pipe.Run(ctx, 2023, 2024)
	require.NoError(t, err)
	head, err := f.ledger.Head(ctx)
	require.NoError(t, err)

	report, err := f.pipe.Run(ctx, 2023, 2024)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Appended())
	for _, y := range report.Years {
		assert.Equal(t, 0, y.Published, "year %d", y.Year)
	}
	assert.True(t, report.Consistent())

	again, err := f.ledger.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, head, again)
}

func TestRun_ElectoralTransition(t *testing.T) {
	ctx := context.Background()
	dim := ir.MustDimension("nor/1b")
	src := source.NewStaticSource().
		AddMapping(testutil.ElectoralBase2019()).
		AddMapping(testutil.Mapping("nor/1b", 2020,
			testutil.Parent("v03=Oslo valgdistrikt", "0301=Oslo"),
			testutil.Parent("v12=Hordaland valgdistrikt", "1201=Bergen", "1202=Voss"),
			testutil.Parent("v14=Sogn og Fjordane valgdistrikt", "1401=Flora", "1439=Vågsøy"),
		))
	f := newFixture(t, dim, src)

	report, err := f.pipe.Run(ctx, 2019, 2020)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Appended())
	assert.True(t, report.Consistent())

	proj := projector.New(f.ledger)
	before, err := proj.Project(ctx, ir.MustDate("2019-06-01"))
	require.NoError(t, err)
	after, err := proj.Project(ctx, ir.MustDate("2020-06-01"))
	require.NoError(t, err)

	v12, ok := after.Version(ir.LevelCounty, "v12")
	require.True(t, ok)
	old12, ok := before.Version(ir.LevelCounty, "12")
	require.True(t, ok)
	assert.Equal(t, old12.UnitID, v12.UnitID)
	assert.Equal(t, "Hordaland valgdistrikt", v12.Name)
}

func TestRun_SplitAssignsChildren(t *testing.T) {
	ctx := context.Background()
	src := source.NewStaticSource().
		AddMapping(testutil.CountyBase2023()).
		AddMapping(testutil.Mapping("nor/1a", 2024,
			testutil.Parent("10=Agder Vest", "1001=Kristiansand", "1002=Mandal"),
			testutil.Parent("12=Hordaland", "1201=Bergen"),
			testutil.Parent("31=Østfold", "3001=Halden"),
			testutil.Parent("32=Akershus", "3025=Asker"),
		)).
		AddChanges(nor1a, ir.LevelCounty,
			raw("2024-01-01", "30=Viken", "31=Østfold"),
			raw("2024-01-01", "30=Viken", "32=Akershus"),
		)
	f := newFixture(t, nor1a, src)

	report, err := f.pipe.Run(ctx, 2023, 2024)
	require.NoError(t, err)
	assert.True(t, report.Consistent())

	evs, err := f.ledger.Events(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, ir.ChangeSplit, evs[0].Kind)
	assert.Equal(t, []ir.ParentAssignment{
		{Code: "3001", ParentCode: "31"},
		{Code: "3025", ParentCode: "32"},
	}, evs[0].Children)

	// A rerun rebuilds the same split, so nothing new is appended.
	again, err := f.pipe.Run(ctx, 2023, 2024)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Appended())
	evs, err = f.ledger.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestRun_WindowSpansLevels(t *testing.T) {
	ctx := context.Background()
	// Mandal merges into Kristiansand half a year before the county merge.
	src := source.NewStaticSource().
		AddMapping(testutil.CountyBase2023()).
		AddMapping(testutil.Mapping("nor/1a", 2024,
			testutil.Parent("11=Vestkyst", "1001=Kristiansand", "1201=Bergen"),
			testutil.Parent("30=Viken", "3001=Halden", "3025=Asker"),
		)).
		AddChanges(nor1a, ir.LevelCounty,
			raw("2024-01-01", "10=Agder Vest", "11=Vestkyst"),
			raw("2024-01-01", "12=Hordaland", "11=Vestkyst"),
		).
		AddChanges(nor1a, ir.LevelMunicipality,
			raw("2023-07-01", "1001=Kristiansand", "1001=Kristiansand"),
			raw("2023-07-01", "1002=Mandal", "1001=Kristiansand"),
		)
	f := newFixture(t, nor1a, src)

	report, err := f.pipe.Run(ctx, 2023, 2024)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Years[1].Appended)
	assert.True(t, report.Consistent(), "%+v", report.Years[1].Reconciliations)

	evs, err := f.ledger.Events(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ir.MustDate("2023-07-01"), evs[0].EffectiveDate)
	assert.Equal(t, ir.LevelMunicipality, evs[0].Level)
	assert.Empty(t, evs[0].Parents, "county 11 does not exist yet on 2023-07-01")
	assert.Equal(t, ir.LevelCounty, evs[1].Level)

	snap, err := projector.New(f.ledger).Project(ctx, ir.MustDate("2023-09-01"))
	require.NoError(t, err)
	c, ok := snap.Constituent(ir.LevelCounty, "10")
	require.True(t, ok)
	assert.Equal(t, []string{"1001"}, c.Codes())

	// Re-running the range appends nothing and still succeeds.
	again, err := f.pipe.Run(ctx, 2023, 2024)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Appended())
}

func TestRun_ReportsInconsistency(t *testing.T) {
	ctx := context.Background()
	// The 2024 mapping knows about the merge but no change records do.
	src := source.NewStaticSource().
		AddMapping(testutil.CountyBase2023()).
		AddMapping(testutil.Mapping("nor/1a", 2024,
			testutil.Parent("11=Vestkyst", "1001=Kristiansand", "1002=Mandal", "1201=Bergen"),
			testutil.Parent("30=Viken", "3001=Halden", "3025=Asker"),
		))
	f := newFixture(t, nor1a, src)

	report, err := f.pipe.Run(ctx, 2023, 2024)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	rec := report.Years[1].Reconciliations[0]
	assert.NotEmpty(t, rec.Missing)
	assert.NotEmpty(t, rec.Unexpected)
}

func TestRun_InvalidRange(t *testing.T) {
	f := newFixture(t, nor1a, countyMergeSource())
	_, err := f.pipe.Run(context.Background(), 2024, 2023)
	assert.True(t, ir.IsValidation(err), "got %v", err)
}

func TestRun_MissingMapping(t *testing.T) {
	f := newFixture(t, nor1a, countyMergeSource())
	_, err := f.pipe.Run(context.Background(), 2023, 2025)
	assert.ErrorIs(t, err, source.ErrNotPublished)
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, nor1a, countyMergeSource())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.pipe.Run(ctx, 2023, 2024)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "7", a[14:15])
}
