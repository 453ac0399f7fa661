package results

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/ledger"
	"github.com/roach88/atlas/internal/objstore"
	"github.com/roach88/atlas/internal/projector"
	"github.com/roach88/atlas/internal/resolver"
	"github.com/roach88/atlas/internal/source"
	"github.com/roach88/atlas/internal/taxonomy"
	"github.com/roach88/atlas/internal/testutil"
)

var nor1b = ir.MustDimension("nor/1b")

func fixedNow() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

type fixture struct {
	proj    *projector.Projector
	objects *objstore.FSStore
	pipe    *Pipeline
}

// newFixture seeds the 2019 electoral base, the 2020 transition to
// v-prefixed districts and a 2024 merge of v12 and v14 into v46.
func newFixture(t *testing.T, src *source.StaticSource) *fixture {
	t.Helper()
	ctx := context.Background()
	tax, err := taxonomy.Norway()
	require.NoError(t, err)
	l, err := ledger.New(ctx, ledger.NewMemoryLog(), nor1b, ledger.WithCodeValidator(tax))
	require.NoError(t, err)
	_, err = l.PublishMapping(ctx, testutil.ElectoralBase2019())
	require.NoError(t, err)
	evs := append(testutil.ElectoralTransition2020(),
		testutil.Event("nor/1b", "2024-01-01", ir.LevelCounty,
			testutil.Codes("v12=Hordaland valgdistrikt", "v14=Sogn og Fjordane valgdistrikt"),
			testutil.Codes("v46=Vestland valgdistrikt")),
	)
	_, err = l.AppendBatch(ctx, evs)
	require.NoError(t, err)

	objects, err := objstore.NewFS(t.TempDir())
	require.NoError(t, err)
	proj := projector.New(l)
	adapter := &source.Adapter{Name: "static", Taxonomy: tax, Mappings: src, Changes: src, Results: src}
	return &fixture{
		proj:    proj,
		objects: objects,
		pipe:    New(adapter, proj, WithObjectStore(objects), WithNow(fixedNow)),
	}
}

func districtResults() *source.StaticSource {
	return source.NewStaticSource().
		AddResult(nor1b, ir.LevelCounty, testutil.Result(2021, "v03", "Oslo", 400)).
		AddResult(nor1b, ir.LevelCounty, testutil.Result(2021, "v12", "Hordaland", 300)).
		AddResult(nor1b, ir.LevelCounty, testutil.Result(2021, "v14", "Sogn og Fjordane", 100)).
		AddResult(nor1b, ir.LevelMunicipality, testutil.Result(2021, "1201", "Bergen", 200))
}

func (f *fixture) resolve(t *testing.T, code, asOf string) ir.UnitID {
	t.Helper()
	tl, err := f.proj.Timeline(context.Background())
	require.NoError(t, err)
	res, err := resolver.New(tl, resolver.WithNow(fixedNow)).Resolve(code, ir.MustDate(asOf), ir.LevelCounty)
	require.NoError(t, err)
	return res.UnitID
}

func TestRun_AllDistricts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, districtResults())

	report, err := f.pipe.Run(ctx, 2021, ir.LevelCounty)
	require.NoError(t, err)

	assert.Equal(t, "2021-09-13", report.ElectionDay.String())
	require.Len(t, report.Records, 3)
	codes := []string{report.Records[0].UnitCode, report.Records[1].UnitCode, report.Records[2].UnitCode}
	assert.Equal(t, []string{"v03", "v12", "v14"}, codes)

	hordaland := report.Records[1]
	assert.Equal(t, "1b", hordaland.LevelCode)
	assert.Equal(t, 300, hordaland.ValidVotesCast)
	// The district keeps the identity it had as county 12 in 2019.
	assert.Equal(t, f.resolve(t, "12", "2019-06-01"), hordaland.Attribution.UnitID)
	assert.Equal(t, "v12", hordaland.Attribution.Version.Code)
	assert.Equal(t, []ir.UnitID{f.resolve(t, "v46", "2024-06-01")}, hordaland.Attribution.Successors)
	assert.Equal(t, "2024-06-01", hordaland.Attribution.SuccessorsOn.String())
	assert.Equal(t, []string{"1201", "1202"},
		projector.Constituent{Children: hordaland.Attribution.Members}.Codes())

	oslo := report.Records[0]
	assert.Equal(t, []ir.UnitID{oslo.Attribution.UnitID}, oslo.Attribution.Successors)

	assert.Equal(t, []string{
		"results/country=nor/year=2021/level=1b/v03.json",
		"results/country=nor/year=2021/level=1b/v12.json",
		"results/country=nor/year=2021/level=1b/v14.json",
	}, report.Written)
	var stored Record
	require.NoError(t, f.objects.ReadJSON(ctx, report.Written[1], &stored))
	assert.Equal(t, hordaland.Attribution.UnitID, stored.Attribution.UnitID)
	assert.Equal(t, hordaland.Results, stored.Results)
}

func TestRun_Municipality(t *testing.T) {
	f := newFixture(t, districtResults())

	report, err := f.pipe.Run(context.Background(), 2021, ir.LevelMunicipality, "1201")
	require.NoError(t, err)
	require.Len(t, report.Records, 1)

	bergen := report.Records[0]
	assert.Equal(t, "2", bergen.LevelCode)
	assert.Equal(t, []ir.UnitID{bergen.Attribution.UnitID}, bergen.Attribution.Successors)
	assert.Empty(t, bergen.Attribution.Members)
	assert.Equal(t, []string{"results/country=nor/year=2021/level=2/1201.json"}, report.Written)
}

func TestRun_UnknownCode(t *testing.T) {
	f := newFixture(t, districtResults())

	report, err := f.pipe.Run(context.Background(), 2021, ir.LevelCounty, "v12", "v99")
	require.Error(t, err)
	assert.True(t, ir.IsUnresolved(err), "got %v", err)
	require.Len(t, report.Records, 1, "records before the failure are kept")

	keys, err := f.objects.ListKeys(context.Background(), "results/")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRun_MissingResult(t *testing.T) {
	f := newFixture(t, source.NewStaticSource())

	_, err := f.pipe.Run(context.Background(), 2021, ir.LevelCounty, "v03")
	assert.ErrorIs(t, err, source.ErrNotPublished)
}

func TestRun_NotAnElectionYear(t *testing.T) {
	f := newFixture(t, districtResults())

	_, err := f.pipe.Run(context.Background(), 2019, ir.LevelCounty)
	assert.True(t, ir.IsValidation(err), "got %v", err)
}

func TestRun_WithoutObjectStore(t *testing.T) {
	f := newFixture(t, districtResults())
	pipe := New(f.pipe.adapter, f.proj, WithNow(fixedNow))

	report, err := pipe.Run(context.Background(), 2021, ir.LevelCounty, "v14")
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	assert.Empty(t, report.Written)
}
