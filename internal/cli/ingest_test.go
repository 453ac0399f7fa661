package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ingest"
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/source"
	"github.com/roach88/atlas/internal/taxonomy"
	"github.com/roach88/atlas/internal/testutil"
)

func rawChange(date, from, to string) ir.RawChange {
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

func staticAdapter(t *testing.T, mapping2024 ir.ParentChildMapping) *source.Adapter {
	t.Helper()
	tax, err := taxonomy.Norway()
	require.NoError(t, err)
	dim := ir.MustDimension("nor/1a")
	src := source.NewStaticSource().
		AddMapping(testutil.CountyBase2023()).
		AddMapping(mapping2024).
		AddChanges(dim, ir.LevelCounty,
			rawChange("2024-01-01", "10=Agder Vest", "11=Vestkyst"),
			rawChange("2024-01-01", "12=Hordaland", "11=Vestkyst"),
		).
		AddChanges(dim, ir.LevelMunicipality,
			rawChange("2024-01-01", "1001=Kristiansand", "1001=Kristiansand"),
			rawChange("2024-01-01", "1002=Mandal", "1001=Kristiansand"),
		)
	return &source.Adapter{Name: "static", Taxonomy: tax, Mappings: src, Changes: src}
}

func runIngestCommand(t *testing.T, opts *IngestOptions) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	err := runIngest(context.Background(), opts, cmd)
	return out.String(), err
}

func TestIngest(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	opts := &IngestOptions{
		RootOptions: env.opts,
		FromYear:    2023,
		ToYear:      2024,
		Adapter: staticAdapter(t, testutil.Mapping("nor/1a", 2024,
			testutil.Parent("11=Vestkyst", "1001=Kristiansand", "1201=Bergen"),
			testutil.Parent("30=Viken", "3001=Halden", "3025=Asker"),
		)),
		RunIDs: testutil.NewFixedRunIDGenerator("run-1"),
	}

	out, err := runIngestCommand(t, opts)
	require.NoError(t, err, out)

	var report ingest.Report
	resp := decodeData(t, out, &report)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", report.RunID)
	require.Len(t, report.Years, 2)
	assert.Equal(t, 2, report.Years[1].Appended)
	assert.Equal(t, 2, report.Appended())

	_, err = os.Stat(filepath.Join(env.dataDir, "raw", "country=nor", "year=2024", "level=1a", "changes-l1.json"))
	assert.NoError(t, err, "raw changes are archived in the object store")
	_, err = os.Stat(filepath.Join(env.dataDir, "dimensions", "country=nor", "year=2024", "level=1a", "snapshot.json"))
	assert.NoError(t, err, "snapshots are written to the object store")

	// The ingested ledger answers queries.
	out, err = execute(NewResolveCommand(env.opts), "11", "--as-of", "2024-06-01")
	require.NoError(t, err)
	var res ResolveResult
	decodeData(t, out, &res)
	assert.Equal(t, "Vestkyst", res.Resolution.Version.Name)

	// Re-running the range appends nothing.
	out, err = runIngestCommand(t, opts)
	require.NoError(t, err)
	report = ingest.Report{}
	decodeData(t, out, &report)
	assert.Equal(t, 0, report.Appended())
}

func TestIngest_Inconsistent(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	tax, err := taxonomy.Norway()
	require.NoError(t, err)
	// The 2024 mapping knows about the merge but no change records do.
	src := source.NewStaticSource().
		AddMapping(testutil.CountyBase2023()).
		AddMapping(testutil.Mapping("nor/1a", 2024,
			testutil.Parent("11=Vestkyst", "1001=Kristiansand", "1002=Mandal", "1201=Bergen"),
			testutil.Parent("30=Viken", "3001=Halden", "3025=Asker"),
		))
	opts := &IngestOptions{
		RootOptions: env.opts,
		FromYear:    2023,
		ToYear:      2024,
		Adapter:     &source.Adapter{Name: "static", Taxonomy: tax, Mappings: src, Changes: src},
		RunIDs:      testutil.NewFixedRunIDGenerator("run-1"),
	}

	out, err := runIngestCommand(t, opts)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var report ingest.Report
	resp := decodeData(t, out, &report)
	assert.Equal(t, CodeInconsistent, resp.Error.Code)
	assert.False(t, report.Consistent())
}

func TestIngest_Text(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	env.opts.Format = "text"
	opts := &IngestOptions{
		RootOptions: env.opts,
		FromYear:    2023,
		ToYear:      2024,
		Adapter: staticAdapter(t, testutil.Mapping("nor/1a", 2024,
			testutil.Parent("11=Vestkyst", "1001=Kristiansand", "1201=Bergen"),
			testutil.Parent("30=Viken", "3001=Halden", "3025=Asker"),
		)),
		RunIDs: testutil.NewFixedRunIDGenerator("run-1"),
	}

	out, err := runIngestCommand(t, opts)
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-1: nor/1a 2023-2024")
	assert.Contains(t, out, "✓ 2023 base mapping 2023-04-01, 1 published")
	assert.Contains(t, out, "✓ 2024 2023-04-02..2024-04-01")
	assert.Contains(t, out, "2 event(s) appended")
}

func TestIngestCommand_RequiresFrom(t *testing.T) {
	env := newTestEnv(t, "nor/1a")

	_, err := execute(NewIngestCommand(env.opts))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
