package cli

import (
	"strings"
	"testing"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projector"
)

func TestProject_Level(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	env.seedCountyMerge(t)

	out, err := execute(NewProjectCommand(env.opts), "--as-of", "2024-06-01", "--level", "1")
	require.NoError(t, err)

	var snap projector.Snapshot
	decodeData(t, out, &snap)
	assert.Equal(t, "2024-06-01", snap.AsOf.String())
	assert.NotEmpty(t, snap.Head)

	codes := make([]string, 0, len(snap.Versions))
	for _, v := range snap.Versions {
		assert.Equal(t, ir.LevelCounty, v.Level)
		codes = append(codes, v.Code)
	}
	assert.ElementsMatch(t, []string{"11", "30"}, codes)
	for _, c := range snap.Constituents {
		assert.Equal(t, ir.LevelCounty, c.Level)
	}
}

func TestProject_BeforeMerge(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	env.seedCountyMerge(t)

	out, err := execute(NewProjectCommand(env.opts), "--as-of", "2023-12-31")
	require.NoError(t, err)

	var snap projector.Snapshot
	decodeData(t, out, &snap)
	c, ok := snap.Constituent(ir.LevelCounty, "10")
	require.True(t, ok)
	assert.Equal(t, []string{"1001", "1002"}, c.Codes())
	_, ok = snap.Version(ir.LevelCounty, "11")
	assert.False(t, ok)
}

func TestProject_BeforeBase(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	env.seedCountyMerge(t)

	out, err := execute(NewProjectCommand(env.opts), "--as-of", "2020-01-01")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, string(ir.ErrCodeValidation), decodeResponse(t, []byte(out)).Error.Code)
}

func TestProject_CSV(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	env.seedCountyMerge(t)

	out, err := execute(NewProjectCommand(env.opts), "--as-of", "2024-06-01", "--csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "level,code,name,parent_code,valid_from,valid_to,unit_id\n"), out)

	var rows []SnapshotRow
	require.NoError(t, csvutil.Unmarshal([]byte(out), &rows))
	byCode := make(map[string]SnapshotRow, len(rows))
	for _, r := range rows {
		byCode[r.Code] = r
	}
	require.Contains(t, byCode, "11")
	assert.Equal(t, "2024-01-01", byCode["11"].ValidFrom)
	assert.Empty(t, byCode["11"].ParentCode)
	require.Contains(t, byCode, "3001")
	assert.Equal(t, "30", byCode["3001"].ParentCode)
	assert.NotContains(t, byCode, "10")
}

func TestProject_Text(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	env.seedCountyMerge(t)
	env.opts.Format = "text"

	out, err := execute(NewProjectCommand(env.opts), "--as-of", "2024-06-01")
	require.NoError(t, err)
	assert.Contains(t, out, "nor/1a on 2024-06-01")
	assert.Contains(t, out, "Level 1")
	assert.Contains(t, out, "Level 2")
	assert.Contains(t, out, "Constituents")
	assert.Contains(t, out, "Vestkyst")
}

func TestFilterLevel(t *testing.T) {
	snap := &projector.Snapshot{
		Versions: []ir.UnitVersion{
			{Code: "11", Level: ir.LevelCounty},
			{Code: "1101", Level: ir.LevelMunicipality},
		},
		Constituents: []projector.Constituent{{ParentCode: "11", Level: ir.LevelCounty}},
	}

	got := filterLevel(snap, ir.LevelMunicipality)
	require.Len(t, got.Versions, 1)
	assert.Equal(t, "1101", got.Versions[0].Code)
	assert.Empty(t, got.Constituents)
	assert.Len(t, snap.Versions, 2, "input must not change")
}
