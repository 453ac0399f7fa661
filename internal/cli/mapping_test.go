package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
)

const mapping2024JSON = `{
  "dimension": "nor/1a",
  "year": 2024,
  "source": "fixture",
  "unit_mappings": [
    {"parent_code": "11", "parent_name": "Vestkyst", "children": [{"code": "1001", "name": "Kristiansand"}]},
    {"parent_code": "30", "parent_name": "Viken", "children": [{"code": "3001", "name": "Halden"}]}
  ]
}`

func TestMappingPublish(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	env.seedCountyMerge(t)
	path := writeFile(t, "m2024.json", mapping2024JSON)

	out, err := execute(NewMappingCommand(env.opts), "publish", path)
	require.NoError(t, err)

	var res PublishResult
	decodeData(t, out, &res)
	assert.True(t, res.Published)
	assert.Equal(t, 2024, res.Year)
	assert.Equal(t, ir.LevelCounty, res.Level, "level defaults to 1")
	assert.Equal(t, "2024-04-01", res.ReferenceDate.String(), "reference date comes from the taxonomy")
	assert.Equal(t, 2, res.Parents)

	// Republishing identical content is a no-op.
	out, err = execute(NewMappingCommand(env.opts), "publish", path)
	require.NoError(t, err)
	decodeData(t, out, &res)
	assert.False(t, res.Published)
}

func TestMappingPublish_Conflict(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	env.seedCountyMerge(t)
	first := writeFile(t, "m2024.json", mapping2024JSON)
	second := writeFile(t, "m2024b.json", `{
  "dimension": "nor/1a",
  "year": 2024,
  "unit_mappings": [
    {"parent_code": "11", "parent_name": "Vestkyst", "children": [{"code": "1201", "name": "Bergen"}]}
  ]
}`)

	_, err := execute(NewMappingCommand(env.opts), "publish", first)
	require.NoError(t, err)

	out, err := execute(NewMappingCommand(env.opts), "publish", second)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp := decodeResponse(t, []byte(out))
	assert.Equal(t, string(ir.ErrCodeMappingConflict), resp.Error.Code)
}

func TestMappingPublish_Text(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	env.opts.Format = "text"
	path := writeFile(t, "m2024.json", mapping2024JSON)

	out, err := execute(NewMappingCommand(env.opts), "publish", path)
	require.NoError(t, err)
	assert.Equal(t, "nor/1a 2024 level 1 (2024-04-01): published, 2 parent(s)\n", out)
}

func TestMappingList(t *testing.T) {
	env := newTestEnv(t, "nor/1a")

	out, err := execute(NewMappingCommand(env.opts), "list")
	require.NoError(t, err)
	var rows []MappingSummary
	decodeData(t, out, &rows)
	assert.Empty(t, rows)

	env.seedCountyMerge(t)
	out, err = execute(NewMappingCommand(env.opts), "list")
	require.NoError(t, err)
	decodeData(t, out, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, MappingSummary{
		Year:          2023,
		Level:         ir.LevelCounty,
		ReferenceDate: ir.MustDate("2023-04-01"),
		Parents:       3,
		Children:      5,
		Source:        "fixture",
	}, rows[0])
}

func TestMappingList_Text(t *testing.T) {
	env := newTestEnv(t, "nor/1a")
	env.opts.Format = "text"

	out, err := execute(NewMappingCommand(env.opts), "list")
	require.NoError(t, err)
	assert.Equal(t, "No mappings published.\n", out)
}
