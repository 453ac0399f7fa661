package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/ledger"
	"github.com/roach88/atlas/internal/store"
	"github.com/roach88/atlas/internal/taxonomy"
	"github.com/roach88/atlas/internal/testutil"
)

// testEnv is a throwaway database, data directory and root options.
type testEnv struct {
	opts    *RootOptions
	dataDir string
}

func newTestEnv(t *testing.T, dim string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	dataDir := filepath.Join(dir, "data")
	t.Setenv("ATLAS_DATA_DIR", dataDir)
	t.Setenv("ATLAS_REDIS_ADDR", "")
	return &testEnv{
		opts: &RootOptions{
			Format:    "json",
			Database:  filepath.Join(dir, "atlas.db"),
			Dimension: dim,
		},
		dataDir: dataDir,
	}
}

// withLedger opens the environment's ledger outside of any command.
func (e *testEnv) withLedger(t *testing.T, fn func(l *ledger.Ledger)) {
	t.Helper()
	ctx := context.Background()
	tax, err := taxonomy.Norway()
	require.NoError(t, err)
	st, err := store.Open(e.opts.Database)
	require.NoError(t, err)
	defer st.Close()
	l, err := ledger.New(ctx, st, ir.MustDimension(e.opts.Dimension), ledger.WithCodeValidator(tax))
	require.NoError(t, err)
	fn(l)
}

// seedCountyMerge publishes the 2023 county base and merges counties 10
// and 12 into 11 on 2024-01-01.
func (e *testEnv) seedCountyMerge(t *testing.T) {
	t.Helper()
	e.withLedger(t, func(l *ledger.Ledger) {
		ctx := context.Background()
		_, err := l.PublishMapping(ctx, testutil.CountyBase2023())
		require.NoError(t, err)
		_, err = l.Append(ctx, testutil.CountyMerge2024())
		require.NoError(t, err)
	})
}

// writeFile writes content under the environment's working directory.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(name, []byte(content), 0o644))
	abs, err := filepath.Abs(name)
	require.NoError(t, err)
	return abs
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// response is a CLIResponse with the payload left undecoded.
type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeResponse(t *testing.T, out []byte) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal(out, &resp), string(out))
	return resp
}

// decodeData decodes the payload of a JSON response into v.
func decodeData(t *testing.T, out string, v any) response {
	t.Helper()
	resp := decodeResponse(t, []byte(out))
	if v != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, v), string(resp.Data))
	}
	return resp
}
