package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/testutil"
)

func TestPublishMapping_Immutable(t *testing.T) {
	backends(t, func(t *testing.T, log Log) {
		ctx := context.Background()
		l := newElectoralLedger(t, log)

		// Same content, different provenance: no-op.
		again := testutil.ElectoralBase2019()
		again.Source = "elsewhere"
		again.RetrievedAt = "2024-05-01T10:00:00Z"
		published, err := l.PublishMapping(ctx, again)
		require.NoError(t, err)
		assert.False(t, published)

		changed := testutil.ElectoralBase2019()
		changed.Parents[0].Name = "Oslo kommune"
		_, err = l.PublishMapping(ctx, changed)
		var conflict *ir.MappingConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, 2019, conflict.Year)
	})
}

func TestPublishMapping_ValidatesCodes(t *testing.T) {
	l := newElectoralLedger(t, NewMemoryLog())

	bad := testutil.Mapping("nor/1b", 2020, testutil.Parent("v12=Hordaland valgdistrikt", "Bergen"))
	_, err := l.PublishMapping(context.Background(), bad)
	assert.True(t, ir.IsValidation(err), "got %v", err)
}

func TestPublishMapping_RejectsOtherDimension(t *testing.T) {
	l := newElectoralLedger(t, NewMemoryLog())

	_, err := l.PublishMapping(context.Background(), testutil.CountyBase2023())
	assert.True(t, ir.IsValidation(err), "got %v", err)
}

func TestPublishMapping_PredatingBase(t *testing.T) {
	ctx := context.Background()
	l := newElectoralLedger(t, NewMemoryLog())

	// Allowed while the ledger is empty: the earlier mapping becomes the base.
	earlier := testutil.Mapping("nor/1b", 2018, testutil.Parent("12=Hordaland", "1201=Bergen"))
	published, err := l.PublishMapping(ctx, earlier)
	require.NoError(t, err)
	assert.True(t, published)

	d, ok, err := l.BaseDate(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2018-04-01", d.String())

	_, err = l.AppendBatch(ctx, testutil.ElectoralTransition2020())
	require.NoError(t, err)

	older := testutil.Mapping("nor/1b", 2017, testutil.Parent("12=Hordaland", "1201=Bergen"))
	_, err = l.PublishMapping(ctx, older)
	assert.True(t, ir.IsValidation(err), "got %v", err)
}

func TestBase_EarliestYearOnly(t *testing.T) {
	ctx := context.Background()
	l := newElectoralLedger(t, NewMemoryLog())

	later := testutil.Mapping("nor/1b", 2020,
		testutil.Parent("v03=Oslo valgdistrikt", "0301=Oslo"),
		testutil.Parent("v12=Hordaland valgdistrikt", "1201=Bergen", "1202=Voss"),
		testutil.Parent("v14=Sogn og Fjordane valgdistrikt", "1401=Flora", "1439=Vågsøy"),
	)
	_, err := l.PublishMapping(ctx, later)
	require.NoError(t, err)

	base, err := l.Base(ctx)
	require.NoError(t, err)
	require.Len(t, base, 1)
	assert.Equal(t, 2019, base[0].Year)

	m, ok, err := l.Mapping(ctx, 2020, ir.LevelCounty)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, m.Parents, 3)

	_, ok, err = l.Mapping(ctx, 2021, ir.LevelCounty)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBaseDate_EmptyLedger(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, NewMemoryLog(), ir.MustDimension("nor/1a"))
	require.NoError(t, err)

	_, ok, err := l.BaseDate(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Without a base only the chronological check applies.
	_, err = l.Append(ctx, testutil.CountyMerge2024())
	require.NoError(t, err)
}

func TestHead_ChangesOnEveryWrite(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, NewMemoryLog(), ir.MustDimension("nor/1a"))
	require.NoError(t, err)

	heads := map[string]bool{}
	record := func() {
		h, err := l.Head(ctx)
		require.NoError(t, err)
		assert.False(t, heads[h], "head %s repeated", h)
		heads[h] = true
	}

	record()
	_, err = l.PublishMapping(ctx, testutil.CountyBase2023())
	require.NoError(t, err)
	record()
	_, err = l.Append(ctx, testutil.CountyMerge2024())
	require.NoError(t, err)
	record()
}
