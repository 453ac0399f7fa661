package ir

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mergeEvent() ChangeEvent {
	ev := ChangeEvent{
		Dimension:     MustDimension("nor/1a"),
		Level:         LevelCounty,
		EffectiveDate: MustDate("2020-01-01"),
		Old:           []CodeRef{{Code: "12", Name: "Hordaland"}, {Code: "14", Name: "Sogn og Fjordane"}},
		New:           []CodeRef{{Code: "46", Name: "Vestland"}},
	}
	ev.Normalize()
	return ev
}

func TestEventIDDeterminism(t *testing.T) {
	id1, err := EventID(mergeEvent())
	require.NoError(t, err)
	id2, err := EventID(mergeEvent())
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestEventIDIgnoresOrderNamesAndSeq(t *testing.T) {
	base := mergeEvent()

	shuffled := base
	shuffled.Old = []CodeRef{{Code: "14"}, {Code: "12"}}
	shuffled.Seq = 42
	shuffled.Source = "ssb"

	assert.Equal(t, MustEventID(base), MustEventID(shuffled))
}

func TestEventIDChangesWithTransition(t *testing.T) {
	base := mergeEvent()

	otherDate := base
	otherDate.EffectiveDate = MustDate("2024-01-01")

	otherDim := base
	otherDim.Dimension = MustDimension("nor/1b")

	otherCodes := base
	otherCodes.New = []CodeRef{{Code: "47"}}

	id := MustEventID(base)
	assert.NotEqual(t, id, MustEventID(otherDate))
	assert.NotEqual(t, id, MustEventID(otherDim))
	assert.NotEqual(t, id, MustEventID(otherCodes))
}

func TestEventIDRequiresDate(t *testing.T) {
	ev := mergeEvent()
	ev.EffectiveDate = Date{}
	_, err := EventID(ev)
	assert.Error(t, err)
}

func TestNewUnitIDIsNameBasedUUID(t *testing.T) {
	origin := UnitOrigin{
		Dimension: MustDimension("nor/1a"),
		Level:     LevelCounty,
		Code:      "46",
		Date:      MustDate("2020-01-01"),
		Event:     MustEventID(mergeEvent()),
	}

	id1, err := NewUnitID(origin)
	require.NoError(t, err)
	id2, err := NewUnitID(origin)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	parsed, err := uuid.Parse(string(id1))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestNewUnitIDDistinguishesOrigins(t *testing.T) {
	base := UnitOrigin{Dimension: MustDimension("nor/1a"), Level: LevelCounty, Code: "03", Date: MustDate("2016-04-01")}

	otherDim := base
	otherDim.Dimension = MustDimension("nor/1b")

	otherDate := base
	otherDate.Date = MustDate("2020-01-01")

	withEvent := base
	withEvent.Event = "e1"

	id := MustUnitID(base)
	assert.NotEqual(t, id, MustUnitID(otherDim))
	assert.NotEqual(t, id, MustUnitID(otherDate))
	assert.NotEqual(t, id, MustUnitID(withEvent))
}

func TestMappingDigestIgnoresProvenanceAndOrder(t *testing.T) {
	m1 := ParentChildMapping{
		Dimension:     MustDimension("nor/1a"),
		Year:          2024,
		ReferenceDate: MustDate("2024-04-01"),
		Level:         LevelCounty,
		Source:        "ssb",
		RetrievedAt:   "2024-04-02T10:00:00Z",
		Parents: []ParentEntry{
			{Code: "46", Name: "Vestland", Children: []CodeRef{{Code: "4602", Name: "Kinn"}, {Code: "4601", Name: "Bergen"}}},
			{Code: "03", Name: "Oslo", Children: []CodeRef{{Code: "0301", Name: "Oslo"}}},
		},
	}
	m2 := m1
	m2.RetrievedAt = "2025-01-01T00:00:00Z"
	m2.Parents = []ParentEntry{
		{Code: "03", Name: "Oslo", Children: []CodeRef{{Code: "0301", Name: "Oslo"}}},
		{Code: "46", Name: "Vestland", Children: []CodeRef{{Code: "4601", Name: "Bergen"}, {Code: "4602", Name: "Kinn"}}},
	}

	d1, err := MappingDigest(m1)
	require.NoError(t, err)
	d2, err := MappingDigest(m2)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	m2.Parents[0].Name = "Oslo kommune"
	d3, err := MappingDigest(m2)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}
