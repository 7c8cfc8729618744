package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlch/longhaul"
)

func TestMetadata_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := &longhaul.Config{
		Suites: []longhaul.SuiteConfig{
			{
				Name:     "checkout",
				NumTests: 100,
				Tests: []longhaul.TestDef{
					{Class: "checkout.Cart", Method: "addItem"},
					{Class: "checkout.Cart", Method: "removeItem"},
				},
			},
			{Name: "skipped", Disabled: true},
			{
				Name:     "search",
				NumTests: 50,
				Tests: []longhaul.TestDef{
					{Class: "search.Query", Method: "simple"},
					{Method: "orphan"}, // unresolvable, keeps its slot
					{Class: "search.Query", Method: "fuzzy"},
				},
			},
		},
	}

	catalog, err := longhaul.BuildCatalog(cfg, dir)
	require.NoError(t, err)

	start := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	meta := NewMetadata(start, cfg, catalog, []int{4, 2})

	require.NoError(t, WriteMetadata(dir, meta))

	got, err := ReadMetadata(dir)
	require.NoError(t, err)

	assert.Equal(t, MetadataVersion, got.Version)
	assert.Equal(t, meta.RunID, got.RunID)
	assert.True(t, got.Start.Equal(start))

	// Disabled suites never appear; ids are positions among enabled suites.
	require.Len(t, got.Suites, 2)
	assert.Equal(t, "checkout", got.SuiteName(0))
	assert.Equal(t, "search", got.SuiteName(1))
	assert.Equal(t, 4, got.Suites[0].Threads)
	assert.Equal(t, 2, got.Suites[1].Threads)

	assert.Equal(t, "checkout.Cart.addItem", got.TestName(0))
	assert.Equal(t, "search.Query.fuzzy", got.TestName(4))
}

func TestTimeZoneID(t *testing.T) {
	utc := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "UTC", timeZoneID(utc))

	cet := utc.In(time.FixedZone("CET", 3600))
	assert.Equal(t, "CET", timeZoneID(cet))

	// time.Local stringifies as "Local", which identifies nothing on the
	// host reading the sidecar; the fallback spells out name and offset.
	local := timeZoneID(utc.In(time.Local))
	assert.NotEqual(t, "Local", local)
	assert.Contains(t, local, ":")

	behind := utc.In(time.FixedZone("", -5*3600-30*60))
	assert.Equal(t, "-05:30", timeZoneID(behind))
}

func TestMetadata_UnresolvedNames(t *testing.T) {
	m := Metadata{
		Suites: []SuiteMeta{{Name: "only"}},
		Tests:  []TestMeta{{Class: "a.B", Method: "c"}, {Method: "orphan"}},
	}

	assert.Equal(t, "a.B.c", m.TestName(0))
	assert.Equal(t, "<unresolved #1>", m.TestName(1))
	assert.Equal(t, "<unresolved #9>", m.TestName(9))

	assert.Equal(t, "only", m.SuiteName(0))
	assert.Equal(t, "suite-3", m.SuiteName(3))
}
