package longhaul

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestDef_Name(t *testing.T) {
	assert.Equal(t, "a.B.c", TestDef{Class: "a.B", Method: "c"}.Name())
	assert.Equal(t, "a.B", TestDef{Class: "a.B"}.Name())
	assert.Equal(t, "", TestDef{Method: "orphan"}.Name())
}

func TestTestDef_Resolved(t *testing.T) {
	assert.True(t, TestDef{Class: "a.B"}.Resolved())
	assert.False(t, TestDef{Method: "orphan"}.Resolved())
	assert.False(t, TestDef{}.Resolved())
}

const sampleInventory = `
id: smoke
tests:
  - class: demo.Login
    method: basic
  - class: demo.Login
    method: expiredSession
  - method: removedTest
`

func TestLoadInventory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smoke.yaml")

	require.NoError(t, os.WriteFile(path, []byte(sampleInventory), 0o640))

	inv, err := LoadInventory(path)
	require.NoError(t, err)

	assert.Equal(t, "smoke", inv.ID)
	require.Len(t, inv.Tests, 3)
	assert.Equal(t, "demo.Login.basic", inv.Tests[0].Name())
	assert.False(t, inv.Tests[2].Resolved())
}

func TestLoadInventory_DefaultsIDToFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nightly.yaml")

	require.NoError(t, os.WriteFile(path, []byte("tests:\n  - class: a.B\n"), 0o640))

	inv, err := LoadInventory(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly.yaml", inv.ID)
}

func TestBuildCatalog_FromFileAndInline(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "smoke.yaml"), []byte(sampleInventory), 0o640))

	cfg := &Config{Suites: []SuiteConfig{
		{Name: "file-backed", NumTests: 1, Inventory: "smoke.yaml"},
		{Name: "inline", NumTests: 1, Tests: []TestDef{
			{Class: "demo.Search", Method: "fuzzy"},
		}},
	}}

	c, err := BuildCatalog(cfg, dir)
	require.NoError(t, err)

	// Three file entries (one unresolvable) plus one inline.
	assert.Equal(t, 4, c.Len())

	assert.Equal(t, "smoke", c.SuiteInventory(0))
	assert.Equal(t, "inline", c.SuiteInventory(1))

	// Unresolvable defs keep their catalog slot but are never selectable.
	assert.Equal(t, []uint16{0, 1}, c.SuiteTests(0))
	assert.Equal(t, []uint16{3}, c.SuiteTests(1))

	assert.Equal(t, "demo.Login.basic", c.Name(0))
	assert.Equal(t, "<unresolved #2>", c.Name(2))
	assert.Equal(t, "demo.Search.fuzzy", c.Name(3))
}

func TestBuildCatalog_DeduplicatesAcrossSuites(t *testing.T) {
	shared := TestDef{Class: "demo.Login", Method: "basic"}

	cfg := &Config{Suites: []SuiteConfig{
		{Name: "a", NumTests: 1, Tests: []TestDef{shared, {Class: "demo.A", Method: "only"}}},
		{Name: "b", NumTests: 1, Tests: []TestDef{shared, {Class: "demo.B", Method: "only"}}},
	}}

	c, err := BuildCatalog(cfg, t.TempDir())
	require.NoError(t, err)

	// The shared test gets one catalog slot, referenced from both suites.
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []uint16{0, 1}, c.SuiteTests(0))
	assert.Equal(t, []uint16{0, 2}, c.SuiteTests(1))
}

func TestBuildCatalog_EmptyInventory(t *testing.T) {
	cfg := &Config{Suites: []SuiteConfig{
		{Name: "hollow", NumTests: 1, Tests: []TestDef{{Method: "orphan"}}},
	}}

	// An inventory of only unresolvable defs leaves the suite nothing to run.
	_, err := BuildCatalog(cfg, t.TempDir())
	require.ErrorIs(t, err, ErrEmptyInventory)
}

func TestBuildCatalog_Overflow(t *testing.T) {
	defs := make([]TestDef, MaxTests+1)

	for i := range defs {
		defs[i] = TestDef{Class: "gen.T", Method: fmt.Sprintf("m%d", i)}
	}

	cfg := &Config{Suites: []SuiteConfig{{Name: "huge", NumTests: 1, Tests: defs}}}

	_, err := BuildCatalog(cfg, t.TempDir())
	require.ErrorIs(t, err, ErrCatalogOverflow)
}

func TestCatalog_UnknownIndex(t *testing.T) {
	cfg := &Config{Suites: []SuiteConfig{validSuite("one")}}

	c, err := BuildCatalog(cfg, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, TestDef{}, c.Test(99))
	assert.Equal(t, "<unresolved #99>", c.Name(99))
	assert.Nil(t, c.SuiteTests(5))
}
