package longhaul

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Structural limits imposed by the trace record format.
const (
	MaxSuites  = 8
	MaxThreads = 8192
	MaxTests   = 65536
)

// TestDef identifies a single test in an inventory. A def with an empty
// Class is intentionally unresolvable: it keeps its catalog index but is
// never selected by a worker.
type TestDef struct {
	Class  string `yaml:"class"`
	Method string `yaml:"method,omitempty"`
}

// Name returns the fully-qualified test name.
func (t TestDef) Name() string {
	if t.Class == "" {
		return ""
	}

	if t.Method == "" {
		return t.Class
	}

	return t.Class + "." + t.Method
}

// Resolved reports whether the def names a runnable test.
func (t TestDef) Resolved() bool {
	return t.Class != ""
}

// Inventory is the ordered catalog of tests a suite selects from.
type Inventory struct {
	ID    string    `yaml:"id"`
	Tests []TestDef `yaml:"tests"`
}

// LoadInventory reads an inventory file.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var inv Inventory

	err = yaml.Unmarshal(data, &inv)
	if err != nil {
		return nil, fmt.Errorf("parsing inventory %s: %w", path, err)
	}

	if inv.ID == "" {
		inv.ID = filepath.Base(path)
	}

	return &inv, nil
}

// Catalog assigns every test of a run a stable 16-bit index. Trace records
// carry only the index; names are resolved through the catalog (persisted in
// the run metadata) when traces are read back.
type Catalog struct {
	tests []TestDef

	// per enabled suite: the runnable catalog indices of its inventory,
	// in inventory order
	suiteTests [][]uint16

	// per enabled suite: the inventory id recorded in run metadata
	suiteInventories []string

	byName map[string]uint16
}

// BuildCatalog loads every enabled suite's inventory and merges them into a
// run-wide catalog. baseDir anchors relative inventory paths.
func BuildCatalog(cfg *Config, baseDir string) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]uint16)}

	for _, s := range cfg.EnabledSuites() {
		var (
			defs []TestDef
			id   string
		)

		switch {
		case s.Inventory != "":
			path := s.Inventory
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}

			inv, err := LoadInventory(path)
			if err != nil {
				return nil, err
			}

			defs, id = inv.Tests, inv.ID
		default:
			defs, id = s.Tests, s.Name
		}

		var indices []uint16

		for _, def := range defs {
			idx, err := c.add(def)
			if err != nil {
				return nil, err
			}

			if def.Resolved() {
				indices = append(indices, idx)
			}
		}

		if len(indices) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyInventory, s.Name)
		}

		c.suiteTests = append(c.suiteTests, indices)
		c.suiteInventories = append(c.suiteInventories, id)
	}

	return c, nil
}

func (c *Catalog) add(def TestDef) (uint16, error) {
	if name := def.Name(); name != "" {
		if idx, ok := c.byName[name]; ok {
			return idx, nil
		}
	}

	if len(c.tests) >= MaxTests {
		return 0, ErrCatalogOverflow
	}

	idx := uint16(len(c.tests))
	c.tests = append(c.tests, def)

	if name := def.Name(); name != "" {
		c.byName[name] = idx
	}

	return idx, nil
}

// Len returns the number of catalog entries, unresolvable ones included.
func (c *Catalog) Len() int {
	return len(c.tests)
}

// Test returns the def at a catalog index.
func (c *Catalog) Test(num uint16) TestDef {
	if int(num) >= len(c.tests) {
		return TestDef{}
	}

	return c.tests[num]
}

// Name resolves a catalog index to a display name.
func (c *Catalog) Name(num uint16) string {
	if def := c.Test(num); def.Resolved() {
		return def.Name()
	}

	return fmt.Sprintf("<unresolved #%d>", num)
}

// SuiteTests returns the runnable catalog indices of an enabled suite.
func (c *Catalog) SuiteTests(suite int) []uint16 {
	if suite < 0 || suite >= len(c.suiteTests) {
		return nil
	}

	return c.suiteTests[suite]
}

// SuiteInventory returns the inventory id of an enabled suite.
func (c *Catalog) SuiteInventory(suite int) string {
	if suite < 0 || suite >= len(c.suiteInventories) {
		return ""
	}

	return c.suiteInventories[suite]
}

// Tests returns the full catalog in index order.
func (c *Catalog) Tests() []TestDef {
	return c.tests
}
