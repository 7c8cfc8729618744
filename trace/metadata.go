package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rlch/longhaul"
)

// MetadataVersion is the current metadata format version.
const MetadataVersion = 1

// MetadataFile is the name of the run metadata sidecar within a trace
// directory.
const MetadataFile = "run.yaml"

// Metadata is the run header written once per run. Trace records only carry
// catalog indices; this sidecar is what makes them readable after the fact.
type Metadata struct {
	Version  int       `yaml:"version"`
	RunID    string    `yaml:"runId"`
	Start    time.Time `yaml:"start"`
	TimeZone string    `yaml:"timeZone"`

	Suites []SuiteMeta `yaml:"suites"`

	// Tests is the flat catalog; position is the test number carried by
	// records. An entry with an empty class is intentionally unresolvable.
	Tests []TestMeta `yaml:"tests"`
}

// SuiteMeta records one suite's shape for the reconstructor.
type SuiteMeta struct {
	Name      string `yaml:"name"`
	Threads   int    `yaml:"threads"`
	Inventory string `yaml:"inventory"`
	TestCount int    `yaml:"testCount"`
}

// TestMeta is one catalog entry.
type TestMeta struct {
	Class  string `yaml:"class,omitempty"`
	Method string `yaml:"method,omitempty"`
}

// NewMetadata builds the metadata for a run starting now, from the resolved
// config and catalog. threads lists the per-enabled-suite worker counts.
func NewMetadata(start time.Time, cfg *longhaul.Config, catalog *longhaul.Catalog, threads []int) Metadata {
	m := Metadata{
		Version:  MetadataVersion,
		RunID:    uuid.NewString(),
		Start:    start,
		TimeZone: timeZoneID(start),
	}

	for i, s := range cfg.EnabledSuites() {
		n := 0
		if i < len(threads) {
			n = threads[i]
		}

		m.Suites = append(m.Suites, SuiteMeta{
			Name:      s.Name,
			Threads:   n,
			Inventory: catalog.SuiteInventory(i),
			TestCount: s.NumTests,
		})
	}

	for _, def := range catalog.Tests() {
		m.Tests = append(m.Tests, TestMeta{Class: def.Class, Method: def.Method})
	}

	return m
}

// timeZoneID names a time's zone in a form meaningful off-host: the location
// name when it carries one, otherwise the zone abbreviation with its UTC
// offset. "Local" means nothing on the machine reading the sidecar.
func timeZoneID(t time.Time) string {
	if loc := t.Location().String(); loc != "" && loc != "Local" {
		return loc
	}

	name, offset := t.Zone()

	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}

	return fmt.Sprintf("%s%s%02d:%02d", name, sign, offset/3600, offset%3600/60)
}

// TestName resolves a record's test number to a display name.
func (m Metadata) TestName(num uint16) string {
	if int(num) < len(m.Tests) {
		if t := m.Tests[num]; t.Class != "" {
			if t.Method == "" {
				return t.Class
			}

			return t.Class + "." + t.Method
		}
	}

	return fmt.Sprintf("<unresolved #%d>", num)
}

// SuiteName returns the display name for a suite id.
func (m Metadata) SuiteName(suite uint8) string {
	if int(suite) < len(m.Suites) {
		return m.Suites[suite].Name
	}

	return fmt.Sprintf("suite-%d", suite)
}

// WriteMetadata writes the sidecar into dir.
func WriteMetadata(dir string, m Metadata) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o640)
}

// ReadMetadata loads the sidecar from dir.
func ReadMetadata(dir string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return Metadata{}, err
	}

	var m Metadata

	if err := yaml.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("parsing run metadata: %w", err)
	}

	return m, nil
}
