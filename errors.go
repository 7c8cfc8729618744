package longhaul

import "errors"

// Sentinel errors.
var (
	// ErrConfigNotFound is returned when no .longhaul.yaml is found.
	ErrConfigNotFound = errors.New("longhaul: no .longhaul.yaml found")

	// ErrNoSuites is returned when a config enables no suites.
	ErrNoSuites = errors.New("longhaul: no enabled suites")

	// ErrTooManySuites is returned when a run configures more suites than the
	// trace format can address.
	ErrTooManySuites = errors.New("longhaul: a run supports at most 8 suites")

	// ErrTooManyThreads is returned when the combined worker count exceeds the
	// trace format's thread field.
	ErrTooManyThreads = errors.New("longhaul: a run supports at most 8192 worker threads")

	// ErrCatalogOverflow is returned when the combined inventories exceed the
	// 16-bit test index space.
	ErrCatalogOverflow = errors.New("longhaul: test catalog exceeds 65536 entries")

	// ErrUnknownSelection is returned for a selection policy other than
	// sequential or random.
	ErrUnknownSelection = errors.New("longhaul: unknown selection policy")

	// ErrEmptyInventory is returned when a suite resolves to zero runnable tests.
	ErrEmptyInventory = errors.New("longhaul: suite inventory has no runnable tests")
)
