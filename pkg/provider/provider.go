// Package provider defines the storage-engine contracts the run orchestrator
// depends on: catalog discovery and the per-table change feed.
package provider

import (
	"context"

	"github.com/keystage/keystage/pkg/tracking"
)

// Catalog reads the engine's change-tracking metadata.
type Catalog interface {
	// DiscoverTrackedTables returns every table currently enrolled in change
	// tracking, exactly once, with its key columns in ordinal order.  Any
	// failure wraps tracking.ErrCatalogUnavailable and is fatal for the run.
	DiscoverTrackedTables(ctx context.Context) ([]tracking.TrackedTable, error)
}

// Engine exposes the engine's version bookkeeping and change feed.
type Engine interface {
	// CurrentVersion returns the engine's current change version.  Captured
	// once per run as the cutover.
	CurrentVersion(ctx context.Context) (tracking.Version, error)

	// MinValidVersion returns the oldest version for which the engine still
	// retains complete change history for the table.  Used to seed watermarks.
	MinValidVersion(ctx context.Context, table tracking.TrackedTable) (tracking.Version, error)

	// Changes returns the keys changed in (since, upto].  Keys may repeat if
	// they changed more than once in the window; deduplication happens when
	// staging.  Returns tracking.ErrVersionExpired if since is below the
	// engine's retention floor for the table.
	Changes(ctx context.Context, table tracking.TrackedTable, since, upto tracking.Version) (Keys, error)
}

// Provider is a full storage provider: catalog plus change feed.
type Provider interface {
	Catalog
	Engine
}

// Keys is a lazy sequence of changed keys.  Values are the key column values
// in key ordinal order.  Callers must Close the sequence and check Err after
// iteration.
type Keys interface {
	Next() bool
	Values() []string
	Err() error
	Close()
}

// SliceKeys returns a Keys backed by an in-memory slice.  Used by fakes and
// tests.
func SliceKeys(keys [][]string) Keys {
	return &sliceKeys{keys: keys}
}

type sliceKeys struct {
	keys [][]string
	i    int
}

func (s *sliceKeys) Next() bool {
	if s.i >= len(s.keys) {
		return false
	}
	s.i++
	return true
}

func (s *sliceKeys) Values() []string { return s.keys[s.i-1] }
func (s *sliceKeys) Err() error       { return nil }
func (s *sliceKeys) Close()           {}
