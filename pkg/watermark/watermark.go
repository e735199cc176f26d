// Package watermark persists the last fully processed change version per
// tracked table.
package watermark

import (
	"context"

	"github.com/keystage/keystage/pkg/tracking"
)

// MinVersionFunc reports the engine's minimum valid retained version for a
// table, used when seeding a watermark for the first time.
type MinVersionFunc func(ctx context.Context, table tracking.TrackedTable) (tracking.Version, error)

// Store is the durable table-identity → version mapping the orchestrator
// commits progress into.  Implementations must support concurrent calls for
// distinct tables.
type Store interface {
	// SeedMissing inserts a watermark row for every table not yet present, at
	// the engine-reported minimum valid version, recording the table's key
	// signature.  Existing watermarks are never overwritten; calling twice
	// with the same tables is a no-op on the second call.
	SeedMissing(ctx context.Context, tables []tracking.TrackedTable, minOf MinVersionFunc) error

	// Read returns the table's current version and the key signature recorded
	// when it was seeded, or (0, "") if the table was never seeded.
	Read(ctx context.Context, table tracking.TrackedTable) (tracking.Version, string, error)

	// Advance moves the table's watermark to version, recording the update
	// time and actor.  Returns tracking.ErrWatermarkRegressed if version is
	// below the current watermark.
	Advance(ctx context.Context, table tracking.TrackedTable, version tracking.Version) error
}
