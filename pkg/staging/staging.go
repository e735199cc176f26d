// Package staging writes changed-key fingerprints to the shared staging
// destination consumed by downstream ETL.
package staging

import (
	"context"

	"github.com/keystage/keystage/pkg/tracking"
)

// Sink is the append-only staging destination.  The staging set is fully
// replaced each run: Reset once before any table writes, then one Write per
// table.  Implementations must support concurrent Writes for distinct tables.
type Sink interface {
	// Reset clears all staged rows.
	Reset(ctx context.Context) error

	// Write appends one table's result, deduplicated by fingerprint within
	// the write.
	Write(ctx context.Context, rows []tracking.StagedChange) error
}
