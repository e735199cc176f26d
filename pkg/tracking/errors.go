package tracking

import (
	"errors"
	"fmt"
)

var (
	// ErrCatalogUnavailable indicates that the tracked-table catalog could not
	// be read.  This aborts the whole run: a partial discovery would silently
	// stop tracking the omitted tables.
	ErrCatalogUnavailable = fmt.Errorf("ERR_KS_001: The change-tracking catalog cannot be read.  No tables were processed.")

	// ErrVersionExpired indicates that a table's watermark is below the
	// engine's retention floor:  the change window has rolled off and the
	// table must be re-seeded manually.
	ErrVersionExpired = fmt.Errorf("ERR_KS_002: The table's watermark is older than the engine's retained change history.  Re-seed the watermark to resume tracking.")

	// ErrWatermarkRegressed indicates an attempt to move a watermark
	// backwards.  This never happens during normal operation and points at
	// corrupted cutover/watermark bookkeeping.
	ErrWatermarkRegressed = fmt.Errorf("ERR_KS_003: Refusing to move a watermark backwards.")

	// ErrKeyShapeChanged indicates that a table's primary-key columns no
	// longer match the signature recorded when its watermark was seeded.
	ErrKeyShapeChanged = fmt.Errorf("ERR_KS_004: The table's key columns changed since its watermark was seeded.  Re-seed the watermark to adopt the new key shape.")
)

// IsTerminal reports whether err is one of the non-retryable tracking errors.
// Anything else is treated as transient and eligible for bounded retry within
// the table task.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrCatalogUnavailable) ||
		errors.Is(err, ErrVersionExpired) ||
		errors.Is(err, ErrWatermarkRegressed) ||
		errors.Is(err, ErrKeyShapeChanged)
}
