package pgprovider

import (
	"context"
	"fmt"

	"github.com/keystage/keystage/pkg/consts/pgconsts"
	"github.com/keystage/keystage/pkg/tracking"
)

// Prune discards journal history at or below upto and raises every enrolled
// table's retention floor accordingly.  Watermarks that end up below the new
// floor surface ErrVersionExpired on their next run and require a re-seed.
func (p *PG) Prune(ctx context.Context, upto tracking.Version) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error starting prune: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`DELETE FROM `+pgconsts.JournalTable+` WHERE version <= $1`, int64(upto))
	if err != nil {
		return fmt.Errorf("error pruning change journal: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE `+pgconsts.RegistryTable+` SET retain_floor = GREATEST(retain_floor, $1)`, int64(upto)); err != nil {
		return fmt.Errorf("error raising retention floors: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error committing prune: %w", err)
	}

	p.log.Info("pruned change journal", "upto", int64(upto), "rows", tag.RowsAffected())
	return nil
}
