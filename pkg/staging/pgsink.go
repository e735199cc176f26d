package staging

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystage/keystage/pkg/consts/pgconsts"
	"github.com/keystage/keystage/pkg/tracking"
)

type PGSinkOpts struct {
	Pool *pgxpool.Pool
}

// NewPGSink returns a Sink backed by the keystage.staged_changes table,
// writing each table's rows in one COPY.
func NewPGSink(opts PGSinkOpts) *PGSink {
	return &PGSink{pool: opts.Pool}
}

type PGSink struct {
	pool *pgxpool.Pool
}

var _ Sink = (*PGSink)(nil)

func (s *PGSink) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE `+pgconsts.StagingTable); err != nil {
		return fmt.Errorf("error resetting staging table: %w", err)
	}
	return nil
}

func (s *PGSink) Write(ctx context.Context, rows []tracking.StagedChange) error {
	distinct := Deduplicate(rows)
	if len(distinct) == 0 {
		return nil
	}

	src := make([][]any, len(distinct))
	for i, r := range distinct {
		src[i] = []any{r.Schema, r.Table, r.KeyColumnName, string(r.Fingerprint)}
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{pgconsts.Schema, pgconsts.StagingName},
		[]string{"schema_name", "table_name", "key_column_name", "fingerprint"},
		pgx.CopyFromRows(src),
	)
	if err != nil {
		return fmt.Errorf("error staging %d rows: %w", len(distinct), err)
	}
	return nil
}

// Deduplicate returns rows with duplicate fingerprints removed, preserving
// first-seen order.  A key that changed more than once in the window appears
// once in the staged set.
func Deduplicate(rows []tracking.StagedChange) []tracking.StagedChange {
	seen := make(map[tracking.Fingerprint]bool, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		if seen[r.Fingerprint] {
			continue
		}
		seen[r.Fingerprint] = true
		out = append(out, r)
	}
	return out
}
