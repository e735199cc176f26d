package watermark

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystage/keystage/pkg/consts/pgconsts"
	"github.com/keystage/keystage/pkg/tracking"
)

type PGStoreOpts struct {
	Pool *pgxpool.Pool

	// Actor is recorded on created/updated watermark rows.  Defaults to
	// pgconsts.DefaultActor.
	Actor string
}

// NewPGStore returns a Store backed by the keystage.watermarks table.
// Updates are row-level per table identity, so concurrent table tasks never
// contend with each other.
func NewPGStore(opts PGStoreOpts) *PGStore {
	if opts.Actor == "" {
		opts.Actor = pgconsts.DefaultActor
	}
	return &PGStore{pool: opts.Pool, actor: opts.Actor}
}

type PGStore struct {
	pool  *pgxpool.Pool
	actor string
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) SeedMissing(ctx context.Context, tables []tracking.TrackedTable, minOf MinVersionFunc) error {
	for _, t := range tables {
		min, err := minOf(ctx, t)
		if err != nil {
			return fmt.Errorf("error reading minimum valid version for %s: %w", t.QualifiedName(), err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO `+pgconsts.WatermarkTable+`
				(schema_name, table_name, version, key_signature, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (schema_name, table_name) DO NOTHING`,
			t.Schema, t.Name, int64(min), t.KeySignature(), s.actor,
		)
		if err != nil {
			return fmt.Errorf("error seeding watermark for %s: %w", t.QualifiedName(), err)
		}
	}
	return nil
}

func (s *PGStore) Read(ctx context.Context, table tracking.TrackedTable) (tracking.Version, string, error) {
	var (
		version   int64
		signature string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT version, key_signature FROM `+pgconsts.WatermarkTable+`
		 WHERE schema_name = $1 AND table_name = $2`,
		table.Schema, table.Name,
	).Scan(&version, &signature)
	if errors.Is(err, pgx.ErrNoRows) {
		// Seeding should make this unreachable; default defensively.
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("error reading watermark for %s: %w", table.QualifiedName(), err)
	}
	return tracking.Version(version), signature, nil
}

func (s *PGStore) Advance(ctx context.Context, table tracking.TrackedTable, version tracking.Version) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgconsts.WatermarkTable+`
		 SET version = $3, updated_at = now(), updated_by = $4
		 WHERE schema_name = $1 AND table_name = $2 AND version <= $3`,
		table.Schema, table.Name, int64(version), s.actor,
	)
	if err != nil {
		return fmt.Errorf("error advancing watermark for %s: %w", table.QualifiedName(), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	cur, sig, err := s.Read(ctx, table)
	if err != nil {
		return err
	}
	if sig == "" {
		return fmt.Errorf("error advancing watermark for %s: table was never seeded", table.QualifiedName())
	}
	return fmt.Errorf("%w: %s is at %d, refusing %d",
		tracking.ErrWatermarkRegressed, table.QualifiedName(), cur, version)
}

// Reseed overwrites a table's watermark and key signature.  This is the
// manual recovery path after ErrVersionExpired or ErrKeyShapeChanged; the
// orchestrator itself never calls it.
func (s *PGStore) Reseed(ctx context.Context, table tracking.TrackedTable, version tracking.Version) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+pgconsts.WatermarkTable+`
			(schema_name, table_name, version, key_signature, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (schema_name, table_name) DO UPDATE
		SET version = EXCLUDED.version,
		    key_signature = EXCLUDED.key_signature,
		    updated_at = now(),
		    updated_by = EXCLUDED.updated_by`,
		table.Schema, table.Name, int64(version), table.KeySignature(), s.actor,
	)
	if err != nil {
		return fmt.Errorf("error reseeding watermark for %s: %w", table.QualifiedName(), err)
	}
	return nil
}
