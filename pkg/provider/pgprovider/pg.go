// Package pgprovider implements the catalog and change-feed contracts on top
// of a journal-based Postgres change-tracking engine.  The engine's state
// lives in the keystage schema: a global version sequence, a registry of
// enrolled tables and a change journal populated by per-table triggers (see
// the pgsetup subpackage).
package pgprovider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystage/keystage/pkg/consts/pgconsts"
	"github.com/keystage/keystage/pkg/provider"
	"github.com/keystage/keystage/pkg/tracking"
)

type Opts struct {
	// Pool is the shared connection pool used for catalog and change-feed
	// reads.  The pool is borrowed, not owned; callers close it.
	Pool *pgxpool.Pool

	Logger *slog.Logger
}

// New returns a Postgres-backed provider.
func New(ctx context.Context, opts Opts) (*PG, error) {
	if opts.Pool == nil {
		return nil, fmt.Errorf("pgprovider: a connection pool is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := opts.Pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to postgres: %w", err)
	}
	return &PG{pool: opts.Pool, log: opts.Logger}, nil
}

type PG struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ provider.Provider = (*PG)(nil)

// discoverQuery joins the registry with the catalog's primary-key metadata,
// one row per (table, key column) in key ordinal order.  Outer joins keep
// every enrolled row in the result: an enrolled table whose primary key no
// longer exists surfaces as a row with a NULL column instead of silently
// vanishing from an inner join.  One query, one snapshot, so enrollments
// racing discovery cannot skew a separate count.
const discoverQuery = `
	SELECT tt.schema_name, tt.table_name, a.attname, k.ord
	FROM ` + pgconsts.RegistryTable + ` tt
	LEFT JOIN pg_namespace n ON n.nspname = tt.schema_name
	LEFT JOIN pg_class c ON c.relnamespace = n.oid AND c.relname = tt.table_name
	LEFT JOIN pg_index i ON i.indrelid = c.oid AND i.indisprimary
	LEFT JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
	LEFT JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
	ORDER BY tt.schema_name, tt.table_name, k.ord
`

// DiscoverTrackedTables returns every enrolled table with its key columns in
// ordinal order.  An enrolled table whose primary key was dropped after
// enrollment is a catalog failure, not a silently dropped table.
func (p *PG) DiscoverTrackedTables(ctx context.Context) ([]tracking.TrackedTable, error) {
	rows, err := p.pool.Query(ctx, discoverQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tracking.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var (
		tables []tracking.TrackedTable
		cur    *tracking.TrackedTable
	)
	for rows.Next() {
		var (
			schema, table string
			column        *string
			ordinal       *int
		)
		if err := rows.Scan(&schema, &table, &column, &ordinal); err != nil {
			return nil, fmt.Errorf("%w: %w", tracking.ErrCatalogUnavailable, err)
		}
		if column == nil || ordinal == nil {
			return nil, fmt.Errorf("%w: enrolled table %s.%s has no primary key",
				tracking.ErrCatalogUnavailable, schema, table)
		}
		if cur == nil || cur.Schema != schema || cur.Name != table {
			tables = append(tables, tracking.TrackedTable{Schema: schema, Name: table})
			cur = &tables[len(tables)-1]
		}
		cur.KeyColumns = append(cur.KeyColumns, tracking.KeyColumn{Name: *column, Ordinal: *ordinal})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", tracking.ErrCatalogUnavailable, err)
	}

	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", tracking.ErrCatalogUnavailable, err)
		}
	}
	return tables, nil
}

// CurrentVersion returns the last issued change version, or 0 if no change
// was ever journaled.  The sequence read is not transactional: a writer may
// hold an issued version in an uncommitted transaction, and its journal row
// would be invisible to any enumeration up to that version.  So the version
// is captured together with a snapshot, and the call blocks until every
// transaction in flight at capture time has finished.  After that, every
// journal row at or below the returned version is visible.
func (p *PG) CurrentVersion(ctx context.Context) (tracking.Version, error) {
	var (
		v       int64
		horizon int64
	)
	err := p.pool.QueryRow(ctx, `
		SELECT (SELECT CASE WHEN is_called THEN last_value ELSE last_value - 1 END FROM `+pgconsts.VersionSequence+`),
		       pg_snapshot_xmax(pg_current_snapshot())::text::bigint`,
	).Scan(&v, &horizon)
	if err != nil {
		return 0, fmt.Errorf("error reading current change version: %w", err)
	}
	if err := p.waitForWriters(ctx, horizon); err != nil {
		return 0, err
	}
	return tracking.Version(v), nil
}

// waitForWriters blocks until every transaction older than horizon has
// ended.  Any version at or below the captured cutover was issued inside a
// transaction older than the horizon, so once those transactions are gone
// the journal below the cutover is complete.
func (p *PG) waitForWriters(ctx context.Context, horizon int64) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		var xmin int64
		err := p.pool.QueryRow(ctx,
			`SELECT pg_snapshot_xmin(pg_current_snapshot())::text::bigint`,
		).Scan(&xmin)
		if err != nil {
			return fmt.Errorf("error reading transaction horizon: %w", err)
		}
		if xmin >= horizon {
			return nil
		}
		p.log.Debug("waiting for in-flight writers", "horizon", horizon, "oldest", xmin)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// MinValidVersion returns the retention floor for the table: the oldest
// version for which the journal still holds complete history.  Set at
// enrollment and raised by Prune.
func (p *PG) MinValidVersion(ctx context.Context, table tracking.TrackedTable) (tracking.Version, error) {
	var floor int64
	err := p.pool.QueryRow(ctx,
		`SELECT retain_floor FROM `+pgconsts.RegistryTable+` WHERE schema_name = $1 AND table_name = $2`,
		table.Schema, table.Name,
	).Scan(&floor)
	if err != nil {
		return 0, fmt.Errorf("error reading retention floor for %s: %w", table.QualifiedName(), err)
	}
	return tracking.Version(floor), nil
}

// Changes returns the keys journaled for the table in (since, upto].
func (p *PG) Changes(ctx context.Context, table tracking.TrackedTable, since, upto tracking.Version) (provider.Keys, error) {
	floor, err := p.MinValidVersion(ctx, table)
	if err != nil {
		return nil, err
	}
	if since < floor {
		return nil, fmt.Errorf("%w: watermark %d is below the retention floor %d for %s",
			tracking.ErrVersionExpired, since, floor, table.QualifiedName())
	}

	rows, err := p.pool.Query(ctx,
		`SELECT version, key FROM `+pgconsts.JournalTable+`
		 WHERE schema_name = $1 AND table_name = $2 AND version > $3 AND version <= $4
		 ORDER BY version`,
		table.Schema, table.Name, int64(since), int64(upto),
	)
	if err != nil {
		return nil, fmt.Errorf("error reading change journal for %s: %w", table.QualifiedName(), err)
	}
	return &keyRows{rows: rows, table: table.QualifiedName(), cols: table.OrderedKeyColumns(), upto: upto}, nil
}

// keyRows adapts a journal result set to the provider.Keys sequence,
// normalizing the jsonb key object into values ordered by key ordinal.
type keyRows struct {
	rows  pgx.Rows
	table string
	cols  []tracking.KeyColumn
	upto  tracking.Version

	vals []string
	err  error
}

func (k *keyRows) Next() bool {
	if k.err != nil {
		return false
	}
	for k.rows.Next() {
		var (
			version int64
			key     map[string]string
		)
		if err := k.rows.Scan(&version, &key); err != nil {
			k.err = err
			return false
		}
		// The query is bounded already; guard against feed rows beyond the
		// cutover regardless, as they belong to a future run.
		if tracking.Version(version) > k.upto {
			continue
		}
		vals := make([]string, len(k.cols))
		for i, c := range k.cols {
			v, ok := key[c.Name]
			if !ok {
				k.err = fmt.Errorf("%w: journal entry for %s is missing key column %q",
					tracking.ErrKeyShapeChanged, k.table, c.Name)
				return false
			}
			vals[i] = v
		}
		k.vals = vals
		return true
	}
	k.err = k.rows.Err()
	return false
}

func (k *keyRows) Values() []string { return k.vals }
func (k *keyRows) Err() error       { return k.err }
func (k *keyRows) Close()           { k.rows.Close() }
