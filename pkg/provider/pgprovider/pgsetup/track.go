package pgsetup

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/keystage/keystage/pkg/consts/pgconsts"
)

var (
	ErrNoPrimaryKey = fmt.Errorf("ERR_KS_104: The table has no primary key and cannot be change tracked.")
)

// triggerName is the per-table journaling trigger.  One trigger per tracked
// table; the function it executes is generated from the table's key columns.
const triggerName = "keystage_journal"

// Track enrolls a table under change tracking:  it registers the table with
// a retention floor at the current change version and installs the journaling
// trigger.  Idempotent; re-tracking an enrolled table refreshes its trigger
// and leaves the registry row untouched.
func Track(ctx context.Context, opts SetupOpts, schema, table string) error {
	conn, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	cols, err := primaryKeyColumns(ctx, conn, schema, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w (table %s.%s)", ErrNoPrimaryKey, schema, table)
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (schema_name, table_name, retain_floor)
		VALUES ($1, $2, (SELECT CASE WHEN is_called THEN last_value ELSE last_value - 1 END FROM %s))
		ON CONFLICT (schema_name, table_name) DO NOTHING`,
		pgconsts.RegistryTable, pgconsts.VersionSequence),
		schema, table,
	)
	if err != nil {
		return fmt.Errorf("Error enrolling table %s.%s: %w", schema, table, err)
	}

	if _, err := conn.Exec(ctx, journalTriggerDDL(schema, table, cols)); err != nil {
		return fmt.Errorf("Error installing journal trigger on %s.%s: %w", schema, table, err)
	}
	return nil
}

// Untrack removes a table from change tracking: the trigger, the trigger
// function and the registry row.  Journal history and the table's watermark
// are left in place.
func Untrack(ctx context.Context, opts SetupOpts, schema, table string) error {
	conn, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	qualified := pgx.Identifier{schema, table}.Sanitize()
	fn := triggerFunction(schema, table)

	stmt := fmt.Sprintf(`
		DROP TRIGGER IF EXISTS %s ON %s;
		DROP FUNCTION IF EXISTS %s();`,
		triggerName, qualified, fn)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("Error removing journal trigger from %s.%s: %w", schema, table, err)
	}

	_, err = conn.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE schema_name = $1 AND table_name = $2`, pgconsts.RegistryTable),
		schema, table,
	)
	if err != nil {
		return fmt.Errorf("Error unenrolling table %s.%s: %w", schema, table, err)
	}
	return nil
}

func primaryKeyColumns(ctx context.Context, conn *pgx.Conn, schema, table string) ([]string, error) {
	rows, err := conn.Query(ctx, `
		SELECT a.attname
		FROM pg_namespace n
		JOIN pg_class c ON c.relnamespace = n.oid
		JOIN pg_index i ON i.indrelid = c.oid AND i.indisprimary
		JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1 AND c.relname = $2
		ORDER BY k.ord`,
		schema, table,
	)
	if err != nil {
		return nil, fmt.Errorf("Error reading key columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func triggerFunction(schema, table string) string {
	return fmt.Sprintf("%s.%s", pgconsts.Schema,
		pgx.Identifier{fmt.Sprintf("journal_%s_%s", schema, table)}.Sanitize())
}

// journalTriggerDDL generates the plpgsql trigger journaling every key change
// on the table.  INSERT and UPDATE journal the new key; DELETE journals the
// old key; an UPDATE that moves the key journals both.
func journalTriggerDDL(schema, table string, cols []string) string {
	fn := triggerFunction(schema, table)
	qualified := pgx.Identifier{schema, table}.Sanitize()

	insert := func(rec string) string {
		pairs := make([]string, 0, len(cols)*2)
		for _, c := range cols {
			pairs = append(pairs,
				quoteLiteral(c),
				fmt.Sprintf("%s.%s::text", rec, pgx.Identifier{c}.Sanitize()),
			)
		}
		return fmt.Sprintf(
			"INSERT INTO %s (version, schema_name, table_name, key) VALUES (nextval('%s'), %s, %s, jsonb_build_object(%s))",
			pgconsts.JournalTable, pgconsts.VersionSequence,
			quoteLiteral(schema), quoteLiteral(table), strings.Join(pairs, ", "),
		)
	}

	keyMoved := make([]string, len(cols))
	for i, c := range cols {
		id := pgx.Identifier{c}.Sanitize()
		keyMoved[i] = fmt.Sprintf("OLD.%s IS DISTINCT FROM NEW.%s", id, id)
	}

	return fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $fn$
		BEGIN
			IF TG_OP = 'DELETE' THEN
				%s;
				RETURN OLD;
			END IF;
			IF TG_OP = 'UPDATE' AND (%s) THEN
				%s;
			END IF;
			%s;
			RETURN NEW;
		END;
		$fn$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS %s ON %s;
		CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s
		FOR EACH ROW EXECUTE FUNCTION %s();`,
		fn,
		insert("OLD"),
		strings.Join(keyMoved, " OR "),
		insert("OLD"),
		insert("NEW"),
		triggerName, qualified,
		triggerName, qualified,
		fn,
	)
}

// quoteLiteral returns the value as a single-quoted SQL string literal.
func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
