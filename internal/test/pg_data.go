package test

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const (
	DefaultSeed = 123
)

type InsertOpts struct {
	Seed int64
	Max  int
}

// InsertAccounts inserts Max deterministic account rows, returning their ids.
func InsertAccounts(t *testing.T, ctx context.Context, pool *pgxpool.Pool, opts InsertOpts) []uuid.UUID {
	t.Helper()

	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.Max == 0 {
		opts.Max = 1
	}

	rand := rand.New(rand.NewSource(opts.Seed))

	ids := make([]uuid.UUID, 0, opts.Max)
	for i := 0; i < opts.Max; i++ {
		name := hash(rand.Int63())
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
		_, err := pool.Exec(ctx,
			`INSERT INTO accounts (id, name, billing_email) VALUES ($1, $2, $3)`,
			id, name, name+"@example.com",
		)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

// UpdateAccount touches one account row, journaling another change for the
// same key.
func UpdateAccount(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) {
	t.Helper()
	_, err := pool.Exec(ctx,
		`UPDATE accounts SET updated_at = now(), name = name || '!' WHERE id = $1`, id)
	require.NoError(t, err)
}

// DeleteAccount removes one account row; the delete journals the old key.
func DeleteAccount(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id uuid.UUID) {
	t.Helper()
	_, err := pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	require.NoError(t, err)
}

// InsertMembership inserts one composite-key membership row.
func InsertMembership(t *testing.T, ctx context.Context, pool *pgxpool.Pool, accountID uuid.UUID, email string) {
	t.Helper()
	_, err := pool.Exec(ctx,
		`INSERT INTO memberships (account_id, user_email) VALUES ($1, $2)`,
		accountID, email,
	)
	require.NoError(t, err)
}

func hash(in any) string {
	switch v := in.(type) {
	case string:
		ui := xxhash.Sum64String(v)
		return strconv.FormatUint(ui, 36)
	default:
		ui := xxhash.Sum64String(fmt.Sprintf("%v", in))
		return strconv.FormatUint(ui, 36)
	}
}
