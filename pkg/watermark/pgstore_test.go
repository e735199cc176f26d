package watermark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keystage/keystage/internal/test"
	"github.com/keystage/keystage/pkg/tracking"
)

var (
	accounts = tracking.TrackedTable{
		Schema: "public",
		Name:   "accounts",
		KeyColumns: []tracking.KeyColumn{
			{Name: "id", Ordinal: 1},
		},
	}
	memberships = tracking.TrackedTable{
		Schema: "public",
		Name:   "memberships",
		KeyColumns: []tracking.KeyColumn{
			{Name: "account_id", Ordinal: 1},
			{Name: "user_email", Ordinal: 2},
		},
	}
)

func seedAt(v tracking.Version) MinVersionFunc {
	return func(ctx context.Context, t tracking.TrackedTable) (tracking.Version, error) {
		return v, nil
	}
}

func TestSeedMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, pool := test.StartPG(t, ctx, test.StartPGOpts{})
	store := NewPGStore(PGStoreOpts{Pool: pool})

	tables := []tracking.TrackedTable{accounts, memberships}
	require.NoError(t, store.SeedMissing(ctx, tables, seedAt(7)))

	v, sig, err := store.Read(ctx, accounts)
	require.NoError(t, err)
	require.Equal(t, tracking.Version(7), v)
	require.Equal(t, "id", sig)

	v, sig, err = store.Read(ctx, memberships)
	require.NoError(t, err)
	require.Equal(t, tracking.Version(7), v)
	require.Equal(t, "account_id,user_email", sig)

	// Seeding again never overwrites an existing watermark.
	require.NoError(t, store.Advance(ctx, accounts, 12))
	require.NoError(t, store.SeedMissing(ctx, tables, seedAt(0)))

	v, _, err = store.Read(ctx, accounts)
	require.NoError(t, err)
	require.Equal(t, tracking.Version(12), v)
}

func TestReadUnseeded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, pool := test.StartPG(t, ctx, test.StartPGOpts{})
	store := NewPGStore(PGStoreOpts{Pool: pool})

	v, sig, err := store.Read(ctx, accounts)
	require.NoError(t, err)
	require.Equal(t, tracking.Version(0), v)
	require.Empty(t, sig)
}

func TestAdvance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, pool := test.StartPG(t, ctx, test.StartPGOpts{})
	store := NewPGStore(PGStoreOpts{Pool: pool})

	require.NoError(t, store.SeedMissing(ctx, []tracking.TrackedTable{accounts}, seedAt(0)))

	require.NoError(t, store.Advance(ctx, accounts, 5))
	require.NoError(t, store.Advance(ctx, accounts, 5)) // same version is a no-op
	require.NoError(t, store.Advance(ctx, accounts, 9))

	// Moving the watermark backwards is refused.
	err := store.Advance(ctx, accounts, 3)
	require.ErrorIs(t, err, tracking.ErrWatermarkRegressed)

	v, _, err := store.Read(ctx, accounts)
	require.NoError(t, err)
	require.Equal(t, tracking.Version(9), v)

	// Advancing a table nobody seeded is an error, not a silent insert.
	err = store.Advance(ctx, memberships, 5)
	require.Error(t, err)
	require.NotErrorIs(t, err, tracking.ErrWatermarkRegressed)
}

func TestReseed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, pool := test.StartPG(t, ctx, test.StartPGOpts{})
	store := NewPGStore(PGStoreOpts{Pool: pool})

	require.NoError(t, store.SeedMissing(ctx, []tracking.TrackedTable{accounts}, seedAt(0)))
	require.NoError(t, store.Advance(ctx, accounts, 40))

	// Reseed rewinds past the regression guard and refreshes the signature.
	widened := accounts
	widened.KeyColumns = []tracking.KeyColumn{
		{Name: "id", Ordinal: 1},
		{Name: "region", Ordinal: 2},
	}
	require.NoError(t, store.Reseed(ctx, widened, 10))

	v, sig, err := store.Read(ctx, accounts)
	require.NoError(t, err)
	require.Equal(t, tracking.Version(10), v)
	require.Equal(t, "id,region", sig)
}
