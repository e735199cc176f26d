package tracking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeySignature(t *testing.T) {
	table := TrackedTable{
		Schema: "public",
		Name:   "memberships",
		KeyColumns: []KeyColumn{
			// Deliberately out of ordinal order.
			{Name: "user_email", Ordinal: 2},
			{Name: "account_id", Ordinal: 1},
		},
	}
	require.Equal(t, "account_id,user_email", table.KeySignature())
	require.Equal(t, "public.memberships", table.QualifiedName())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		table   TrackedTable
		wantErr bool
	}{
		{
			name: "single key",
			table: TrackedTable{Schema: "public", Name: "accounts",
				KeyColumns: []KeyColumn{{Name: "id", Ordinal: 1}}},
		},
		{
			name: "composite key",
			table: TrackedTable{Schema: "public", Name: "memberships",
				KeyColumns: []KeyColumn{{Name: "account_id", Ordinal: 1}, {Name: "user_email", Ordinal: 2}}},
		},
		{
			name:    "no key columns",
			table:   TrackedTable{Schema: "public", Name: "accounts"},
			wantErr: true,
		},
		{
			name: "sparse ordinals",
			table: TrackedTable{Schema: "public", Name: "accounts",
				KeyColumns: []KeyColumn{{Name: "id", Ordinal: 1}, {Name: "region", Ordinal: 3}}},
			wantErr: true,
		},
		{
			name: "unqualified",
			table: TrackedTable{Name: "accounts",
				KeyColumns: []KeyColumn{{Name: "id", Ordinal: 1}}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(ErrVersionExpired))
	require.True(t, IsTerminal(ErrWatermarkRegressed))
	require.True(t, IsTerminal(ErrCatalogUnavailable))
	require.True(t, IsTerminal(ErrKeyShapeChanged))
	require.False(t, IsTerminal(nil))
	require.False(t, IsTerminal(errTransient))
}

var errTransient = &transientErr{}

type transientErr struct{}

func (e *transientErr) Error() string { return "connection reset" }
