// Package tracking holds the core vocabulary of the staging pipeline: tracked
// tables, change versions, key fingerprints and staged change rows.
package tracking

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Version is a change-tracking version as reported by the engine.  Versions are
// monotonic non-negative integers; version 0 means "never processed".
type Version int64

// KeyColumn is a single primary-key column of a tracked table.  Ordinal is
// 1-based and defines the concatenation order for composite keys.
type KeyColumn struct {
	Name    string `json:"name"`
	Ordinal int    `json:"ordinal"`
}

// TrackedTable identifies one table enrolled in change tracking, together with
// its ordered primary-key columns.
type TrackedTable struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`

	// KeyColumns holds the table's primary-key columns.  Invariant: at least
	// one column, ordinals dense 1..N.
	KeyColumns []KeyColumn `json:"key_columns"`
}

// QualifiedName returns the schema-qualified table name.
func (t TrackedTable) QualifiedName() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Name)
}

// KeySignature returns the comma-joined key column names in ordinal order.
// The signature is persisted alongside each watermark and written to every
// staged row:  if a table's key shape changes between runs the stored and
// discovered signatures diverge, and the table fails rather than mixing
// fingerprint formats.
func (t TrackedTable) KeySignature() string {
	cols := t.OrderedKeyColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return strings.Join(names, ",")
}

// OrderedKeyColumns returns the key columns sorted by ordinal.
func (t TrackedTable) OrderedKeyColumns() []KeyColumn {
	cols := make([]KeyColumn, len(t.KeyColumns))
	copy(cols, t.KeyColumns)
	sort.Slice(cols, func(i, j int) bool {
		return cols[i].Ordinal < cols[j].Ordinal
	})
	return cols
}

// Validate checks the TrackedTable invariants.
func (t TrackedTable) Validate() error {
	if t.Schema == "" || t.Name == "" {
		return fmt.Errorf("tracked table must be schema-qualified, got %q", t.QualifiedName())
	}
	if len(t.KeyColumns) == 0 {
		return fmt.Errorf("table %s has no key columns", t.QualifiedName())
	}
	seen := make(map[int]bool, len(t.KeyColumns))
	for _, c := range t.KeyColumns {
		seen[c.Ordinal] = true
	}
	for i := 1; i <= len(t.KeyColumns); i++ {
		if !seen[i] {
			return fmt.Errorf("table %s key ordinals are not dense 1..%d", t.QualifiedName(), len(t.KeyColumns))
		}
	}
	return nil
}

// StagedChange is one staged row: a changed key for one table, identified by
// its fingerprint rather than the raw key value.
type StagedChange struct {
	Schema        string      `json:"schema"`
	Table         string      `json:"table"`
	KeyColumnName string      `json:"key_column_name"`
	Fingerprint   Fingerprint `json:"fingerprint"`
	CreatedAt     time.Time   `json:"created_at,omitempty"`
}
