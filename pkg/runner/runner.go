// Package runner drives one end-to-end staging pass: snapshot the cutover
// version, seed missing watermarks, reset the staging table, then fan out per
// tracked table on a bounded worker pool.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/keystage/keystage/pkg/provider"
	"github.com/keystage/keystage/pkg/staging"
	"github.com/keystage/keystage/pkg/tracking"
	"github.com/keystage/keystage/pkg/watermark"
)

var (
	DefaultWorkers      = 4
	DefaultTableTimeout = 5 * time.Minute
	DefaultMaxRetries   = uint64(3)
)

type Opts struct {
	Provider   provider.Provider
	Watermarks watermark.Store
	Sink       staging.Sink

	Logger *slog.Logger

	// Workers bounds the number of tables processed concurrently.
	Workers int

	// TableTimeout bounds one table's enumerate-stage-advance task.  A
	// timeout is treated like any other per-table failure: the watermark is
	// left untouched and the window is retried in full on the next run.
	TableTimeout time.Duration

	// MaxRetries bounds the immediate retries of a transient enumerator or
	// sink error within a table task.
	MaxRetries uint64
}

// New returns a run orchestrator.
func New(opts Opts) (*Runner, error) {
	if opts.Provider == nil || opts.Watermarks == nil || opts.Sink == nil {
		return nil, fmt.Errorf("runner: provider, watermark store and staging sink are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.TableTimeout <= 0 {
		opts.TableTimeout = DefaultTableTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Runner{opts: opts, log: opts.Logger}, nil
}

type Runner struct {
	opts Opts
	log  *slog.Logger
}

// TableResult is one table's successful outcome.
type TableResult struct {
	Table tracking.TrackedTable `json:"table"`

	// Watermark is the table's post-run watermark.  Equal to the run cutover
	// unless the table was skipped.
	Watermark tracking.Version `json:"watermark"`

	// StagedKeys is the number of distinct fingerprints staged.
	StagedKeys int `json:"staged_keys"`

	// Skipped is true when the watermark was already at or beyond the
	// cutover and the table was trivially successful.
	Skipped bool `json:"skipped,omitempty"`
}

// TableFailure is one table's contained failure.
type TableFailure struct {
	Table tracking.TrackedTable `json:"table"`
	Err   error                 `json:"error"`
}

// MarshalJSON renders the error as its message; error values otherwise
// serialize as empty objects.
func (f TableFailure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Table tracking.TrackedTable `json:"table"`
		Err   string                `json:"error"`
	}{Table: f.Table, Err: f.Err.Error()})
}

// RunResult aggregates one pass.  Watermark advances committed for completed
// tables stand regardless of other tables' failures.
type RunResult struct {
	RunID     uuid.UUID        `json:"run_id"`
	Cutover   tracking.Version `json:"cutover"`
	StartedAt time.Time        `json:"started_at"`

	Completed []TableResult  `json:"completed"`
	Failed    []TableFailure `json:"failed"`
}

// PartiallyFailed reports whether any table failed.
func (r RunResult) PartiallyFailed() bool { return len(r.Failed) > 0 }

// Run executes one staging pass.  The returned error is non-nil only for
// run-fatal conditions (cutover capture, catalog discovery, watermark seeding
// or staging reset); per-table failures are reported in RunResult.Failed.
func (r *Runner) Run(ctx context.Context) (RunResult, error) {
	res := RunResult{RunID: uuid.New(), StartedAt: time.Now().UTC()}

	// The cutover is captured once and threaded through the whole run; every
	// table shares the same upper bound.
	cutover, err := r.opts.Provider.CurrentVersion(ctx)
	if err != nil {
		return res, fmt.Errorf("error establishing cutover version: %w", err)
	}
	res.Cutover = cutover

	tables, err := r.opts.Provider.DiscoverTrackedTables(ctx)
	if err != nil {
		return res, err
	}

	// Missing watermarks seed at each table's minimum valid version at
	// discovery time, not at the run cutover: a freshly tracked table must
	// process its whole retained window.
	if err := r.opts.Watermarks.SeedMissing(ctx, tables, r.opts.Provider.MinValidVersion); err != nil {
		return res, fmt.Errorf("error seeding watermarks: %w", err)
	}

	// One coherent staging set per run: reset before any table writes.
	if err := r.opts.Sink.Reset(ctx); err != nil {
		return res, fmt.Errorf("error resetting staging table: %w", err)
	}

	r.log.Info("run started",
		"run_id", res.RunID, "cutover", int64(cutover), "tables", len(tables))

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(r.opts.Workers)
	for _, t := range tables {
		t := t
		eg.Go(func() error {
			tr, err := r.processTable(ctx, cutover, t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.log.Warn("table failed",
					"run_id", res.RunID, "table", t.QualifiedName(), "error", err)
				res.Failed = append(res.Failed, TableFailure{Table: t, Err: err})
				return nil
			}
			res.Completed = append(res.Completed, tr)
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(res.Completed, func(i, j int) bool {
		return res.Completed[i].Table.QualifiedName() < res.Completed[j].Table.QualifiedName()
	})
	sort.Slice(res.Failed, func(i, j int) bool {
		return res.Failed[i].Table.QualifiedName() < res.Failed[j].Table.QualifiedName()
	})

	r.log.Info("run finished",
		"run_id", res.RunID,
		"cutover", int64(cutover),
		"completed", len(res.Completed),
		"failed", len(res.Failed),
	)
	return res, nil
}

// processTable runs one table's task: read watermark, enumerate the window,
// stage the distinct fingerprint set, then advance the watermark.  The
// advance strictly follows the acknowledged sink write; reordering those two
// would lose a change window.
func (r *Runner) processTable(ctx context.Context, cutover tracking.Version, table tracking.TrackedTable) (TableResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.TableTimeout)
	defer cancel()

	wm, sig, err := r.opts.Watermarks.Read(ctx, table)
	if err != nil {
		return TableResult{}, err
	}
	if sig != "" && sig != table.KeySignature() {
		return TableResult{}, fmt.Errorf("%w: %s was seeded with key (%s), discovered (%s)",
			tracking.ErrKeyShapeChanged, table.QualifiedName(), sig, table.KeySignature())
	}

	// Nothing new, including the stale case of a watermark ahead of the
	// cutover: skip without advancing, so no regression is ever attempted.
	if wm >= cutover {
		return TableResult{Table: table, Watermark: wm, Skipped: true}, nil
	}

	var rows []tracking.StagedChange
	err = r.retry(ctx, func() error {
		var err error
		rows, err = r.collectChanges(ctx, table, wm, cutover)
		return err
	})
	if err != nil {
		return TableResult{}, err
	}

	rows = staging.Deduplicate(rows)
	if err := r.retry(ctx, func() error { return r.opts.Sink.Write(ctx, rows) }); err != nil {
		return TableResult{}, err
	}

	if err := r.opts.Watermarks.Advance(ctx, table, cutover); err != nil {
		return TableResult{}, err
	}
	return TableResult{Table: table, Watermark: cutover, StagedKeys: len(rows)}, nil
}

func (r *Runner) collectChanges(ctx context.Context, table tracking.TrackedTable, since, upto tracking.Version) ([]tracking.StagedChange, error) {
	keys, err := r.opts.Provider.Changes(ctx, table, since, upto)
	if err != nil {
		return nil, err
	}
	defer keys.Close()

	signature := table.KeySignature()
	var rows []tracking.StagedChange
	for keys.Next() {
		rows = append(rows, tracking.StagedChange{
			Schema:        table.Schema,
			Table:         table.Name,
			KeyColumnName: signature,
			Fingerprint:   tracking.FingerprintKey(keys.Values()),
		})
	}
	if err := keys.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// retry runs op with bounded exponential backoff.  Terminal tracking errors
// and context cancellation are never retried.
func (r *Runner) retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.opts.MaxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if tracking.IsTerminal(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}
