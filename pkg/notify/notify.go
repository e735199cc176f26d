// Package notify publishes run summaries as events, letting the host decide
// whether to alert or retry failed tables.
package notify

import (
	"context"
	"fmt"

	"github.com/keystage/keystage/pkg/runner"
)

const eventPrefix = "keystage"

// Notifier publishes the outcome of one run.
type Notifier interface {
	Send(ctx context.Context, res runner.RunResult) error
}

// RunToEvents returns the events describing a run: one summary event, plus
// one event per failed table.
func RunToEvents(res runner.RunResult) []any {
	name := fmt.Sprintf("%s/run.completed", eventPrefix)
	if res.PartiallyFailed() {
		name = fmt.Sprintf("%s/run.partially-failed", eventPrefix)
	}

	evts := []any{
		map[string]any{
			"name": name,
			"data": map[string]any{
				"run_id":    res.RunID.String(),
				"cutover":   int64(res.Cutover),
				"completed": len(res.Completed),
				"failed":    len(res.Failed),
			},
			"ts": res.StartedAt.UnixMilli(),
		},
	}

	for _, f := range res.Failed {
		evts = append(evts, map[string]any{
			"name": fmt.Sprintf("%s/table.failed", eventPrefix),
			"data": map[string]any{
				"run_id": res.RunID.String(),
				"table":  f.Table.QualifiedName(),
				"error":  f.Err.Error(),
			},
			"ts": res.StartedAt.UnixMilli(),
		})
	}
	return evts
}

// NewCallbackNotifier returns a Notifier which hands the run's events to a
// callback.
//
// This is primarily used for testing.
func NewCallbackNotifier(onEvents func(evts []any) error) Notifier {
	return callbackNotifier{onEvents: onEvents}
}

type callbackNotifier struct {
	onEvents func(evts []any) error
}

func (n callbackNotifier) Send(_ context.Context, res runner.RunResult) error {
	return n.onEvents(RunToEvents(res))
}
