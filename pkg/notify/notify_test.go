package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/keystage/keystage/pkg/runner"
	"github.com/keystage/keystage/pkg/tracking"
)

func TestRunToEvents(t *testing.T) {
	res := runner.RunResult{
		RunID:     uuid.New(),
		Cutover:   150,
		StartedAt: time.Unix(1725000000, 0).UTC(),
		Completed: []runner.TableResult{
			{Table: tracking.TrackedTable{Schema: "public", Name: "orders"}, Watermark: 150, StagedKeys: 3},
		},
	}

	t.Run("completed", func(t *testing.T) {
		evts := RunToEvents(res)
		require.Len(t, evts, 1)
		evt := evts[0].(map[string]any)
		require.Equal(t, "keystage/run.completed", evt["name"])
		data := evt["data"].(map[string]any)
		require.Equal(t, int64(150), data["cutover"])
		require.Equal(t, 1, data["completed"])
	})

	t.Run("partially failed", func(t *testing.T) {
		failed := res
		failed.Failed = []runner.TableFailure{
			{
				Table: tracking.TrackedTable{Schema: "public", Name: "legacy"},
				Err:   fmt.Errorf("window rolled off: %w", tracking.ErrVersionExpired),
			},
		}
		evts := RunToEvents(failed)
		require.Len(t, evts, 2)
		require.Equal(t, "keystage/run.partially-failed", evts[0].(map[string]any)["name"])

		tableEvt := evts[1].(map[string]any)
		require.Equal(t, "keystage/table.failed", tableEvt["name"])
		data := tableEvt["data"].(map[string]any)
		require.Equal(t, "public.legacy", data["table"])
		require.Contains(t, data["error"], "ERR_KS_002")
	})
}

func TestCallbackNotifier(t *testing.T) {
	var got []any
	n := NewCallbackNotifier(func(evts []any) error {
		got = evts
		return nil
	})
	err := n.Send(context.Background(), runner.RunResult{RunID: uuid.New()})
	require.NoError(t, err)
	require.Len(t, got, 1)
}
