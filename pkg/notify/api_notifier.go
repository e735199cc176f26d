package notify

import (
	"context"
	"time"

	"github.com/inngest/inngestgo"

	"github.com/keystage/keystage/pkg/runner"
)

// NewAPIClientNotifier returns a Notifier which sends run events using an
// Inngest client.
func NewAPIClientNotifier(client inngestgo.Client) Notifier {
	return apiNotifier{client: client}
}

type apiNotifier struct {
	client inngestgo.Client
}

func (n apiNotifier) Send(ctx context.Context, res runner.RunResult) error {
	// Always use a detached timeout so that a cancelled run can still report
	// its outcome.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	_, err := n.client.SendMany(ctx, RunToEvents(res))
	return err
}
