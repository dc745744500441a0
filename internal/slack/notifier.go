package slack

import (
	"context"

	"github.com/prite36/growth-chamber-control/internal/lifecycle"
)

// Notifier posts lifecycle events to the operator channel.
type Notifier struct {
	client *Client
}

var _ lifecycle.Observer = (*Notifier)(nil)

func NewNotifier(c *Client) *Notifier {
	return &Notifier{client: c}
}

func (n *Notifier) ScheduleTransitioned(ctx context.Context, t lifecycle.Transition) {
	n.client.SendRichMessage(NewTransitionMessage(t)...)
}

// SweepFinished reports the partial failures of a sweep, if any.
func (n *Notifier) SweepFinished(report lifecycle.Report) {
	if len(report.Failures) == 0 {
		return
	}
	n.client.SendRichMessage(NewSweepFailureMessage(report.Failures)...)
}
