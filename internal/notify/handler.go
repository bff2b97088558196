package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"clusterplane/internal/scheduler"
	"clusterplane/internal/store"
)

// JobType is the scheduler job type handled by the dispatcher.
const JobType = "notify"

// JobPayload is the payload of a notify job.
type JobPayload struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// JobHandler adapts the dispatcher to the scheduler. A malformed
// payload fails permanently; a delivery failure is transient and rides
// the scheduler's retry policy on top of the dispatcher's own retries.
func JobHandler(d *Dispatcher) scheduler.HandlerFunc {
	return func(ctx context.Context, job *store.Job) error {
		var p JobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return scheduler.Permanent(fmt.Errorf("bad notify payload: %w", err))
		}
		if p.Recipient == "" || p.Text == "" {
			return scheduler.Permanent(fmt.Errorf("notify payload missing recipient or text"))
		}

		err := d.Dispatch(ctx, Notification{
			InstanceID: job.InstanceID,
			Channel:    p.Channel,
			Recipient:  p.Recipient,
			Text:       p.Text,
		})
		if err != nil {
			return scheduler.Transient(err)
		}
		return nil
	}
}
