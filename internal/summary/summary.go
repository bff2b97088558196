// Package summary implements the daily portfolio digest: ask the model
// gateway for a summary and deliver it through the notification
// dispatcher.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"clusterplane/internal/gateway"
	"clusterplane/internal/notify"
	"clusterplane/internal/scheduler"
	"clusterplane/internal/store"

	"github.com/google/uuid"
)

// JobType is the scheduler job type for daily summaries.
const JobType = "daily-summary"

const defaultPrompt = "Summarize today's notable market movements in a few short paragraphs."

// Payload is the payload of a daily-summary job.
type Payload struct {
	Recipient string `json:"recipient"`
	Prompt    string `json:"prompt,omitempty"`
}

// InstanceGetter loads the instance the job belongs to.
type InstanceGetter interface {
	GetInstanceByID(ctx context.Context, id uuid.UUID) (*store.ClusterInstance, error)
}

// Completer is the slice of the gateway the handler calls.
type Completer interface {
	Complete(ctx context.Context, inst *store.ClusterInstance, userID uuid.UUID, req *gateway.Request) (*gateway.Response, error)
}

// Notifier is the slice of the dispatcher the handler calls.
type Notifier interface {
	Dispatch(ctx context.Context, n notify.Notification) error
}

// Handler builds the scheduler handler. Quota and provider outages are
// transient; a missing credential is permanent since retrying cannot
// fix it.
func Handler(instances InstanceGetter, gw Completer, notifier Notifier) scheduler.HandlerFunc {
	return func(ctx context.Context, job *store.Job) error {
		var p Payload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return scheduler.Permanent(fmt.Errorf("bad summary payload: %w", err))
		}
		if p.Recipient == "" {
			return scheduler.Permanent(errors.New("summary payload missing recipient"))
		}
		if p.Prompt == "" {
			p.Prompt = defaultPrompt
		}

		inst, err := instances.GetInstanceByID(ctx, job.InstanceID)
		if err != nil {
			return scheduler.Transient(err)
		}

		resp, err := gw.Complete(ctx, inst, inst.OwnerUserID, &gateway.Request{
			Messages: []gateway.Message{{Role: "user", Content: p.Prompt}},
		})
		if err != nil {
			if errors.Is(err, gateway.ErrNoCredential) {
				return scheduler.Permanent(err)
			}
			return scheduler.Transient(err)
		}

		if err := notifier.Dispatch(ctx, notify.Notification{
			InstanceID: job.InstanceID,
			Channel:    "telegram",
			Recipient:  p.Recipient,
			Text:       Render(resp),
		}); err != nil {
			return scheduler.Transient(err)
		}
		return nil
	}
}

// Render formats a gateway answer as an HTML message with the sources
// appended as links.
func Render(resp *gateway.Response) string {
	var sb strings.Builder
	sb.WriteString(notify.Bold("Daily summary"))
	sb.WriteString("\n\n")
	sb.WriteString(notify.EscapeHTML(resp.Content))

	if len(resp.Citations) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(notify.Italic("Sources"))
		for i, url := range resp.Citations {
			sb.WriteString("\n")
			sb.WriteString(notify.Link(fmt.Sprintf("[%d]", i+1), url))
		}
	}
	return sb.String()
}
