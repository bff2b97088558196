package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"clusterplane/internal/store"

	"github.com/google/uuid"
)

// Channel delivers one message to one recipient.
type Channel interface {
	Name() string
	Send(ctx context.Context, recipient, text string) error
}

// Notification is a request to deliver text to a recipient over a
// named channel.
type Notification struct {
	InstanceID uuid.UUID
	Channel    string
	Recipient  string
	Text       string
}

// EventStore is the audit slice the dispatcher writes to.
type EventStore interface {
	AppendEvent(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID, eventType string, payload interface{}) error
}

// Config holds dispatcher tuning.
type Config struct {
	MaxRetries int           // send attempts per chunk
	Backoff    time.Duration // delay before the first retry, doubles after
}

// Dispatcher fans notifications out to registered channels.
type Dispatcher struct {
	channels map[string]Channel
	events   EventStore
	config   Config
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(events EventStore, config Config, logger *slog.Logger) *Dispatcher {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.Backoff <= 0 {
		config.Backoff = 2 * time.Second
	}
	return &Dispatcher{
		channels: make(map[string]Channel),
		events:   events,
		config:   config,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// RegisterChannel adds a delivery channel. Startup wiring only.
func (d *Dispatcher) RegisterChannel(c Channel) {
	d.channels[c.Name()] = c
}

// Dispatch chunks the text and sends each chunk in order, retrying
// failed sends with doubling backoff. The outcome lands in the event
// trail either way.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	channel, ok := d.channels[n.Channel]
	if !ok {
		return fmt.Errorf("notify: unknown channel %q", n.Channel)
	}

	chunks := ChunkText(n.Text)
	for i, chunk := range chunks {
		if err := d.sendWithRetry(ctx, channel, n.Recipient, chunk); err != nil {
			d.appendEvent(ctx, n.InstanceID, "notification.failed", map[string]string{
				"channel": n.Channel,
				"chunk":   fmt.Sprintf("%d/%d", i+1, len(chunks)),
				"error":   err.Error(),
			})
			return fmt.Errorf("notify: delivery failed on chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}

	d.appendEvent(ctx, n.InstanceID, "notification.delivered", map[string]interface{}{
		"channel": n.Channel,
		"chunks":  len(chunks),
	})
	return nil
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, channel Channel, recipient, text string) error {
	backoff := d.config.Backoff
	var lastErr error

	for attempt := 1; attempt <= d.config.MaxRetries; attempt++ {
		lastErr = channel.Send(ctx, recipient, text)
		if lastErr == nil {
			return nil
		}
		d.logger.WarnContext(ctx, "send failed",
			"channel", channel.Name(), "attempt", attempt, "error", lastErr)

		if attempt < d.config.MaxRetries {
			if err := d.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
	}
	return lastErr
}

func (d *Dispatcher) appendEvent(ctx context.Context, instanceID uuid.UUID, eventType string, payload interface{}) {
	if err := d.events.AppendEvent(ctx, nil, instanceID, eventType, payload); err != nil {
		d.logger.WarnContext(ctx, "failed to record notification event", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
