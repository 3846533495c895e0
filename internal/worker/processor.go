package worker

import (
	"context"
	"errors"
	"log/slog"

	"wamsg/internal/domain"
	"wamsg/internal/observability"
	sqsqueue "wamsg/internal/queue/sqs"
	"wamsg/internal/recon"
	"wamsg/internal/store"
)

type Store interface {
	InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error
}

type Reconciler interface {
	Apply(ctx context.Context, ev domain.StatusEvent) (recon.Outcome, error)
}

// Processor drains the status-events queue. An event for a message we have
// not persisted yet is returned as an error so SQS redrives it; by the next
// visibility window the send path has usually committed the row.
type Processor struct {
	Store  Store
	Engine Reconciler
}

func (p *Processor) Process(ctx context.Context, ev sqsqueue.StatusEvent) error {
	_ = p.Store.InsertDeliveryEvent(ctx, store.DeliveryEvent{
		Channel:           ev.Channel,
		ExternalMessageID: ev.ExternalMessageID,
		VendorStatus:      ev.Status,
		ErrorMessage:      ev.ErrorMessage,
		Payload:           ev,
		OccurredAt:        ev.OccurredAt,
	})

	out, err := p.Engine.Apply(ctx, domain.StatusEvent{
		Channel:           domain.Channel(ev.Channel),
		ExternalMessageID: ev.ExternalMessageID,
		Status:            domain.MessageStatus(ev.Status),
		ErrorMessage:      ev.ErrorMessage,
		Timestamp:         ev.OccurredAt,
	})
	if err != nil {
		if errors.Is(err, domain.ErrMissingFields) || errors.Is(err, domain.ErrInvalidStatus) {
			// Malformed envelope: never going to succeed, drop it.
			slog.Warn("dropping malformed status event",
				"err", err, "channel", ev.Channel, "status", ev.Status, "external_message_id", ev.ExternalMessageID)
			return nil
		}
		// ErrMessageNotFound and store errors go back to the queue.
		return err
	}

	if !out.Applied {
		slog.Debug("status event discarded",
			"channel", ev.Channel, "incoming", ev.Status, "current", string(out.Status),
			"external_message_id", ev.ExternalMessageID)
	}
	observability.WebhookEvents.WithLabelValues("queued_status", "processed").Inc()
	return nil
}
