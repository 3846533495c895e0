// Package recon applies asynchronous delivery-status events to previously
// recorded messages. It owns the monotonicity rule: a status never moves
// backward in rank, and failed is absorbing.
package recon

import (
	"context"
	"time"

	"wamsg/internal/domain"
	"wamsg/internal/observability"
	"wamsg/internal/store"
	"wamsg/internal/util"
)

type Store interface {
	FindMessageByExternalID(ctx context.Context, channel, externalID string) (store.Message, bool, error)
	ApplyMessageStatus(ctx context.Context, in store.StatusApply) error
	UpdateConversationMessageStatusByExternalID(ctx context.Context, tenantID, externalID, status, errorMessage string, now time.Time) error
	RecomputeCampaignCounters(ctx context.Context, tenantID, channel, campaignID string, now time.Time) error
}

type Engine struct {
	Store Store
	Now   func() time.Time
}

func New(st Store) *Engine {
	return &Engine{Store: st, Now: util.NowUTC}
}

// Outcome reports what Apply did. Applied=false with a nil error is the
// idempotent discard of a lower-rank event.
type Outcome struct {
	Applied bool
	Status  domain.MessageStatus
}

// Apply reconciles one status event. Safe to repeat with identical input:
// the discard path writes nothing and the apply path rewrites the same
// values. A store failure after the message write is also safe to retry,
// because the counter rollup is a full recount.
func (e *Engine) Apply(ctx context.Context, ev domain.StatusEvent) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return Outcome{}, err
	}
	channel := ev.Channel
	if channel == "" {
		channel = domain.ChannelOfficialAPI
	}

	msg, found, err := e.Store.FindMessageByExternalID(ctx, string(channel), ev.ExternalMessageID)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		// Providers race their own webhooks against our send persistence and
		// also redeliver; the caller decides whether to buffer and retry.
		observability.StatusEvents.WithLabelValues("unknown_message").Inc()
		return Outcome{}, domain.ErrMessageNotFound
	}

	current := domain.MessageStatus(msg.Status)
	if !domain.ShouldApply(current, ev.Status) {
		observability.StatusEvents.WithLabelValues("discarded").Inc()
		return Outcome{Applied: false, Status: current}, nil
	}

	ts := e.Now()
	if ev.Timestamp != nil {
		ts = ev.Timestamp.UTC()
	}
	errMsg := ""
	if ev.Status == domain.StatusFailed {
		errMsg = ev.ErrorMessage
	}

	if err := e.Store.ApplyMessageStatus(ctx, store.StatusApply{
		MessageID:    msg.ID,
		TenantID:     msg.TenantID,
		Status:       string(ev.Status),
		ErrorMessage: errMsg,
		Timestamp:    ts,
	}); err != nil {
		return Outcome{}, err
	}

	if msg.ConversationID != "" {
		if err := e.Store.UpdateConversationMessageStatusByExternalID(ctx, msg.TenantID, ev.ExternalMessageID, string(ev.Status), errMsg, ts); err != nil {
			return Outcome{}, err
		}
	}

	if msg.CampaignID != "" {
		if err := e.Store.RecomputeCampaignCounters(ctx, msg.TenantID, msg.Channel, msg.CampaignID, ts); err != nil {
			return Outcome{}, err
		}
	}

	observability.StatusEvents.WithLabelValues("applied").Inc()
	return Outcome{Applied: true, Status: ev.Status}, nil
}
