package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"wamsg/internal/domain"
	"wamsg/internal/observability"
	"wamsg/internal/providers/meta"
	sqsqueue "wamsg/internal/queue/sqs"
	"wamsg/internal/recon"
	"wamsg/internal/store"
	"wamsg/internal/util"
)

type WebhookStore interface {
	InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error
	HasRecentButtonClick(ctx context.Context, tenantID, campaignID, phone, buttonText string, since time.Time) (bool, error)
	InsertButtonClick(ctx context.Context, in store.ButtonClickInsert) error
}

type StatusApplier interface {
	Apply(ctx context.Context, ev domain.StatusEvent) (recon.Outcome, error)
}

type StatusEnqueuer interface {
	Enqueue(ctx context.Context, ev sqsqueue.StatusEvent) error
}

type InboundRecorder interface {
	RecordInbound(ctx context.Context, req domain.InboundMessageRequest) (store.Conversation, bool, error)
}

// clickDedupWindow suppresses repeated click callbacks from providers that
// fire once per device sync.
const clickDedupWindow = time.Minute

// Webhook serves provider callbacks. With Queue set, status events are acked
// immediately and buffered through SQS; otherwise they are applied inline and
// an unknown message surfaces as 404 so the provider redelivers.
type Webhook struct {
	Store  WebhookStore
	Engine StatusApplier
	Queue  StatusEnqueuer
	Convo  InboundRecorder

	// AppSecret enables X-Hub-Signature-256 verification on the
	// message-status route; empty disables it (the QR gateway is unsigned).
	AppSecret string

	Now func() time.Time
}

func (h *Webhook) Register(r *mux.Router) {
	r.HandleFunc("/v1/webhooks/message-status", h.handleMessageStatus).Methods(http.MethodPost)
	r.HandleFunc("/v1/webhooks/button-click", h.handleButtonClick).Methods(http.MethodPost)
	r.HandleFunc("/v1/webhooks/inbound-message", h.handleInboundMessage).Methods(http.MethodPost)
}

func (h *Webhook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return util.NowUTC()
}

func ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true}`))
}

func (h *Webhook) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if h.AppSecret != "" {
		if !meta.VerifySignature(h.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			http.Error(w, ErrInvalidSignature, http.StatusUnauthorized)
			return
		}
	}

	var ev domain.StatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := ev.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	observability.WebhookEvents.WithLabelValues("message_status", string(ev.Status)).Inc()

	if h.Queue != nil {
		// Buffered path: ack now, reconcile later. Events that beat the send
		// persistence are retried by SQS until the message row exists.
		qev := sqsqueue.StatusEvent{
			Channel:           string(ev.Channel),
			ExternalMessageID: ev.ExternalMessageID,
			Status:            string(ev.Status),
			ErrorMessage:      ev.ErrorMessage,
			OccurredAt:        ev.Timestamp,
			ReceivedAt:        h.now(),
		}
		if err := h.Queue.Enqueue(r.Context(), qev); err != nil {
			observability.Enqueues.WithLabelValues("error").Inc()
			slog.Error("enqueue status event failed", "err", err, "external_message_id", ev.ExternalMessageID)
			http.Error(w, ErrDependency, http.StatusInternalServerError)
			return
		}
		observability.Enqueues.WithLabelValues("ok").Inc()
		ack(w)
		return
	}

	if err := h.Store.InsertDeliveryEvent(r.Context(), store.DeliveryEvent{
		Channel:           string(ev.Channel),
		ExternalMessageID: ev.ExternalMessageID,
		VendorStatus:      string(ev.Status),
		ErrorMessage:      ev.ErrorMessage,
		Payload:           json.RawMessage(body),
		OccurredAt:        ev.Timestamp,
	}); err != nil {
		slog.Error("insert delivery event failed", "err", err, "external_message_id", ev.ExternalMessageID)
	}

	if _, err := h.Engine.Apply(r.Context(), ev); err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("apply status event failed", "err", err,
			"external_message_id", ev.ExternalMessageID, "status", string(ev.Status))
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}
	ack(w)
}

func (h *Webhook) handleButtonClick(w http.ResponseWriter, r *http.Request) {
	var req domain.ButtonClickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := h.now()
	phone := util.NormalizePhone(req.PhoneNumber)

	dup, err := h.Store.HasRecentButtonClick(r.Context(), req.TenantID, req.CampaignID, phone, req.ButtonText, now.Add(-clickDedupWindow))
	if err != nil {
		slog.Error("button click dedup check failed", "err", err, "campaign_id", req.CampaignID)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}
	if dup {
		// Redelivered click inside the window: acked so the provider stops.
		observability.ButtonClicks.WithLabelValues("duplicate").Inc()
		ack(w)
		return
	}

	if err := h.Store.InsertButtonClick(r.Context(), store.ButtonClickInsert{
		TenantID:          req.TenantID,
		CampaignID:        req.CampaignID,
		PhoneNumber:       phone,
		ButtonText:        req.ButtonText,
		ButtonPayload:     req.ButtonPayload,
		WhatsappMessageID: req.WhatsappMessageID,
		Now:               now,
	}); err != nil {
		slog.Error("insert button click failed", "err", err, "campaign_id", req.CampaignID)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}
	observability.ButtonClicks.WithLabelValues("recorded").Inc()
	ack(w)
}

func (h *Webhook) handleInboundMessage(w http.ResponseWriter, r *http.Request) {
	var req domain.InboundMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conv, inserted, err := h.Convo.RecordInbound(r.Context(), req)
	if err != nil {
		slog.Error("record inbound message failed", "err", err,
			"tenant_id", req.TenantID, "whatsapp_message_id", req.WhatsappMessageID)
		http.Error(w, ErrDependency, http.StatusInternalServerError)
		return
	}
	if inserted {
		observability.InboundMessages.WithLabelValues("recorded").Inc()
	} else {
		observability.InboundMessages.WithLabelValues("duplicate").Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":         true,
		"conversation_id": conv.ID,
	})
}
