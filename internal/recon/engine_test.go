package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"wamsg/internal/domain"
	"wamsg/internal/store"
)

type fakeStore struct {
	messages map[string]*store.Message // keyed channel+"|"+externalID

	statusWrites    int
	chatWrites      int
	recomputes      []string
	applyErr        error
	recomputeErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: map[string]*store.Message{}}
}

func (f *fakeStore) add(m store.Message) {
	f.messages[m.Channel+"|"+m.ExternalMessageID] = &m
}

func (f *fakeStore) FindMessageByExternalID(ctx context.Context, channel, externalID string) (store.Message, bool, error) {
	m, ok := f.messages[channel+"|"+externalID]
	if !ok {
		return store.Message{}, false, nil
	}
	return *m, true, nil
}

func (f *fakeStore) ApplyMessageStatus(ctx context.Context, in store.StatusApply) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.statusWrites++
	for _, m := range f.messages {
		if m.ID == in.MessageID && m.TenantID == in.TenantID {
			m.Status = in.Status
			m.ErrorMessage = in.ErrorMessage
			ts := in.Timestamp
			switch in.Status {
			case "sent":
				m.SentAt = &ts
			case "delivered":
				m.DeliveredAt = &ts
			case "read":
				m.ReadAt = &ts
			case "failed":
				m.FailedAt = &ts
			}
		}
	}
	return nil
}

func (f *fakeStore) UpdateConversationMessageStatusByExternalID(ctx context.Context, tenantID, externalID, status, errorMessage string, now time.Time) error {
	f.chatWrites++
	return nil
}

func (f *fakeStore) RecomputeCampaignCounters(ctx context.Context, tenantID, channel, campaignID string, now time.Time) error {
	if f.recomputeErr != nil {
		return f.recomputeErr
	}
	f.recomputes = append(f.recomputes, campaignID)
	return nil
}

func testEngine(f *fakeStore) *Engine {
	return &Engine{Store: f, Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }}
}

func seedMessage(f *fakeStore, status string) store.Message {
	m := store.Message{
		ID:                "msg-1",
		TenantID:          "t1",
		PhoneNumber:       "+5511999990000",
		Direction:         "outbound",
		Channel:           "official_api",
		Status:            status,
		ExternalMessageID: "wamid.1",
	}
	f.add(m)
	return m
}

func TestApplyAdvancesStatus(t *testing.T) {
	f := newFakeStore()
	seedMessage(f, "sent")
	e := testEngine(f)

	out, err := e.Apply(context.Background(), domain.StatusEvent{
		ExternalMessageID: "wamid.1",
		Status:            domain.StatusDelivered,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !out.Applied || out.Status != domain.StatusDelivered {
		t.Fatalf("expected applied delivered, got %+v", out)
	}
	m := f.messages["official_api|wamid.1"]
	if m.Status != "delivered" || m.DeliveredAt == nil {
		t.Fatalf("store not updated: %+v", m)
	}
}

func TestApplyDiscardsOutOfOrder(t *testing.T) {
	f := newFakeStore()
	seedMessage(f, "pending")
	e := testEngine(f)
	ctx := context.Background()

	// read arrives before delivered
	if _, err := e.Apply(ctx, domain.StatusEvent{ExternalMessageID: "wamid.1", Status: domain.StatusRead}); err != nil {
		t.Fatalf("apply read: %v", err)
	}
	out, err := e.Apply(ctx, domain.StatusEvent{ExternalMessageID: "wamid.1", Status: domain.StatusDelivered})
	if err != nil {
		t.Fatalf("apply delivered: %v", err)
	}
	if out.Applied {
		t.Fatalf("late delivered should be discarded")
	}
	if got := f.messages["official_api|wamid.1"].Status; got != "read" {
		t.Fatalf("expected read, got %s", got)
	}
	if f.statusWrites != 1 {
		t.Fatalf("discard must not write, writes=%d", f.statusWrites)
	}
}

func TestApplyIdempotentReplay(t *testing.T) {
	f := newFakeStore()
	seedMessage(f, "sent")
	e := testEngine(f)
	ctx := context.Background()
	ev := domain.StatusEvent{ExternalMessageID: "wamid.1", Status: domain.StatusDelivered}

	if _, err := e.Apply(ctx, ev); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first := *f.messages["official_api|wamid.1"]
	if _, err := e.Apply(ctx, ev); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	second := *f.messages["official_api|wamid.1"]
	if first.Status != second.Status || !first.DeliveredAt.Equal(*second.DeliveredAt) {
		t.Fatalf("replay changed state: %+v vs %+v", first, second)
	}
}

func TestApplyFailedOverridesRead(t *testing.T) {
	f := newFakeStore()
	seedMessage(f, "read")
	e := testEngine(f)

	out, err := e.Apply(context.Background(), domain.StatusEvent{
		ExternalMessageID: "wamid.1",
		Status:            domain.StatusFailed,
		ErrorMessage:      "expired",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !out.Applied {
		t.Fatalf("failed must override read")
	}
	m := f.messages["official_api|wamid.1"]
	if m.Status != "failed" || m.ErrorMessage != "expired" || m.FailedAt == nil {
		t.Fatalf("failed not recorded: %+v", m)
	}
}

func TestApplyErrorMessageOnlyOnFailed(t *testing.T) {
	f := newFakeStore()
	seedMessage(f, "pending")
	e := testEngine(f)

	if _, err := e.Apply(context.Background(), domain.StatusEvent{
		ExternalMessageID: "wamid.1",
		Status:            domain.StatusSent,
		ErrorMessage:      "should be dropped",
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := f.messages["official_api|wamid.1"].ErrorMessage; got != "" {
		t.Fatalf("error_message set on non-failed status: %q", got)
	}
}

func TestApplyUnknownMessage(t *testing.T) {
	f := newFakeStore()
	e := testEngine(f)

	_, err := e.Apply(context.Background(), domain.StatusEvent{
		ExternalMessageID: "wamid.123",
		Status:            domain.StatusDelivered,
	})
	if !errors.Is(err, domain.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
	if len(f.messages) != 0 || f.statusWrites != 0 {
		t.Fatalf("unknown wamid must not create state")
	}
}

func TestApplyValidation(t *testing.T) {
	e := testEngine(newFakeStore())
	ctx := context.Background()

	if _, err := e.Apply(ctx, domain.StatusEvent{Status: domain.StatusSent}); !errors.Is(err, domain.ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	if _, err := e.Apply(ctx, domain.StatusEvent{ExternalMessageID: "wamid.1", Status: "bogus"}); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestApplyRecomputesCampaignOnly(t *testing.T) {
	f := newFakeStore()
	m := seedMessage(f, "sent")
	m.ID = "msg-2"
	m.ExternalMessageID = "wamid.2"
	m.CampaignID = "camp-1"
	f.add(m)
	e := testEngine(f)
	ctx := context.Background()

	if _, err := e.Apply(ctx, domain.StatusEvent{ExternalMessageID: "wamid.1", Status: domain.StatusDelivered}); err != nil {
		t.Fatalf("apply non-campaign: %v", err)
	}
	if len(f.recomputes) != 0 {
		t.Fatalf("non-campaign message must not recompute counters")
	}

	if _, err := e.Apply(ctx, domain.StatusEvent{ExternalMessageID: "wamid.2", Status: domain.StatusDelivered}); err != nil {
		t.Fatalf("apply campaign: %v", err)
	}
	if len(f.recomputes) != 1 || f.recomputes[0] != "camp-1" {
		t.Fatalf("expected one recompute for camp-1, got %v", f.recomputes)
	}
}

func TestApplyPropagatesStoreFailure(t *testing.T) {
	f := newFakeStore()
	m := seedMessage(f, "sent")
	m.ExternalMessageID = "wamid.3"
	m.CampaignID = "camp-1"
	f.add(m)
	f.recomputeErr = errors.New("pg down")
	e := testEngine(f)

	_, err := e.Apply(context.Background(), domain.StatusEvent{ExternalMessageID: "wamid.3", Status: domain.StatusDelivered})
	if err == nil {
		t.Fatalf("expected recompute failure to propagate")
	}
}
