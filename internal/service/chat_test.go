package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wamsg/internal/dispatch"
	"wamsg/internal/domain"
	"wamsg/internal/store"
)

type chatStore struct {
	conversations map[string]store.Conversation
	chatMessages  map[string]*store.ConversationMessage
	history       map[string]*store.Message
	activity      []store.ConversationActivity
}

func newChatStore() *chatStore {
	return &chatStore{
		conversations: map[string]store.Conversation{},
		chatMessages:  map[string]*store.ConversationMessage{},
		history:       map[string]*store.Message{},
	}
}

func (f *chatStore) GetConversation(ctx context.Context, tenantID, id string) (store.Conversation, bool, error) {
	c, ok := f.conversations[tenantID+"|"+id]
	return c, ok, nil
}

func (f *chatStore) InsertMessage(ctx context.Context, in store.MessageInsert) error {
	f.history[in.ID] = &store.Message{
		ID: in.ID, TenantID: in.TenantID, ConversationID: in.ConversationID,
		PhoneNumber: in.PhoneNumber, Direction: in.Direction, Channel: in.Channel,
		Status: in.Status, Content: in.Content, CreatedAt: in.Now,
	}
	return nil
}

func (f *chatStore) InsertConversationMessage(ctx context.Context, in store.ConversationMessageInsert) (bool, error) {
	f.chatMessages[in.ID] = &store.ConversationMessage{
		ID: in.ID, TenantID: in.TenantID, ConversationID: in.ConversationID,
		Direction: in.Direction, MessageType: in.MessageType, Content: in.Content,
		MediaURL: in.MediaURL, Status: in.Status, SentByUserID: in.SentByUserID, CreatedAt: in.Now,
	}
	return true, nil
}

func (f *chatStore) SetMessageDispatchResult(ctx context.Context, in store.DispatchResultUpdate) error {
	m, ok := f.history[in.MessageID]
	if !ok {
		return errors.New("missing message")
	}
	m.Status = in.Status
	m.ExternalMessageID = in.ExternalMessageID
	m.ErrorMessage = in.ErrorMessage
	return nil
}

func (f *chatStore) SetConversationMessageDispatchResult(ctx context.Context, in store.DispatchResultUpdate) error {
	m, ok := f.chatMessages[in.MessageID]
	if !ok {
		return errors.New("missing chat message")
	}
	m.Status = in.Status
	m.WhatsappMessageID = in.ExternalMessageID
	m.ErrorMessage = in.ErrorMessage
	return nil
}

func (f *chatStore) RecordConversationActivity(ctx context.Context, in store.ConversationActivity) error {
	f.activity = append(f.activity, in)
	c := f.conversations[in.TenantID+"|"+in.ConversationID]
	c.LastMessageText = in.Text
	c.LastMessageDirection = in.Direction
	c.LastMessageAt = &in.Now
	c.UnreadCount += in.UnreadDelta
	f.conversations[in.TenantID+"|"+in.ConversationID] = c
	return nil
}

func (f *chatStore) GetConversationMessage(ctx context.Context, tenantID, id string) (store.ConversationMessage, bool, error) {
	m, ok := f.chatMessages[id]
	if !ok {
		return store.ConversationMessage{}, false, nil
	}
	return *m, true, nil
}

func (f *chatStore) ListConversationMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]store.ConversationMessage, error) {
	var out []store.ConversationMessage
	for _, m := range f.chatMessages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *chatStore) GetMessage(ctx context.Context, tenantID, msgID string) (store.Message, bool, error) {
	m, ok := f.history[msgID]
	if !ok {
		return store.Message{}, false, nil
	}
	return *m, true, nil
}

type fakeDispatcher struct {
	out dispatch.Outcome
}

func (d fakeDispatcher) Send(ctx context.Context, conv store.Conversation, req dispatch.Request) dispatch.Outcome {
	return d.out
}

func testChat(f *chatStore, d Dispatcher) *ChatService {
	return &ChatService{
		Store:      f,
		Dispatcher: d,
		Now:        func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func seedConversation(f *chatStore) store.Conversation {
	c := store.Conversation{
		ID: "conv-1", TenantID: "t1", PhoneNumber: "+5511999990000",
		WhatsappAccountID: "waba-1", Status: "open",
	}
	f.conversations["t1|conv-1"] = c
	return c
}

func TestSendMessageSuccess(t *testing.T) {
	f := newChatStore()
	seedConversation(f)
	svc := testChat(f, fakeDispatcher{out: dispatch.Outcome{
		OK: true, Channel: domain.ChannelOfficialAPI, ExternalMessageID: "wamid.OUT",
	}})

	msg, err := svc.SendMessage(context.Background(), "t1", "conv-1", "agent-1", domain.SendMessageRequest{
		MessageType:    "text",
		MessageContent: "chegou!",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Status != "sent" || msg.WhatsappMessageID != "wamid.OUT" {
		t.Fatalf("chat message not settled: %+v", msg)
	}

	// history side carries the external id too
	var hist *store.Message
	for _, m := range f.history {
		hist = m
	}
	if hist == nil || hist.Status != "sent" || hist.ExternalMessageID != "wamid.OUT" {
		t.Fatalf("history not settled: %+v", hist)
	}

	conv := f.conversations["t1|conv-1"]
	if conv.LastMessageDirection != "outbound" || conv.LastMessageText != "chegou!" {
		t.Fatalf("aggregate not touched: %+v", conv)
	}
}

func TestSendMessageProviderFailurePersistsFailed(t *testing.T) {
	f := newChatStore()
	seedConversation(f)
	svc := testChat(f, fakeDispatcher{out: dispatch.Outcome{
		Channel: domain.ChannelOfficialAPI,
		Err:     &domain.ProviderError{Channel: domain.ChannelOfficialAPI, Message: "recipient_not_on_whatsapp"},
	}})

	msg, err := svc.SendMessage(context.Background(), "t1", "conv-1", "agent-1", domain.SendMessageRequest{
		MessageType:    "text",
		MessageContent: "oi",
	})
	if err != nil {
		t.Fatalf("provider failure should return the message, not an error: %v", err)
	}
	if msg.Status != "failed" || msg.ErrorMessage == "" {
		t.Fatalf("failure not recorded: %+v", msg)
	}
	for _, m := range f.history {
		if m.Status != "failed" || m.ErrorMessage == "" {
			t.Fatalf("history row not failed: %+v", m)
		}
	}
	if len(f.activity) != 0 {
		t.Fatalf("failed send must not bump the aggregate")
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newChatStore()
	seedConversation(f)
	svc := testChat(f, fakeDispatcher{})
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, "t1", "conv-1", "agent-1", domain.SendMessageRequest{}); !errors.Is(err, domain.ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	if _, err := svc.SendMessage(ctx, "t1", "nope", "agent-1", domain.SendMessageRequest{MessageType: "text", MessageContent: "x"}); !errors.Is(err, domain.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	if len(f.chatMessages) != 0 {
		t.Fatalf("rejected sends must not persist anything")
	}
}

func TestSendMessageAmbiguousChannelRejectedBeforePersisting(t *testing.T) {
	f := newChatStore()
	c := seedConversation(f)
	c.InstanceID = "inst-1"
	f.conversations["t1|conv-1"] = c
	svc := testChat(f, fakeDispatcher{})

	_, err := svc.SendMessage(context.Background(), "t1", "conv-1", "agent-1", domain.SendMessageRequest{
		MessageType: "text", MessageContent: "x",
	})
	if !errors.Is(err, domain.ErrAmbiguousChannel) {
		t.Fatalf("expected ErrAmbiguousChannel, got %v", err)
	}
	if len(f.chatMessages) != 0 || len(f.history) != 0 {
		t.Fatalf("misconfigured channel must not persist message rows")
	}
}
