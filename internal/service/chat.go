package service

import (
	"context"
	"time"

	"wamsg/internal/dispatch"
	"wamsg/internal/domain"
	"wamsg/internal/store"
	"wamsg/internal/util"
)

type Store interface {
	GetConversation(ctx context.Context, tenantID, id string) (store.Conversation, bool, error)
	InsertMessage(ctx context.Context, in store.MessageInsert) error
	InsertConversationMessage(ctx context.Context, in store.ConversationMessageInsert) (bool, error)
	SetMessageDispatchResult(ctx context.Context, in store.DispatchResultUpdate) error
	SetConversationMessageDispatchResult(ctx context.Context, in store.DispatchResultUpdate) error
	RecordConversationActivity(ctx context.Context, in store.ConversationActivity) error
	GetConversationMessage(ctx context.Context, tenantID, id string) (store.ConversationMessage, bool, error)
	ListConversationMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]store.ConversationMessage, error)
	GetMessage(ctx context.Context, tenantID, msgID string) (store.Message, bool, error)
}

type Dispatcher interface {
	Send(ctx context.Context, conv store.Conversation, req dispatch.Request) dispatch.Outcome
}

// ChatService drives the agent-facing send: record the attempt, dispatch it,
// and persist the outcome. Create + dispatch + status update is one logical
// unit; a provider failure leaves the message failed with its error text,
// never half-sent.
type ChatService struct {
	Store      Store
	Dispatcher Dispatcher
	Now        func() time.Time
}

func NewChat(st Store, d Dispatcher) *ChatService {
	return &ChatService{Store: st, Dispatcher: d, Now: util.NowUTC}
}

func (s *ChatService) SendMessage(ctx context.Context, tenantID, conversationID, userID string, req domain.SendMessageRequest) (store.ConversationMessage, error) {
	if err := req.Validate(); err != nil {
		return store.ConversationMessage{}, err
	}

	conv, found, err := s.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return store.ConversationMessage{}, err
	}
	if !found {
		return store.ConversationMessage{}, domain.ErrConversationNotFound
	}

	channel, err := dispatch.SelectChannel(conv)
	if err != nil {
		return store.ConversationMessage{}, err
	}

	now := s.Now()
	chatMsgID := util.NewChatMessageID()
	msgID := util.NewMessageID()

	// the delivery record needs content; media-only sends store the URL
	recordContent := req.MessageContent
	if recordContent == "" {
		recordContent = req.MediaURL
	}

	if _, err := s.Store.InsertConversationMessage(ctx, store.ConversationMessageInsert{
		ID:             chatMsgID,
		TenantID:       tenantID,
		ConversationID: conv.ID,
		Direction:      string(domain.DirectionOutbound),
		MessageType:    req.MessageType,
		Content:        req.MessageContent,
		MediaURL:       req.MediaURL,
		Status:         string(domain.StatusPending),
		SentByUserID:   userID,
		Now:            now,
	}); err != nil {
		return store.ConversationMessage{}, err
	}

	if err := s.Store.InsertMessage(ctx, store.MessageInsert{
		ID:             msgID,
		TenantID:       tenantID,
		ConversationID: conv.ID,
		PhoneNumber:    conv.PhoneNumber,
		Direction:      string(domain.DirectionOutbound),
		Channel:        string(channel),
		Status:         string(domain.StatusPending),
		Content:        recordContent,
		Now:            now,
	}); err != nil {
		return store.ConversationMessage{}, err
	}

	out := s.Dispatcher.Send(ctx, conv, dispatch.Request{
		Type:     req.MessageType,
		Body:     req.MessageContent,
		MediaURL: req.MediaURL,
	})

	done := s.Now()
	if out.OK {
		update := store.DispatchResultUpdate{
			TenantID:          tenantID,
			Status:            string(domain.StatusSent),
			ExternalMessageID: out.ExternalMessageID,
			Now:               done,
		}
		update.MessageID = msgID
		if err := s.Store.SetMessageDispatchResult(ctx, update); err != nil {
			return store.ConversationMessage{}, err
		}
		update.MessageID = chatMsgID
		if err := s.Store.SetConversationMessageDispatchResult(ctx, update); err != nil {
			return store.ConversationMessage{}, err
		}
		if err := s.Store.RecordConversationActivity(ctx, store.ConversationActivity{
			ConversationID: conv.ID,
			TenantID:       tenantID,
			Text:           req.MessageContent,
			Direction:      string(domain.DirectionOutbound),
			Now:            done,
		}); err != nil {
			return store.ConversationMessage{}, err
		}
	} else {
		update := store.DispatchResultUpdate{
			TenantID:     tenantID,
			Status:       string(domain.StatusFailed),
			ErrorMessage: out.Err.Error(),
			Now:          done,
		}
		update.MessageID = msgID
		if err := s.Store.SetMessageDispatchResult(ctx, update); err != nil {
			return store.ConversationMessage{}, err
		}
		update.MessageID = chatMsgID
		if err := s.Store.SetConversationMessageDispatchResult(ctx, update); err != nil {
			return store.ConversationMessage{}, err
		}
	}

	msg, found, err := s.Store.GetConversationMessage(ctx, tenantID, chatMsgID)
	if err != nil {
		return store.ConversationMessage{}, err
	}
	if !found {
		return store.ConversationMessage{}, domain.ErrMessageNotFound
	}
	return msg, nil
}

func (s *ChatService) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]store.ConversationMessage, error) {
	_, found, err := s.Store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrConversationNotFound
	}
	return s.Store.ListConversationMessages(ctx, tenantID, conversationID, limit)
}

func (s *ChatService) GetMessage(ctx context.Context, tenantID, msgID string) (store.Message, bool, error) {
	return s.Store.GetMessage(ctx, tenantID, msgID)
}
