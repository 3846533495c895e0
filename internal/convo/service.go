// Package convo owns the conversation lifecycle: pending, open, archived,
// broadcast. Every transition is a guarded single-statement update against the
// store, so concurrent agents cannot double-claim or resurrect a thread.
package convo

import (
	"context"
	"time"

	"wamsg/internal/domain"
	"wamsg/internal/store"
	"wamsg/internal/util"
)

type Store interface {
	UpsertConversation(ctx context.Context, in store.ConversationUpsert) (store.Conversation, error)
	GetConversation(ctx context.Context, tenantID, id string) (store.Conversation, bool, error)
	ListConversations(ctx context.Context, tenantID, status string, limit int) ([]store.Conversation, error)
	AcceptConversation(ctx context.Context, tenantID, id, userID string, now time.Time) (bool, error)
	ArchiveConversation(ctx context.Context, tenantID, id string, now time.Time) (bool, error)
	UnarchiveConversation(ctx context.Context, tenantID, id string, now time.Time) (bool, error)
	PromoteToBroadcast(ctx context.Context, tenantID, id string, now time.Time) (bool, error)
	RecordConversationActivity(ctx context.Context, in store.ConversationActivity) error
	MarkConversationRead(ctx context.Context, tenantID, id, userID string, now time.Time) error
	InsertConversationMessage(ctx context.Context, in store.ConversationMessageInsert) (bool, error)
	InsertMessage(ctx context.Context, in store.MessageInsert) error
	FindMessageByExternalID(ctx context.Context, channel, externalID string) (store.Message, bool, error)
}

type Service struct {
	Store Store
	IDGen func() string
	Now   func() time.Time
}

func New(st Store) *Service {
	return &Service{Store: st, IDGen: util.NewConversationID, Now: util.NowUTC}
}

// FindOrCreate resolves the thread for a contact on one account, creating it
// in pending on first touch. Races between two first messages collapse onto
// one row in the store.
func (s *Service) FindOrCreate(ctx context.Context, tenantID, phone, contactName, whatsappAccountID, instanceID string) (store.Conversation, error) {
	if tenantID == "" || phone == "" {
		return store.Conversation{}, domain.ErrMissingFields
	}
	if whatsappAccountID == "" && instanceID == "" {
		return store.Conversation{}, domain.ErrNoChannel
	}
	return s.Store.UpsertConversation(ctx, store.ConversationUpsert{
		ID:                s.IDGen(),
		TenantID:          tenantID,
		PhoneNumber:       util.NormalizePhone(phone),
		ContactName:       contactName,
		WhatsappAccountID: whatsappAccountID,
		InstanceID:        instanceID,
		Now:               s.Now(),
	})
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (store.Conversation, error) {
	c, found, err := s.Store.GetConversation(ctx, tenantID, id)
	if err != nil {
		return store.Conversation{}, err
	}
	if !found {
		return store.Conversation{}, domain.ErrConversationNotFound
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, tenantID, status string, limit int) ([]store.Conversation, error) {
	return s.Store.ListConversations(ctx, tenantID, status, limit)
}

// Accept claims a pending or broadcast thread for an agent. The guard lives
// in the UPDATE itself; when zero rows match we look the row up once only to
// tell "not found" apart from "lost the race / wrong state".
func (s *Service) Accept(ctx context.Context, tenantID, id, userID string) error {
	if userID == "" {
		return domain.ErrMissingFields
	}
	ok, err := s.Store.AcceptConversation(ctx, tenantID, id, userID, s.Now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.explainRejection(ctx, tenantID, id)
}

func (s *Service) Archive(ctx context.Context, tenantID, id string) error {
	ok, err := s.Store.ArchiveConversation(ctx, tenantID, id, s.Now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.explainRejection(ctx, tenantID, id)
}

func (s *Service) Unarchive(ctx context.Context, tenantID, id string) error {
	ok, err := s.Store.UnarchiveConversation(ctx, tenantID, id, s.Now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.explainRejection(ctx, tenantID, id)
}

func (s *Service) MarkRead(ctx context.Context, tenantID, id, userID string) error {
	if _, found, err := s.Store.GetConversation(ctx, tenantID, id); err != nil {
		return err
	} else if !found {
		return domain.ErrConversationNotFound
	}
	return s.Store.MarkConversationRead(ctx, tenantID, id, userID, s.Now())
}

func (s *Service) explainRejection(ctx context.Context, tenantID, id string) error {
	_, found, err := s.Store.GetConversation(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrConversationNotFound
	}
	return domain.ErrInvalidTransition
}

// RecordInbound lands a contact message: find-or-create the thread, append
// the chat entry (wamid-deduplicated), record it in the message history, and
// bump the aggregate. Returns the conversation and whether the entry was new.
func (s *Service) RecordInbound(ctx context.Context, req domain.InboundMessageRequest) (store.Conversation, bool, error) {
	if err := req.Validate(); err != nil {
		return store.Conversation{}, false, err
	}

	conv, err := s.FindOrCreate(ctx, req.TenantID, req.PhoneNumber, req.ContactName, req.WhatsappAccountID, req.InstanceID)
	if err != nil {
		return store.Conversation{}, false, err
	}

	channel := req.Channel
	if channel == "" {
		channel = domain.ChannelOfficialAPI
		if req.InstanceID != "" && req.WhatsappAccountID == "" {
			channel = domain.ChannelQRGateway
		}
	}
	msgType := req.MessageType
	if msgType == "" {
		msgType = "text"
	}
	recordContent := req.Content
	if recordContent == "" {
		recordContent = req.MediaURL
	}
	if recordContent == "" {
		// stickers and unsupported types arrive with no body
		recordContent = "[" + msgType + "]"
	}
	now := s.Now()

	inserted, err := s.Store.InsertConversationMessage(ctx, store.ConversationMessageInsert{
		ID:                util.NewChatMessageID(),
		TenantID:          req.TenantID,
		ConversationID:    conv.ID,
		Direction:         string(domain.DirectionInbound),
		MessageType:       msgType,
		Content:           req.Content,
		MediaURL:          req.MediaURL,
		Status:            string(domain.StatusDelivered),
		WhatsappMessageID: req.WhatsappMessageID,
		Now:               now,
	})
	if err != nil {
		return store.Conversation{}, false, err
	}
	if !inserted {
		// redelivered webhook; nothing else to update
		return conv, false, nil
	}

	if err := s.Store.InsertMessage(ctx, store.MessageInsert{
		ID:             util.NewMessageID(),
		TenantID:       req.TenantID,
		ConversationID: conv.ID,
		PhoneNumber:    util.NormalizePhone(req.PhoneNumber),
		Direction:      string(domain.DirectionInbound),
		Channel:        string(channel),
		Status:         string(domain.StatusDelivered),
		Content:        recordContent,
		Now:            now,
	}); err != nil {
		return store.Conversation{}, false, err
	}

	if err := s.Store.RecordConversationActivity(ctx, store.ConversationActivity{
		ConversationID: conv.ID,
		TenantID:       req.TenantID,
		Text:           req.Content,
		Direction:      string(domain.DirectionInbound),
		UnreadDelta:    1,
		Now:            now,
	}); err != nil {
		return store.Conversation{}, false, err
	}

	// A reply to a campaign send with nobody attending moves the thread into
	// broadcast so it surfaces in the campaign inbox instead of the queue.
	if req.ContextMessageID != "" && conv.AttendedByUserID == "" {
		ctxMsg, found, err := s.Store.FindMessageByExternalID(ctx, string(channel), req.ContextMessageID)
		if err != nil {
			return store.Conversation{}, false, err
		}
		if found && ctxMsg.CampaignID != "" {
			if _, err := s.Store.PromoteToBroadcast(ctx, req.TenantID, conv.ID, now); err != nil {
				return store.Conversation{}, false, err
			}
		}
	}

	conv, found, err := s.Store.GetConversation(ctx, req.TenantID, conv.ID)
	if err != nil {
		return store.Conversation{}, false, err
	}
	if !found {
		return store.Conversation{}, false, domain.ErrConversationNotFound
	}
	return conv, true, nil
}
