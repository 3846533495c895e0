package store

import (
	"time"

	"wamsg/internal/domain"
)

type Message struct {
	ID                string
	TenantID          string
	ConversationID    string
	CampaignID        string
	PhoneNumber       string
	Direction         string
	Channel           string
	Status            string
	ExternalMessageID string
	Content           string
	TemplateName      string
	ErrorMessage      string
	CreatedAt         time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
	FailedAt          *time.Time
}

type MessageInsert struct {
	ID             string
	TenantID       string
	ConversationID string
	CampaignID     string
	PhoneNumber    string
	Direction      string
	Channel        string
	Status         string
	Content        string
	TemplateName   string
	Now            time.Time
}

// Validate checks the identity fields a message row cannot exist without:
// tenant, recipient, and either content or a template reference.
func (in MessageInsert) Validate() error {
	if in.ID == "" || in.TenantID == "" || in.PhoneNumber == "" {
		return domain.ErrMissingFields
	}
	if in.Content == "" && in.TemplateName == "" {
		return domain.ErrMissingFields
	}
	return nil
}

// StatusApply carries an already-validated status change. Monotonicity is the
// reconciliation engine's job; the store just writes.
type StatusApply struct {
	MessageID    string
	TenantID     string
	Status       string
	ErrorMessage string
	Timestamp    time.Time
}

type DispatchResultUpdate struct {
	MessageID         string
	TenantID          string
	Status            string
	ExternalMessageID string
	ErrorMessage      string
	Now               time.Time
}

type Conversation struct {
	ID                   string
	TenantID             string
	PhoneNumber          string
	ContactName          string
	WhatsappAccountID    string
	InstanceID           string
	Status               string
	AttendedByUserID     string
	AcceptedAt           *time.Time
	UnreadCount          int
	LastMessageAt        *time.Time
	LastMessageText      string
	LastMessageDirection string
	IsArchived           bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type ConversationUpsert struct {
	ID                string
	TenantID          string
	PhoneNumber       string
	ContactName       string
	WhatsappAccountID string
	InstanceID        string
	Now               time.Time
}

// ConversationActivity is the per-message aggregate touch: last-message fields
// plus an unread bump for inbound traffic. Applied as a single conditional
// UPDATE so two concurrent requests never lose each other's writes.
type ConversationActivity struct {
	ConversationID string
	TenantID       string
	Text           string
	Direction      string
	UnreadDelta    int
	Now            time.Time
}

type ConversationMessage struct {
	ID                string
	TenantID          string
	ConversationID    string
	Direction         string
	MessageType       string
	Content           string
	MediaURL          string
	Status            string
	WhatsappMessageID string
	ErrorMessage      string
	IsReadByAgent     bool
	ReadByAgentUserID string
	SentByUserID      string
	CreatedAt         time.Time
}

type ConversationMessageInsert struct {
	ID                string
	TenantID          string
	ConversationID    string
	Direction         string
	MessageType       string
	Content           string
	MediaURL          string
	Status            string
	WhatsappMessageID string
	SentByUserID      string
	Now               time.Time
}

type DeliveryEvent struct {
	Channel           string
	ExternalMessageID string
	VendorStatus      string
	ErrorMessage      string
	Payload           any
	OccurredAt        *time.Time
}

type ButtonClickInsert struct {
	TenantID          string
	CampaignID        string
	PhoneNumber       string
	ButtonText        string
	ButtonPayload     string
	WhatsappMessageID string
	Now               time.Time
}
