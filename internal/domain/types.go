package domain

import "time"

// StatusEvent is one delivery-status callback from a provider, already
// normalized from the wire payload.
type StatusEvent struct {
	Channel           Channel       `json:"channel,omitempty"`
	ExternalMessageID string        `json:"whatsapp_message_id"`
	Status            MessageStatus `json:"status"`
	ErrorMessage      string        `json:"error_message,omitempty"`
	Timestamp         *time.Time    `json:"timestamp,omitempty"`
}

func (e StatusEvent) Validate() error {
	if e.ExternalMessageID == "" || e.Status == "" {
		return ErrMissingFields
	}
	if !ReportableStatus(e.Status) {
		return ErrInvalidStatus
	}
	return nil
}

type SendMessageRequest struct {
	MessageContent string `json:"message_content,omitempty"`
	MessageType    string `json:"message_type"`
	MediaURL       string `json:"media_url,omitempty"`
}

func (r SendMessageRequest) Validate() error {
	if r.MessageType == "" {
		return ErrMissingFields
	}
	if r.MessageContent == "" && r.MediaURL == "" {
		return ErrMissingFields
	}
	return nil
}

type ButtonClickRequest struct {
	TenantID          string `json:"tenant_id"`
	PhoneNumber       string `json:"phone_number"`
	ButtonText        string `json:"button_text"`
	ButtonPayload     string `json:"button_payload,omitempty"`
	CampaignID        string `json:"campaign_id"`
	WhatsappMessageID string `json:"whatsapp_message_id,omitempty"`
}

func (r ButtonClickRequest) Validate() error {
	if r.TenantID == "" || r.PhoneNumber == "" || r.ButtonText == "" || r.CampaignID == "" {
		return ErrMissingFields
	}
	return nil
}

// InboundMessageRequest is a provider callback carrying a message written by
// the contact. ContextMessageID, when present, is the wamid of the outbound
// message the contact replied to.
type InboundMessageRequest struct {
	TenantID          string  `json:"tenant_id"`
	PhoneNumber       string  `json:"phone_number"`
	ContactName       string  `json:"contact_name,omitempty"`
	Channel           Channel `json:"channel,omitempty"`
	WhatsappAccountID string  `json:"whatsapp_account_id,omitempty"`
	InstanceID        string  `json:"instance_id,omitempty"`
	WhatsappMessageID string  `json:"whatsapp_message_id"`
	MessageType       string  `json:"message_type,omitempty"`
	Content           string  `json:"content,omitempty"`
	MediaURL          string  `json:"media_url,omitempty"`
	ContextMessageID  string  `json:"context_message_id,omitempty"`
}

func (r InboundMessageRequest) Validate() error {
	if r.TenantID == "" || r.PhoneNumber == "" || r.WhatsappMessageID == "" {
		return ErrMissingFields
	}
	if r.WhatsappAccountID == "" && r.InstanceID == "" {
		return ErrMissingFields
	}
	return nil
}
