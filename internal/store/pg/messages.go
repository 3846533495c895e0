package pg

import (
	"context"
	"fmt"
	"time"

	"wamsg/internal/domain"
	"wamsg/internal/store"
)

func (s *Store) InsertMessage(ctx context.Context, in store.MessageInsert) error {
	if err := in.Validate(); err != nil {
		return err
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO messages (id, tenant_id, conversation_id, campaign_id, phone_number, direction, channel, status, content, template_name, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	`, in.ID, in.TenantID, nullIfEmpty(in.ConversationID), nullIfEmpty(in.CampaignID), in.PhoneNumber,
		in.Direction, in.Channel, in.Status, nullIfEmpty(in.Content), nullIfEmpty(in.TemplateName), in.Now)
	return err
}

func (s *Store) FindMessageByExternalID(ctx context.Context, channel, externalID string) (store.Message, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant_id, COALESCE(conversation_id,''), COALESCE(campaign_id,''), phone_number,
		       direction, channel, status, COALESCE(external_message_id,''), COALESCE(content,''),
		       COALESCE(template_name,''), COALESCE(error_message,''),
		       created_at, sent_at, delivered_at, read_at, failed_at
		FROM messages WHERE channel=$1 AND external_message_id=$2
	`, channel, externalID)
	m, err := scanMessage(row)
	if err != nil {
		if noRows(err) {
			return store.Message{}, false, nil
		}
		return store.Message{}, false, err
	}
	return m, true, nil
}

func (s *Store) GetMessage(ctx context.Context, tenantID, msgID string) (store.Message, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, tenant_id, COALESCE(conversation_id,''), COALESCE(campaign_id,''), phone_number,
		       direction, channel, status, COALESCE(external_message_id,''), COALESCE(content,''),
		       COALESCE(template_name,''), COALESCE(error_message,''),
		       created_at, sent_at, delivered_at, read_at, failed_at
		FROM messages WHERE id=$1 AND tenant_id=$2
	`, msgID, tenantID)
	m, err := scanMessage(row)
	if err != nil {
		if noRows(err) {
			return store.Message{}, false, nil
		}
		return store.Message{}, false, err
	}
	return m, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (store.Message, error) {
	var m store.Message
	err := row.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.CampaignID, &m.PhoneNumber,
		&m.Direction, &m.Channel, &m.Status, &m.ExternalMessageID, &m.Content,
		&m.TemplateName, &m.ErrorMessage,
		&m.CreatedAt, &m.SentAt, &m.DeliveredAt, &m.ReadAt, &m.FailedAt)
	return m, err
}

// ApplyMessageStatus writes a status plus its lifecycle timestamp. No guard
// beyond tenant scoping on purpose: the reconciliation engine has already
// decided the transition, and an identical retry must land on the same state.
func (s *Store) ApplyMessageStatus(ctx context.Context, in store.StatusApply) error {
	col := ""
	switch in.Status {
	case string(domain.StatusSent):
		col = "sent_at"
	case string(domain.StatusDelivered):
		col = "delivered_at"
	case string(domain.StatusRead):
		col = "read_at"
	case string(domain.StatusFailed):
		col = "failed_at"
	}
	if col == "" {
		_, err := s.DB.Exec(ctx, `
			UPDATE messages SET status=$3, updated_at=$4 WHERE id=$1 AND tenant_id=$2
		`, in.MessageID, in.TenantID, in.Status, in.Timestamp)
		return err
	}
	if in.Status == string(domain.StatusFailed) {
		_, err := s.DB.Exec(ctx, `
			UPDATE messages SET status=$3, failed_at=$4, error_message=$5, updated_at=$4
			WHERE id=$1 AND tenant_id=$2
		`, in.MessageID, in.TenantID, in.Status, in.Timestamp, nullIfEmpty(in.ErrorMessage))
		return err
	}
	q := fmt.Sprintf(`UPDATE messages SET status=$3, %s=$4, updated_at=$4 WHERE id=$1 AND tenant_id=$2`, col)
	_, err := s.DB.Exec(ctx, q, in.MessageID, in.TenantID, in.Status, in.Timestamp)
	return err
}

// SetMessageDispatchResult records the outcome of an outbound send: the
// provider-assigned id on success, the failure text otherwise.
func (s *Store) SetMessageDispatchResult(ctx context.Context, in store.DispatchResultUpdate) error {
	if in.Status == string(domain.StatusFailed) {
		_, err := s.DB.Exec(ctx, `
			UPDATE messages SET status=$3, error_message=$4, failed_at=$5, updated_at=$5
			WHERE id=$1 AND tenant_id=$2
		`, in.MessageID, in.TenantID, in.Status, nullIfEmpty(in.ErrorMessage), in.Now)
		return err
	}
	_, err := s.DB.Exec(ctx, `
		UPDATE messages SET status=$3, external_message_id=$4, sent_at=$5, updated_at=$5
		WHERE id=$1 AND tenant_id=$2
	`, in.MessageID, in.TenantID, in.Status, nullIfEmpty(in.ExternalMessageID), in.Now)
	return err
}

// RecomputeCampaignCounters rebuilds the campaign rollup from the message
// table in one statement. Full recount rather than increments: replayed or
// out-of-order webhooks then self-correct instead of double-counting.
func (s *Store) RecomputeCampaignCounters(ctx context.Context, tenantID, channel, campaignID string, now time.Time) error {
	table := "campaigns"
	if channel == string(domain.ChannelQRGateway) {
		table = "qr_campaigns"
	}
	q := fmt.Sprintf(`
		UPDATE %s SET
			delivered_count = (SELECT count(*) FROM messages WHERE tenant_id=$1 AND campaign_id=$2 AND status IN ('delivered','read')),
			read_count      = (SELECT count(*) FROM messages WHERE tenant_id=$1 AND campaign_id=$2 AND status='read'),
			failed_count    = (SELECT count(*) FROM messages WHERE tenant_id=$1 AND campaign_id=$2 AND status='failed'),
			no_whatsapp_count = (SELECT count(*) FROM messages WHERE tenant_id=$1 AND campaign_id=$2 AND status='failed' AND error_message='recipient_not_on_whatsapp'),
			updated_at = $3
		WHERE tenant_id=$1 AND id=$2
	`, table)
	_, err := s.DB.Exec(ctx, q, tenantID, campaignID, now)
	return err
}
