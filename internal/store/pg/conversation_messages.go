package pg

import (
	"context"
	"time"

	"wamsg/internal/store"
)

const conversationMessageColumns = `
	id, tenant_id, conversation_id, direction, message_type,
	COALESCE(content,''), COALESCE(media_url,''), status,
	COALESCE(whatsapp_message_id,''), COALESCE(error_message,''),
	is_read_by_agent, COALESCE(read_by_agent_user_id,''), COALESCE(sent_by_user_id,''),
	created_at`

func scanConversationMessage(row rowScanner) (store.ConversationMessage, error) {
	var m store.ConversationMessage
	err := row.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.Direction, &m.MessageType,
		&m.Content, &m.MediaURL, &m.Status,
		&m.WhatsappMessageID, &m.ErrorMessage,
		&m.IsReadByAgent, &m.ReadByAgentUserID, &m.SentByUserID,
		&m.CreatedAt)
	return m, err
}

// InsertConversationMessage appends a chat-log entry. The partial unique index
// on (tenant_id, whatsapp_message_id) absorbs provider redelivery: a duplicate
// wamid inserts nothing and reports inserted=false.
func (s *Store) InsertConversationMessage(ctx context.Context, in store.ConversationMessageInsert) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO conversation_messages
			(id, tenant_id, conversation_id, direction, message_type, content, media_url, status, whatsapp_message_id, sent_by_user_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		ON CONFLICT (tenant_id, whatsapp_message_id) WHERE whatsapp_message_id IS NOT NULL
		DO NOTHING
	`, in.ID, in.TenantID, in.ConversationID, in.Direction, in.MessageType,
		nullIfEmpty(in.Content), nullIfEmpty(in.MediaURL), in.Status,
		nullIfEmpty(in.WhatsappMessageID), nullIfEmpty(in.SentByUserID), in.Now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) GetConversationMessage(ctx context.Context, tenantID, id string) (store.ConversationMessage, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+conversationMessageColumns+`
		FROM conversation_messages WHERE id=$1 AND tenant_id=$2
	`, id, tenantID)
	m, err := scanConversationMessage(row)
	if err != nil {
		if noRows(err) {
			return store.ConversationMessage{}, false, nil
		}
		return store.ConversationMessage{}, false, err
	}
	return m, true, nil
}

func (s *Store) ListConversationMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]store.ConversationMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+conversationMessageColumns+`
		FROM conversation_messages
		WHERE conversation_id=$1 AND tenant_id=$2
		ORDER BY created_at ASC
		LIMIT $3
	`, conversationID, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ConversationMessage
	for rows.Next() {
		m, err := scanConversationMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) SetConversationMessageDispatchResult(ctx context.Context, in store.DispatchResultUpdate) error {
	if in.ErrorMessage != "" {
		_, err := s.DB.Exec(ctx, `
			UPDATE conversation_messages SET status=$3, error_message=$4, updated_at=$5
			WHERE id=$1 AND tenant_id=$2
		`, in.MessageID, in.TenantID, in.Status, in.ErrorMessage, in.Now)
		return err
	}
	_, err := s.DB.Exec(ctx, `
		UPDATE conversation_messages SET status=$3, whatsapp_message_id=$4, updated_at=$5
		WHERE id=$1 AND tenant_id=$2
	`, in.MessageID, in.TenantID, in.Status, nullIfEmpty(in.ExternalMessageID), in.Now)
	return err
}

// UpdateConversationMessageStatusByExternalID mirrors a reconciled delivery
// status onto the human-facing chat entry that references the same wamid.
func (s *Store) UpdateConversationMessageStatusByExternalID(ctx context.Context, tenantID, externalID, status, errorMessage string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE conversation_messages SET status=$3, error_message=COALESCE($4, error_message), updated_at=$5
		WHERE tenant_id=$1 AND whatsapp_message_id=$2
	`, tenantID, externalID, status, nullIfEmpty(errorMessage), now)
	return err
}
