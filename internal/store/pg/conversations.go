package pg

import (
	"context"
	"time"

	"wamsg/internal/store"
)

const conversationColumns = `
	id, tenant_id, phone_number, COALESCE(contact_name,''),
	COALESCE(whatsapp_account_id,''), COALESCE(instance_id,''),
	status, COALESCE(attended_by_user_id,''), accepted_at, unread_count,
	last_message_at, COALESCE(last_message_text,''), COALESCE(last_message_direction,''),
	is_archived, created_at, updated_at`

func scanConversation(row rowScanner) (store.Conversation, error) {
	var c store.Conversation
	err := row.Scan(&c.ID, &c.TenantID, &c.PhoneNumber, &c.ContactName,
		&c.WhatsappAccountID, &c.InstanceID,
		&c.Status, &c.AttendedByUserID, &c.AcceptedAt, &c.UnreadCount,
		&c.LastMessageAt, &c.LastMessageText, &c.LastMessageDirection,
		&c.IsArchived, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// UpsertConversation is the lazy find-or-create for a contact thread. The
// unique (tenant_id, phone_number, account_ref) constraint resolves the race
// between two first messages to one row; the losing insert falls into the
// conflict arm and both callers get the same conversation back.
func (s *Store) UpsertConversation(ctx context.Context, in store.ConversationUpsert) (store.Conversation, error) {
	accountRef := in.WhatsappAccountID
	if accountRef == "" {
		accountRef = in.InstanceID
	}
	row := s.DB.QueryRow(ctx, `
		INSERT INTO conversations (id, tenant_id, phone_number, contact_name, whatsapp_account_id, instance_id, account_ref, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',$8,$8)
		ON CONFLICT (tenant_id, phone_number, account_ref)
		DO UPDATE SET
			contact_name = COALESCE(EXCLUDED.contact_name, conversations.contact_name),
			updated_at = EXCLUDED.updated_at
		RETURNING `+conversationColumns+`
	`, in.ID, in.TenantID, in.PhoneNumber, nullIfEmpty(in.ContactName),
		nullIfEmpty(in.WhatsappAccountID), nullIfEmpty(in.InstanceID), accountRef, in.Now)
	return scanConversation(row)
}

func (s *Store) GetConversation(ctx context.Context, tenantID, id string) (store.Conversation, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id=$1 AND tenant_id=$2
	`, id, tenantID)
	c, err := scanConversation(row)
	if err != nil {
		if noRows(err) {
			return store.Conversation{}, false, nil
		}
		return store.Conversation{}, false, err
	}
	return c, true, nil
}

func (s *Store) ListConversations(ctx context.Context, tenantID, status string, limit int) ([]store.Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id=$1 AND ($2::text IS NULL OR status=$2)
		ORDER BY last_message_at DESC NULLS LAST
		LIMIT $3
	`, tenantID, nullIfEmpty(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AcceptConversation assigns an agent with a guarded single-statement update.
// Zero rows means either the row is missing or the status guard lost a race;
// the caller distinguishes the two.
func (s *Store) AcceptConversation(ctx context.Context, tenantID, id, userID string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE conversations
		SET status='open', attended_by_user_id=$3, accepted_at=$4, updated_at=$4
		WHERE id=$1 AND tenant_id=$2 AND status IN ('pending','broadcast')
	`, id, tenantID, userID, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) ArchiveConversation(ctx context.Context, tenantID, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE conversations
		SET status='archived', is_archived=true, attended_by_user_id=NULL, updated_at=$3
		WHERE id=$1 AND tenant_id=$2 AND status IN ('open','pending','broadcast')
	`, id, tenantID, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// Unarchiving always lands on pending, not the prior state.
func (s *Store) UnarchiveConversation(ctx context.Context, tenantID, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE conversations
		SET status='pending', is_archived=false, attended_by_user_id=NULL, updated_at=$3
		WHERE id=$1 AND tenant_id=$2 AND status='archived'
	`, id, tenantID, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// PromoteToBroadcast moves an unattended thread into broadcast when a contact
// replies to a campaign send. Guarded so an open, attended thread stays put.
func (s *Store) PromoteToBroadcast(ctx context.Context, tenantID, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE conversations
		SET status='broadcast', is_archived=false, updated_at=$3
		WHERE id=$1 AND tenant_id=$2 AND status IN ('pending','archived') AND attended_by_user_id IS NULL
	`, id, tenantID, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) RecordConversationActivity(ctx context.Context, in store.ConversationActivity) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE conversations
		SET last_message_at=$3, last_message_text=$4, last_message_direction=$5,
		    unread_count = unread_count + $6, updated_at=$3
		WHERE id=$1 AND tenant_id=$2
	`, in.ConversationID, in.TenantID, in.Now, in.Text, in.Direction, in.UnreadDelta)
	return err
}

// MarkConversationRead flips every unread inbound chat entry and zeroes the
// counter in one transaction, keeping the unread invariant atomic for callers.
func (s *Store) MarkConversationRead(ctx context.Context, tenantID, id, userID string, now time.Time) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE conversation_messages
		SET is_read_by_agent=true, read_by_agent_user_id=$3, updated_at=$4
		WHERE conversation_id=$1 AND tenant_id=$2 AND direction='inbound' AND is_read_by_agent=false
	`, id, tenantID, userID, now); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET unread_count=0, updated_at=$3 WHERE id=$1 AND tenant_id=$2
	`, id, tenantID, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
