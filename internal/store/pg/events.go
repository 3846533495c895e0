package pg

import (
	"context"
	"encoding/json"
	"time"

	"wamsg/internal/store"
)

func (s *Store) InsertDeliveryEvent(ctx context.Context, in store.DeliveryEvent) error {
	b, _ := json.Marshal(in.Payload)
	_, err := s.DB.Exec(ctx, `
		INSERT INTO delivery_events (channel, external_message_id, vendor_status, error_message, payload_json, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, in.Channel, in.ExternalMessageID, in.VendorStatus, nullIfEmpty(in.ErrorMessage), b, in.OccurredAt)
	return err
}

// HasRecentButtonClick is the dedup probe for repeated click callbacks from
// the same phone on the same campaign button.
func (s *Store) HasRecentButtonClick(ctx context.Context, tenantID, campaignID, phone, buttonText string, since time.Time) (bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT 1 FROM button_clicks
		WHERE tenant_id=$1 AND campaign_id=$2 AND phone_number=$3 AND button_text=$4 AND clicked_at > $5
		LIMIT 1
	`, tenantID, campaignID, phone, buttonText, since)
	var one int
	err := row.Scan(&one)
	if err != nil {
		if noRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) InsertButtonClick(ctx context.Context, in store.ButtonClickInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO button_clicks (tenant_id, campaign_id, phone_number, button_text, button_payload, whatsapp_message_id, clicked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, in.TenantID, in.CampaignID, in.PhoneNumber, in.ButtonText,
		nullIfEmpty(in.ButtonPayload), nullIfEmpty(in.WhatsappMessageID), in.Now)
	return err
}
