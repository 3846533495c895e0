//go:build integration
// +build integration

package integration

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"wamsg/internal/convo"
	"wamsg/internal/dispatch"
	"wamsg/internal/domain"
	"wamsg/internal/recon"
	"wamsg/internal/service"
	"wamsg/internal/store"
	"wamsg/internal/store/pg"
)

func TestStatusReconciliationLifecycle(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	engine := recon.New(st)

	insertTenant(t, db, "t1")
	insertCampaign(t, db, "campaigns", "t1", "camp-1")
	seedOutboundMessage(t, st, "t1", "msg-1", "camp-1", "official_api", "wamid.100")

	apply := func(status domain.MessageStatus) recon.Outcome {
		t.Helper()
		out, err := engine.Apply(ctx, domain.StatusEvent{
			Channel:           domain.ChannelOfficialAPI,
			ExternalMessageID: "wamid.100",
			Status:            status,
		})
		if err != nil {
			t.Fatalf("apply %s: %v", status, err)
		}
		return out
	}

	apply(domain.StatusDelivered)
	apply(domain.StatusRead)

	// out-of-order redelivery is discarded, not regressed
	if out := apply(domain.StatusDelivered); out.Applied || out.Status != domain.StatusRead {
		t.Fatalf("expected discard at read, got %+v", out)
	}
	assertMessageStatusDB(t, db, "msg-1", "read")

	// counters are a full recount: read rows count as delivered too
	assertCounters(t, db, "campaigns", "camp-1", 1, 1, 0, 0)

	// failed overrides even a read message
	out, err := engine.Apply(ctx, domain.StatusEvent{
		Channel:           domain.ChannelOfficialAPI,
		ExternalMessageID: "wamid.100",
		Status:            domain.StatusFailed,
		ErrorMessage:      "recipient_not_on_whatsapp",
	})
	if err != nil || !out.Applied {
		t.Fatalf("failed override: %+v, %v", out, err)
	}
	assertMessageStatusDB(t, db, "msg-1", "failed")
	assertCounters(t, db, "campaigns", "camp-1", 0, 0, 1, 1)
}

func TestStatusEventUnknownMessage(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	engine := recon.New(pg.New(db))
	_, err := engine.Apply(ctx, domain.StatusEvent{
		Channel:           domain.ChannelOfficialAPI,
		ExternalMessageID: "wamid.123",
		Status:            domain.StatusDelivered,
	})
	if err != domain.ErrMessageNotFound {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}

	// no phantom record
	var n int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM messages`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("phantom message created")
	}
}

func TestExternalIDUniqueAcrossTenants(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	insertTenant(t, db, "t1")
	insertTenant(t, db, "t2")
	seedOutboundMessage(t, st, "t1", "msg-a", "", "official_api", "wamid.dup")

	now := time.Now().UTC()
	if err := st.InsertMessage(ctx, store.MessageInsert{
		ID:          "msg-b",
		TenantID:    "t2",
		PhoneNumber: "+5511988880000",
		Direction:   "outbound",
		Channel:     "official_api",
		Status:      "pending",
		Content:     "hello",
		Now:         now,
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	// status callbacks carry no tenant, so a second tenant reusing a wamid on
	// the same channel would make the reconciliation lookup ambiguous; the
	// unique index must reject it
	err := st.SetMessageDispatchResult(ctx, store.DispatchResultUpdate{
		MessageID:         "msg-b",
		TenantID:          "t2",
		Status:            "sent",
		ExternalMessageID: "wamid.dup",
		Now:               now,
	})
	if err == nil {
		t.Fatal("expected unique violation attaching a duplicate external id")
	}

	m, found, err := st.FindMessageByExternalID(ctx, "official_api", "wamid.dup")
	if err != nil || !found {
		t.Fatalf("lookup: found=%v err=%v", found, err)
	}
	if m.TenantID != "t1" || m.ID != "msg-a" {
		t.Fatalf("lookup resolved wrong row: id=%s tenant=%s", m.ID, m.TenantID)
	}
}

func TestQRCampaignCountersUseQRTable(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	engine := recon.New(st)

	insertTenant(t, db, "t1")
	insertCampaign(t, db, "qr_campaigns", "t1", "qcamp-1")
	seedOutboundMessage(t, st, "t1", "msg-q1", "qcamp-1", "qr_gateway", "wamid.q1")

	if _, err := engine.Apply(ctx, domain.StatusEvent{
		Channel:           domain.ChannelQRGateway,
		ExternalMessageID: "wamid.q1",
		Status:            domain.StatusDelivered,
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	assertCounters(t, db, "qr_campaigns", "qcamp-1", 1, 0, 0, 0)
}

func TestConversationAcceptExclusive(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	svc := convo.New(st)

	insertTenant(t, db, "t1")
	conv, err := svc.FindOrCreate(ctx, "t1", "+5511999990000", "Maria", "waba-1", "")
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}
	if conv.Status != "pending" {
		t.Fatalf("new conversation status = %s", conv.Status)
	}

	if err := svc.Accept(ctx, "t1", conv.ID, "agent-1"); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if err := svc.Accept(ctx, "t1", conv.ID, "agent-2"); err != domain.ErrInvalidTransition {
		t.Fatalf("second accept: expected ErrInvalidTransition, got %v", err)
	}

	got, err := svc.Get(ctx, "t1", conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "open" || got.AttendedByUserID != "agent-1" {
		t.Fatalf("conversation after races: %+v", got)
	}
}

func TestInboundDedupAndMarkRead(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	svc := convo.New(st)

	insertTenant(t, db, "t1")

	req := domain.InboundMessageRequest{
		TenantID:          "t1",
		PhoneNumber:       "+5511999990000",
		WhatsappAccountID: "waba-1",
		WhatsappMessageID: "wamid.in1",
		Content:           "oi",
	}
	conv, inserted, err := svc.RecordInbound(ctx, req)
	if err != nil || !inserted {
		t.Fatalf("first inbound: inserted=%v err=%v", inserted, err)
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("unread = %d", conv.UnreadCount)
	}

	// provider redelivery of the same wamid must not double count
	conv, inserted, err = svc.RecordInbound(ctx, req)
	if err != nil {
		t.Fatalf("redelivered inbound: %v", err)
	}
	if inserted {
		t.Fatalf("redelivered wamid inserted twice")
	}
	if conv.UnreadCount != 1 {
		t.Fatalf("unread after redelivery = %d", conv.UnreadCount)
	}

	if err := svc.MarkRead(ctx, "t1", conv.ID, "agent-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	got, err := svc.Get(ctx, "t1", conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UnreadCount != 0 {
		t.Fatalf("unread after mark read = %d", got.UnreadCount)
	}
	var unread int
	if err := db.QueryRow(ctx, `
		SELECT count(*) FROM conversation_messages
		WHERE conversation_id=$1 AND direction='inbound' AND is_read_by_agent=false
	`, conv.ID).Scan(&unread); err != nil {
		t.Fatalf("count unread rows: %v", err)
	}
	if unread != 0 {
		t.Fatalf("%d inbound rows still unread", unread)
	}
}

type stubDispatcher struct {
	out dispatch.Outcome
}

func (d stubDispatcher) Send(ctx context.Context, conv store.Conversation, req dispatch.Request) dispatch.Outcome {
	return d.out
}

func TestChatSendToNewContact(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	convSvc := convo.New(st)

	insertTenant(t, db, "t1")
	conv, err := convSvc.FindOrCreate(ctx, "t1", "+5511999990000", "", "waba-1", "")
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}

	chat := service.NewChat(st, stubDispatcher{out: dispatch.Outcome{
		OK: true, Channel: domain.ChannelOfficialAPI, ExternalMessageID: "wamid.sent1",
	}})

	msg, err := chat.SendMessage(ctx, "t1", conv.ID, "agent-1", domain.SendMessageRequest{
		MessageType:    "text",
		MessageContent: "chegou!",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Status != "sent" || msg.WhatsappMessageID != "wamid.sent1" {
		t.Fatalf("chat message: %+v", msg)
	}

	got, err := convSvc.Get(ctx, "t1", conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastMessageDirection != "outbound" {
		t.Fatalf("last_message_direction = %s", got.LastMessageDirection)
	}

	// the history row is now reconcilable by wamid
	hist, found, err := st.FindMessageByExternalID(ctx, "official_api", "wamid.sent1")
	if err != nil || !found {
		t.Fatalf("history lookup: found=%v err=%v", found, err)
	}
	if hist.Status != "sent" {
		t.Fatalf("history status = %s", hist.Status)
	}
}

func seedOutboundMessage(t *testing.T, st *pg.Store, tenantID, msgID, campaignID, channel, wamid string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := st.InsertMessage(ctx, store.MessageInsert{
		ID:          msgID,
		TenantID:    tenantID,
		CampaignID:  campaignID,
		PhoneNumber: "+5511999990000",
		Direction:   "outbound",
		Channel:     channel,
		Status:      "pending",
		Content:     "hello",
		Now:         now,
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if err := st.SetMessageDispatchResult(ctx, store.DispatchResultUpdate{
		MessageID:         msgID,
		TenantID:          tenantID,
		Status:            "sent",
		ExternalMessageID: wamid,
		Now:               now,
	}); err != nil {
		t.Fatalf("set dispatch result: %v", err)
	}
}

func insertTenant(t *testing.T, db *pgxpool.Pool, tenantID string) {
	t.Helper()
	_, err := db.Exec(context.Background(), `INSERT INTO tenants (id, name) VALUES ($1, $1)`, tenantID)
	if err != nil {
		t.Fatalf("insert tenant: %v", err)
	}
}

func insertCampaign(t *testing.T, db *pgxpool.Pool, table, tenantID, campaignID string) {
	t.Helper()
	_, err := db.Exec(context.Background(),
		fmt.Sprintf(`INSERT INTO %s (id, tenant_id, name) VALUES ($1, $2, $1)`, table), campaignID, tenantID)
	if err != nil {
		t.Fatalf("insert campaign: %v", err)
	}
}

func assertMessageStatusDB(t *testing.T, db *pgxpool.Pool, msgID, want string) {
	t.Helper()
	var got string
	err := db.QueryRow(context.Background(), `SELECT status FROM messages WHERE id=$1`, msgID).Scan(&got)
	if err != nil {
		t.Fatalf("select status: %v", err)
	}
	if got != want {
		t.Fatalf("expected status %s, got %s", want, got)
	}
}

func assertCounters(t *testing.T, db *pgxpool.Pool, table, campaignID string, delivered, read, failed, noWhatsapp int) {
	t.Helper()
	var d, r, f, nw int
	err := db.QueryRow(context.Background(), fmt.Sprintf(`
		SELECT delivered_count, read_count, failed_count, no_whatsapp_count FROM %s WHERE id=$1
	`, table), campaignID).Scan(&d, &r, &f, &nw)
	if err != nil {
		t.Fatalf("select counters: %v", err)
	}
	if d != delivered || r != read || f != failed || nw != noWhatsapp {
		t.Fatalf("counters = delivered %d read %d failed %d no_whatsapp %d, want %d/%d/%d/%d",
			d, r, f, nw, delivered, read, failed, noWhatsapp)
	}
}

func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN not set")
	}

	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	admin, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect admin db: %v", err)
	}

	_, err = admin.Exec(context.Background(), "CREATE SCHEMA "+schema)
	if err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	dbDSN, err := withSearchPath(dsn, schema)
	if err != nil {
		admin.Close()
		t.Fatalf("build dsn: %v", err)
	}

	db, err := pgxpool.New(context.Background(), dbDSN)
	if err != nil {
		admin.Close()
		t.Fatalf("connect test db: %v", err)
	}

	sqlPath := filepath.Join("..", "..", "migrations", "001_init.sql")
	sqlBytes, err := os.ReadFile(sqlPath)
	if err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("read migrations: %v", err)
	}

	if _, err := db.Exec(context.Background(), string(sqlBytes)); err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	}

	return db, cleanup
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	opts := q.Get("options")
	if opts != "" {
		opts = opts + " -c search_path=" + schema
	} else {
		opts = "-c search_path=" + schema
	}
	q.Set("options", opts)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
