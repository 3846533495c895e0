package qrgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendMessageText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message/sendText/inst-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("apikey"); got != "key-1" {
			t.Errorf("missing apikey header, got %q", got)
		}
		var p sendTextPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		if p.Number != "+5511999990000" || p.Text != "oi" {
			t.Errorf("bad payload: %+v", p)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":{"id":"BAE5F4A0"},"status":"PENDING"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "key-1", 2*time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	id, status, err := c.SendMessage(context.Background(), SendRequest{
		InstanceID: "inst-1", To: "+5511999990000", Body: "oi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "BAE5F4A0" || status != 200 {
		t.Fatalf("unexpected result id=%q status=%d", id, status)
	}
}

func TestSendMessageGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`{"message":"instance not connected"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "key-1", 2*time.Second)
	_, status, err := c.SendMessage(context.Background(), SendRequest{InstanceID: "inst-1", To: "+551", Body: "x"})
	if err == nil || err.Error() != "instance not connected" {
		t.Fatalf("gateway message not surfaced: %v", err)
	}
	if status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "key", time.Second); err == nil {
		t.Fatalf("empty baseURL accepted")
	}
	if _, err := NewClient("http://x", "", time.Second); err == nil {
		t.Fatalf("empty apikey accepted")
	}
}
