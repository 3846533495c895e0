// mock-gateway emulates both WhatsApp send backends for local development:
// the Meta Graph messages endpoint and the QR-session gateway endpoints. It
// assigns wamids and fires delivery-status callbacks, optionally out of order
// and with injected failures, which is what the reconciliation path needs to
// be tested against.
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
)

type config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	APIKey    string `envconfig:"MOCK_API_KEY" default:"mock_key"`
	AppSecret string `envconfig:"MOCK_APP_SECRET" default:""`

	WebhookURL  string  `envconfig:"MOCK_WEBHOOK_URL" default:""`
	SuccessRate float64 `envconfig:"MOCK_SUCCESS_RATE" default:"0.95"`
	FailureMsg  string  `envconfig:"MOCK_FAILURE_MESSAGE" default:"recipient_not_on_whatsapp"`

	DelayMs         int  `envconfig:"MOCK_DELAY_MS" default:"0"`
	StatusDelayMs   int  `envconfig:"MOCK_STATUS_DELAY_MS" default:"300"`
	ShuffleStatuses bool `envconfig:"MOCK_SHUFFLE_STATUSES" default:"true"`

	WebhookMaxRetries  int `envconfig:"MOCK_WEBHOOK_MAX_RETRIES" default:"5"`
	WebhookRetryBaseMs int `envconfig:"MOCK_WEBHOOK_RETRY_BASE_MS" default:"250"`

	Delay       time.Duration
	StatusDelay time.Duration
	RetryBase   time.Duration
}

type server struct {
	cfg    config
	idx    uint64
	rng    *rand.Rand
	rngMu  sync.Mutex
	client *http.Client
}

func main() {
	cfg := loadConfig()
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h).With("service", "mock-gateway"))

	s := &server{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		client: &http.Client{Timeout: 5 * time.Second},
	}

	router := mux.NewRouter()
	router.HandleFunc("/{version}/{phoneNumberID}/messages", s.handleGraphSend).Methods(http.MethodPost)
	router.HandleFunc("/message/sendText/{instance}", s.handleGatewaySend).Methods(http.MethodPost)
	router.HandleFunc("/message/sendMedia/{instance}", s.handleGatewaySend).Methods(http.MethodPost)

	slog.Info("mock gateway listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, logMiddleware(router)); err != nil {
		slog.Error("mock gateway server failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig() config {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("mock gateway config load failed", "err", err)
		os.Exit(1)
	}
	cfg.WebhookURL = strings.TrimSpace(cfg.WebhookURL)
	cfg.Delay = time.Duration(cfg.DelayMs) * time.Millisecond
	cfg.StatusDelay = time.Duration(cfg.StatusDelayMs) * time.Millisecond
	if cfg.WebhookRetryBaseMs <= 0 {
		cfg.WebhookRetryBaseMs = 250
	}
	cfg.RetryBase = time.Duration(cfg.WebhookRetryBaseMs) * time.Millisecond
	if cfg.WebhookMaxRetries < 0 {
		cfg.WebhookMaxRetries = 0
	}
	return cfg
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("mock gateway request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *server) nextWamid() string {
	return fmt.Sprintf("wamid.MOCK%012d", atomic.AddUint64(&s.idx, 1))
}

func (s *server) succeeds() bool {
	s.rngMu.Lock()
	v := s.rng.Float64()
	s.rngMu.Unlock()
	return v < s.cfg.SuccessRate
}

func (s *server) maybeDelay(ctx context.Context) {
	if s.cfg.Delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.cfg.Delay):
	}
}

func (s *server) handleGraphSend(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= len("Bearer ") {
		writeGraphError(w, http.StatusUnauthorized, 190, "Invalid OAuth access token")
		return
	}
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeGraphError(w, http.StatusBadRequest, 100, "Invalid parameter")
		return
	}
	if payload["to"] == nil || payload["to"] == "" {
		writeGraphError(w, http.StatusBadRequest, 100, "Missing recipient")
		return
	}

	s.maybeDelay(r.Context())

	wamid := s.nextWamid()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"messaging_product": "whatsapp",
		"messages":          []map[string]string{{"id": wamid}},
	})
	s.statusSequence(wamid, "official_api")
}

func (s *server) handleGatewaySend(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != s.cfg.APIKey {
		http.Error(w, `{"status":"error","message":"invalid api key"}`, http.StatusUnauthorized)
		return
	}
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, `{"status":"error","message":"invalid body"}`, http.StatusBadRequest)
		return
	}
	if payload["number"] == nil || payload["number"] == "" {
		http.Error(w, `{"status":"error","message":"number is required"}`, http.StatusBadRequest)
		return
	}

	s.maybeDelay(r.Context())

	wamid := s.nextWamid()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"key":    map[string]string{"id": wamid},
		"status": "PENDING",
	})
	s.statusSequence(wamid, "qr_gateway")
}

// statusSequence fires sent then delivered then read callbacks, or a single
// failed one. With shuffling enabled, read occasionally beats delivered to the
// wire, which is what real providers do.
func (s *server) statusSequence(wamid, channel string) {
	if s.cfg.WebhookURL == "" {
		return
	}
	go func() {
		if !s.succeeds() {
			time.Sleep(s.cfg.StatusDelay)
			s.postStatus(wamid, channel, "failed", s.cfg.FailureMsg)
			return
		}

		statuses := []string{"sent", "delivered", "read"}
		if s.cfg.ShuffleStatuses {
			s.rngMu.Lock()
			swap := s.rng.Float64() < 0.2
			s.rngMu.Unlock()
			if swap {
				statuses = []string{"sent", "read", "delivered"}
			}
		}
		for _, st := range statuses {
			time.Sleep(s.cfg.StatusDelay)
			s.postStatus(wamid, channel, st, "")
		}
	}()
}

func (s *server) postStatus(wamid, channel, status, errMsg string) {
	now := time.Now().UTC().Format(time.RFC3339)
	body, _ := json.Marshal(map[string]any{
		"whatsapp_message_id": wamid,
		"channel":             channel,
		"status":              status,
		"error_message":       errMsg,
		"timestamp":           now,
	})

	maxAttempts := s.cfg.WebhookMaxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, _ := http.NewRequest(http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if s.cfg.AppSecret != "" {
			mac := hmac.New(sha256.New, []byte(s.cfg.AppSecret))
			mac.Write(body)
			req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
		}

		resp, err := s.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_ = resp.Body.Close()
			return
		}
		code := 0
		if resp != nil {
			code = resp.StatusCode
			_ = resp.Body.Close()
		}
		// 404 means the receiver has not persisted the message yet; keep
		// retrying, same as a real provider redelivery.
		if attempt == maxAttempts-1 {
			slog.Error("mock status callback failed", "wamid", wamid, "status", status, "http_status", code, "err", err)
			return
		}
		wait := s.cfg.RetryBase * time.Duration(1<<attempt)
		slog.Warn("mock status callback retrying", "wamid", wamid, "status", status, "http_status", code, "wait_ms", wait.Milliseconds())
		time.Sleep(wait)
	}
}

func writeGraphError(w http.ResponseWriter, httpStatus, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "OAuthException",
			"code":    code,
		},
	})
}
