package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"wamsg/internal/convo"
	"wamsg/internal/domain"
	"wamsg/internal/service"
)

// API is the agent-facing surface: conversation inbox operations plus the
// synchronous chat send. Tenant comes from the X-Tenant-ID header, the acting
// agent from X-User-ID.
type API struct {
	Chat  *service.ChatService
	Convo *convo.Service
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/conversations", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{id}/messages", a.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{id}/messages", a.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{id}/accept", a.handleAccept).Methods(http.MethodPut)
	r.HandleFunc("/v1/conversations/{id}/archive", a.handleArchive).Methods(http.MethodPut)
	r.HandleFunc("/v1/conversations/{id}/unarchive", a.handleUnarchive).Methods(http.MethodPut)
	r.HandleFunc("/v1/conversations/{id}/read", a.handleMarkRead).Methods(http.MethodPut)
	r.HandleFunc("/v1/messages/{id}", a.handleGetMessage).Methods(http.MethodGet)
}

func tenantID(r *http.Request) string { return r.Header.Get("X-Tenant-ID") }
func userID(r *http.Request) string   { return r.Header.Get("X-User-ID") }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
// Anything unrecognized is a dependency fault.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingFields),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAmbiguousChannel),
		errors.Is(err, domain.ErrNoChannel):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrMessageNotFound):
		http.Error(w, ErrNotFound, http.StatusNotFound)
	default:
		http.Error(w, ErrDependency, http.StatusBadGateway)
	}
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		http.Error(w, ErrMissingTenant, http.StatusBadRequest)
		return
	}
	convID := mux.Vars(r)["id"]

	var req domain.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	msg, err := a.Chat.SendMessage(r.Context(), tenant, convID, userID(r), req)
	if err != nil {
		slog.Error("chat send failed",
			"err", err,
			"tenant_id", tenant,
			"conversation_id", convID,
		)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		http.Error(w, ErrMissingTenant, http.StatusBadRequest)
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	convs, err := a.Convo.List(r.Context(), tenant, r.URL.Query().Get("status"), limit)
	if err != nil {
		slog.Error("list conversations failed", "err", err, "tenant_id", tenant)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		http.Error(w, ErrMissingTenant, http.StatusBadRequest)
		return
	}
	conv, err := a.Convo.Get(r.Context(), tenant, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		http.Error(w, ErrMissingTenant, http.StatusBadRequest)
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := a.Chat.ListMessages(r.Context(), tenant, mux.Vars(r)["id"], limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) handleAccept(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		http.Error(w, ErrMissingTenant, http.StatusBadRequest)
		return
	}
	user := userID(r)
	if user == "" {
		http.Error(w, ErrMissingUser, http.StatusBadRequest)
		return
	}
	if err := a.Convo.Accept(r.Context(), tenant, mux.Vars(r)["id"], user); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleArchive(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		http.Error(w, ErrMissingTenant, http.StatusBadRequest)
		return
	}
	if err := a.Convo.Archive(r.Context(), tenant, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleUnarchive(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		http.Error(w, ErrMissingTenant, http.StatusBadRequest)
		return
	}
	if err := a.Convo.Unarchive(r.Context(), tenant, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		http.Error(w, ErrMissingTenant, http.StatusBadRequest)
		return
	}
	if err := a.Convo.MarkRead(r.Context(), tenant, mux.Vars(r)["id"], userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		http.Error(w, ErrMissingTenant, http.StatusBadRequest)
		return
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	msg, found, err := a.Chat.GetMessage(r.Context(), tenant, id)
	if err != nil {
		slog.Error("get message failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
