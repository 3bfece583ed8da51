// Package chatapi serves Konnect's chat HTTP API: chat and message listings, outbound send,
// the single-event webhook, mark-read and the presence stub.
package chatapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"konnect/cmd/internal/chat"
	v1 "konnect/shared/contracts/live/v1"
	"konnect/shared/contracts/webhook"
)

const (
	maxSendBodyBytes    = 64 << 10
	maxWebhookBodyBytes = 1 << 20
)

// Handler exposes chat.Service and chat.Normalizer over HTTP.
type Handler struct {
	log  *slog.Logger
	svc  *chat.Service
	norm *chat.Normalizer
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, svc *chat.Service, norm *chat.Normalizer) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, svc: svc, norm: norm}
}

// Register mounts the routes on r. Callers usually pass the /api subrouter.
// A path that exists under another method answers 405.
func (h *Handler) Register(r *mux.Router) {
	if r.MethodNotAllowedHandler == nil {
		r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}
	r.HandleFunc("/chats", h.listChats).Methods(http.MethodGet)
	r.HandleFunc("/chats/{chatId}/messages", h.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/chats/{chatId}/read", h.markRead).Methods(http.MethodPut)
	r.HandleFunc("/messages", h.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/webhook", h.webhook).Methods(http.MethodPost)
	r.HandleFunc("/contacts", h.listChats).Methods(http.MethodGet)
	r.HandleFunc("/user/{userId}/status", h.userStatus).Methods(http.MethodGet)
	r.HandleFunc("/user/status/{userId}", h.userStatus).Methods(http.MethodGet)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeFailure(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
}

func (h *Handler) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.svc.ListChats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.ListMessages(r.Context(), mux.Vars(r)["chatId"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req v1.SendMessageRequest
	if err := decodeJSON(w, r, maxSendBodyBytes, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), req.ChatID, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	var p webhook.Payload
	if err := decodeJSON(w, r, maxWebhookBodyBytes, &p); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid webhook payload: "+err.Error())
		return
	}

	m, inserted, err := h.norm.IngestSingle(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msg := "Webhook processed successfully"
	if !inserted {
		msg = "Duplicate message ignored"
	}
	h.log.Debug("webhook.single.ok", "message_id", m.MessageID, "inserted", inserted)
	writeJSON(w, http.StatusOK, v1.Result{Success: true, Message: msg})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.MarkChatRead(r.Context(), mux.Vars(r)["chatId"]); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v1.Result{Success: true})
}

func (h *Handler) userStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.UserStatus(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// fail maps chat errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("api.request.fail", "path", r.URL.Path, "err", err)
	}

	msg := err.Error()
	if errors.Is(err, chat.ErrNotFound) {
		msg = "Contact not found"
	}
	writeFailure(w, status, strings.TrimSpace(msg))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
