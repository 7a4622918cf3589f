// Package rest is the HTTP surface: sending (single and batch), group
// membership, message lookup/mutation and the paged history listing.
package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/playcore-platform/message-delivery-service/internal/auth"
	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
	"github.com/playcore-platform/message-delivery-service/internal/group"
	"github.com/playcore-platform/message-delivery-service/internal/history"
	"github.com/playcore-platform/message-delivery-service/internal/queue"
)

const defaultPageSize = 100

// Sender is the engine surface the REST endpoints enqueue through.
type Sender interface {
	QueueMessage(ctx context.Context, gamespaceID, sender string, rcpt model.Recipient, messageType string, payload map[string]any, flags []string) bool
	AddMessages(ctx context.Context, gamespaceID, sender string, batch []queue.Outgoing) (int, error)
}

type RESTHandler struct {
	logger   *slog.Logger
	verifier *auth.Verifier
	store    *history.Store
	groups   *group.Directory
	sender   Sender
}

func NewRESTHandler(logger *slog.Logger, verifier *auth.Verifier, store *history.Store, groups *group.Directory, sender Sender) *RESTHandler {
	return &RESTHandler{
		logger:   logger,
		verifier: verifier,
		store:    store,
		groups:   groups,
		sender:   sender,
	}
}

func (h *RESTHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/send/{class}/{key}", h.withSession(h.sendMessage))
	r.Post("/send", h.withSession(h.sendBatch))

	r.Post("/group", h.withSession(h.createGroup))
	r.Post("/group/{class}/{key}/join", h.withSession(h.joinGroup))
	r.Post("/group/{class}/{key}/leave", h.withSession(h.leaveGroup))
	r.Get("/group/{class}/{key}/participants", h.withSession(h.listGroupParticipants))
	r.Get("/group/{class}/{key}", h.withSession(h.groupInbox))
	r.Delete("/group/{class}/{key}", h.withSession(h.deleteGroup))

	r.Get("/read_messages", h.withSession(h.listReadMessages))

	r.Get("/message/{uuid}", h.withSession(h.getMessage))
	r.Put("/message/{uuid}", h.withSession(h.updateMessage))
	r.Delete("/message/{uuid}", h.withSession(h.deleteMessage))

	r.Get("/messages", h.withSession(h.listMessages))

	return r
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *auth.Session)

func (h *RESTHandler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.verifier.FromRequest(r)
		if err != nil {
			h.writeError(w, err)
			return
		}
		next(w, r, sess)
	}
}

func (h *RESTHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("RESPONSE_WRITE_FAILED", "err", err)
	}
}

// writeError maps service error kinds onto HTTP codes. Storage and broker
// details stay in the log.
func (h *RESTHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch model.KindOf(err) {
	case model.KindBadInput:
		status, message = http.StatusBadRequest, err.Error()
	case model.KindNotFound:
		status, message = http.StatusNotFound, err.Error()
	case model.KindConflict, model.KindAlreadyExists:
		status, message = http.StatusConflict, err.Error()
	case model.KindUnauthorized:
		status, message = http.StatusUnauthorized, err.Error()
	case model.KindTimeout:
		status, message = http.StatusGatewayTimeout, "operation timed out"
	default:
		h.logger.Error("REQUEST_FAILED", "err", err)
	}

	h.writeJSON(w, status, map[string]string{"error": message})
}

type messageView struct {
	UUID           string         `json:"uuid"`
	Sender         string         `json:"sender"`
	RecipientClass string         `json:"recipient_class"`
	Recipient      string         `json:"recipient"`
	MessageType    string         `json:"message_type"`
	Payload        map[string]any `json:"payload"`
	Time           int64          `json:"time"`
	Delivered      bool           `json:"delivered"`
	Flags          []string       `json:"flags,omitempty"`
}

func viewOf(m *model.Message) messageView {
	return messageView{
		UUID:           m.MessageUUID,
		Sender:         m.Sender,
		RecipientClass: m.RecipientClass,
		Recipient:      m.Recipient,
		MessageType:    m.MessageType,
		Payload:        m.Payload,
		Time:           m.Time.UTC().Unix(),
		Delivered:      m.Delivered,
		Flags:          m.Flags.List(),
	}
}

func viewsOf(msgs []*model.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, viewOf(m))
	}
	return out
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
