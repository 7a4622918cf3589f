package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playcore-platform/message-delivery-service/internal/auth"
	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
	"github.com/playcore-platform/message-delivery-service/internal/queue"
)

type sendRequest struct {
	MessageType string         `json:"message_type"`
	Message     map[string]any `json:"message"`
	Flags       []string       `json:"flags"`
}

func (h *RESTHandler) sendMessage(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, model.NewError(model.KindBadInput, "malformed request body"))
		return
	}
	if req.MessageType == "" || req.Message == nil {
		h.writeError(w, model.NewError(model.KindBadInput, "message_type and message are required"))
		return
	}
	if !model.ValidFlags(req.Flags) {
		h.writeError(w, model.NewError(model.KindBadInput, "unrecognized message flags"))
		return
	}

	rcpt := model.Recipient{Class: chi.URLParam(r, "class"), Key: chi.URLParam(r, "key")}
	enqueued := h.sender.QueueMessage(r.Context(), sess.GamespaceID, sess.AccountID,
		rcpt, req.MessageType, req.Message, req.Flags)

	h.writeJSON(w, http.StatusOK, map[string]bool{"enqueued": enqueued})
}

type batchEntry struct {
	RecipientClass string         `json:"recipient_class"`
	RecipientKey   string         `json:"recipient_key"`
	MessageType    string         `json:"message_type"`
	Message        map[string]any `json:"message"`
	Flags          []string       `json:"flags"`
}

type batchRequest struct {
	Messages []batchEntry `json:"messages"`
}

func (h *RESTHandler) sendBatch(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, model.NewError(model.KindBadInput, "malformed request body"))
		return
	}
	if len(req.Messages) == 0 {
		h.writeError(w, model.NewError(model.KindBadInput, "messages are required"))
		return
	}

	batch := make([]queue.Outgoing, 0, len(req.Messages))
	for _, entry := range req.Messages {
		batch = append(batch, queue.Outgoing{
			Recipient:   model.Recipient{Class: entry.RecipientClass, Key: entry.RecipientKey},
			MessageType: entry.MessageType,
			Payload:     entry.Message,
			Flags:       entry.Flags,
		})
	}

	enqueued, err := h.sender.AddMessages(r.Context(), sess.GamespaceID, sess.AccountID, batch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"enqueued": enqueued})
}

type joinRequest struct {
	Role string `json:"role"`
}

func (h *RESTHandler) joinGroup(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	g, err := h.groups.FindGroup(r.Context(), sess.GamespaceID, chi.URLParam(r, "class"), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req joinRequest
	if r.Body != nil {
		// Role is optional; an empty body means a plain member.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Role == "" {
		req.Role = "member"
	}

	p, err := h.groups.Join(r.Context(), g, sess.AccountID, req.Role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"participation_id": p.ParticipationID,
		"group_id":         p.GroupID,
		"role":             p.Role,
		"cluster_id":       p.ClusterID,
	})
}

// groupInbox lists the stored messages of the caller's stream within a
// group. Non-participants get 406: the group exists, the caller just has
// no stream in it.
func (h *RESTHandler) groupInbox(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	g, err := h.groups.FindGroup(r.Context(), sess.GamespaceID, chi.URLParam(r, "class"), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	p, err := h.groups.FindParticipant(r.Context(), sess.GamespaceID, g.GroupID, sess.AccountID)
	if err != nil {
		if model.IsKind(err, model.KindNotFound) {
			h.writeJSON(w, http.StatusNotAcceptable, map[string]string{"error": "not a participant"})
			return
		}
		h.writeError(w, err)
		return
	}

	gp := model.GroupParticipation{Group: *g, Participation: *p}
	limit := intQuery(r, "limit", defaultPageSize)

	messages, err := h.store.ListIncoming(r.Context(), sess.GamespaceID, gp.Recipient(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"messages": viewsOf(messages)})
}

func (h *RESTHandler) getMessage(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	m, err := h.store.GetMessageUUID(r.Context(), sess.GamespaceID, chi.URLParam(r, "uuid"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(m))
}

type updateRequest struct {
	Payload map[string]any `json:"payload"`
}

func (h *RESTHandler) updateMessage(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, model.NewError(model.KindBadInput, "malformed request body"))
		return
	}

	merged, err := h.store.UpdateMessageConcurrent(r.Context(), sess.GamespaceID, sess.AccountID,
		chi.URLParam(r, "uuid"), req.Payload, sess.Authoritative())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"payload": merged})
}

func (h *RESTHandler) deleteMessage(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	err := h.store.DeleteMessageConcurrent(r.Context(), sess.GamespaceID, sess.AccountID,
		chi.URLParam(r, "uuid"), sess.Authoritative())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// listMessages pages through everything the caller can see. Without
// filters that is the account union (group streams, direct inbox, sent);
// any filter parameter switches to the raw filtered query instead.
func (h *RESTHandler) listMessages(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	limit := intQuery(r, "limit", defaultPageSize)
	offset := intQuery(r, "offset", 0)

	params := r.URL.Query()
	filtered := params.Get("sender") != "" || params.Get("recipient_class") != "" ||
		params.Get("recipient") != "" || params.Get("message_type") != "" ||
		params.Get("delivered") != ""

	if !filtered {
		messages, total, err := h.store.ListMessagesAccount(r.Context(), sess.GamespaceID, sess.AccountID, limit, offset)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{
			"messages": viewsOf(messages),
			"total":    total,
		})
		return
	}

	q := h.store.Query(sess.GamespaceID).WithLimit(limit).WithOffset(offset)
	if v := params.Get("sender"); v != "" {
		q = q.WithSender(v)
	}
	if v := params.Get("recipient_class"); v != "" {
		q = q.WithRecipientClass(v)
	}
	if v := params.Get("recipient"); v != "" {
		q = q.WithRecipient(v)
	}
	if v := params.Get("message_type"); v != "" {
		q = q.WithType(v)
	}
	if v := params.Get("delivered"); v != "" {
		q = q.WithDelivered(v == "true" || v == "1")
	}

	messages, total, err := q.Do(r.Context(), true)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"messages": viewsOf(messages),
		"total":    total,
	})
}
