package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playcore-platform/message-delivery-service/internal/auth"
	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

// Group management mirrors the service-side admin flows: creating and
// removing groups is an authoritative-sender operation, membership listing
// and leaving are open to participants.

type createGroupRequest struct {
	Class         string `json:"class"`
	Key           string `json:"key"`
	StoreMessages *bool  `json:"store_messages"`
	Clustered     bool   `json:"clustered"`
	ClusterSize   int    `json:"cluster_size"`
}

func (h *RESTHandler) createGroup(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	if !sess.Authoritative() {
		h.writeError(w, model.NewError(model.KindUnauthorized, "authoritative scope required"))
		return
	}

	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, model.NewError(model.KindBadInput, "malformed request body"))
		return
	}
	if req.Class == "" || req.Key == "" {
		h.writeError(w, model.NewError(model.KindBadInput, "class and key are required"))
		return
	}

	storeMessages := true
	if req.StoreMessages != nil {
		storeMessages = *req.StoreMessages
	}

	groupID, err := h.groups.AddGroup(r.Context(), sess.GamespaceID,
		req.Class, req.Key, storeMessages, req.Clustered, req.ClusterSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"group_id": groupID})
}

func (h *RESTHandler) deleteGroup(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	if !sess.Authoritative() {
		h.writeError(w, model.NewError(model.KindUnauthorized, "authoritative scope required"))
		return
	}

	g, err := h.groups.FindGroup(r.Context(), sess.GamespaceID, chi.URLParam(r, "class"), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.groups.DeleteGroup(r.Context(), sess.GamespaceID, g.GroupID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *RESTHandler) leaveGroup(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	g, err := h.groups.FindGroup(r.Context(), sess.GamespaceID, chi.URLParam(r, "class"), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.groups.Leave(r.Context(), sess.GamespaceID, g.GroupID, sess.AccountID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"left": true})
}

func (h *RESTHandler) listGroupParticipants(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	g, err := h.groups.FindGroup(r.Context(), sess.GamespaceID, chi.URLParam(r, "class"), chi.URLParam(r, "key"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	participants, err := h.groups.ListParticipants(r.Context(), sess.GamespaceID, g.GroupID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(participants))
	for _, p := range participants {
		views = append(views, map[string]any{
			"account":    p.AccountID,
			"role":       p.Role,
			"cluster_id": p.ClusterID,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"participants": views})
}

// listReadMessages returns the caller's per-stream read watermarks.
func (h *RESTHandler) listReadMessages(w http.ResponseWriter, r *http.Request, sess *auth.Session) {
	watermarks, err := h.store.ListReadMessages(r.Context(), sess.GamespaceID, sess.AccountID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]map[string]any, 0, len(watermarks))
	for _, wm := range watermarks {
		views = append(views, map[string]any{
			"recipient_class": wm.RecipientClass,
			"recipient":       wm.Recipient,
			"last_uuid":       wm.LastMessageUUID,
			"last_time":       wm.LastMessageTime.UTC().Unix(),
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"read_messages": views})
}
