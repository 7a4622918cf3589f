// Package ws serves the live conversation surface: one WebSocket per
// session, JSON-RPC both ways.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/playcore-platform/message-delivery-service/internal/auth"
	"github.com/playcore-platform/message-delivery-service/internal/conversation"
)

type WSHandler struct {
	logger   *slog.Logger
	verifier *auth.Verifier
	registry *conversation.Registry
	upgrader websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, verifier *auth.Verifier, registry *conversation.Registry) *WSHandler {
	return &WSHandler{
		logger:   logger,
		verifier: verifier,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := h.verifier.FromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer conn.Close()

	s := &session{logger: h.logger.With("account", sess.AccountID)}
	s.peer = newPeer(conn, s.dispatch, s.logger)

	// The read loop must be live before attach: the drain pushes through
	// the peer and awaits the client's replies.
	go s.peer.run(r.Context())

	conv, err := h.registry.Attach(r.Context(), sess.GamespaceID, sess.AccountID, sess.Authoritative(), s)
	if err != nil {
		h.logger.Error("WS_ATTACH_FAILED", "account", sess.AccountID, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "attach failed"),
			time.Now().Add(time.Second))
		return
	}
	s.bind(conv)
	defer h.registry.Detach(sess.GamespaceID, conv)

	h.logger.Info("WS_SESSION_OPENED", "account", sess.AccountID)

	select {
	case <-s.peer.closed:
	case <-r.Context().Done():
	}

	h.logger.Info("WS_SESSION_CLOSED", "account", sess.AccountID)
}
