package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/playcore-platform/message-delivery-service/internal/conversation"
	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

// Push methods the server calls on the client.
const (
	methodMessage        = "message"
	methodMessageUpdated = "message_updated"
	methodMessageDeleted = "message_deleted"
)

var _ conversation.Pusher = (*session)(nil)

// session glues one WebSocket peer to its conversation: pushes go out as
// RPC calls whose boolean result becomes the delivery ack, client calls
// come back in through dispatch.
type session struct {
	peer   *peer
	logger *slog.Logger

	mu   sync.Mutex
	conv *conversation.Conversation
}

func (s *session) bind(conv *conversation.Conversation) {
	s.mu.Lock()
	s.conv = conv
	s.mu.Unlock()
}

func (s *session) conversation() *conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// pushParams is the outbound message shape.
type pushParams struct {
	UUID           string         `json:"uuid"`
	Sender         string         `json:"sender"`
	RecipientClass string         `json:"recipient_class,omitempty"`
	RecipientKey   string         `json:"recipient_key,omitempty"`
	MessageType    string         `json:"message_type,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Time           int64          `json:"time,omitempty"`
	Flags          []string       `json:"flags,omitempty"`
}

func (s *session) push(ctx context.Context, method string, params pushParams) bool {
	result, err := s.peer.Call(ctx, method, params)
	if err != nil {
		s.logger.Debug("SESSION_PUSH_REJECTED", "method", method, "err", err)
		return false
	}
	var ok bool
	if err := json.Unmarshal(result, &ok); err != nil {
		return false
	}
	return ok
}

func (s *session) PushMessage(ctx context.Context, env *model.Envelope) bool {
	return s.push(ctx, methodMessage, pushParams{
		UUID:           env.MessageUUID,
		Sender:         env.Sender,
		RecipientClass: env.RecipientClass,
		RecipientKey:   env.RecipientKey,
		MessageType:    env.MessageType,
		Payload:        env.Payload,
		Time:           env.Time,
		Flags:          env.Flags,
	})
}

func (s *session) PushMessageUpdated(ctx context.Context, env *model.Envelope) bool {
	return s.push(ctx, methodMessageUpdated, pushParams{
		UUID:    env.MessageUUID,
		Sender:  env.Sender,
		Payload: env.Payload,
	})
}

func (s *session) PushMessageDeleted(ctx context.Context, env *model.Envelope) bool {
	return s.push(ctx, methodMessageDeleted, pushParams{
		UUID:   env.MessageUUID,
		Sender: env.Sender,
	})
}

type sendParams struct {
	RecipientClass string         `json:"recipient_class"`
	RecipientKey   string         `json:"recipient_key"`
	MessageType    string         `json:"message_type"`
	Message        map[string]any `json:"message"`
	Flags          []string       `json:"flags"`
}

type messageIDParams struct {
	MessageID string         `json:"message_id"`
	Payload   map[string]any `json:"payload"`
}

// dispatch serves the client-callable surface.
func (s *session) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *rpcError) {
	conv := s.conversation()
	if conv == nil {
		return nil, &rpcError{Code: 503, Message: "session is still attaching"}
	}

	switch method {
	case "send_message":
		var p sendParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: "malformed params"}
		}
		delivered, err := conv.SendMessage(ctx, p.RecipientClass, p.RecipientKey, p.MessageType, p.Message, p.Flags)
		if err != nil {
			return nil, errorFrom(err)
		}
		return delivered, nil

	case "delete_message":
		var p messageIDParams
		if err := json.Unmarshal(params, &p); err != nil || p.MessageID == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "missing message_id"}
		}
		if err := conv.DeleteMessage(ctx, p.MessageID); err != nil {
			return nil, errorFrom(err)
		}
		return true, nil

	case "update_message":
		var p messageIDParams
		if err := json.Unmarshal(params, &p); err != nil || p.MessageID == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "missing message_id"}
		}
		merged, err := conv.UpdateMessage(ctx, p.MessageID, p.Payload)
		if err != nil {
			return nil, errorFrom(err)
		}
		return merged, nil

	case "mark_as_read":
		var p messageIDParams
		if err := json.Unmarshal(params, &p); err != nil || p.MessageID == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "missing message_id"}
		}
		moved, err := conv.MarkAsRead(ctx, p.MessageID)
		if err != nil {
			return nil, errorFrom(err)
		}
		return moved, nil

	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "no such method"}
	}
}
