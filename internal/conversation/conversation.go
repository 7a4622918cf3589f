// Package conversation is the per-account live session: the private
// fan-out exchange, the exchange bindings to every group the account
// participates in, the undelivered drain on attach and the RPC reply that
// feeds the engine's delivery ack.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/playcore-platform/message-delivery-service/infra/broker"
	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
	"github.com/playcore-platform/message-delivery-service/internal/history"
)

// pushTimeout bounds a single client-side push; the engine gives up on
// the delivery ack on the same horizon.
const pushTimeout = 5 * time.Second

// queueTTL reclaims messages published into the private exchange while
// nobody consumes the bound queue.
const queueTTL = time.Second

// Pusher is the client side of a session. Each push blocks until the
// client handler completes and reports whether it took the message.
type Pusher interface {
	PushMessage(ctx context.Context, env *model.Envelope) bool
	PushMessageUpdated(ctx context.Context, env *model.Envelope) bool
	PushMessageDeleted(ctx context.Context, env *model.Envelope) bool
}

// ParticipationLister resolves the groups an account participates in.
type ParticipationLister interface {
	ListAccountParticipations(ctx context.Context, gamespaceID, accountID string) ([]model.GroupParticipation, error)
}

// History is the slice of the message store a conversation touches.
type History interface {
	ReadIncomingMessages(ctx context.Context, gamespaceID string, rcpt model.Recipient, receiver history.Receiver) error
	DeleteMessageConcurrent(ctx context.Context, gamespaceID, caller, messageUUID string, authoritative bool) error
	UpdateMessageConcurrent(ctx context.Context, gamespaceID, caller, messageUUID string, patch map[string]any, authoritative bool) (map[string]any, error)
	MarkMessageAsRead(ctx context.Context, gamespaceID, accountID, messageUUID string) (bool, error)
}

// Sender enqueues new messages through the delivery engine.
type Sender interface {
	QueueMessage(ctx context.Context, gamespaceID, sender string, rcpt model.Recipient, messageType string, payload map[string]any, flags []string) bool
}

// Conversation is one attached session.
type Conversation struct {
	gamespaceID   string
	accountID     string
	authoritative bool

	pool   broker.Opener
	groups ParticipationLister
	store  History
	engine Sender
	pusher Pusher
	logger *slog.Logger

	mu        sync.Mutex
	ch        broker.Channeler
	exchange  string
	queueName string
}

func newConversation(gamespaceID, accountID string, authoritative bool,
	pool broker.Opener, groups ParticipationLister, store History, engine Sender,
	pusher Pusher, logger *slog.Logger) *Conversation {
	return &Conversation{
		gamespaceID:   gamespaceID,
		accountID:     accountID,
		authoritative: authoritative,
		pool:          pool,
		groups:        groups,
		store:         store,
		engine:        engine,
		pusher:        pusher,
		logger:        logger.With("account", accountID),
	}
}

func (c *Conversation) AccountID() string  { return c.accountID }
func (c *Conversation) Authoritative() bool { return c.authoritative }

func (c *Conversation) consumerTag() string {
	return "conv." + c.accountID
}

// Attach builds the session topology, drains undelivered history and
// starts consuming live pushes. A drain failure fails the whole attach.
func (c *Conversation) Attach(ctx context.Context) error {
	ch, err := c.pool.Channel(ctx)
	if err != nil {
		return model.WrapError(model.KindBroker, err, "failed to attach conversation")
	}

	fail := func(err error) error {
		_ = ch.Close()
		return model.WrapError(model.KindBroker, err, "failed to attach conversation")
	}

	rcpt := model.UserRecipient(c.accountID)
	exchange := rcpt.Exchange()
	if err := ch.DeclareFanout(exchange); err != nil {
		return fail(err)
	}

	queueName, err := ch.DeclareQueue(broker.QueueOptions{
		Exclusive:  true,
		MessageTTL: queueTTL,
	})
	if err != nil {
		return fail(err)
	}
	if err := ch.BindQueue(queueName, exchange); err != nil {
		return fail(err)
	}

	c.mu.Lock()
	c.ch = ch
	c.exchange = exchange
	c.queueName = queueName
	c.mu.Unlock()

	participations, err := c.groups.ListAccountParticipations(ctx, c.gamespaceID, c.accountID)
	if err != nil {
		_ = ch.Close()
		return err
	}
	for _, gp := range participations {
		if err := c.BindGroup(gp); err != nil {
			return fail(err)
		}
	}

	// Drain before consuming: a row is promoted to delivered only when the
	// client acks the push.
	err = c.store.ReadIncomingMessages(ctx, c.gamespaceID, rcpt, func(m *model.Message) bool {
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		defer cancel()
		return c.pusher.PushMessage(pushCtx, envelopeFromMessage(m))
	})
	if err != nil {
		_ = ch.Close()
		return err
	}

	deliveries, err := ch.Consume(queueName, c.consumerTag(), false)
	if err != nil {
		return fail(err)
	}
	go c.pump(deliveries)

	c.logger.Debug("CONVERSATION_ATTACHED", "exchange", exchange)
	return nil
}

// BindGroup binds a group exchange into the private exchange so group
// publishes reach this session. Safe to call on a live conversation.
func (c *Conversation) BindGroup(gp model.GroupParticipation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return model.NewError(model.KindBroker, "conversation is not attached")
	}

	source := gp.Recipient().Exchange()
	if err := c.ch.DeclareFanout(source); err != nil {
		return model.WrapError(model.KindBroker, err, "failed to bind group exchange")
	}
	if err := c.ch.BindExchange(c.exchange, source); err != nil {
		return model.WrapError(model.KindBroker, err, "failed to bind group exchange")
	}
	return nil
}

// Detach tears the session down. Every step tolerates broker errors; a
// half-dead channel must not keep the session from going away.
func (c *Conversation) Detach() {
	c.mu.Lock()
	ch := c.ch
	queueName := c.queueName
	c.ch = nil
	c.mu.Unlock()

	if ch == nil {
		return
	}

	if err := ch.CancelConsumer(c.consumerTag()); err != nil {
		c.logger.Warn("CONVERSATION_CANCEL_FAILED", "err", err)
	}
	if queueName != "" {
		if err := ch.DeleteQueue(queueName); err != nil {
			c.logger.Warn("CONVERSATION_QUEUE_DELETE_FAILED", "err", err)
		}
	}
	if err := ch.Close(); err != nil {
		c.logger.Warn("CONVERSATION_CLOSE_FAILED", "err", err)
	}

	c.logger.Debug("CONVERSATION_DETACHED")
}

func (c *Conversation) pump(deliveries <-chan broker.Delivery) {
	for d := range deliveries {
		c.dispatch(d)
	}
}

// dispatch pushes one broker frame to the client, acks it and answers the
// engine's RPC reply when one is expected.
func (c *Conversation) dispatch(d broker.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	handled := false
	env, err := model.DecodeEnvelope(d.Body)
	switch {
	case err != nil:
		c.logger.Error("CONVERSATION_FRAME_DISCARDED", "err", err)
	case env.GamespaceID != c.gamespaceID:
		c.logger.Error("CONVERSATION_FRAME_DISCARDED", "reason", "gamespace mismatch")
	default:
		switch env.Action {
		case model.ActionNewMessage:
			handled = c.pusher.PushMessage(ctx, env)
		case model.ActionMessageUpdated:
			handled = c.pusher.PushMessageUpdated(ctx, env)
		case model.ActionMessageDeleted:
			handled = c.pusher.PushMessageDeleted(ctx, env)
		}
	}

	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return
	}

	if err := ch.Ack(d.Tag); err != nil {
		c.logger.Warn("CONVERSATION_ACK_FAILED", "err", err)
	}

	if d.ReplyTo == "" {
		return
	}
	reply := "false"
	if handled {
		reply = "true"
	}
	err = ch.Publish(ctx, "", d.ReplyTo, broker.Publishing{
		Body:          []byte(reply),
		ContentType:   "text/plain",
		CorrelationID: d.CorrelationID,
	})
	if err != nil {
		c.logger.Warn("CONVERSATION_REPLY_FAILED", "err", err)
	}
}

// SendMessage enqueues a message from this session's account.
func (c *Conversation) SendMessage(ctx context.Context, recipientClass, recipientKey, messageType string, payload map[string]any, flags []string) (bool, error) {
	if recipientClass == "" || recipientKey == "" {
		return false, model.NewError(model.KindBadInput, "missing recipient")
	}
	if messageType == "" {
		return false, model.NewError(model.KindBadInput, "missing message type")
	}
	if payload == nil {
		return false, model.NewError(model.KindBadInput, "payload should be an object")
	}
	if !model.ValidFlags(flags) {
		return false, model.NewError(model.KindBadInput, "unrecognized message flags")
	}

	rcpt := model.Recipient{Class: recipientClass, Key: recipientKey}
	return c.engine.QueueMessage(ctx, c.gamespaceID, c.accountID, rcpt, messageType, payload, flags), nil
}

func (c *Conversation) DeleteMessage(ctx context.Context, messageUUID string) error {
	return c.store.DeleteMessageConcurrent(ctx, c.gamespaceID, c.accountID, messageUUID, c.authoritative)
}

func (c *Conversation) UpdateMessage(ctx context.Context, messageUUID string, patch map[string]any) (map[string]any, error) {
	return c.store.UpdateMessageConcurrent(ctx, c.gamespaceID, c.accountID, messageUUID, patch, c.authoritative)
}

func (c *Conversation) MarkAsRead(ctx context.Context, messageUUID string) (bool, error) {
	return c.store.MarkMessageAsRead(ctx, c.gamespaceID, c.accountID, messageUUID)
}

// envelopeFromMessage rebuilds the wire frame for a drained history row.
func envelopeFromMessage(m *model.Message) *model.Envelope {
	env := &model.Envelope{
		Action:         model.ActionNewMessage,
		GamespaceID:    m.GamespaceID,
		MessageUUID:    m.MessageUUID,
		Sender:         m.Sender,
		RecipientClass: m.RecipientClass,
		RecipientKey:   m.Recipient,
		MessageType:    m.MessageType,
		Payload:        m.Payload,
		Flags:          m.Flags.List(),
	}
	return env.Stamp(m.Time)
}
