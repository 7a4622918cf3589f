// Package queue is the delivery engine: every message mutation enters the
// durable incoming queue and a worker pool fans it out to recipient
// exchanges, awaits the per-message delivery ack and commits the outcome
// to history.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/playcore-platform/message-delivery-service/infra/broker"
	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
	"github.com/playcore-platform/message-delivery-service/internal/history"
)

const (
	// DeliveryTimeout bounds the wait for a single recipient ack.
	DeliveryTimeout = 5 * time.Second
	// ProcessTimeout bounds a whole batch enqueue.
	ProcessTimeout = 60 * time.Second

	consumerIncoming = "engine.incoming"
	consumerCallback = "engine.callback"
)

// Options carries the engine knobs, filled from config.
type Options struct {
	IncomingQueue string
	Prefetch      int
	Workers       int
}

// Adder is the slice of the history store the engine writes to.
type Adder interface {
	AddMessage(ctx context.Context, m *model.Message) (int64, error)
}

// The engine doubles as the store's live-mutation enqueuer.
var _ history.Enqueuer = (*Engine)(nil)

// Engine consumes the incoming queue and drives the per-message delivery
// state machine. A message is either acked by a live conversation within
// DeliveryTimeout or stored undelivered; either way the incoming envelope
// is acked and the engine moves on.
type Engine struct {
	pool    broker.Opener
	store   Adder
	logger  *slog.Logger
	opts    Options
	breaker *gobreaker.CircuitBreaker
	futures *futures

	mu            sync.Mutex
	ch            broker.Channeler
	callbackQueue string

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

func NewEngine(pool broker.Opener, store Adder, opts Options, logger *slog.Logger) *Engine {
	if opts.IncomingQueue == "" {
		opts.IncomingQueue = "message.incoming.queue"
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Engine{
		pool:   pool,
		store:  store,
		logger: logger,
		opts:   opts,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "history-write",
			Timeout: 15 * time.Second,
		}),
		futures: newFutures(),
		done:    make(chan struct{}),
	}
}

// Start declares the incoming and callback queues and spins up the worker
// pool. The incoming queue is durable and manually acked; the callback
// queue is exclusive and consumed no-ack.
func (e *Engine) Start(ctx context.Context) error {
	ch, err := e.pool.Channel(ctx)
	if err != nil {
		return model.WrapError(model.KindBroker, err, "failed to start queue engine")
	}

	fail := func(err error) error {
		_ = ch.Close()
		return model.WrapError(model.KindBroker, err, "failed to start queue engine")
	}

	if err := ch.Qos(e.opts.Prefetch); err != nil {
		return fail(err)
	}
	if _, err := ch.DeclareQueue(broker.QueueOptions{Name: e.opts.IncomingQueue, Durable: true}); err != nil {
		return fail(err)
	}

	callbackQueue, err := ch.DeclareQueue(broker.QueueOptions{Exclusive: true})
	if err != nil {
		return fail(err)
	}
	replies, err := ch.Consume(callbackQueue, consumerCallback, true)
	if err != nil {
		return fail(err)
	}
	deliveries, err := ch.Consume(e.opts.IncomingQueue, consumerIncoming, false)
	if err != nil {
		return fail(err)
	}

	returns := ch.NotifyReturn(64)
	closed := ch.NotifyClose()

	e.mu.Lock()
	e.ch = ch
	e.callbackQueue = callbackQueue
	e.mu.Unlock()

	go e.watchReplies(replies)
	go e.watchReturns(returns)
	go e.watchClose(closed)

	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker(deliveries)
	}

	e.logger.Info("QUEUE_ENGINE_STARTED",
		"queue", e.opts.IncomingQueue,
		"prefetch", e.opts.Prefetch,
		"workers", e.opts.Workers,
	)
	return nil
}

// Stop cancels the consumers and closes the channel. The durable incoming
// queue is left declared: undrained envelopes survive a restart.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })

	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	if ch != nil {
		if err := ch.CancelConsumer(consumerIncoming); err != nil {
			e.logger.Warn("QUEUE_ENGINE_CANCEL_FAILED", "consumer", consumerIncoming, "err", err)
		}
		if err := ch.CancelConsumer(consumerCallback); err != nil {
			e.logger.Warn("QUEUE_ENGINE_CANCEL_FAILED", "consumer", consumerCallback, "err", err)
		}
		if err := ch.Close(); err != nil {
			e.logger.Warn("QUEUE_ENGINE_CLOSE_FAILED", "err", err)
		}
	}

	e.wg.Wait()
	e.logger.Info("QUEUE_ENGINE_STOPPED")
}

func (e *Engine) worker(deliveries <-chan broker.Delivery) {
	defer e.wg.Done()
	for d := range deliveries {
		e.process(d)
	}
}

// process handles one incoming envelope. The ack is unconditional: a
// message that cannot be delivered or stored is logged and dropped rather
// than stalling the queue.
func (e *Engine) process(d broker.Delivery) {
	defer func() {
		e.mu.Lock()
		ch := e.ch
		e.mu.Unlock()
		if err := ch.Ack(d.Tag); err != nil {
			e.logger.Warn("QUEUE_ENGINE_ACK_FAILED", "tag", d.Tag, "err", err)
		}
	}()

	env, err := model.DecodeEnvelope(d.Body)
	if err != nil {
		e.logger.Error("ENVELOPE_DISCARDED", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ProcessTimeout)
	defer cancel()

	switch env.Action {
	case model.ActionNewMessage:
		e.handleNewMessage(ctx, env)
	case model.ActionMessageUpdated, model.ActionMessageDeleted:
		// History already holds the authoritative change; just let live
		// sessions know.
		e.forward(ctx, env)
	}
}

func (e *Engine) handleNewMessage(ctx context.Context, env *model.Envelope) {
	delivered := e.deliver(ctx, env)
	e.logger.Debug("MESSAGE_PROCESSED", "uuid", env.MessageUUID, "delivered", delivered)

	flags := model.ParseFlags(env.Flags)
	if delivered && flags.Has(model.FlagRemoveDelivered) {
		return
	}

	m := &model.Message{
		MessageUUID:    env.MessageUUID,
		GamespaceID:    env.GamespaceID,
		Sender:         env.Sender,
		RecipientClass: env.RecipientClass,
		Recipient:      env.RecipientKey,
		MessageType:    env.MessageType,
		Payload:        env.Payload,
		Time:           time.Now().UTC(),
		Delivered:      delivered,
		Flags:          flags,
	}

	_, err := e.breaker.Execute(func() (any, error) {
		return e.store.AddMessage(ctx, m)
	})
	if err != nil {
		e.logger.Error("HISTORY_WRITE_FAILED", "uuid", env.MessageUUID, "err", err)
	}
}

// deliver publishes the envelope to the recipient exchange and waits for
// the conversation's ack. Unroutable return, channel loss, a "false"
// reply and timeout all resolve to undelivered.
func (e *Engine) deliver(ctx context.Context, env *model.Envelope) bool {
	body, err := env.Stamp(time.Now()).Encode()
	if err != nil {
		e.logger.Error("ENVELOPE_ENCODE_FAILED", "uuid", env.MessageUUID, "err", err)
		return false
	}

	e.mu.Lock()
	ch := e.ch
	callbackQueue := e.callbackQueue
	e.mu.Unlock()

	rcpt := env.Recipient()

	// Declaring first keeps a publish to an absent recipient from blowing
	// up the shared channel; with no queue bound the broker returns the
	// mandatory publish instead.
	if err := ch.DeclareFanout(rcpt.Exchange()); err != nil {
		e.logger.Warn("RECIPIENT_EXCHANGE_FAILED", "exchange", rcpt.Exchange(), "err", err)
		return false
	}

	fut := e.futures.create(env.MessageUUID)
	defer e.futures.drop(env.MessageUUID)

	err = ch.Publish(ctx, rcpt.Exchange(), "", broker.Publishing{
		Body:          body,
		ReplyTo:       callbackQueue,
		CorrelationID: env.MessageUUID,
		Mandatory:     true,
	})
	if err != nil {
		e.logger.Warn("DELIVERY_PUBLISH_FAILED", "uuid", env.MessageUUID, "err", err)
		return false
	}

	select {
	case delivered := <-fut:
		return delivered
	case <-time.After(DeliveryTimeout):
		return false
	case <-e.done:
		return false
	}
}

// forward pushes an update/delete notification to the recipient exchange.
// No ack is awaited; offline recipients learn from history.
func (e *Engine) forward(ctx context.Context, env *model.Envelope) {
	body, err := env.Stamp(time.Now()).Encode()
	if err != nil {
		e.logger.Error("ENVELOPE_ENCODE_FAILED", "uuid", env.MessageUUID, "err", err)
		return
	}

	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	rcpt := env.Recipient()
	if err := ch.DeclareFanout(rcpt.Exchange()); err != nil {
		e.logger.Warn("RECIPIENT_EXCHANGE_FAILED", "exchange", rcpt.Exchange(), "err", err)
		return
	}
	if err := ch.Publish(ctx, rcpt.Exchange(), "", broker.Publishing{Body: body}); err != nil {
		e.logger.Warn("FORWARD_PUBLISH_FAILED", "uuid", env.MessageUUID, "err", err)
	}
}

func (e *Engine) watchReplies(replies <-chan broker.Delivery) {
	for d := range replies {
		e.futures.resolve(d.CorrelationID, string(d.Body) == "true")
	}
}

func (e *Engine) watchReturns(returns <-chan broker.Return) {
	for r := range returns {
		e.logger.Debug("MESSAGE_UNROUTABLE", "exchange", r.Exchange)
		e.futures.resolve(r.CorrelationID, false)
	}
}

func (e *Engine) watchClose(closed <-chan *broker.Error) {
	if err, ok := <-closed; ok && err != nil {
		e.logger.Warn("QUEUE_ENGINE_CHANNEL_LOST", "code", err.Code, "reason", err.Message)
	}
	e.futures.failAll()
}

// QueueMessage enqueues a fresh message for delivery; reports whether the
// broker confirmed the publication.
func (e *Engine) QueueMessage(ctx context.Context, gamespaceID, sender string, rcpt model.Recipient, messageType string, payload map[string]any, flags []string) bool {
	env := &model.Envelope{
		Action:         model.ActionNewMessage,
		GamespaceID:    gamespaceID,
		MessageUUID:    uuid.NewString(),
		Sender:         sender,
		RecipientClass: rcpt.Class,
		RecipientKey:   rcpt.Key,
		MessageType:    messageType,
		Payload:        payload,
		Flags:          model.ParseFlags(flags).List(),
	}
	return e.enqueue(ctx, env)
}

// QueueUpdated announces an already-committed payload change to the
// recipient's live sessions.
func (e *Engine) QueueUpdated(ctx context.Context, gamespaceID, sender string, rcpt model.Recipient, messageUUID string, payload map[string]any) bool {
	env := &model.Envelope{
		Action:         model.ActionMessageUpdated,
		GamespaceID:    gamespaceID,
		MessageUUID:    messageUUID,
		Sender:         sender,
		RecipientClass: rcpt.Class,
		RecipientKey:   rcpt.Key,
		Payload:        payload,
	}
	return e.enqueue(ctx, env)
}

// QueueDeleted announces an already-committed deletion.
func (e *Engine) QueueDeleted(ctx context.Context, gamespaceID, sender string, rcpt model.Recipient, messageUUID string) bool {
	env := &model.Envelope{
		Action:         model.ActionMessageDeleted,
		GamespaceID:    gamespaceID,
		MessageUUID:    messageUUID,
		Sender:         sender,
		RecipientClass: rcpt.Class,
		RecipientKey:   rcpt.Key,
	}
	return e.enqueue(ctx, env)
}

func (e *Engine) enqueue(ctx context.Context, env *model.Envelope) bool {
	ch, err := e.pool.Channel(ctx)
	if err != nil {
		e.logger.Warn("ENQUEUE_CHANNEL_FAILED", "err", err)
		return false
	}
	defer ch.Close()

	if err := ch.Confirm(); err != nil {
		e.logger.Warn("ENQUEUE_CONFIRM_FAILED", "err", err)
		return false
	}
	return e.publishIncoming(ctx, ch, env)
}

// publishIncoming pushes one envelope into the durable incoming queue on a
// confirm-mode channel and waits out the broker ack.
func (e *Engine) publishIncoming(ctx context.Context, ch broker.Channeler, env *model.Envelope) bool {
	body, err := env.Encode()
	if err != nil {
		e.logger.Error("ENVELOPE_ENCODE_FAILED", "uuid", env.MessageUUID, "err", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, DeliveryTimeout)
	defer cancel()

	err = ch.Publish(ctx, "", e.opts.IncomingQueue, broker.Publishing{
		Body:       body,
		Persistent: true,
		Mandatory:  true,
	})
	if err != nil {
		e.logger.Warn("ENQUEUE_FAILED", "uuid", env.MessageUUID, "err", err)
		return false
	}
	return true
}
