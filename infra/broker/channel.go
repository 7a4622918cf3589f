package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channeler is the per-operation broker surface. Channels are cheap; every
// logical operation (a conversation, a worker publish) opens its own and
// closes it when done.
type Channeler interface {
	DeclareFanout(name string) error
	DeclareQueue(opts QueueOptions) (string, error)
	BindQueue(queue, exchange string) error
	// BindExchange routes everything published to source into destination
	// (exchange-to-exchange binding).
	BindExchange(destination, source string) error
	UnbindExchange(destination, source string) error
	Qos(prefetch int) error
	// Confirm puts the channel in publisher-confirm mode; subsequent
	// Publish calls block until the broker acks or ctx expires.
	Confirm() error
	Publish(ctx context.Context, exchange, routingKey string, pub Publishing) error
	Consume(queue, consumerTag string, autoAck bool) (<-chan Delivery, error)
	CancelConsumer(consumerTag string) error
	Ack(tag uint64) error
	DeleteQueue(name string) error
	NotifyReturn(buffer int) <-chan Return
	NotifyClose() <-chan *Error
	Close() error
}

// Interface guard
var _ Channeler = (*Channel)(nil)

// Channel adapts one amqp091 channel to the Channeler contract.
type Channel struct {
	ch        *amqp.Channel
	confirmed bool
}

func (c *Channel) DeclareFanout(name string) error {
	err := c.ch.ExchangeDeclare(
		name,
		amqp.ExchangeFanout,
		false, // durable
		true,  // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return asError(err)
	}
	return nil
}

func (c *Channel) DeclareQueue(opts QueueOptions) (string, error) {
	var args amqp.Table
	if opts.MessageTTL > 0 {
		args = amqp.Table{"x-message-ttl": opts.MessageTTL.Milliseconds()}
	}

	q, err := c.ch.QueueDeclare(
		opts.Name,
		opts.Durable,
		opts.AutoDelete,
		opts.Exclusive,
		false, // no-wait
		args,
	)
	if err != nil {
		return "", asError(err)
	}
	return q.Name, nil
}

func (c *Channel) BindQueue(queue, exchange string) error {
	if err := c.ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		return asError(err)
	}
	return nil
}

func (c *Channel) BindExchange(destination, source string) error {
	if err := c.ch.ExchangeBind(destination, "", source, false, nil); err != nil {
		return asError(err)
	}
	return nil
}

func (c *Channel) UnbindExchange(destination, source string) error {
	if err := c.ch.ExchangeUnbind(destination, "", source, false, nil); err != nil {
		return asError(err)
	}
	return nil
}

func (c *Channel) Qos(prefetch int) error {
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return asError(err)
	}
	return nil
}

func (c *Channel) Confirm() error {
	if c.confirmed {
		return nil
	}
	if err := c.ch.Confirm(false); err != nil {
		return asError(err)
	}
	c.confirmed = true
	return nil
}

func (c *Channel) Publish(ctx context.Context, exchange, routingKey string, pub Publishing) error {
	msg := amqp.Publishing{
		ContentType:   pub.ContentType,
		CorrelationId: pub.CorrelationID,
		ReplyTo:       pub.ReplyTo,
		Body:          pub.Body,
	}
	if msg.ContentType == "" {
		msg.ContentType = "application/json"
	}
	if pub.Persistent {
		msg.DeliveryMode = amqp.Persistent
	}

	if !c.confirmed {
		if err := c.ch.PublishWithContext(ctx, exchange, routingKey, pub.Mandatory, false, msg); err != nil {
			return asError(err)
		}
		return nil
	}

	confirm, err := c.ch.PublishWithDeferredConfirmWithContext(
		ctx, exchange, routingKey, pub.Mandatory, false, msg)
	if err != nil {
		return asError(err)
	}

	select {
	case <-confirm.Done():
		if !confirm.Acked() {
			return &Error{Code: 504, Message: "publish nacked by broker"}
		}
		return nil
	case <-ctx.Done():
		return &Error{Code: 504, Message: "publisher confirm timed out"}
	}
}

func (c *Channel) Consume(queue, consumerTag string, autoAck bool) (<-chan Delivery, error) {
	deliveries, err := c.ch.Consume(
		queue,
		consumerTag,
		autoAck,
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, asError(err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for d := range deliveries {
			out <- Delivery{
				Body:          d.Body,
				CorrelationID: d.CorrelationId,
				ReplyTo:       d.ReplyTo,
				Tag:           d.DeliveryTag,
				Redelivered:   d.Redelivered,
			}
		}
	}()
	return out, nil
}

func (c *Channel) CancelConsumer(consumerTag string) error {
	if err := c.ch.Cancel(consumerTag, false); err != nil {
		return asError(err)
	}
	return nil
}

func (c *Channel) Ack(tag uint64) error {
	if err := c.ch.Ack(tag, false); err != nil {
		return asError(err)
	}
	return nil
}

func (c *Channel) DeleteQueue(name string) error {
	if _, err := c.ch.QueueDelete(name, false, false, false); err != nil {
		return asError(err)
	}
	return nil
}

func (c *Channel) NotifyReturn(buffer int) <-chan Return {
	returns := c.ch.NotifyReturn(make(chan amqp.Return, buffer))
	out := make(chan Return, buffer)
	go func() {
		defer close(out)
		for r := range returns {
			out <- Return{Exchange: r.Exchange, CorrelationID: r.CorrelationId}
		}
	}()
	return out
}

func (c *Channel) NotifyClose() <-chan *Error {
	closes := c.ch.NotifyClose(make(chan *amqp.Error, 1))
	out := make(chan *Error, 1)
	go func() {
		defer close(out)
		if err, ok := <-closes; ok && err != nil {
			out <- &Error{Code: err.Code, Message: err.Reason}
		}
	}()
	return out
}

func (c *Channel) Close() error {
	if err := c.ch.Close(); err != nil {
		return asError(err)
	}
	return nil
}
