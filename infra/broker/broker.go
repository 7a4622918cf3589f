// Package broker is a thin typed wrapper over AMQP connections, channels,
// exchanges, queues, publisher confirms and the reply_to/correlation_id RPC
// plumbing the delivery engine is built on.
package broker

import (
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config carries the broker endpoint and the connection pool cap.
type Config struct {
	URL            string
	MaxConnections int
}

// Error is the single error surface of the adapter.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker error %d: %s", e.Code, e.Message)
}

// asError normalizes amqp091 failures into *Error.
func asError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	var ae *amqp.Error
	if errors.As(err, &ae) {
		return &Error{Code: ae.Code, Message: ae.Reason}
	}
	return &Error{Code: 500, Message: err.Error()}
}

// Publishing is the adapter-level publish frame.
type Publishing struct {
	Body          []byte
	ContentType   string
	CorrelationID string
	ReplyTo       string
	Persistent    bool
	Mandatory     bool
}

// Delivery is one consumed broker frame.
type Delivery struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
	Tag           uint64
	Redelivered   bool
}

// Return surfaces a mandatory publish the broker could not route.
type Return struct {
	Exchange      string
	CorrelationID string
}

// QueueOptions mirrors the queue declaration knobs the service uses.
// A zero Name requests a server-generated queue name.
type QueueOptions struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	MessageTTL time.Duration
}
