package broker

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Opener hands out broker channels. Components that talk to the broker
// depend on this instead of the concrete pool.
type Opener interface {
	Channel(ctx context.Context) (Channeler, error)
}

// Interface guard
var _ Opener = (*Pool)(nil)

// Pool maintains up to MaxConnections AMQP connections and serves channels
// off them round-robin. Connections are dialed lazily and redialed when the
// broker drops them.
type Pool struct {
	url    string
	max    int
	logger *slog.Logger

	mu    sync.Mutex
	conns []*amqp.Connection
	next  int
}

func NewPool(cfg Config, logger *slog.Logger) *Pool {
	max := cfg.MaxConnections
	if max < 1 {
		max = 1
	}
	return &Pool{
		url:    cfg.URL,
		max:    max,
		logger: logger,
		conns:  make([]*amqp.Connection, 0, max),
	}
}

// Channel returns a fresh channel on the next healthy pooled connection.
func (p *Pool) Channel(ctx context.Context) (Channeler, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, asError(err)
	}
	return &Channel{ch: ch}, nil
}

func (p *Pool) acquire(ctx context.Context) (*amqp.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Code: 504, Message: "broker connect canceled"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Grow until the cap, then rotate.
	if len(p.conns) < p.max {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, asError(err)
		}
		p.conns = append(p.conns, conn)
		return conn, nil
	}

	for range p.conns {
		conn := p.conns[p.next]
		p.next = (p.next + 1) % len(p.conns)
		if !conn.IsClosed() {
			return conn, nil
		}

		// Redial in place; a dead broker fails every slot and we give up.
		redialed, err := amqp.Dial(p.url)
		if err != nil {
			p.logger.Warn("BROKER_REDIAL_FAILED", "err", err)
			continue
		}
		p.conns[(p.next+len(p.conns)-1)%len(p.conns)] = redialed
		return redialed, nil
	}

	return nil, &Error{Code: 503, Message: "no broker connection available"}
}

// Close tears down every pooled connection; errors are logged and ignored.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, conn := range p.conns {
		if conn.IsClosed() {
			continue
		}
		if err := conn.Close(); err != nil {
			p.logger.Warn("BROKER_CLOSE_FAILED", "err", err)
		}
	}
	p.conns = p.conns[:0]
	p.next = 0
}
