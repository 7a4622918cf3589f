package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

// frame is the JSON-RPC 2.0 wire unit. A request carries method+params, a
// response carries result or error under the request id.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// errorFrom flattens a service error into the RPC error surface. Raw
// storage/broker details never reach the client.
func errorFrom(err error) *rpcError {
	switch model.KindOf(err) {
	case model.KindBadInput:
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	case model.KindNotFound:
		return &rpcError{Code: 404, Message: err.Error()}
	case model.KindConflict, model.KindAlreadyExists:
		return &rpcError{Code: 409, Message: err.Error()}
	case model.KindUnauthorized:
		return &rpcError{Code: 401, Message: err.Error()}
	default:
		return &rpcError{Code: 500, Message: "internal error"}
	}
}

// handlerFunc serves one inbound client request.
type handlerFunc func(ctx context.Context, method string, params json.RawMessage) (any, *rpcError)

// peer drives both directions of a JSON-RPC connection: inbound client
// requests are dispatched to handle, outbound Calls await the matching
// response by id.
type peer struct {
	conn   *websocket.Conn
	handle handlerFunc
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *frame

	closed    chan struct{}
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, handle handlerFunc, logger *slog.Logger) *peer {
	return &peer{
		conn:    conn,
		handle:  handle,
		logger:  logger,
		pending: make(map[int64]chan *frame),
		closed:  make(chan struct{}),
	}
}

// run is the read loop; it returns when the connection dies.
func (p *peer) run(ctx context.Context) {
	defer p.close()

	for {
		var f frame
		if err := p.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug("RPC_READ_FAILED", "err", err)
			}
			return
		}

		switch {
		case f.Method != "":
			go p.serve(ctx, f)
		case f.ID != nil:
			p.mu.Lock()
			ch, ok := p.pending[*f.ID]
			if ok {
				delete(p.pending, *f.ID)
			}
			p.mu.Unlock()
			if ok {
				local := f
				ch <- &local
			}
		}
	}
}

func (p *peer) serve(ctx context.Context, f frame) {
	result, rpcErr := p.handle(ctx, f.Method, f.Params)
	if f.ID == nil {
		// Notification, nothing to answer.
		return
	}

	resp := frame{JSONRPC: "2.0", ID: f.ID, Error: rpcErr}
	if rpcErr == nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			resp.Error = &rpcError{Code: 500, Message: "unserializable result"}
		} else {
			resp.Result = encoded
		}
	}

	if err := p.write(resp); err != nil {
		p.logger.Warn("RPC_RESPONSE_FAILED", "method", f.Method, "err", err)
	}
}

// Call issues a server->client request and waits out the response.
func (p *peer) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, model.WrapError(model.KindBadInput, err, "unserializable params")
	}

	ch := make(chan *frame, 1)
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.pending[id] = ch
	p.mu.Unlock()

	req := frame{JSONRPC: "2.0", ID: &id, Method: method, Params: encoded}
	if err := p.write(req); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, model.WrapError(model.KindBroker, err, "connection write failed")
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, model.WrapError(model.KindTimeout, ctx.Err(), "client did not answer")
	case <-p.closed:
		return nil, model.NewError(model.KindBroker, "connection closed")
	}
}

func (p *peer) write(f frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(f)
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.closed)

		p.mu.Lock()
		pending := p.pending
		p.pending = make(map[int64]chan *frame)
		p.mu.Unlock()

		for id, ch := range pending {
			local := id
			ch <- &frame{ID: &local, Error: &rpcError{Code: 500, Message: "connection closed"}}
		}
	})
}
