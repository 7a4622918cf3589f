package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

// peerPair upgrades one connection and hands both ends to the test.
func peerPair(t *testing.T, handle handlerFunc) (*peer, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverPeer := make(chan *peer, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		p := newPeer(conn, handle, slog.Default())
		serverPeer <- p
		p.run(r.Context())
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case p := <-serverPeer:
		return p, client
	case <-time.After(2 * time.Second):
		t.Fatal("server peer never came up")
		return nil, nil
	}
}

func noHandler(context.Context, string, json.RawMessage) (any, *rpcError) {
	return nil, &rpcError{Code: codeMethodNotFound, Message: "no such method"}
}

func TestCallRoundTrip(t *testing.T) {
	p, client := peerPair(t, noHandler)

	// Scripted client: answer the push with a boolean result.
	go func() {
		var req frame
		if err := client.ReadJSON(&req); err != nil {
			return
		}
		_ = client.WriteJSON(frame{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage("true")})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := p.Call(ctx, "message", pushParams{UUID: "m-1", Sender: "alice"})
	require.NoError(t, err)

	var ok bool
	require.NoError(t, json.Unmarshal(result, &ok))
	assert.True(t, ok)
}

func TestCallErrorResponse(t *testing.T) {
	p, client := peerPair(t, noHandler)

	go func() {
		var req frame
		if err := client.ReadJSON(&req); err != nil {
			return
		}
		_ = client.WriteJSON(frame{
			JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: 409, Message: "nope"},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := p.Call(ctx, "message", pushParams{UUID: "m-1"})
	require.Error(t, err)
	assert.Equal(t, "nope", err.Error())
}

func TestCallTimesOutWithoutReply(t *testing.T) {
	p, _ := peerPair(t, noHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Call(ctx, "message", pushParams{UUID: "m-1"})
	assert.Equal(t, model.KindTimeout, model.KindOf(err))
}

func TestServeClientRequest(t *testing.T) {
	_, client := peerPair(t, func(_ context.Context, method string, params json.RawMessage) (any, *rpcError) {
		assert.Equal(t, "mark_as_read", method)
		var p messageIDParams
		require.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, "m-9", p.MessageID)
		return true, nil
	})

	id := int64(7)
	params, err := json.Marshal(messageIDParams{MessageID: "m-9"})
	require.NoError(t, err)
	require.NoError(t, client.WriteJSON(frame{JSONRPC: "2.0", ID: &id, Method: "mark_as_read", Params: params}))

	var resp frame
	require.NoError(t, client.ReadJSON(&resp))
	require.NotNil(t, resp.ID)
	assert.Equal(t, id, *resp.ID)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "true", string(resp.Result))
}

func TestServeUnknownMethod(t *testing.T) {
	_, client := peerPair(t, noHandler)

	id := int64(8)
	require.NoError(t, client.WriteJSON(frame{JSONRPC: "2.0", ID: &id, Method: "bogus"}))

	var resp frame
	require.NoError(t, client.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestPendingCallFailsOnDisconnect(t *testing.T) {
	p, client := peerPair(t, noHandler)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := p.Call(ctx, "message", pushParams{UUID: "m-1"})
		done <- err
	}()

	// Swallow the request, then hang up without answering.
	var req frame
	require.NoError(t, client.ReadJSON(&req))
	client.Close()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call never failed after disconnect")
	}
}

func TestErrorMapping(t *testing.T) {
	assert.Equal(t, codeInvalidParams, errorFrom(model.NewError(model.KindBadInput, "bad")).Code)
	assert.Equal(t, 404, errorFrom(model.NewError(model.KindNotFound, "gone")).Code)
	assert.Equal(t, 409, errorFrom(model.NewError(model.KindConflict, "locked")).Code)
	assert.Equal(t, 401, errorFrom(model.NewError(model.KindUnauthorized, "who")).Code)
	assert.Equal(t, 500, errorFrom(model.NewError(model.KindStorage, "boom")).Code)
	assert.Equal(t, "internal error", errorFrom(model.NewError(model.KindStorage, "boom")).Message)
}
