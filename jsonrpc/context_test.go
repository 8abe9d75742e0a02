package jsonrpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildContext(t *testing.T) {
	conn := newFakeConn(Scope{
		ScopeType:         TransportNameHTTP,
		ScopeConnectionID: "c-9",
		ScopeUser:         testPrincipal{authenticated: true},
	})
	ctx := BuildContext(context.Background(), conn, "sum", json.RawMessage(`3`), false)

	assert.Same(t, conn, ctx.Connection())
	assert.Equal(t, "sum", ctx.MethodName())
	assert.Equal(t, json.RawMessage(`3`), ctx.ID())
	assert.False(t, ctx.IsNotification())
	assert.Equal(t, TransportHTTP, ctx.Scope().Transport())
	user, ok := ctx.User()
	require.True(t, ok)
	assert.True(t, user.IsAuthenticated())
}

func TestFromContext(t *testing.T) {
	rctx := BuildContext(context.Background(), nil, "m", nil, true)
	derived, cancel := context.WithTimeout(rctx, time.Minute)
	defer cancel()

	got, ok := FromContext(derived)
	require.True(t, ok)
	assert.Same(t, rctx, got)
	assert.Nil(t, got.Scope())
	_, ok = got.User()
	assert.False(t, ok)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}

func TestTransport(t *testing.T) {
	assert.Equal(t, TransportWebSocket, ParseTransport("WebSocket"))
	assert.Equal(t, TransportHTTP, ParseTransport("http"))
	assert.Equal(t, Transport(0), ParseTransport("carrier-pigeon"))

	assert.True(t, TransportHTTP.Allows(TransportHTTP))
	assert.False(t, TransportHTTP.Allows(TransportWebSocket))
	assert.True(t, TransportHTTP.Allows(0))

	assert.Equal(t, "websocket|http", TransportAny.String())
	assert.Equal(t, "none", Transport(0).String())
}
