package jsonrpc

import (
	"context"
	"time"
)

// Hooks receive lifecycle events from a [Dispatcher]. Nil fields are
// skipped. Hooks run synchronously on the dispatching goroutine and must
// not block.
type Hooks struct {
	// ClientConnected runs when a session is created for a connection.
	ClientConnected func(conn Connection)

	// ClientDisconnected runs when a session is closed.
	ClientDisconnected func(conn Connection, code int)

	// MethodStarted runs before a handler is invoked.
	MethodStarted func(ctx *Context)

	// MethodCompleted runs after a handler returned without error.
	MethodCompleted func(ctx *Context, elapsed time.Duration)

	// MethodFailed runs after a handler failed, panicked or timed out.
	// err is the error as logged, not as sent to the peer.
	MethodFailed func(ctx *Context, err error, elapsed time.Duration)

	// ResponseReceived runs for inbound messages that are responses to
	// calls made by this side. They are never answered.
	ResponseReceived func(ctx context.Context, conn Connection, msg map[string]any)
}

func (h *Hooks) clientConnected(conn Connection) {
	if h.ClientConnected != nil {
		h.ClientConnected(conn)
	}
}

func (h *Hooks) clientDisconnected(conn Connection, code int) {
	if h.ClientDisconnected != nil {
		h.ClientDisconnected(conn, code)
	}
}

func (h *Hooks) methodStarted(ctx *Context) {
	if h.MethodStarted != nil {
		h.MethodStarted(ctx)
	}
}

func (h *Hooks) methodCompleted(ctx *Context, elapsed time.Duration) {
	if h.MethodCompleted != nil {
		h.MethodCompleted(ctx, elapsed)
	}
}

func (h *Hooks) methodFailed(ctx *Context, err error, elapsed time.Duration) {
	if h.MethodFailed != nil {
		h.MethodFailed(ctx, err, elapsed)
	}
}

func (h *Hooks) responseReceived(ctx context.Context, conn Connection, msg map[string]any) {
	if h.ResponseReceived != nil {
		h.ResponseReceived(ctx, conn, msg)
	}
}
