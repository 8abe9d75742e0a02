package wsrpc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/mnehpets/wsrpc/jsonrpc"
	"golang.org/x/net/websocket"
)

// WebSocket close codes used by the server.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseInternal  = 1011
)

// Conn is one WebSocket peer seen as a [jsonrpc.Connection]. Messages go
// out as text frames, one JSON-RPC message per frame.
type Conn struct {
	ws    *websocket.Conn
	scope jsonrpc.Scope

	mu     sync.Mutex // serializes writes
	closed bool
	code   int
}

var _ jsonrpc.Connection = (*Conn)(nil)

func newConn(ws *websocket.Conn, scope jsonrpc.Scope) *Conn {
	return &Conn{ws: ws, scope: scope}
}

// Send writes msg as one text frame. A deadline on ctx bounds the write.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := c.ws.SetWriteDeadline(dl); err != nil {
			return err
		}
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return websocket.Message.Send(c.ws, string(msg))
}

// Close closes the socket. The first code passed is kept and reported by
// CloseCode; later calls do nothing.
func (c *Conn) Close(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.code = code
	return c.ws.Close()
}

// CloseCode returns the code the connection was closed with, or 0.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *Conn) Scope() jsonrpc.Scope {
	return c.scope
}
