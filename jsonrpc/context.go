package jsonrpc

import (
	"context"
	"encoding/json"
)

// Connection is the transport side of one peer connection. The dispatcher
// only sends bytes, closes, and reads the scope.
type Connection interface {
	Send(ctx context.Context, msg []byte) error
	Close(code int) error
	Scope() Scope
}

// Scope is transport metadata attached to a connection when it is
// established. It is read-only once the connection is handed to a
// [Dispatcher].
type Scope map[string]any

// Well-known scope keys.
const (
	ScopeType         = "type"          // transport name, see [Transport]
	ScopeUser         = "user"          // a [Principal]
	ScopeSession      = "session"       // transport session data
	ScopeHeaders      = "headers"       // http.Header of the opening request
	ScopeConnectionID = "connection_id" // string
	ScopeClient       = "client"        // remote address
)

// Transport returns the transport named by the "type" key.
func (s Scope) Transport() Transport {
	name, _ := s[ScopeType].(string)
	return ParseTransport(name)
}

// User returns the principal stored under the "user" key, if any.
func (s Scope) User() (Principal, bool) {
	p, ok := s[ScopeUser].(Principal)
	return p, ok
}

// ConnectionID returns the connection id, or "" when unset.
func (s Scope) ConnectionID() string {
	id, _ := s[ScopeConnectionID].(string)
	return id
}

// Principal is the authenticated identity behind a connection.
type Principal interface {
	IsAuthenticated() bool
	HasPermissions(perms ...string) bool
}

// Context is the per-request context passed to handlers that take a
// *Context or context.Context as their first parameter. A new Context is
// built for every dispatch and is never shared between requests.
type Context struct {
	context.Context
	conn           Connection
	method         string
	id             json.RawMessage
	isNotification bool
}

// BuildContext builds the context for one request. It performs no I/O.
func BuildContext(parent context.Context, conn Connection, method string, id json.RawMessage, isNotification bool) *Context {
	return &Context{
		Context:        parent,
		conn:           conn,
		method:         method,
		id:             id,
		isNotification: isNotification,
	}
}

func (c *Context) Connection() Connection { return c.conn }
func (c *Context) MethodName() string     { return c.method }

// ID returns the raw request id; nil for notifications.
func (c *Context) ID() json.RawMessage { return c.id }

func (c *Context) IsNotification() bool { return c.isNotification }

// Scope returns the connection scope, or nil without a connection.
func (c *Context) Scope() Scope {
	if c.conn == nil {
		return nil
	}
	return c.conn.Scope()
}

// User returns the principal in the connection scope, if any.
func (c *Context) User() (Principal, bool) {
	return c.Scope().User()
}

type contextKey struct{}

// FromContext returns the request context when ctx is, or derives from, a
// *Context. Handlers that accept a plain context.Context use it to reach
// the request metadata.
func FromContext(ctx context.Context) (*Context, bool) {
	if c, ok := ctx.(*Context); ok {
		return c, true
	}
	c, ok := ctx.Value(contextKey{}).(*Context)
	return c, ok
}

// Value makes the *Context reachable from derived contexts.
func (c *Context) Value(key any) any {
	if _, ok := key.(contextKey); ok {
		return c
	}
	return c.Context.Value(key)
}
