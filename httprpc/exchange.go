package httprpc

import (
	"context"
	"errors"

	"github.com/mnehpets/wsrpc/jsonrpc"
)

// ErrNoPush is returned when a handler sends on an HTTP connection. The
// only message an HTTP exchange carries back is the response body.
var ErrNoPush = errors.New("httprpc: server push is not supported over HTTP")

// exchange is the connection of a single POST.
type exchange struct {
	scope jsonrpc.Scope
}

var _ jsonrpc.Connection = (*exchange)(nil)

func (e *exchange) Send(context.Context, []byte) error { return ErrNoPush }
func (e *exchange) Close(int) error                     { return nil }
func (e *exchange) Scope() jsonrpc.Scope                { return e.scope }
