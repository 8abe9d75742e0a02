package middleware

import (
	"errors"
	"net/http"

	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
	"github.com/mnehpets/wsrpc/endpoint"
	"github.com/mnehpets/wsrpc/jsonrpc"
)

// ScopeFunc adds entries to the scope of a connection opened by r. An
// error refuses the connection; wrap it with [endpoint.Error] to choose
// the HTTP status, which otherwise is 403.
type ScopeFunc func(r *http.Request, scope jsonrpc.Scope) error

// NewConnectionID returns a fresh time-ordered connection id.
func NewConnectionID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}

// BuildScope returns the scope for a connection opened by r over the
// named transport, after applying funcs in order.
func BuildScope(r *http.Request, transport string, funcs ...ScopeFunc) (jsonrpc.Scope, error) {
	scope := jsonrpc.Scope{
		jsonrpc.ScopeType:         transport,
		jsonrpc.ScopeConnectionID: NewConnectionID(),
		jsonrpc.ScopeHeaders:      r.Header.Clone(),
		jsonrpc.ScopeClient:       r.RemoteAddr,
	}
	for _, fn := range funcs {
		if fn == nil {
			continue
		}
		if err := fn(r, scope); err != nil {
			return nil, endpoint.Error(http.StatusForbidden, "", err)
		}
	}
	return scope, nil
}

// ErrUnauthenticated is returned by scope funcs that require a user.
var ErrUnauthenticated = errors.New("unauthenticated")

// RequireUser refuses connections whose scope has no authenticated user.
// Place it after the funcs that set the user.
func RequireUser() ScopeFunc {
	return func(_ *http.Request, scope jsonrpc.Scope) error {
		if u, ok := scope.User(); ok && u.IsAuthenticated() {
			return nil
		}
		return endpoint.Error(http.StatusUnauthorized, "", ErrUnauthenticated)
	}
}
