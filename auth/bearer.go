package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mnehpets/wsrpc/endpoint"
	"github.com/mnehpets/wsrpc/jsonrpc"
	"github.com/mnehpets/wsrpc/middleware"
)

// ErrNoToken is returned when a token is required but the request has none.
var ErrNoToken = errors.New("auth: no bearer token")

// AccessTokenParam is the query parameter read when the Authorization
// header is absent. Browsers cannot set headers on a WebSocket handshake.
const AccessTokenParam = "access_token"

// Authenticator verifies a bearer token. [Provider] and [Registry]
// implement it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*User, error)
}

// TokenFromRequest returns the bearer token carried by r.
func TokenFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}
	if token := r.URL.Query().Get(AccessTokenParam); token != "" {
		return token, true
	}
	return "", false
}

type bearerOptions struct {
	optional bool
}

// BearerOption configures BearerScope.
type BearerOption func(*bearerOptions)

// Optional lets requests without a token through with no user in scope.
// A token that is present must still verify.
func Optional() BearerOption {
	return func(o *bearerOptions) {
		o.optional = true
	}
}

// BearerScope verifies the request's bearer token with a and stores the
// resulting *User under [jsonrpc.ScopeUser]. Failures refuse the
// connection with 401.
func BearerScope(a Authenticator, opts ...BearerOption) middleware.ScopeFunc {
	var o bearerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return func(r *http.Request, scope jsonrpc.Scope) error {
		token, ok := TokenFromRequest(r)
		if !ok {
			if o.optional {
				return nil
			}
			return endpoint.Error(http.StatusUnauthorized, "", ErrNoToken)
		}
		user, err := a.Authenticate(r.Context(), token)
		if err != nil {
			return endpoint.Error(http.StatusUnauthorized, "", err)
		}
		scope[jsonrpc.ScopeUser] = user
		return nil
	}
}
