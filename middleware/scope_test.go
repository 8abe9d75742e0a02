package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/mnehpets/wsrpc/endpoint"
	"github.com/mnehpets/wsrpc/jsonrpc"
)

func TestBuildScope(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Trace", "abc")
	r.RemoteAddr = "10.0.0.1:1234"

	tagged := func(_ *http.Request, scope jsonrpc.Scope) error {
		scope["tenant"] = "t1"
		return nil
	}
	scope, err := BuildScope(r, jsonrpc.TransportNameWebSocket, tagged, nil)
	if err != nil {
		t.Fatalf("BuildScope: %v", err)
	}
	if scope.Transport() != jsonrpc.TransportWebSocket {
		t.Errorf("transport = %v", scope.Transport())
	}
	id, err := uuid.Parse(scope.ConnectionID())
	if err != nil || id.Version() != 7 {
		t.Errorf("connection id %q is not a UUIDv7", scope.ConnectionID())
	}
	if scope[jsonrpc.ScopeClient] != "10.0.0.1:1234" || scope["tenant"] != "t1" {
		t.Errorf("scope = %+v", scope)
	}
	headers := scope[jsonrpc.ScopeHeaders].(http.Header)
	r.Header.Set("X-Trace", "changed")
	if headers.Get("X-Trace") != "abc" {
		t.Errorf("headers not copied")
	}

	other, _ := BuildScope(r, jsonrpc.TransportNameHTTP)
	if other.ConnectionID() == scope.ConnectionID() {
		t.Errorf("connection ids repeat")
	}
}

func TestBuildScopeErrors(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	boom := errors.New("boom")

	_, err := BuildScope(r, jsonrpc.TransportNameHTTP, func(*http.Request, jsonrpc.Scope) error { return boom })
	if !errors.Is(err, boom) || endpoint.StatusOf(err) != http.StatusForbidden {
		t.Errorf("got %v (status %d)", err, endpoint.StatusOf(err))
	}

	_, err = BuildScope(r, jsonrpc.TransportNameHTTP, RequireUser())
	if !errors.Is(err, ErrUnauthenticated) || endpoint.StatusOf(err) != http.StatusUnauthorized {
		t.Errorf("got %v (status %d)", err, endpoint.StatusOf(err))
	}
}
