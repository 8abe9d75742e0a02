package jsonrpc

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bassosimone/slogstub"
	"github.com/stretchr/testify/require"
)

// testOwner is the consumer type the tests register handlers on.
type testOwner struct{}

// fakeConn records what the dispatcher sends and closes.
type fakeConn struct {
	mu     sync.Mutex
	scope  Scope
	sent   [][]byte
	closed []int
}

func newFakeConn(scope Scope) *fakeConn {
	if scope == nil {
		scope = Scope{ScopeType: TransportNameWebSocket, ScopeConnectionID: "conn-1"}
	}
	return &fakeConn{scope: scope}
}

func (c *fakeConn) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, slices.Clone(msg))
	return nil
}

func (c *fakeConn) Close(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, code)
	return nil
}

func (c *fakeConn) Scope() Scope {
	return c.scope
}

func (c *fakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, b := range c.sent {
		out = append(out, string(b))
	}
	return out
}

// countingCodec counts decode attempts.
type countingCodec struct {
	Codec
	unmarshals atomic.Int32
}

func (c *countingCodec) Unmarshal(data []byte, v any) error {
	c.unmarshals.Add(1)
	return c.Codec.Unmarshal(data, v)
}

// testPrincipal is a [Principal] with a fixed permission set.
type testPrincipal struct {
	authenticated bool
	perms         []string
}

func (p testPrincipal) IsAuthenticated() bool { return p.authenticated }

func (p testPrincipal) HasPermissions(perms ...string) bool {
	for _, perm := range perms {
		if !slices.Contains(p.perms, perm) {
			return false
		}
	}
	return true
}

// newCapturingLogger returns a logger that captures all log records into the
// returned slice.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var (
		mu      sync.Mutex
		records []slog.Record
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			defer mu.Unlock()
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// hasRecord reports whether a record with level and message was captured.
func hasRecord(records []slog.Record, level slog.Level, msg string) bool {
	return slices.ContainsFunc(records, func(r slog.Record) bool {
		return r.Level == level && r.Message == msg
	})
}

// recordAttr returns the string value of key in the first record with msg.
func recordAttr(records []slog.Record, msg, key string) string {
	for _, r := range records {
		if r.Message != msg {
			continue
		}
		var value string
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == key {
				value = a.Value.String()
				return false
			}
			return true
		})
		return value
	}
	return ""
}

// mathHandlers registers the handlers shared by the dispatcher tests.
func mathHandlers(t *testing.T, reg *Registry) {
	t.Helper()
	type subParams struct {
		Minuend    int `json:"minuend"`
		Subtrahend int `json:"subtrahend"`
	}
	require.NoError(t, reg.Register(testOwner{}, "add", func(a, b int) int { return a + b }, WithParamNames("a", "b")))
	require.NoError(t, reg.Register(testOwner{}, "subtract", func(p subParams) int { return p.Minuend - p.Subtrahend }))
	require.NoError(t, reg.Register(testOwner{}, "echo", func(items ...any) []any { return items }))
	require.NoError(t, reg.Register(testOwner{}, "ping", func() string { return "pong" }))
	require.NoError(t, reg.Register(testOwner{}, "count", func(kwargs map[string]any) int { return len(kwargs) }))
	require.NoError(t, reg.Register(testOwner{}, "_secret", func() string { return "hidden" }))
}

// newTestSession builds a dispatcher for testOwner and starts a session.
func newTestSession(t *testing.T, cfg *Config, register func(t *testing.T, reg *Registry), opts ...DispatcherOption) (*Session, *fakeConn) {
	t.Helper()
	if cfg == nil {
		cfg = NewConfig()
	}
	reg := NewRegistry(cfg)
	if register != nil {
		register(t, reg)
	}
	conn := newFakeConn(nil)
	return NewDispatcher(testOwner{}, reg, cfg, opts...).NewSession(conn), conn
}
