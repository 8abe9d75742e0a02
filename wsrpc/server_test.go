package wsrpc

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mnehpets/wsrpc/jsonrpc"
	"github.com/mnehpets/wsrpc/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type testApp struct{}

func newTestServer(t *testing.T, cfg *jsonrpc.Config, dopts []jsonrpc.DispatcherOption, opts ...Option) (*Server, string) {
	t.Helper()
	if cfg == nil {
		cfg = jsonrpc.NewConfig()
	}
	reg := jsonrpc.NewRegistry(cfg)
	require.NoError(t, reg.Register(testApp{}, "add", func(a, b int) int { return a + b }, jsonrpc.WithParamNames("a", "b")))
	require.NoError(t, reg.Register(testApp{}, "whoami", func(ctx *jsonrpc.Context) map[string]string {
		return map[string]string{
			"transport":  ctx.Scope().Transport().String(),
			"connection": ctx.Scope().ConnectionID(),
		}
	}))
	require.NoError(t, reg.Register(testApp{}, "httpOnly", func() int { return 1 }, jsonrpc.WithTransports(jsonrpc.TransportHTTP)))

	s := NewServer(jsonrpc.NewDispatcher(testApp{}, reg, cfg, dopts...), opts...)
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()
	ws, err := websocket.Dial(url, "", origin)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func call(t *testing.T, ws *websocket.Conn, msg string) string {
	t.Helper()
	require.NoError(t, websocket.Message.Send(ws, msg))
	return receive(t, ws)
}

func receive(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var reply string
	require.NoError(t, websocket.Message.Receive(ws, &reply))
	return reply
}

func TestServerCall(t *testing.T) {
	_, url := newTestServer(t, nil, nil)
	ws := dial(t, url, "http://localhost/")

	assert.JSONEq(t, `{"jsonrpc":"2.0","result":3,"id":1}`,
		call(t, ws, `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":7,"id":null}`,
		call(t, ws, `{"jsonrpc":"2.0","method":"add","params":{"a":3,"b":4},"id":null}`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method Not Found: httpOnly"},"id":2}`,
		call(t, ws, `{"jsonrpc":"2.0","method":"httpOnly","id":2}`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse Error"},"id":null}`,
		call(t, ws, `{"jsonrpc":`))
}

func TestServerNotificationIsSilent(t *testing.T) {
	_, url := newTestServer(t, nil, nil)
	ws := dial(t, url, "http://localhost/")

	require.NoError(t, websocket.Message.Send(ws, `{"jsonrpc":"2.0","method":"add","params":[1,2]}`))
	require.NoError(t, websocket.Message.Send(ws, `{"jsonrpc":"2.0","method":"nope"}`))
	// The first frame back answers the call sent after the notifications.
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":9,"id":"x"}`,
		call(t, ws, `{"jsonrpc":"2.0","method":"add","params":[4,5],"id":"x"}`))
}

func TestServerScope(t *testing.T) {
	_, url := newTestServer(t, nil, nil)
	first := call(t, dial(t, url, "http://localhost/"), `{"jsonrpc":"2.0","method":"whoami","id":1}`)
	second := call(t, dial(t, url, "http://localhost/"), `{"jsonrpc":"2.0","method":"whoami","id":1}`)

	assert.Contains(t, first, `"transport":"websocket"`)
	assert.NotEqual(t, first, second, "connection ids differ")
}

func TestServerRequestIDsArePerConnection(t *testing.T) {
	_, url := newTestServer(t, nil, nil)
	a := dial(t, url, "http://localhost/")
	b := dial(t, url, "http://localhost/")
	msg := `{"jsonrpc":"2.0","method":"add","params":[1,1],"id":5}`

	assert.Contains(t, call(t, a, msg), `"result":2`)
	assert.Contains(t, call(t, b, msg), `"result":2`)
	assert.Contains(t, call(t, a, msg), `duplicate id`)
}

func TestServerOversizedFrame(t *testing.T) {
	cfg := jsonrpc.NewConfig()
	cfg.Limits.MaxMessageSize = 64
	_, url := newTestServer(t, cfg, nil)
	ws := dial(t, url, "http://localhost/")

	big := `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":"` + strings.Repeat("x", 100) + `"}`
	reply := call(t, ws, big)
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32001,"message":"Request Too Large","data":{"limit":"message_size","max":64}},"id":null}`, reply)

	// The connection survives the rejected frame.
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":3,"id":1}`,
		call(t, ws, `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`))
}

func TestServerOrigins(t *testing.T) {
	_, url := newTestServer(t, nil, nil, WithOrigins("http://good.example"))

	_, err := websocket.Dial(url, "", "http://evil.example")
	assert.Error(t, err)

	ws := dial(t, url, "http://good.example")
	assert.Contains(t, call(t, ws, `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`), `"result":3`)
}

func TestServerScopeRefused(t *testing.T) {
	refuse := func(r *http.Request, scope jsonrpc.Scope) error {
		if r.URL.Query().Get("token") != "ok" {
			return errors.New("bad token")
		}
		return nil
	}
	_, url := newTestServer(t, nil, nil, WithScope(refuse))

	_, err := websocket.Dial(url, "", "http://localhost/")
	assert.Error(t, err)

	dial(t, url+"?token=ok", "http://localhost/")

	_, url = newTestServer(t, nil, nil, WithScope(middleware.RequireUser()))
	_, err = websocket.Dial(url, "", "http://localhost/")
	assert.Error(t, err)
}

func TestServerConcurrentDispatch(t *testing.T) {
	_, url := newTestServer(t, nil, nil, WithMaxInFlight(4))
	ws := dial(t, url, "http://localhost/")

	for i := range 8 {
		msg := `{"jsonrpc":"2.0","method":"add","params":[` + string(rune('0'+i)) + `,0],"id":` + string(rune('0'+i)) + `}`
		require.NoError(t, websocket.Message.Send(ws, msg))
	}
	seen := map[string]bool{}
	for range 8 {
		seen[receive(t, ws)] = true
	}
	assert.Len(t, seen, 8)
}

func TestServerBroadcastAndClose(t *testing.T) {
	disconnected := make(chan int, 1)
	hooks := jsonrpc.Hooks{
		ClientDisconnected: func(conn jsonrpc.Connection, code int) { disconnected <- code },
	}
	s, url := newTestServer(t, nil, []jsonrpc.DispatcherOption{jsonrpc.WithHooks(hooks)})
	ws := dial(t, url, "http://localhost/")
	require.Eventually(t, func() bool { return s.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Broadcast(t.Context(), "tick", map[string]int{"n": 1}))
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"tick","params":{"n":1}}`, receive(t, ws))

	require.NoError(t, s.Close())
	select {
	case code := <-disconnected:
		assert.Equal(t, CloseGoingAway, code)
	case <-time.After(5 * time.Second):
		t.Fatal("no disconnect")
	}

	var reply string
	assert.Error(t, websocket.Message.Receive(ws, &reply))
	_, err := websocket.Dial(url, "", "http://localhost/")
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}
