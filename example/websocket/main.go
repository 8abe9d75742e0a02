package main

import (
	"context"
	"crypto/rand"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mnehpets/wsrpc/config"
	"github.com/mnehpets/wsrpc/endpoint"
	"github.com/mnehpets/wsrpc/jsonrpc"
	"github.com/mnehpets/wsrpc/middleware"
	"github.com/mnehpets/wsrpc/wsrpc"
)

type app struct{}

type ChatMethods struct {
	server *wsrpc.Server
}

// Say sends text to every connected client.
func (c *ChatMethods) Say(ctx *jsonrpc.Context, args struct {
	Text string `json:"text"`
}) error {
	from := "anonymous"
	if sess, ok := ctx.Scope()[jsonrpc.ScopeSession].(*middleware.Session); ok {
		from = sess.Subject
	}
	return c.server.Broadcast(ctx, "chat.message", map[string]string{"from": from, "text": args.Text})
}

// Whoami returns the connection id and the session subject.
func (c *ChatMethods) Whoami(ctx *jsonrpc.Context) map[string]string {
	out := map[string]string{"connection": ctx.Scope().ConnectionID()}
	if sess, ok := ctx.Scope()[jsonrpc.ScopeSession].(*middleware.Session); ok {
		out["subject"] = sess.Subject
	}
	return out
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg, err := config.Load(os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	cfg.Logger = logger

	// For example purposes, we generate a random key. In production, this should be persisted.
	key := make([]byte, middleware.KeySize)
	if _, err := rand.Read(key); err != nil {
		log.Fatal(err)
	}
	sealer, err := middleware.NewSealer("key1", map[string][]byte{"key1": key}, nil)
	if err != nil {
		log.Fatal(err)
	}
	// Allow non-https cookies, for http://localhost:8080
	cookie, err := middleware.NewSealedCookie(middleware.DefaultCookieName, sealer, middleware.WithSecure(false))
	if err != nil {
		log.Fatal(err)
	}
	sessions := middleware.NewSessions(cookie)

	chat := &ChatMethods{}
	reg := jsonrpc.NewRegistry(cfg)
	if err := reg.RegisterService(app{}, "chat", chat); err != nil {
		log.Fatal(err)
	}
	d := jsonrpc.NewDispatcher(app{}, reg, cfg, jsonrpc.WithHooks(jsonrpc.Hooks{
		ClientConnected: func(conn jsonrpc.Connection) {
			logger.Info("client connected", "id", conn.Scope().ConnectionID())
		},
		ClientDisconnected: func(conn jsonrpc.Connection, code int) {
			logger.Info("client disconnected", "id", conn.Scope().ConnectionID(), "code", code)
		},
	}))

	chat.server = wsrpc.NewServer(d,
		wsrpc.WithProcessors(sessions),
		wsrpc.WithScope(sessions.Scope()),
		wsrpc.WithOrigins("http://localhost:8080"),
	)

	// GET /login?name=alice issues a session cookie picked up by the next
	// WebSocket handshake.
	http.Handle("/login", endpoint.New(func(w http.ResponseWriter, r *http.Request) (endpoint.Renderer, error) {
		name := r.URL.Query().Get("name")
		if name == "" {
			return nil, endpoint.Error(http.StatusBadRequest, "name is required", nil)
		}
		if _, err := sessions.Issue(w, name); err != nil {
			return nil, err
		}
		return &endpoint.NoContentRenderer{}, nil
	}))
	http.Handle("/ws", chat.server)

	go func() {
		for range time.Tick(time.Minute) {
			_ = chat.server.Broadcast(context.Background(), "chat.tick", map[string]int{"clients": chat.server.Len()})
		}
	}()

	log.Println("Starting server on :8080")
	log.Fatal(http.ListenAndServe(":8080", nil))
}
