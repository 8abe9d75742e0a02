package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/mnehpets/wsrpc/auth"
	"github.com/mnehpets/wsrpc/config"
	"github.com/mnehpets/wsrpc/httprpc"
	"github.com/mnehpets/wsrpc/jsonrpc"
	"github.com/mnehpets/wsrpc/middleware"
	"github.com/mnehpets/wsrpc/wsrpc"
)

type app struct{}

type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

func me(ctx *jsonrpc.Context) (*Profile, error) {
	p, _ := ctx.User()
	u, ok := p.(*auth.User)
	if !ok {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "not signed in")
	}
	return &Profile{ID: u.ID(), Email: u.Email}, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	clientID := os.Getenv("OAUTH_CLIENT_ID")
	if clientID == "" {
		log.Fatal("OAUTH_CLIENT_ID must be set")
	}

	cfg, err := config.Load(os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	// Clients send Google ID tokens as "Authorization: Bearer <token>", or
	// as ?access_token=<token> on the WebSocket URL.
	providers := auth.NewRegistry()
	google, err := auth.NewProvider(context.Background(), "google", "https://accounts.google.com", clientID)
	if err != nil {
		log.Fatalf("Failed to set up OIDC provider: %v", err)
	}
	providers.Register(google)

	reg := jsonrpc.NewRegistry(cfg)
	if err := reg.Register(app{}, "me", me, jsonrpc.WithDoc("Me returns the caller's identity.")); err != nil {
		log.Fatal(err)
	}
	if err := reg.Register(app{}, "admin.ping", func() string { return "pong" }, jsonrpc.WithPermissions("admin")); err != nil {
		log.Fatal(err)
	}
	d := jsonrpc.NewDispatcher(app{}, reg, cfg)

	scope := []middleware.ScopeFunc{auth.BearerScope(providers), middleware.RequireUser()}
	http.Handle("/rpc", httprpc.NewHandler(d, httprpc.WithScope(scope...)))
	http.Handle("/ws", wsrpc.NewServer(d, wsrpc.WithScope(scope...)))

	log.Println("Starting server on :8080")
	log.Fatal(http.ListenAndServe(":8080", nil))
}
