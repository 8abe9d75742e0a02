package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/mnehpets/wsrpc/config"
	"github.com/mnehpets/wsrpc/httprpc"
	"github.com/mnehpets/wsrpc/jsonrpc"
	"github.com/mnehpets/wsrpc/middleware"
)

type app struct{}

type MathMethods struct{}

func (m *MathMethods) Add(ctx context.Context, a, b int) (int, error) {
	return a + b, nil
}

func (m *MathMethods) Sub(ctx context.Context, args struct {
	A int `json:"a"`
	B int `json:"b"`
}) (int, error) {
	return args.A - args.B, nil
}

func (m *MathMethods) Div(a, b int) (int, error) {
	if b == 0 {
		return 0, fmt.Errorf("%w: division by zero", jsonrpc.ErrInvalidValue)
	}
	return a / b, nil
}

func main() {
	cfg, err := config.Load(os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	reg := jsonrpc.NewRegistry(cfg)
	if err := reg.RegisterService(app{}, "math", &MathMethods{}); err != nil {
		log.Fatal(err)
	}
	d := jsonrpc.NewDispatcher(app{}, reg, cfg)

	// GET /rpc describes the API; POST /rpc takes one JSON-RPC message.
	h := httprpc.NewHandler(d, httprpc.WithProcessors(middleware.NewAPIHeaders(&middleware.CORSConfig{
		AllowedOrigins: []string{"*"},
	})))
	http.Handle("/rpc", h)

	log.Println("Starting server on :8080")
	log.Fatal(http.ListenAndServe(":8080", nil))
}
