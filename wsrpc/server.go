// Package wsrpc serves JSON-RPC 2.0 over WebSocket.
//
// Every frame the peer sends is one JSON-RPC message and every answer goes
// back as one text frame on the same socket. Each socket gets its own
// [jsonrpc.Session], so request ids are tracked per connection.
//
// # Basic Usage
//
//	reg := jsonrpc.NewRegistry(cfg)
//	reg.Register(app, "add", func(a, b int) int { return a + b })
//	d := jsonrpc.NewDispatcher(app, reg, cfg)
//	http.Handle("/ws", wsrpc.NewServer(d))
//
// # Scope
//
// The scope of a connection is built once from the opening HTTP request by
// [middleware.BuildScope] and the [middleware.ScopeFunc] values given with
// [WithScope]. A scope func error refuses the upgrade with a plain HTTP
// error.
//
// # Concurrency
//
// By default messages from one socket are handled in arrival order. With
// [WithMaxInFlight] up to n messages of one socket are handled at once and
// answers may arrive out of order.
package wsrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"sync"

	"github.com/mnehpets/wsrpc/endpoint"
	"github.com/mnehpets/wsrpc/jsonrpc"
	"github.com/mnehpets/wsrpc/middleware"
	"golang.org/x/net/websocket"
)

// ErrServerClosed is returned for upgrades after [Server.Close].
var ErrServerClosed = errors.New("wsrpc: server closed")

// Server is an http.Handler that upgrades requests to WebSocket and
// dispatches their messages.
type Server struct {
	dispatcher  *jsonrpc.Dispatcher
	scopes      []middleware.ScopeFunc
	processors  []endpoint.Processor
	origins     []string
	maxInFlight int
	handler     *endpoint.Handler

	mu       sync.Mutex
	sessions map[*jsonrpc.Session]struct{}
	closed   bool
}

// Option configures a [Server].
type Option func(*Server)

// WithScope appends scope funcs run before the upgrade.
func WithScope(fns ...middleware.ScopeFunc) Option {
	return func(s *Server) { s.scopes = append(s.scopes, fns...) }
}

// WithProcessors appends endpoint processors run before the scope funcs,
// such as a session cookie reader.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(s *Server) { s.processors = append(s.processors, p...) }
}

// WithOrigins restricts upgrades to requests whose Origin header is one of
// origins, written as scheme://host[:port]. Without it any origin is
// accepted.
func WithOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, origins...) }
}

// WithMaxInFlight lets up to n messages per connection run concurrently.
func WithMaxInFlight(n int) Option {
	return func(s *Server) { s.maxInFlight = n }
}

// NewServer returns a Server dispatching through d.
func NewServer(d *jsonrpc.Dispatcher, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		sessions:   map[*jsonrpc.Session]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = endpoint.New(s.upgrade, s.processors...)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) upgrade(_ http.ResponseWriter, r *http.Request) (endpoint.Renderer, error) {
	if s.isClosed() {
		return nil, endpoint.Error(http.StatusServiceUnavailable, "", ErrServerClosed)
	}
	scope, err := middleware.BuildScope(r, jsonrpc.TransportNameWebSocket, s.scopes...)
	if err != nil {
		s.dispatcher.Config().Logger.Info("wsrpc: connection refused",
			slog.String("client", r.RemoteAddr), slog.String("err", err.Error()))
		return nil, err
	}
	ws := websocket.Server{
		Handshake: s.checkOrigin,
		Handler: func(conn *websocket.Conn) {
			s.serve(conn, scope)
		},
	}
	return endpoint.RendererFunc(func(w http.ResponseWriter, r *http.Request) error {
		ws.ServeHTTP(w, r)
		return nil
	}), nil
}

func (s *Server) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	origin, err := websocket.Origin(cfg, r)
	if err != nil {
		return err
	}
	cfg.Origin = origin
	if len(s.origins) == 0 {
		return nil
	}
	if origin == nil {
		return errors.New("wsrpc: missing origin")
	}
	if !slices.Contains(s.origins, origin.Scheme+"://"+origin.Host) {
		return fmt.Errorf("wsrpc: origin %s not allowed", origin)
	}
	return nil
}

func (s *Server) serve(ws *websocket.Conn, scope jsonrpc.Scope) {
	cfg := s.dispatcher.Config()
	ws.PayloadType = websocket.TextFrame
	ws.MaxPayloadBytes = payloadLimit(cfg.Limits.MaxMessageSize)

	session := s.dispatcher.NewSession(newConn(ws, scope))
	if !s.track(session) {
		session.Close(CloseGoingAway)
		return
	}
	defer s.untrack(session)

	ctx, cancel := context.WithCancel(ws.Request().Context())
	var wg sync.WaitGroup
	code := s.readLoop(ctx, ws, session, &wg)
	cancel()
	wg.Wait()
	session.Close(code)
}

// readLoop reads until the socket fails and returns the close code.
func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, session *jsonrpc.Session, wg *sync.WaitGroup) int {
	cfg := s.dispatcher.Config()
	connID := session.Connection().Scope().ConnectionID()

	var slots chan struct{}
	if s.maxInFlight > 0 {
		slots = make(chan struct{}, s.maxInFlight)
	}

	for {
		var msg []byte
		err := websocket.Message.Receive(ws, &msg)
		if errors.Is(err, websocket.ErrFrameTooLarge) {
			s.reply(ctx, session, session.RejectOversized(ctx))
			continue
		}
		if errors.Is(err, io.EOF) {
			return CloseNormal
		}
		if err != nil {
			cfg.Logger.Info("wsrpc: read failed",
				slog.String("connectionID", connID),
				slog.String("err", err.Error()),
				slog.String("errClass", cfg.ErrClassifier(err)))
			return CloseGoingAway
		}

		if slots == nil {
			s.handle(ctx, session, msg)
			continue
		}
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return CloseGoingAway
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			s.handle(ctx, session, msg)
		}()
	}
}

func (s *Server) handle(ctx context.Context, session *jsonrpc.Session, msg []byte) {
	s.reply(ctx, session, session.OnMessage(ctx, msg))
}

func (s *Server) reply(ctx context.Context, session *jsonrpc.Session, out []byte) {
	if out == nil {
		return
	}
	if err := session.Connection().Send(ctx, out); err != nil {
		cfg := s.dispatcher.Config()
		cfg.Logger.Debug("wsrpc: send failed",
			slog.String("connectionID", session.Connection().Scope().ConnectionID()),
			slog.String("err", err.Error()),
			slog.String("errClass", cfg.ErrClassifier(err)))
	}
}

// Broadcast sends a notification to every open connection and returns the
// joined send errors.
func (s *Server) Broadcast(ctx context.Context, method string, params any) error {
	var errs []error
	for _, session := range s.open() {
		if err := session.Notify(ctx, method, params); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close refuses new upgrades and closes every open connection with
// CloseGoingAway.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, session := range s.open() {
		if err := session.Close(CloseGoingAway); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) open() []*jsonrpc.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*jsonrpc.Session, 0, len(s.sessions))
	for session := range s.sessions {
		out = append(out, session)
	}
	return out
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(session *jsonrpc.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[session] = struct{}{}
	return true
}

func (s *Server) untrack(session *jsonrpc.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
}

// payloadLimit maps a message size limit to MaxPayloadBytes, where zero
// would mean the library default.
func payloadLimit(limit int) int {
	if limit <= 0 {
		return math.MaxInt
	}
	return limit
}
