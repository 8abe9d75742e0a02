// Package httprpc serves JSON-RPC 2.0 over plain HTTP.
//
// A POST carries exactly one JSON-RPC message and its response carries the
// answer. Every POST is its own connection: it gets a fresh scope and a
// fresh [jsonrpc.Session], so request ids are not tracked across POSTs.
//
// HTTP status codes follow the error code of the answer:
//
//	success                200
//	notification           204 (no body)
//	-32600 invalid request 400
//	-32601 not found       404
//	-32001 too large       413
//	anything else          500
//
// A GET returns the JSON description of the public API.
package httprpc

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/mnehpets/wsrpc/endpoint"
	"github.com/mnehpets/wsrpc/jsonrpc"
	"github.com/mnehpets/wsrpc/middleware"
)

// Handler is an http.Handler for one dispatcher.
type Handler struct {
	dispatcher *jsonrpc.Dispatcher
	scopes     []middleware.ScopeFunc
	processors []endpoint.Processor
	noDescribe bool
	handler    *endpoint.Handler
}

// Option configures a [Handler].
type Option func(*Handler)

// WithScope appends scope funcs run for every POST.
func WithScope(fns ...middleware.ScopeFunc) Option {
	return func(h *Handler) { h.scopes = append(h.scopes, fns...) }
}

// WithProcessors appends endpoint processors run before the scope funcs.
func WithProcessors(p ...endpoint.Processor) Option {
	return func(h *Handler) { h.processors = append(h.processors, p...) }
}

// WithoutDescribe makes GET return 405 instead of the API description.
func WithoutDescribe() Option {
	return func(h *Handler) { h.noDescribe = true }
}

// NewHandler returns a Handler dispatching through d.
func NewHandler(d *jsonrpc.Dispatcher, opts ...Option) *Handler {
	h := &Handler{dispatcher: d}
	for _, opt := range opts {
		opt(h)
	}
	h.handler = endpoint.New(h.serve, h.processors...)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) (endpoint.Renderer, error) {
	switch {
	case r.Method == http.MethodPost:
	case r.Method == http.MethodGet && !h.noDescribe:
		return &endpoint.JSONRenderer{Value: h.dispatcher.Describe()}, nil
	default:
		w.Header().Set("Allow", h.allow())
		return nil, endpoint.Error(http.StatusMethodNotAllowed, "", nil)
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return nil, endpoint.Error(http.StatusUnsupportedMediaType, "", err)
		}
	}

	scope, err := middleware.BuildScope(r, jsonrpc.TransportNameHTTP, h.scopes...)
	if err != nil {
		return nil, err
	}
	conn := &exchange{scope: scope}
	session := h.dispatcher.NewSession(conn)
	defer session.Close(0)

	body, err := readBody(w, r, h.dispatcher.Config().Limits.MaxMessageSize)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &endpoint.BytesRenderer{
			Status: http.StatusRequestEntityTooLarge,
			Body:   session.RejectOversized(r.Context()),
		}, nil
	}
	if err != nil {
		h.dispatcher.Config().Logger.Info("httprpc: reading body failed",
			slog.String("connectionID", scope.ConnectionID()),
			slog.String("err", err.Error()),
			slog.String("errClass", h.dispatcher.Config().ErrClassifier(err)))
		return nil, endpoint.Error(http.StatusBadRequest, "", err)
	}

	res := session.Handle(r.Context(), body)
	if res.Bytes == nil {
		return &endpoint.NoContentRenderer{}, nil
	}
	return &endpoint.BytesRenderer{Status: StatusFor(res.Response), Body: res.Bytes}, nil
}

func (h *Handler) allow() string {
	if h.noDescribe {
		return http.MethodPost
	}
	return "GET, POST"
}

// readBody reads at most limit bytes. A limit of zero or less reads
// everything.
func readBody(w http.ResponseWriter, r *http.Request, limit int) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r.Body)
	}
	if r.ContentLength > int64(limit) {
		return nil, &http.MaxBytesError{Limit: int64(limit)}
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, int64(limit)))
}

// StatusFor maps a response to the HTTP status it is sent with.
func StatusFor(resp *jsonrpc.Response) int {
	if resp == nil || resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case jsonrpc.CodeInvalidRequest:
		return http.StatusBadRequest
	case jsonrpc.CodeMethodNotFound:
		return http.StatusNotFound
	case jsonrpc.CodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
