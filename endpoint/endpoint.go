// Package endpoint is the small HTTP layer under the JSON-RPC transports.
//
// A request flows through an ordered list of Processors and then into a
// Func, which returns the Renderer that writes the response:
//
//  1. Processors inspect or enrich the request (sessions, scope, headers).
//     They never write the body.
//  2. The Func runs the handler logic and picks a Renderer.
//  3. Deferred hooks registered with [Defer] run, then the Renderer writes
//     the status, headers and body.
//
// An error from any stage is written as a plain-text response whose status
// comes from [Error] when present and 500 otherwise. Only errors made with
// [Error] choose the body; others are answered with the status text.
package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// HTTPError carries an HTTP status for an error returned by a Processor,
// a Func or a Renderer.
type HTTPError struct {
	Status int
	// Message is sent as the response body. Empty means the status text.
	Message string
	Cause   error
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "endpoint: <nil>"
	}
	msg := e.text()
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *HTTPError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *HTTPError) text() string {
	if e.Message != "" {
		return e.Message
	}
	if t := http.StatusText(e.Status); t != "" {
		return t
	}
	return "unknown error"
}

// Error wraps err with an HTTP status. An error that already carries a
// status is returned unchanged.
func Error(status int, message string, err error) error {
	var he *HTTPError
	if errors.As(err, &he) {
		return err
	}
	return &HTTPError{Status: status, Message: message, Cause: err}
}

// StatusOf returns the status carried by err, or 500.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) && he.Status >= 100 {
		return he.Status
	}
	return http.StatusInternalServerError
}

// Renderer writes a complete response. It must call WriteHeader.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor runs before the Func. It must call next unless it ends the
// request with an error, and it must not write the response.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// Func handles a request once every processor has run.
type Func func(w http.ResponseWriter, r *http.Request) (Renderer, error)

// Handler chains Processors in front of a Func.
type Handler struct {
	Func       Func
	Processors []Processor
}

// New returns a Handler for fn.
func New(fn Func, processors ...Processor) *Handler {
	return &Handler{Func: fn, Processors: processors}
}

type deferredKey struct{}

// Defer registers fn to run just before the response headers are written.
// Outside a Handler it does nothing.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	if fns, ok := ctx.Value(deferredKey{}).(*[]func(http.ResponseWriter)); ok && fns != nil {
		*fns = append(*fns, fn)
	}
}

// Commit runs the functions registered with Defer, last first, and forgets
// them.
func Commit(ctx context.Context, w http.ResponseWriter) {
	fns, ok := ctx.Value(deferredKey{}).(*[]func(http.ResponseWriter))
	if !ok || fns == nil {
		return
	}
	for i := len(*fns) - 1; i >= 0; i-- {
		(*fns)[i](w)
	}
	*fns = nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Func == nil {
		http.Error(w, "endpoint: nil Func", http.StatusInternalServerError)
		return
	}
	if r.Context().Value(deferredKey{}) == nil {
		var fns []func(http.ResponseWriter)
		r = r.WithContext(context.WithValue(r.Context(), deferredKey{}, &fns))
	}

	err := h.run(0, w, r)
	if err == nil {
		return
	}
	Commit(r.Context(), w)
	status := StatusOf(err)
	msg := http.StatusText(status)
	var he *HTTPError
	if errors.As(err, &he) && he != nil {
		msg = he.text()
	}
	if status == http.StatusNoContent || status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}
	http.Error(w, msg, status)
}

func (h *Handler) run(i int, w http.ResponseWriter, r *http.Request) error {
	if i < len(h.Processors) {
		p := h.Processors[i]
		if p == nil {
			return errors.New("endpoint: nil processor")
		}
		return p.Process(w, r, func(w2 http.ResponseWriter, r2 *http.Request) error {
			return h.run(i+1, w2, r2)
		})
	}

	renderer, err := h.Func(w, r)
	if err != nil {
		return err
	}
	if renderer == nil {
		return errors.New("endpoint: nil renderer")
	}
	if c, ok := renderer.(io.Closer); ok {
		defer c.Close()
	}
	Commit(r.Context(), w)
	return renderer.Render(w, r)
}
