package jsonrpc

import (
	"context"
	"errors"
)

// Middleware observes or rewrites requests before they reach their handler
// and responses before they are sent.
//
// ProcessRequest may return a rewritten request. Returning a non-nil
// response short-circuits the call and the handler is not invoked.
// Returning neither rejects the request with an invalid request error.
// Returning an error aborts the call: a *JSONRPCError is sent as is and any
// other error is sent as a generic internal error.
//
// ProcessResponse may return a rewritten response. If it fails, the error
// is logged and the response produced before the response phase is sent.
//
// The ctx passed to both methods is the request's *Context.
type Middleware interface {
	ProcessRequest(ctx context.Context, req *Request, conn Connection) (*Request, *Response, error)
	ProcessResponse(ctx context.Context, resp *Response, conn Connection) (*Response, error)
}

// ErrRequestRejected is returned by [Pipeline.ProcessRequest] when a
// middleware returned neither a request nor a response.
var ErrRequestRejected = errors.New("jsonrpc: request rejected by middleware")

// MiddlewareFuncs adapts plain functions to [Middleware]. A nil function
// passes its input through unchanged.
type MiddlewareFuncs struct {
	Request  func(ctx context.Context, req *Request, conn Connection) (*Request, *Response, error)
	Response func(ctx context.Context, resp *Response, conn Connection) (*Response, error)
}

var _ Middleware = MiddlewareFuncs{}

func (m MiddlewareFuncs) ProcessRequest(ctx context.Context, req *Request, conn Connection) (*Request, *Response, error) {
	if m.Request == nil {
		return req, nil, nil
	}
	return m.Request(ctx, req, conn)
}

func (m MiddlewareFuncs) ProcessResponse(ctx context.Context, resp *Response, conn Connection) (*Response, error) {
	if m.Response == nil {
		return resp, nil
	}
	return m.Response(ctx, resp, conn)
}

// Pipeline runs middlewares in registration order for both phases.
type Pipeline []Middleware

var _ Middleware = Pipeline(nil)

func (p Pipeline) ProcessRequest(ctx context.Context, req *Request, conn Connection) (*Request, *Response, error) {
	for _, m := range p {
		next, resp, err := m.ProcessRequest(ctx, req, conn)
		if err != nil {
			return nil, nil, err
		}
		if resp != nil {
			return nil, resp, nil
		}
		if next == nil {
			return nil, nil, ErrRequestRejected
		}
		req = next
	}
	return req, nil, nil
}

func (p Pipeline) ProcessResponse(ctx context.Context, resp *Response, conn Connection) (*Response, error) {
	for _, m := range p {
		next, err := m.ProcessResponse(ctx, resp, conn)
		if err != nil {
			return nil, err
		}
		if next != nil {
			resp = next
		}
	}
	return resp, nil
}

// LoggingMiddleware logs every request and response at info level. Params
// are only logged when LogParams is set.
type LoggingMiddleware struct {
	Logger    Logger
	LogParams bool
}

var _ Middleware = (*LoggingMiddleware)(nil)

func (m *LoggingMiddleware) ProcessRequest(ctx context.Context, req *Request, conn Connection) (*Request, *Response, error) {
	args := []any{
		"method", req.Method,
		"id", string(req.ID),
		"notification", req.IsNotification(),
		"connectionID", conn.Scope().ConnectionID(),
	}
	if m.LogParams {
		args = append(args, "params", string(req.Params))
	}
	m.Logger.Info("jsonrpc request", args...)
	return req, nil, nil
}

func (m *LoggingMiddleware) ProcessResponse(ctx context.Context, resp *Response, conn Connection) (*Response, error) {
	args := []any{"id", string(resp.ID), "connectionID", conn.Scope().ConnectionID()}
	if resp.Error != nil {
		args = append(args, "code", resp.Error.Code)
	}
	m.Logger.Info("jsonrpc response", args...)
	return resp, nil
}
