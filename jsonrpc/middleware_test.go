package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRequestPhase(t *testing.T) {
	rename := func(name string) Middleware {
		return MiddlewareFuncs{Request: func(ctx context.Context, req *Request, conn Connection) (*Request, *Response, error) {
			next := *req
			next.Method += "." + name
			return &next, nil, nil
		}}
	}
	conn := newFakeConn(nil)

	req, resp, err := Pipeline{rename("a"), MiddlewareFuncs{}, rename("b")}.ProcessRequest(context.Background(), &Request{Method: "m"}, conn)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, "m.a.b", req.Method)

	var reached bool
	short := MiddlewareFuncs{Request: func(ctx context.Context, req *Request, conn Connection) (*Request, *Response, error) {
		return nil, NewResultResponse(nil, json.RawMessage(`1`)), nil
	}}
	after := MiddlewareFuncs{Request: func(ctx context.Context, req *Request, conn Connection) (*Request, *Response, error) {
		reached = true
		return req, nil, nil
	}}
	_, resp, err = Pipeline{short, after}.ProcessRequest(context.Background(), &Request{Method: "m"}, conn)
	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.False(t, reached)

	reject := MiddlewareFuncs{Request: func(ctx context.Context, req *Request, conn Connection) (*Request, *Response, error) {
		return nil, nil, nil
	}}
	_, _, err = Pipeline{reject}.ProcessRequest(context.Background(), &Request{Method: "m"}, conn)
	assert.ErrorIs(t, err, ErrRequestRejected)
}

func TestPipelineResponsePhase(t *testing.T) {
	boom := errors.New("boom")
	failing := MiddlewareFuncs{Response: func(ctx context.Context, resp *Response, conn Connection) (*Response, error) {
		return nil, boom
	}}
	keep := MiddlewareFuncs{Response: func(ctx context.Context, resp *Response, conn Connection) (*Response, error) {
		return nil, nil
	}}
	in := NewResultResponse(json.RawMessage(`1`), json.RawMessage(`2`))

	out, err := Pipeline{keep, MiddlewareFuncs{}}.ProcessResponse(context.Background(), in, newFakeConn(nil))
	require.NoError(t, err)
	assert.Same(t, in, out)

	_, err = Pipeline{failing}.ProcessResponse(context.Background(), in, newFakeConn(nil))
	assert.ErrorIs(t, err, boom)
}

func TestLoggingMiddleware(t *testing.T) {
	for _, logParams := range []bool{false, true} {
		logger, records := newCapturingLogger()
		m := &LoggingMiddleware{Logger: logger, LogParams: logParams}
		conn := newFakeConn(nil)
		req := &Request{Method: "add", Params: json.RawMessage(`[1,2]`), ID: json.RawMessage(`7`)}

		out, resp, err := m.ProcessRequest(context.Background(), req, conn)
		require.NoError(t, err)
		assert.Nil(t, resp)
		assert.Same(t, req, out)
		_, err = m.ProcessResponse(context.Background(), NewErrorResponse(req.ID, NewError(CodeInternalError, "x")), conn)
		require.NoError(t, err)

		require.Len(t, *records, 2)
		assert.True(t, hasRecord(*records, slog.LevelInfo, "jsonrpc request"))
		assert.Equal(t, "add", recordAttr(*records, "jsonrpc request", "method"))
		assert.Equal(t, "conn-1", recordAttr(*records, "jsonrpc request", "connectionID"))
		if logParams {
			assert.Equal(t, "[1,2]", recordAttr(*records, "jsonrpc request", "params"))
		} else {
			assert.Empty(t, recordAttr(*records, "jsonrpc request", "params"))
		}
		assert.Equal(t, "-32603", recordAttr(*records, "jsonrpc response", "code"))
	}
}
