package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync/atomic"
)

// State is a step of the request lifecycle.
type State int

const (
	StateReceived State = iota
	StateSizeChecked
	StateDecoded
	StateShapeChecked
	StateResolved
	StateContextBuilt
	StatePreMiddleware
	StateInvoked
	StatePostMiddleware
	StateSerialized
	StateSent
	StateSuppressed
)

var stateNames = [...]string{
	StateReceived:       "RECEIVED",
	StateSizeChecked:    "SIZE_CHECKED",
	StateDecoded:        "DECODED",
	StateShapeChecked:   "SHAPE_CHECKED",
	StateResolved:       "RESOLVED",
	StateContextBuilt:   "CONTEXT_BUILT",
	StatePreMiddleware:  "PRE_MIDDLEWARE",
	StateInvoked:        "INVOKED",
	StatePostMiddleware: "POST_MIDDLEWARE",
	StateSerialized:     "SERIALIZED",
	StateSent:           "SENT",
	StateSuppressed:     "SUPPRESSED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result is the outcome of handling one inbound message.
type Result struct {
	// Bytes is the encoded response, or nil when nothing must be sent.
	Bytes []byte

	// Response is the response before encoding, or nil.
	Response *Response

	// Reached is the last lifecycle step completed before the message
	// was answered or suppressed.
	Reached State

	// State is StateSent when Bytes must be sent and StateSuppressed
	// otherwise.
	State State
}

// Dispatcher routes inbound messages to the handlers registered for one
// owner type. It is safe for concurrent use; per-connection state lives in
// the [*Session] values it creates.
type Dispatcher struct {
	owner    reflect.Type
	registry *Registry
	cfg      *Config
	pipeline Pipeline
	hooks    Hooks
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithMiddleware appends middlewares to the pipeline.
func WithMiddleware(m ...Middleware) DispatcherOption {
	return func(d *Dispatcher) { d.pipeline = append(d.pipeline, m...) }
}

// WithHooks sets the lifecycle hooks.
func WithHooks(h Hooks) DispatcherOption {
	return func(d *Dispatcher) { d.hooks = h }
}

// NewDispatcher creates a dispatcher for the handlers registered on
// owner's type. A nil cfg uses [NewConfig].
func NewDispatcher(owner any, registry *Registry, cfg *Config, opts ...DispatcherOption) *Dispatcher {
	if cfg == nil {
		cfg = NewConfig()
	}
	d := &Dispatcher{
		owner:    Owner(owner),
		registry: registry,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the dispatcher configuration.
func (d *Dispatcher) Config() *Config {
	return d.cfg
}

// Describe returns the public API of the dispatcher's owner.
func (d *Dispatcher) Describe() APIDescription {
	return d.registry.Describe(d.owner)
}

// Session is the dispatcher state of one connection.
type Session struct {
	d      *Dispatcher
	conn   Connection
	seen   *SeenIDWindow
	closed atomic.Bool
}

// NewSession starts dispatching for conn and runs the ClientConnected hook.
func (d *Dispatcher) NewSession(conn Connection) *Session {
	s := &Session{
		d:    d,
		conn: conn,
		seen: NewSeenIDWindow(d.cfg.IDCooldown, d.cfg.MaxTrackedIDs, d.cfg.TimeNow),
	}
	d.cfg.Logger.Info("jsonrpc: client connected", slog.String("connectionID", conn.Scope().ConnectionID()))
	d.hooks.clientConnected(conn)
	return s
}

// Connection returns the session's connection.
func (s *Session) Connection() Connection {
	return s.conn
}

// OnMessage handles msg and returns the bytes to send back, or nil.
func (s *Session) OnMessage(ctx context.Context, msg []byte) []byte {
	return s.Handle(ctx, msg).Bytes
}

// HandleMessage handles msg and sends the response, if any, on the
// session's connection.
func (s *Session) HandleMessage(ctx context.Context, msg []byte) error {
	res := s.Handle(ctx, msg)
	if res.Bytes == nil {
		return nil
	}
	return s.conn.Send(ctx, res.Bytes)
}

// RejectOversized returns the response for a message that the transport
// dropped because it exceeded the message size limit.
func (s *Session) RejectOversized(ctx context.Context) []byte {
	err := &LimitError{Limit: LimitMessageSize, Max: s.d.cfg.Limits.MaxMessageSize}
	s.d.cfg.Logger.Warn("jsonrpc: message rejected", slog.String("reason", err.Error()))
	return s.answer(StateReceived, NewErrorResponse(nil, err.rpcError())).Bytes
}

// Notify sends a server-initiated notification to the peer.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	var raw json.RawMessage
	if params != nil {
		b, err := s.d.cfg.Codec.Marshal(params)
		if err != nil {
			return err
		}
		raw = b
	}
	msg, err := s.d.cfg.Codec.Marshal(notification{JSONRPC: Version, Method: method, Params: raw})
	if err != nil {
		return err
	}
	return s.conn.Send(ctx, msg)
}

// Close closes the connection once and runs the ClientDisconnected hook.
func (s *Session) Close(code int) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.conn.Close(code)
	s.d.cfg.Logger.Info("jsonrpc: client disconnected",
		slog.String("connectionID", s.conn.Scope().ConnectionID()), slog.Int("code", code))
	s.d.hooks.clientDisconnected(s.conn, code)
	return err
}

// Handle runs one inbound message through the request lifecycle.
func (s *Session) Handle(ctx context.Context, msg []byte) Result {
	cfg := s.d.cfg
	if err := cfg.Limits.CheckMessageSize(len(msg)); err != nil {
		var limitErr *LimitError
		errors.As(err, &limitErr)
		cfg.Logger.Warn("jsonrpc: message rejected", slog.String("reason", err.Error()))
		return s.answer(StateReceived, NewErrorResponse(nil, limitErr.rpcError()))
	}

	var decoded any
	if err := cfg.Codec.Unmarshal(msg, &decoded); err != nil {
		if isUnparseableNotification(msg) {
			cfg.Logger.Debug("jsonrpc: dropping unparseable notification", slog.String("err", err.Error()))
			return suppressed(StateSizeChecked)
		}
		cfg.Logger.Debug("jsonrpc: parse error", slog.String("err", err.Error()))
		return s.answer(StateSizeChecked, NewErrorResponse(nil, newCodeError(CodeParseError)))
	}

	obj, isObject := decoded.(map[string]any)
	if err := cfg.Limits.CheckValue(decoded); err != nil {
		var limitErr *LimitError
		errors.As(err, &limitErr)
		cfg.Logger.Warn("jsonrpc: message rejected", slog.String("reason", err.Error()))
		if isObject {
			if _, hasID := obj["id"]; !hasID {
				return suppressed(StateDecoded)
			}
		}
		return s.answer(StateDecoded, NewErrorResponse(scalarID(cfg.Codec, obj), limitErr.rpcError()))
	}

	if !isObject {
		rpcErr := newCodeError(CodeInvalidRequest)
		if _, isBatch := decoded.([]any); isBatch {
			rpcErr = NewError(CodeInvalidRequest, rpcErr.Message+": batch requests are not supported")
		}
		return s.answer(StateDecoded, NewErrorResponse(nil, rpcErr))
	}

	req, reached, rpcErr := s.shape(ctx, obj, len(msg))
	if req == nil && rpcErr == nil {
		return suppressed(reached)
	}
	if rpcErr != nil {
		if _, named := obj["method"].(string); named && req != nil && req.IsNotification() {
			cfg.Logger.Debug("jsonrpc: invalid notification", slog.String("err", rpcErr.Message))
			return suppressed(reached)
		}
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		return s.answer(reached, NewErrorResponse(id, rpcErr))
	}
	return s.dispatch(ctx, req)
}

// shape validates the envelope of a decoded object. It returns a nil
// request and nil error for inbound responses, which are never answered.
// On failure the returned request, when not nil, carries the id to answer.
func (s *Session) shape(ctx context.Context, obj map[string]any, size int) (*Request, State, *JSONRPCError) {
	cfg := s.d.cfg
	method, hasMethod := obj["method"]
	_, hasResult := obj["result"]
	_, hasError := obj["error"]
	if !hasMethod && (hasResult || hasError) {
		cfg.Logger.Debug("jsonrpc: response received")
		s.d.hooks.responseReceived(ctx, s.conn, obj)
		return nil, StateDecoded, nil
	}

	req := &Request{RawSize: size}
	if rawID, hasID := obj["id"]; hasID {
		switch rawID.(type) {
		case map[string]any, []any, bool:
			return nil, StateDecoded, newCodeError(CodeInvalidRequest)
		}
		id, err := cfg.Codec.Marshal(rawID)
		if err != nil {
			return nil, StateDecoded, newCodeError(CodeInvalidRequest)
		}
		req.ID = id
	}

	version, _ := obj["jsonrpc"].(string)
	if version != Version {
		return req, StateDecoded, newCodeError(CodeInvalidRequest)
	}
	req.JSONRPC = version

	name, _ := method.(string)
	if name == "" {
		return req, StateDecoded, newCodeError(CodeInvalidRequest)
	}
	if err := cfg.Limits.CheckMethodName(name); err != nil {
		var limitErr *LimitError
		errors.As(err, &limitErr)
		return req, StateDecoded, limitErr.rpcError()
	}
	req.Method = name

	if params, hasParams := obj["params"]; hasParams {
		switch params.(type) {
		case map[string]any, []any:
		default:
			return req, StateDecoded, invalidParams("params must be an array or object")
		}
		raw, err := cfg.Codec.Marshal(params)
		if err != nil {
			return req, StateDecoded, newCodeError(CodeInvalidParams)
		}
		req.Params = raw
	}

	if err := s.seen.Observe(req.ID); err != nil {
		cfg.Logger.Warn("jsonrpc: duplicate request id",
			slog.String("id", string(req.ID)), slog.String("connectionID", s.conn.Scope().ConnectionID()))
		return req, StateShapeChecked, NewError(CodeInvalidRequest, CodeMessage(CodeInvalidRequest)+": duplicate id")
	}
	return req, StateShapeChecked, nil
}

// resolve finds the handler for req on this connection's transport.
// Private names and handlers not enabled for the transport do not resolve.
func (s *Session) resolve(req *Request) (*HandlerDescriptor, *JSONRPCError) {
	notFound := NewError(CodeMethodNotFound, CodeMessage(CodeMethodNotFound)+": "+req.Method)
	if isPrivate(req.Method) {
		return nil, notFound
	}
	var (
		d  *HandlerDescriptor
		ok bool
	)
	if req.IsNotification() {
		d, ok = s.d.registry.ResolveNotification(s.d.owner, req.Method)
	} else {
		d, ok = s.d.registry.Resolve(s.d.owner, req.Method)
	}
	if !ok || !d.transports.Allows(s.conn.Scope().Transport()) {
		return nil, notFound
	}
	return d, nil
}

func (s *Session) dispatch(ctx context.Context, req *Request) Result {
	cfg := s.d.cfg
	fail := func(reached State, rpcErr *JSONRPCError) Result {
		if req.IsNotification() {
			cfg.Logger.Debug("jsonrpc: notification failed",
				slog.String("method", req.Method), slog.Int("code", rpcErr.Code))
			return suppressed(reached)
		}
		return s.answer(reached, NewErrorResponse(req.ID, rpcErr))
	}

	desc, rpcErr := s.resolve(req)
	if rpcErr != nil {
		return fail(StateShapeChecked, rpcErr)
	}
	rctx := BuildContext(ctx, s.conn, req.Method, req.ID, req.IsNotification())
	if cfg.LogParams {
		cfg.Logger.Debug("jsonrpc: dispatching", slog.String("method", req.Method), slog.String("params", string(req.Params)))
	}

	if len(s.d.pipeline) > 0 {
		next, short, err := s.processRequest(rctx, req)
		switch {
		case errors.Is(err, ErrRequestRejected):
			return fail(StateContextBuilt, newCodeError(CodeInvalidRequest))
		case err != nil:
			return fail(StateContextBuilt, s.middlewareError(rctx, err))
		case short != nil:
			if req.IsNotification() {
				return suppressed(StatePreMiddleware)
			}
			if short.ID == nil {
				short.ID = req.ID
			}
			return s.answer(StatePreMiddleware, short)
		}
		if next != req {
			changed := next.Method != req.Method
			if !bytes.Equal(next.ID, req.ID) {
				if err := s.seen.Observe(next.ID); err != nil {
					return fail(StatePreMiddleware, NewError(CodeInvalidRequest, CodeMessage(CodeInvalidRequest)+": duplicate id"))
				}
			}
			req = next
			if changed {
				if desc, rpcErr = s.resolve(req); rpcErr != nil {
					return fail(StatePreMiddleware, rpcErr)
				}
			}
			rctx = BuildContext(ctx, s.conn, req.Method, req.ID, req.IsNotification())
		}
	}

	if !s.permitted(desc) {
		cfg.Logger.Warn("jsonrpc: permission denied",
			slog.String("method", req.Method), slog.String("connectionID", s.conn.Scope().ConnectionID()))
		return fail(StatePreMiddleware, NewError(CodeMethodNotFound, CodeMessage(CodeMethodNotFound)+": "+req.Method))
	}

	result, err := s.invoke(rctx, desc, req)
	if req.IsNotification() {
		if err != nil {
			s.reportError(rctx, "notification handler failed", err)
		}
		return suppressed(StateInvoked)
	}

	var resp *Response
	if err != nil {
		resp = NewErrorResponse(req.ID, s.reportError(rctx, "handler failed", err))
	} else if raw, err := s.marshalResult(result); err != nil {
		cfg.Logger.Error("jsonrpc: cannot serialize result",
			slog.String("method", req.Method), slog.String("err", err.Error()))
		resp = NewErrorResponse(req.ID, newCodeError(CodeParseResultError))
	} else {
		resp = NewResultResponse(req.ID, raw)
	}

	if len(s.d.pipeline) > 0 {
		orig := resp.clone()
		out, err := s.processResponse(rctx, resp)
		if err != nil {
			args := []any{slog.String("method", req.Method), slog.String("err", err.Error())}
			var pe *panicError
			if errors.As(err, &pe) {
				args = append(args, slog.String("stack", string(pe.stack)))
			}
			cfg.Logger.Warn("jsonrpc: response middleware failed", args...)
			resp = orig
		} else {
			resp = out
		}
	}
	return s.answer(StatePostMiddleware, resp)
}

// processRequest runs the request phase, turning a panic into an error.
func (s *Session) processRequest(ctx *Context, req *Request) (next *Request, short *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			next, short, err = nil, nil, &panicError{where: "middleware", value: r, stack: debug.Stack()}
		}
	}()
	return s.d.pipeline.ProcessRequest(ctx, req, s.conn)
}

// processResponse runs the response phase, turning a panic into an error.
func (s *Session) processResponse(ctx *Context, resp *Response) (out *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &panicError{where: "middleware", value: r, stack: debug.Stack()}
		}
	}()
	return s.d.pipeline.ProcessResponse(ctx, resp, s.conn)
}

// middlewareError logs a request middleware failure and returns the error
// object for the peer. Only a *JSONRPCError reaches the peer as is.
func (s *Session) middlewareError(ctx *Context, err error) *JSONRPCError {
	cfg := s.d.cfg
	args := []any{
		slog.String("method", ctx.MethodName()),
		slog.String("id", string(ctx.ID())),
		slog.String("err", err.Error()),
		slog.String("errClass", cfg.ErrClassifier(err)),
	}
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		cfg.Logger.Info("jsonrpc: request middleware failed", args...)
		return rpcErr
	}
	var pe *panicError
	if errors.As(err, &pe) {
		args = append(args, slog.String("stack", string(pe.stack)))
	}
	cfg.Logger.Error("jsonrpc: request middleware failed", args...)
	return newCodeError(CodeInternalError)
}

// permitted checks the handler's required permissions against the
// connection's principal.
func (s *Session) permitted(d *HandlerDescriptor) bool {
	if len(d.perms) == 0 {
		return true
	}
	user, ok := s.conn.Scope().User()
	return ok && user.IsAuthenticated() && user.HasPermissions(d.perms...)
}

// reportError logs err with full detail and returns the sanitized error
// object for the peer.
func (s *Session) reportError(ctx *Context, msg string, err error) *JSONRPCError {
	cfg := s.d.cfg
	rpcErr, class := classify(err, cfg.SanitizeErrors)
	args := []any{
		slog.String("method", ctx.MethodName()),
		slog.String("id", string(ctx.ID())),
		slog.String("class", class.String()),
		slog.String("err", err.Error()),
		slog.String("errClass", cfg.ErrClassifier(err)),
	}
	var pe *panicError
	if errors.As(err, &pe) {
		args = append(args, slog.String("stack", string(pe.stack)))
	}
	if class == ClassFatal {
		cfg.Logger.Error("jsonrpc: "+msg, args...)
	} else {
		cfg.Logger.Info("jsonrpc: "+msg, args...)
	}
	return rpcErr
}

// invoke binds params and calls the handler under its timeout.
func (s *Session) invoke(ctx *Context, d *HandlerDescriptor, req *Request) (any, error) {
	cfg := s.d.cfg
	args, err := d.bind(cfg.Codec, req.Params)
	if err != nil {
		return nil, err
	}

	timeout := cfg.HandlerTimeout
	if t, ok := d.Timeout(); ok {
		timeout = t
	}
	callCtx := ctx
	if timeout > 0 {
		tctx, cancel := context.WithTimeout(ctx.Context, timeout)
		defer cancel()
		callCtx = BuildContext(tctx, ctx.conn, ctx.method, ctx.id, ctx.isNotification)
	}
	if d.ctxParam != nil {
		args = append([]reflect.Value{reflect.ValueOf(callCtx)}, args...)
	}

	start := cfg.TimeNow()
	s.d.hooks.methodStarted(callCtx)
	cfg.Logger.Info("jsonrpc: method started", slog.String("method", d.name), slog.String("id", string(req.ID)))

	var result any
	if timeout > 0 {
		done := make(chan callResult, 1)
		go func() {
			r, err := d.call(args)
			done <- callResult{result: r, err: err}
		}()
		select {
		case r := <-done:
			result, err = r.result, r.err
		case <-callCtx.Done():
			err = fmt.Errorf("%w after %s: %w", ErrHandlerTimeout, timeout, context.Cause(callCtx))
		}
	} else {
		result, err = d.call(args)
	}

	elapsed := cfg.TimeNow().Sub(start)
	if err != nil {
		s.d.hooks.methodFailed(callCtx, err, elapsed)
		return nil, err
	}
	s.d.hooks.methodCompleted(callCtx, elapsed)
	cfg.Logger.Info("jsonrpc: method completed", slog.String("method", d.name), slog.Duration("elapsed", elapsed))
	return result, nil
}

type callResult struct {
	result any
	err    error
}

// panicError is a recovered handler or middleware panic.
type panicError struct {
	where string
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("jsonrpc: %s panic: %v", e.where, e.value)
}

func (d *HandlerDescriptor) call(args []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{where: "handler", value: r, stack: debug.Stack()}
		}
	}()

	var out []reflect.Value
	if d.variadic {
		out = d.fn.CallSlice(args)
	} else {
		out = d.fn.Call(args)
	}
	if d.errorIndex >= 0 && !out[d.errorIndex].IsNil() {
		return nil, out[d.errorIndex].Interface().(error)
	}
	if d.resultIndex >= 0 {
		return out[d.resultIndex].Interface(), nil
	}
	return nil, nil
}

func (s *Session) marshalResult(result any) (raw json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jsonrpc: result marshal panic: %v", r)
		}
	}()
	return s.d.cfg.Codec.Marshal(result)
}

// answer encodes resp. If the error data cannot be encoded the data member
// is dropped.
func (s *Session) answer(reached State, resp *Response) Result {
	b, err := resp.MarshalJSON()
	if err != nil && resp.Error != nil {
		s.d.cfg.Logger.Warn("jsonrpc: dropping unencodable error data", slog.String("err", err.Error()))
		resp = NewErrorResponse(resp.ID, NewError(resp.Error.Code, resp.Error.Message))
		b, err = resp.MarshalJSON()
	}
	if err != nil {
		resp = NewErrorResponse(resp.ID, newCodeError(CodeParseResultError))
		b, _ = resp.MarshalJSON()
	}
	return Result{Bytes: b, Response: resp, Reached: reached, State: StateSent}
}

func suppressed(reached State) Result {
	return Result{Reached: reached, State: StateSuppressed}
}

// scalarID returns the id of obj when it is a valid id value.
func scalarID(codec Codec, obj map[string]any) json.RawMessage {
	rawID, ok := obj["id"]
	if !ok {
		return nil
	}
	switch rawID.(type) {
	case map[string]any, []any:
		return nil
	}
	id, err := codec.Marshal(rawID)
	if err != nil {
		return nil
	}
	return id
}

// isUnparseableNotification reports whether a message that failed to
// decode can be shown to carry no id: it names a method, contains no "id"
// key token and uses no escapes that could spell one.
func isUnparseableNotification(msg []byte) bool {
	return bytes.Contains(msg, []byte(`"method"`)) &&
		!bytes.Contains(msg, []byte(`"id"`)) &&
		!bytes.Contains(msg, []byte(`\u`))
}
