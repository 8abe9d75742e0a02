// Package jsonrpc is a JSON-RPC 2.0 dispatch core for long-lived,
// message-oriented connections such as WebSockets.
//
// It implements the JSON-RPC 2.0 specification (https://www.jsonrpc.org/specification)
// with one request per message. Batch requests are rejected. Transports live
// in sibling packages (wsrpc, httprpc) and talk to this package through the
// [Connection] interface.
//
// # Basic Usage
//
// Register handlers for an owner type, create a dispatcher, and start a
// session for each connection:
//
//	reg := jsonrpc.NewRegistry(cfg)
//	reg.Register((*Chat)(nil), "add", func(a, b int) int { return a + b })
//	d := jsonrpc.NewDispatcher((*Chat)(nil), reg, cfg)
//
//	s := d.NewSession(conn)
//	defer s.Close(1000)
//	for msg := range messages {
//	    s.HandleMessage(ctx, msg)
//	}
//
// Handler tables belong to the owner's Go type, so every connection served
// by the same consumer type shares them.
//
// # Handler Signatures
//
// A handler may take a *Context or context.Context first. The remaining
// parameters use one of three conventions:
//
//	func(ctx *jsonrpc.Context, a, b int) (int, error)   // positional
//	func(ctx context.Context, params AddParams) (int, error) // one struct: named params
//	func(kwargs map[string]any) any                     // one map: any named params
//
// Positional handlers bind from a params array. Pointer parameters and a
// variadic tail are optional. With [WithParamNames] they also bind from a
// params object. Struct handlers bind object members by json tag and array
// elements in field order; pointer and omitempty fields are optional.
//
// Handlers return nothing, a result, an error, or a result and an error.
//
// # Calls and Notifications
//
// A request without an id key is a notification and is never answered, even
// when it fails. An explicit "id": null is a call and gets a response.
// Non-null ids may not be reused on a connection within [Config.IDCooldown].
//
// # Error Handling
//
// Return a *JSONRPCError to control the code, message and data sent to the
// peer:
//
//	return 0, jsonrpc.NewError(-32010, "account locked")
//
// Wrap [ErrInvalidValue], [ErrInvalidType], [ErrMissingKey] or
// [ErrMissingAttribute] for expected failures; they are sent with
// [CodeApplicationError] and their text is hidden unless
// [Config.SanitizeErrors] is off. Any other error, panic or timeout is sent
// as a generic internal error and logged with full detail.
//
// # Middleware
//
// Middlewares run in registration order for both requests and responses:
//
//	d := jsonrpc.NewDispatcher(owner, reg, cfg,
//	    jsonrpc.WithMiddleware(&jsonrpc.LoggingMiddleware{Logger: logger}))
//
// # Limits
//
// Messages larger than [Limits.MaxMessageSize] are rejected before they are
// decoded. Decoded messages are checked for nesting depth, array length,
// string length and method name length.
package jsonrpc
