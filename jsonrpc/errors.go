package jsonrpc

import (
	"errors"
	"fmt"
)

const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeApplicationError = -32000
	CodeRequestTooLarge  = -32001
	CodeParseResultError = -32701
)

var codeMessages = map[int]string{
	CodeParseError:       "Parse Error",
	CodeInvalidRequest:   "Invalid Request",
	CodeMethodNotFound:   "Method Not Found",
	CodeInvalidParams:    "Invalid Params",
	CodeInternalError:    "Internal Error",
	CodeApplicationError: "Application Error",
	CodeRequestTooLarge:  "Request Too Large",
	CodeParseResultError: "Error while parsing result",
}

// CodeMessage returns the canonical message for a code, or "Error" for
// codes this package does not define.
func CodeMessage(code int) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return "Error"
}

// JSONRPCError is the error object carried in a response. Handlers return
// it to send a controlled failure with their own code, message and data.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return e.Message
}

func NewError(code int, message string) *JSONRPCError {
	return &JSONRPCError{Code: code, Message: message}
}

// NewErrorData is like NewError with an attached data member.
func NewErrorData(code int, message string, data any) *JSONRPCError {
	return &JSONRPCError{Code: code, Message: message, Data: data}
}

// newCodeError builds an error using the canonical message for code.
func newCodeError(code int) *JSONRPCError {
	return NewError(code, CodeMessage(code))
}

// Expected application failures. Handlers wrap these, for example
// fmt.Errorf("%w: age must be positive", jsonrpc.ErrInvalidValue), and the
// dispatcher reports them with CodeApplicationError instead of treating them
// as internal failures.
var (
	ErrInvalidValue     = errors.New("invalid value")
	ErrInvalidType      = errors.New("invalid type")
	ErrMissingKey       = errors.New("missing key")
	ErrMissingAttribute = errors.New("missing attribute")
)

var expectedErrors = []error{ErrInvalidValue, ErrInvalidType, ErrMissingKey, ErrMissingAttribute}

// ErrHandlerTimeout is reported when a handler exceeds its deadline.
var ErrHandlerTimeout = errors.New("jsonrpc: handler timed out")

// ErrorClass partitions failures by where they arise in the request lifecycle.
type ErrorClass int

const (
	// ClassProtocol covers malformed, oversized and replayed requests.
	ClassProtocol ErrorClass = iota + 1
	// ClassResolution covers unknown methods and rejected parameter binding.
	ClassResolution
	// ClassApplication covers controlled failures signalled by a handler.
	ClassApplication
	// ClassFatal covers everything else, including panics and timeouts.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassProtocol:
		return "protocol"
	case ClassResolution:
		return "resolution"
	case ClassApplication:
		return "application"
	case ClassFatal:
		return "fatal"
	default:
		return fmt.Sprintf("ErrorClass(%d)", int(c))
	}
}

// ClassOf returns the class of a wire error code.
func ClassOf(code int) ErrorClass {
	switch code {
	case CodeParseError, CodeInvalidRequest, CodeRequestTooLarge:
		return ClassProtocol
	case CodeMethodNotFound, CodeInvalidParams:
		return ClassResolution
	case CodeInternalError, CodeParseResultError:
		return ClassFatal
	default:
		return ClassApplication
	}
}

// IsExpected reports whether err wraps one of the expected application errors.
func IsExpected(err error) bool {
	for _, target := range expectedErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classify converts a handler or middleware error into the error object sent
// to the peer. A *JSONRPCError keeps its code, message and data. An expected
// error keeps its text only when sanitize is false. Anything else becomes a
// generic internal error.
func classify(err error, sanitize bool) (*JSONRPCError, ErrorClass) {
	var rpcErr *JSONRPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, ClassOf(rpcErr.Code)
	}
	if IsExpected(err) {
		if sanitize {
			return newCodeError(CodeApplicationError), ClassApplication
		}
		return NewError(CodeApplicationError, err.Error()), ClassApplication
	}
	return newCodeError(CodeInternalError), ClassFatal
}
