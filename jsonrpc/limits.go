package jsonrpc

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Limits bounds inbound messages. A limit that is zero or negative is not
// enforced.
type Limits struct {
	MaxMessageSize      int // bytes
	MaxArrayLength      int // items
	MaxStringLength     int // characters, applies to object keys too
	MaxNestingDepth     int // levels below the request envelope
	MaxMethodNameLength int // characters
}

// DefaultLimits returns the limits applied by [NewConfig].
func DefaultLimits() Limits {
	return Limits{
		MaxMessageSize:      10 * 1024 * 1024,
		MaxArrayLength:      10000,
		MaxStringLength:     1024 * 1024,
		MaxNestingDepth:     20,
		MaxMethodNameLength: 256,
	}
}

// Names of the limits reported by [*LimitError].
const (
	LimitMessageSize    = "message_size"
	LimitArrayLength    = "array_length"
	LimitStringLength   = "string_length"
	LimitNestingDepth   = "nesting_depth"
	LimitMethodNameSize = "method_name_length"
)

// LimitError reports the first limit a message violated.
type LimitError struct {
	Limit string
	Max   int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("jsonrpc: %s exceeds limit %d", e.Limit, e.Max)
}

// rpcError converts the violation into the error object sent to the peer.
func (e *LimitError) rpcError() *JSONRPCError {
	return NewErrorData(CodeRequestTooLarge, CodeMessage(CodeRequestTooLarge), map[string]any{
		"limit": e.Limit,
		"max":   e.Max,
	})
}

// CheckMessageSize rejects messages of n bytes before they are decoded.
func (l Limits) CheckMessageSize(n int) error {
	if l.MaxMessageSize > 0 && n > l.MaxMessageSize {
		return &LimitError{Limit: LimitMessageSize, Max: l.MaxMessageSize}
	}
	return nil
}

// CheckMethodName rejects method names longer than MaxMethodNameLength.
func (l Limits) CheckMethodName(name string) error {
	if exceeds(name, l.MaxMethodNameLength) {
		return &LimitError{Limit: LimitMethodNameSize, Max: l.MaxMethodNameLength}
	}
	return nil
}

// CheckValue walks a decoded message depth first and returns the first
// violation. The top-level value is at depth zero.
func (l Limits) CheckValue(v any) error {
	return l.walk(v, 0)
}

func (l Limits) walk(v any, depth int) error {
	switch v := v.(type) {
	case map[string]any:
		if err := l.checkDepth(depth); err != nil {
			return err
		}
		for key, elem := range v {
			if exceeds(key, l.MaxStringLength) {
				return &LimitError{Limit: LimitStringLength, Max: l.MaxStringLength}
			}
			if err := l.walk(elem, depth+1); err != nil {
				return err
			}
		}
	case []any:
		if err := l.checkDepth(depth); err != nil {
			return err
		}
		if l.MaxArrayLength > 0 && len(v) > l.MaxArrayLength {
			return &LimitError{Limit: LimitArrayLength, Max: l.MaxArrayLength}
		}
		for _, elem := range v {
			if err := l.walk(elem, depth+1); err != nil {
				return err
			}
		}
	case string:
		if exceeds(v, l.MaxStringLength) {
			return &LimitError{Limit: LimitStringLength, Max: l.MaxStringLength}
		}
	case json.Number, bool, float64, nil:
	}
	return nil
}

func (l Limits) checkDepth(depth int) error {
	if l.MaxNestingDepth > 0 && depth > l.MaxNestingDepth {
		return &LimitError{Limit: LimitNestingDepth, Max: l.MaxNestingDepth}
	}
	return nil
}

// exceeds reports whether s has more than limit characters.
func exceeds(s string, limit int) bool {
	if limit <= 0 || len(s) <= limit {
		return false
	}
	return utf8.RuneCountInString(s) > limit
}
