package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/bassosimone/errclass"
)

// Config holds the settings shared by the validator and the dispatcher.
//
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Limits bounds the size and shape of inbound messages.
	//
	// Set by [NewConfig] to [DefaultLimits].
	Limits Limits

	// SanitizeErrors hides the text of expected application errors from
	// the peer. Unexpected errors are always hidden.
	//
	// Set by [NewConfig] to true.
	SanitizeErrors bool

	// LogParams includes request params in debug logs.
	//
	// Set by [NewConfig] to false.
	LogParams bool

	// HandlerTimeout bounds each handler invocation unless the handler was
	// registered with [WithTimeout]. Zero disables the timeout.
	//
	// Set by [NewConfig] to 300 seconds.
	HandlerTimeout time.Duration

	// IDCooldown is how long a request id stays reserved on a connection.
	//
	// Set by [NewConfig] to 10 seconds.
	IDCooldown time.Duration

	// MaxTrackedIDs caps the per-connection seen-id window.
	//
	// Set by [NewConfig] to 10000.
	MaxTrackedIDs int

	// Logger receives structured logs.
	//
	// Set by [NewConfig] to [DefaultLogger].
	Logger Logger

	// ErrClassifier maps errors to short labels such as "ETIMEDOUT" for
	// the errClass log attribute.
	//
	// Set by [NewConfig] to [errclass.New].
	ErrClassifier func(err error) string

	// Codec decodes inbound messages and encodes results.
	//
	// Set by [NewConfig] to [DefaultCodec].
	Codec Codec

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Limits:         DefaultLimits(),
		SanitizeErrors: true,
		LogParams:      false,
		HandlerTimeout: 300 * time.Second,
		IDCooldown:     10 * time.Second,
		MaxTrackedIDs:  10000,
		Logger:         DefaultLogger(),
		ErrClassifier:  errclass.New,
		Codec:          DefaultCodec(),
		TimeNow:        time.Now,
	}
}

// Logger abstracts the [*slog.Logger] behavior.
//
// Info is used for call lifecycle events, Debug for state transitions and
// params, Warn for recoverable misconfiguration and rejected requests, and
// Error for unexpected handler failures.
//
// The [*slog.Logger] type satisfies this interface.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DefaultLogger returns a [Logger] that discards all output.
func DefaultLogger() Logger {
	return discardLogger{}
}

type discardLogger struct{}

var _ Logger = discardLogger{}

func (discardLogger) Debug(msg string, args ...any) {}
func (discardLogger) Info(msg string, args ...any)  {}
func (discardLogger) Warn(msg string, args ...any)  {}
func (discardLogger) Error(msg string, args ...any) {}

// Codec encodes and decodes JSON values.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// DefaultCodec returns the encoding/json backed [Codec]. Numbers decode as
// [json.Number] so ids and params round-trip without precision loss, and
// trailing data after the first value is an error.
func DefaultCodec() Codec {
	return jsonCodec{}
}

type jsonCodec struct{}

var errTrailingData = errors.New("jsonrpc: trailing data after JSON value")

func (jsonCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errTrailingData
	}
	return nil
}
