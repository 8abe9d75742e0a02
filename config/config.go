// Package config builds a [jsonrpc.Config] from the environment.
//
// Values come from process environment variables, falling back to
// dotenv files read with godotenv. The process environment always wins,
// as with godotenv.Load, but the files never modify it.
//
//	RPC_MAX_MESSAGE_SIZE        bytes
//	RPC_MAX_ARRAY_LENGTH        items
//	RPC_MAX_STRING_LENGTH       characters
//	RPC_MAX_NESTING_DEPTH       levels
//	RPC_MAX_METHOD_NAME_LENGTH  characters
//	RPC_SANITIZE_ERRORS         bool
//	RPC_LOG_PARAMS              bool
//	RPC_LOG_LEVEL               debug, info, warn or error
//	RPC_HANDLER_TIMEOUT         duration ("30s") or whole seconds; 0 disables
//	RPC_ID_COOLDOWN             duration or whole seconds
//	RPC_MAX_TRACKED_IDS         count
//
// Unset variables keep the defaults of [jsonrpc.NewConfig].
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mnehpets/wsrpc/jsonrpc"
)

// Environment variable names.
const (
	EnvMaxMessageSize      = "RPC_MAX_MESSAGE_SIZE"
	EnvMaxArrayLength      = "RPC_MAX_ARRAY_LENGTH"
	EnvMaxStringLength     = "RPC_MAX_STRING_LENGTH"
	EnvMaxNestingDepth     = "RPC_MAX_NESTING_DEPTH"
	EnvMaxMethodNameLength = "RPC_MAX_METHOD_NAME_LENGTH"
	EnvSanitizeErrors      = "RPC_SANITIZE_ERRORS"
	EnvLogParams           = "RPC_LOG_PARAMS"
	EnvLogLevel            = "RPC_LOG_LEVEL"
	EnvHandlerTimeout      = "RPC_HANDLER_TIMEOUT"
	EnvIDCooldown          = "RPC_ID_COOLDOWN"
	EnvMaxTrackedIDs       = "RPC_MAX_TRACKED_IDS"
)

// DefaultFile is read by [Load] when no files are named. A missing
// default file is not an error.
const DefaultFile = ".env"

// ErrInvalid is wrapped by every error about a malformed value.
var ErrInvalid = errors.New("config: invalid value")

// LookupFunc reports the value of a variable and whether it is set.
type LookupFunc func(key string) (string, bool)

// Load reads files (or [DefaultFile]) and the process environment.
// Logs go to w as JSON when RPC_LOG_LEVEL is set.
func Load(w io.Writer, files ...string) (*jsonrpc.Config, error) {
	vars, err := readFiles(files)
	if err != nil {
		return nil, err
	}
	return FromEnv(w, func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	})
}

func readFiles(files []string) (map[string]string, error) {
	if len(files) == 0 {
		vars, err := godotenv.Read(DefaultFile)
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", DefaultFile, err)
		}
		return vars, nil
	}
	vars, err := godotenv.Read(files...)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return vars, nil
}

// FromEnv overlays the variables visible through lookup on the defaults.
// Every malformed variable is reported.
func FromEnv(w io.Writer, lookup LookupFunc) (*jsonrpc.Config, error) {
	cfg := jsonrpc.NewConfig()
	p := parser{lookup: lookup}

	p.positiveInt(EnvMaxMessageSize, &cfg.Limits.MaxMessageSize)
	p.positiveInt(EnvMaxArrayLength, &cfg.Limits.MaxArrayLength)
	p.positiveInt(EnvMaxStringLength, &cfg.Limits.MaxStringLength)
	p.positiveInt(EnvMaxNestingDepth, &cfg.Limits.MaxNestingDepth)
	p.positiveInt(EnvMaxMethodNameLength, &cfg.Limits.MaxMethodNameLength)
	p.positiveInt(EnvMaxTrackedIDs, &cfg.MaxTrackedIDs)
	p.bool(EnvSanitizeErrors, &cfg.SanitizeErrors)
	p.bool(EnvLogParams, &cfg.LogParams)
	p.duration(EnvHandlerTimeout, &cfg.HandlerTimeout)
	p.duration(EnvIDCooldown, &cfg.IDCooldown)

	var level slog.Level
	if p.level(EnvLogLevel, &level) && w != nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

type parser struct {
	lookup LookupFunc
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(key, value, reason string) {
	p.errs = append(p.errs, fmt.Errorf("%w: %s=%q: %s", ErrInvalid, key, value, reason))
}

func (p *parser) positiveInt(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.fail(key, v, "want a positive integer")
		return
	}
	*dst = n
}

func (p *parser) bool(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, "want a boolean")
		return
	}
	*dst = b
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			p.fail(key, v, "negative duration")
			return
		}
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.fail(key, v, "want a duration")
		return
	}
	*dst = d
}

func (p *parser) level(key string, dst *slog.Level) bool {
	v, ok := p.get(key)
	if !ok {
		return false
	}
	if err := dst.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, v, "want debug, info, warn or error")
		return false
	}
	return true
}
