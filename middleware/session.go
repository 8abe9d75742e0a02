package middleware

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"slices"
	"time"

	"github.com/mnehpets/wsrpc/endpoint"
	"github.com/mnehpets/wsrpc/jsonrpc"
)

// SessionIDBytes is the number of random bytes in a session id.
//
// 16 bytes -> 22 chars raw URL base64.
const SessionIDBytes = 16

const (
	DefaultCookieName      = "RPCS"
	DefaultSessionAge      = 24 * time.Hour
	DefaultExtendThreshold = DefaultSessionAge / 4
	DefaultMaxLifetime     = 90 * 24 * time.Hour
)

// Session is the signed-in identity carried by the session cookie. It is
// the [jsonrpc.Principal] of connections opened with the cookie.
type Session struct {
	ID          string    `cbor:"1,keyasint"`
	Subject     string    `cbor:"2,keyasint"`
	Permissions []string  `cbor:"3,keyasint,omitempty"`
	Issued      time.Time `cbor:"4,keyasint"`
	Expires     time.Time `cbor:"5,keyasint"`
}

var _ jsonrpc.Principal = (*Session)(nil)

func (s *Session) IsAuthenticated() bool {
	return s != nil && s.Subject != ""
}

func (s *Session) HasPermissions(perms ...string) bool {
	if s == nil {
		return false
	}
	for _, p := range perms {
		if !slices.Contains(s.Permissions, p) {
			return false
		}
	}
	return true
}

type sessionKey struct{}

// WithSession stores sess in ctx.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the session stored by [WithSession].
func SessionFromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok && sess != nil
}

// Sessions reads and writes the session cookie.
//
// As an [endpoint.Processor] it attaches a valid session to the request
// context and, on plain HTTP responses, slides the expiry forward once
// less than ExtendThreshold remains, never past Issued + MaxLifetime.
// Invalid or expired cookies are cleared.
type Sessions struct {
	Cookie          *SealedCookie
	MaxAge          time.Duration
	ExtendThreshold time.Duration
	MaxLifetime     time.Duration

	now func() time.Time
}

// SessionOption configures [Sessions].
type SessionOption func(*Sessions)

func WithMaxAge(d time.Duration) SessionOption          { return func(s *Sessions) { s.MaxAge = d } }
func WithExtendThreshold(d time.Duration) SessionOption { return func(s *Sessions) { s.ExtendThreshold = d } }
func WithMaxLifetime(d time.Duration) SessionOption     { return func(s *Sessions) { s.MaxLifetime = d } }

// NewSessions returns Sessions stored in cookie.
func NewSessions(cookie *SealedCookie, opts ...SessionOption) *Sessions {
	s := &Sessions{
		Cookie:          cookie,
		MaxAge:          DefaultSessionAge,
		ExtendThreshold: DefaultExtendThreshold,
		MaxLifetime:     DefaultMaxLifetime,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue starts a fresh session for subject and sets its cookie on w.
func (s *Sessions) Issue(w http.ResponseWriter, subject string, perms ...string) (*Session, error) {
	b := make([]byte, SessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	// Truncating puts the start of the session in the past.
	now := s.now().Truncate(time.Second)
	sess := &Session{
		ID:          base64.RawURLEncoding.EncodeToString(b),
		Subject:     subject,
		Permissions: perms,
		Issued:      now,
		Expires:     now.Add(s.MaxAge),
	}
	if err := s.write(w, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Revoke clears the session cookie.
func (s *Sessions) Revoke(w http.ResponseWriter) {
	http.SetCookie(w, s.Cookie.Clear())
}

func (s *Sessions) write(w http.ResponseWriter, sess *Session) error {
	ck, err := s.Cookie.Encode(sess, sess.Expires.Sub(s.now()))
	if err != nil {
		return err
	}
	http.SetCookie(w, ck)
	return nil
}

// Process implements [endpoint.Processor].
func (s *Sessions) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if _, err := r.Cookie(s.Cookie.Name); err != nil {
		return next(w, r)
	}

	var sess Session
	if err := s.Cookie.Decode(r, &sess); err != nil || !s.valid(&sess) {
		endpoint.Defer(r.Context(), s.Revoke)
		return next(w, r)
	}

	if s.extend(&sess) {
		endpoint.Defer(r.Context(), func(w http.ResponseWriter) {
			// Best effort: the session stays valid until its old expiry.
			_ = s.write(w, &sess)
		})
	}
	return next(w, r.WithContext(WithSession(r.Context(), &sess)))
}

func (s *Sessions) valid(sess *Session) bool {
	now := s.now()
	if sess.ID == "" || sess.Issued.IsZero() || !now.Before(sess.Expires) {
		return false
	}
	return !sess.Expires.After(sess.Issued.Add(s.MaxLifetime))
}

// extend slides sess forward and reports whether it changed.
func (s *Sessions) extend(sess *Session) bool {
	now := s.now()
	if s.ExtendThreshold <= 0 || sess.Expires.Sub(now) >= s.ExtendThreshold {
		return false
	}
	expires := now.Add(s.MaxAge).Truncate(time.Second)
	if limit := sess.Issued.Add(s.MaxLifetime); expires.After(limit) {
		expires = limit
	}
	if !expires.After(sess.Expires) {
		return false
	}
	sess.Expires = expires
	return true
}

// Scope returns a ScopeFunc that copies the session attached by Process
// into the connection scope, as both the session and the user.
func (s *Sessions) Scope() ScopeFunc {
	return func(r *http.Request, scope jsonrpc.Scope) error {
		if sess, ok := SessionFromContext(r.Context()); ok {
			scope[jsonrpc.ScopeSession] = sess
			scope[jsonrpc.ScopeUser] = sess
		}
		return nil
	}
}

var _ endpoint.Processor = (*Sessions)(nil)
