package middleware

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat  = errors.New("invalid sealed cookie format")
	ErrCookieInvalid = errors.New("invalid sealed cookie")
	ErrCookieConfig  = errors.New("invalid sealed cookie configuration")
)

// maxCookieLen caps the cookie value accepted for opening.
const maxCookieLen = 8192

// KeySize is the key length of the default AEAD.
const KeySize = chacha20poly1305.KeySize

// Sealer encrypts and authenticates byte strings with a rotating key set.
//
// Sealed values have the form keyID "." base64url(nonce || ciphertext).
// KeyID names the key used for sealing; every key in Keys opens.
type Sealer struct {
	KeyID   string
	Keys    map[string][]byte
	NewAEAD func(key []byte) (cipher.AEAD, error)
}

// NewSealer checks the key set and returns a Sealer. A nil newAEAD uses
// XChaCha20-Poly1305.
func NewSealer(keyID string, keys map[string][]byte, newAEAD func(key []byte) (cipher.AEAD, error)) (*Sealer, error) {
	if newAEAD == nil {
		newAEAD = chacha20poly1305.NewX
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key %q not found", ErrCookieConfig, keyID)
	}
	for id, k := range keys {
		if _, err := newAEAD(k); err != nil {
			return nil, fmt.Errorf("%w: key %q: %w", ErrCookieConfig, id, err)
		}
	}
	return &Sealer{KeyID: keyID, Keys: keys, NewAEAD: newAEAD}, nil
}

// Seal encrypts plain. aad binds the value to where it is used.
func (s *Sealer) Seal(plain, aad []byte) (string, error) {
	aead, err := s.NewAEAD(s.Keys[s.KeyID])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, aad)
	return s.KeyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (s *Sealer) Open(value string, aad []byte) ([]byte, error) {
	if value == "" || len(value) > maxCookieLen {
		return nil, ErrCookieFormat
	}
	keyID, b64, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || b64 == "" {
		return nil, ErrCookieFormat
	}
	key, ok := s.Keys[keyID]
	if !ok {
		return nil, ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(b64)
	if err != nil {
		return nil, ErrCookieFormat
	}
	aead, err := s.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCookieFormat
	}
	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], aad)
	if err != nil {
		return nil, ErrCookieInvalid
	}
	return plain, nil
}

// SealedCookie stores a CBOR-encoded value in a sealed, HttpOnly cookie.
// The cookie name, domain, path and secure flag are authenticated with
// the value.
type SealedCookie struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite

	sealer *Sealer
}

// CookieOption configures a [SealedCookie].
type CookieOption func(*SealedCookie)

func WithPath(path string) CookieOption     { return func(c *SealedCookie) { c.Path = path } }
func WithDomain(domain string) CookieOption { return func(c *SealedCookie) { c.Domain = domain } }
func WithSecure(secure bool) CookieOption   { return func(c *SealedCookie) { c.Secure = secure } }

func WithSameSite(mode http.SameSite) CookieOption {
	return func(c *SealedCookie) { c.SameSite = mode }
}

// NewSealedCookie returns a cookie named name sealed by sealer. Defaults:
// path "/", Secure, SameSite=Lax.
func NewSealedCookie(name string, sealer *Sealer, opts ...CookieOption) (*SealedCookie, error) {
	if name == "" || sealer == nil {
		return nil, ErrCookieConfig
	}
	c := &SealedCookie{
		Name:     name,
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		sealer:   sealer,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return c, nil
}

func (c *SealedCookie) aad() []byte {
	secure := "f"
	if c.Secure {
		secure = "t"
	}
	return []byte(c.Name + ":" + c.Domain + ":" + c.Path + ":" + secure)
}

// Encode seals v into a cookie that expires after maxAge.
func (c *SealedCookie) Encode(v any, maxAge time.Duration) (*http.Cookie, error) {
	seconds := int(maxAge.Seconds())
	if seconds <= 0 {
		return nil, ErrCookieInvalid
	}
	plain, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	value, err := c.sealer.Seal(plain, c.aad())
	if err != nil {
		return nil, err
	}
	ck := c.base()
	ck.Value = value
	ck.MaxAge = seconds
	ck.Expires = time.Now().Add(time.Duration(seconds) * time.Second)
	return ck, nil
}

// Decode opens the cookie named c.Name on r into v.
func (c *SealedCookie) Decode(r *http.Request, v any) error {
	ck, err := r.Cookie(c.Name)
	if err != nil {
		return err
	}
	plain, err := c.sealer.Open(ck.Value, c.aad())
	if err != nil {
		return err
	}
	return cbor.Unmarshal(plain, v)
}

// Clear returns a cookie that deletes this cookie in the client.
func (c *SealedCookie) Clear() *http.Cookie {
	ck := c.base()
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0)
	return ck
}

func (c *SealedCookie) base() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	}
}
