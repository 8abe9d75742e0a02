package middleware

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newAESGCMAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func randomKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, KeySize)
	if _, err := rand.Read(k); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return k
}

type testPayload struct {
	Msg string
	Num int
}

func newTestCookie(t *testing.T, keyID string, keys map[string][]byte, opts ...CookieOption) *SealedCookie {
	t.Helper()
	sealer, err := NewSealer(keyID, keys, nil)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	c, err := NewSealedCookie("sc", sealer, opts...)
	if err != nil {
		t.Fatalf("NewSealedCookie: %v", err)
	}
	return c
}

func requestWith(ck *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if ck != nil {
		r.AddCookie(ck)
	}
	return r
}

func TestSealedCookie_RoundTrip(t *testing.T) {
	c := newTestCookie(t, "a", map[string][]byte{"a": randomKey(t)},
		WithDomain("example.com"), WithSecure(false), WithSameSite(http.SameSiteStrictMode))

	want := testPayload{Msg: "hello", Num: 1}
	ck, err := c.Encode(want, time.Hour)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if ck.Name != "sc" || ck.Domain != "example.com" || ck.Path != "/" {
		t.Fatalf("cookie attributes: %+v", ck)
	}
	if !ck.HttpOnly || ck.Secure || ck.SameSite != http.SameSiteStrictMode || ck.MaxAge != 3600 {
		t.Fatalf("cookie flags: %+v", ck)
	}
	if !strings.HasPrefix(ck.Value, "a.") {
		t.Fatalf("value not tagged with key id: %q", ck.Value)
	}

	var got testPayload
	if err := c.Decode(requestWith(ck), &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestSealedCookie_Rotation(t *testing.T) {
	keys := map[string][]byte{"old": randomKey(t), "new": randomKey(t)}
	old := newTestCookie(t, "old", keys)
	current := newTestCookie(t, "new", keys)

	ck, err := old.Encode(testPayload{Msg: "x"}, time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got testPayload
	if err := current.Decode(requestWith(ck), &got); err != nil {
		t.Fatalf("old key no longer opens: %v", err)
	}

	delete(keys, "old")
	if err := current.Decode(requestWith(ck), &got); !errors.Is(err, ErrCookieInvalid) {
		t.Fatalf("retired key: got %v want %v", err, ErrCookieInvalid)
	}
}

func TestSealedCookie_Rejects(t *testing.T) {
	keys := map[string][]byte{"a": randomKey(t)}
	c := newTestCookie(t, "a", keys)
	ck, err := c.Encode(testPayload{Msg: "x"}, time.Minute)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b := []byte(ck.Value)
	i := len("a.") + 10
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	tampered := string(b)

	tests := []struct {
		name   string
		cookie *SealedCookie
		value  string
		want   error
	}{
		{"tampered", c, tampered, ErrCookieInvalid},
		{"no key id", c, "abc", ErrCookieFormat},
		{"unknown key id", c, "zz." + strings.Split(ck.Value, ".")[1], ErrCookieInvalid},
		{"bad base64", c, "a.!!!", ErrCookieFormat},
		{"too short", c, "a.AAAA", ErrCookieFormat},
		{"too long", c, "a." + strings.Repeat("A", maxCookieLen), ErrCookieFormat},
		{"other path", newTestCookie(t, "a", keys, WithPath("/api")), ck.Value, ErrCookieInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got testPayload
			err := tt.cookie.Decode(requestWith(&http.Cookie{Name: "sc", Value: tt.value}), &got)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v want %v", err, tt.want)
			}
		})
	}

	var got testPayload
	if err := c.Decode(requestWith(nil), &got); !errors.Is(err, http.ErrNoCookie) {
		t.Fatalf("missing cookie: got %v", err)
	}
	if _, err := c.Encode(testPayload{}, 0); !errors.Is(err, ErrCookieInvalid) {
		t.Fatalf("zero max age: got %v", err)
	}
}

func TestSealedCookie_Clear(t *testing.T) {
	c := newTestCookie(t, "a", map[string][]byte{"a": randomKey(t)}, WithPath("/rpc"))
	ck := c.Clear()
	if ck.Name != "sc" || ck.Path != "/rpc" || ck.MaxAge != -1 || ck.Value != "" || !ck.HttpOnly {
		t.Fatalf("clear cookie: %+v", ck)
	}
}

func TestNewSealer_Validation(t *testing.T) {
	if _, err := NewSealer("missing", map[string][]byte{"a": randomKey(t)}, nil); !errors.Is(err, ErrCookieConfig) {
		t.Fatalf("missing key id: got %v", err)
	}
	if _, err := NewSealer("a", map[string][]byte{"a": []byte("short")}, nil); !errors.Is(err, ErrCookieConfig) {
		t.Fatalf("short key: got %v", err)
	}
	if _, err := NewSealedCookie("", &Sealer{}); !errors.Is(err, ErrCookieConfig) {
		t.Fatalf("empty name: got %v", err)
	}
}

func TestSealer_CustomAEAD(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	s, err := NewSealer("g", map[string][]byte{"g": key}, newAESGCMAEAD)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	sealed, err := s.Seal([]byte("payload"), []byte("aad"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plain, err := s.Open(sealed, []byte("aad"))
	if err != nil || string(plain) != "payload" {
		t.Fatalf("Open: %q %v", plain, err)
	}
	if _, err := s.Open(sealed, []byte("other")); !errors.Is(err, ErrCookieInvalid) {
		t.Fatalf("aad mismatch: got %v", err)
	}
}
