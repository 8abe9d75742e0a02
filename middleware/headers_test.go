package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mnehpets/wsrpc/endpoint"
)

func serveHeaders(p *APIHeaders, r *http.Request) (*httptest.ResponseRecorder, bool) {
	reached := false
	h := endpoint.New(func(http.ResponseWriter, *http.Request) (endpoint.Renderer, error) {
		reached = true
		return &endpoint.BytesRenderer{Body: []byte(`{}`)}, nil
	}, p)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec, reached
}

func TestAPIHeaders_Defaults(t *testing.T) {
	rec, reached := serveHeaders(NewAPIHeaders(nil), httptest.NewRequest(http.MethodPost, "/", nil))
	if !reached {
		t.Fatal("next not called")
	}
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("CORS header set without config")
	}
}

func TestAPIHeaders_CORS(t *testing.T) {
	tests := []struct {
		name        string
		cors        CORSConfig
		origin      string
		wantOrigin  string
		wantCreds   string
		wantReached bool
	}{
		{"exact", CORSConfig{AllowedOrigins: []string{"https://app.example"}}, "https://app.example", "https://app.example", "", true},
		{"wildcard", CORSConfig{AllowedOrigins: []string{"*"}}, "https://any.example", "*", "", true},
		{"wildcard with credentials", CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true}, "https://any.example", "", "", true},
		{"credentials", CORSConfig{AllowedOrigins: []string{"https://app.example"}, AllowCredentials: true}, "https://app.example", "https://app.example", "true", true},
		{"not allowed", CORSConfig{AllowedOrigins: []string{"https://app.example"}}, "https://evil.example", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.Header.Set("Origin", tt.origin)
			cors := tt.cors
			rec, reached := serveHeaders(NewAPIHeaders(&cors), r)
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
			if reached != tt.wantReached {
				t.Errorf("reached = %v", reached)
			}
		})
	}
}

func TestAPIHeaders_Preflight(t *testing.T) {
	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://app.example")
	r.Header.Set("Access-Control-Request-Method", "POST")
	rec, reached := serveHeaders(NewAPIHeaders(&CORSConfig{AllowedOrigins: []string{"https://app.example"}, MaxAge: 600}), r)

	if reached {
		t.Error("preflight reached the handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization" {
		t.Errorf("Allow-Headers = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("Max-Age = %q", got)
	}
}
