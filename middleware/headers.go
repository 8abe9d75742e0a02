package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/mnehpets/wsrpc/endpoint"
)

// APIHeaders sets response headers suited to JSON-RPC over HTTP and,
// with CORS set, answers browser preflights.
//
// Defaults from [NewAPIHeaders]:
//   - X-Content-Type-Options: nosniff
//   - Cache-Control: no-store
//   - Referrer-Policy: no-referrer
type APIHeaders struct {
	NoSniff        bool
	CacheControl   string
	ReferrerPolicy string

	// CORS is nil when cross-origin calls are not allowed.
	CORS *CORSConfig
}

// CORSConfig lists what cross-origin callers may do.
type CORSConfig struct {
	// AllowedOrigins holds exact origins, or "*" for any origin. "*" is
	// ignored when AllowCredentials is set.
	AllowedOrigins   []string
	AllowedHeaders   []string
	AllowCredentials bool
	// MaxAge is how long, in seconds, a preflight may be cached.
	MaxAge int
}

// NewAPIHeaders returns APIHeaders with the defaults and cors, which may
// be nil.
func NewAPIHeaders(cors *CORSConfig) *APIHeaders {
	return &APIHeaders{
		NoSniff:        true,
		CacheControl:   "no-store",
		ReferrerPolicy: "no-referrer",
		CORS:           cors,
	}
}

func (p *APIHeaders) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.NoSniff {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.CacheControl != "" {
		h.Set("Cache-Control", p.CacheControl)
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}

	if p.CORS != nil && r.Header.Get("Origin") != "" {
		p.CORS.apply(h, r)
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			return endpoint.Error(http.StatusNoContent, "", nil)
		}
	}
	return next(w, r)
}

func (c *CORSConfig) apply(h http.Header, r *http.Request) {
	origin := r.Header.Get("Origin")
	switch {
	case slices.Contains(c.AllowedOrigins, origin):
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	case !c.AllowCredentials && slices.Contains(c.AllowedOrigins, "*"):
		h.Set("Access-Control-Allow-Origin", "*")
	default:
		return
	}
	if c.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if r.Method != http.MethodOptions {
		return
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST")
	headers := c.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "Authorization"}
	}
	h.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
	if c.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(c.MaxAge))
	}
}

var _ endpoint.Processor = (*APIHeaders)(nil)
