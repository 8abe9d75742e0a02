package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/oauth2"
)

var (
	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnknownIssuer is returned by [Registry.Authenticate] when no
	// provider accepts the token's issuer.
	ErrUnknownIssuer = errors.New("auth: unknown issuer")
)

// DefaultPermissionsClaim is the claim read for a user's permissions.
const DefaultPermissionsClaim = "permissions"

// Provider verifies bearer tokens issued by one OIDC provider.
type Provider struct {
	id               string
	issuer           string
	oidcProvider     *oidc.Provider
	verifier         *oidc.IDTokenVerifier
	permissionsClaim string
	userInfo         bool
}

type providerOptions struct {
	verifier         oidc.Config
	permissionsClaim string
	userInfo         bool
}

// ProviderOption configures a Provider.
type ProviderOption func(*providerOptions)

// WithSkipIssuerCheck disables issuer validation in the token verifier.
// Use this for providers that issue tokens with a per-tenant issuer (e.g.,
// Microsoft via the /common endpoint).
func WithSkipIssuerCheck() ProviderOption {
	return func(o *providerOptions) {
		o.verifier.SkipIssuerCheck = true
	}
}

// WithPermissionsClaim reads permissions from the named claim. The claim
// may hold a list of strings or a space separated string.
func WithPermissionsClaim(name string) ProviderOption {
	return func(o *providerOptions) {
		o.permissionsClaim = name
	}
}

// WithUserInfo accepts opaque access tokens by looking them up at the
// provider's userinfo endpoint when they are not valid ID tokens.
func WithUserInfo() ProviderOption {
	return func(o *providerOptions) {
		o.userInfo = true
	}
}

// NewProvider performs OIDC discovery for issuer and returns a Provider
// that accepts ID tokens minted for clientID.
func NewProvider(ctx context.Context, id, issuer, clientID string, opts ...ProviderOption) (*Provider, error) {
	op, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: query provider %q: %w", issuer, err)
	}
	o := providerOptions{
		verifier:         oidc.Config{ClientID: clientID},
		permissionsClaim: DefaultPermissionsClaim,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Provider{
		id:               id,
		issuer:           issuer,
		oidcProvider:     op,
		verifier:         op.Verifier(&o.verifier),
		permissionsClaim: o.permissionsClaim,
		userInfo:         o.userInfo,
	}, nil
}

// ID returns the provider identifier.
func (p *Provider) ID() string {
	return p.id
}

// Issuer returns the issuer URL the provider was discovered from.
func (p *Provider) Issuer() string {
	return p.issuer
}

// Authenticate verifies token and returns the user it identifies.
func (p *Provider) Authenticate(ctx context.Context, token string) (*User, error) {
	idt, err := p.verifier.Verify(ctx, token)
	if err == nil {
		return p.user(idt.Subject, idt.Claims)
	}
	if !p.userInfo {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	info, uerr := p.oidcProvider.UserInfo(ctx, src)
	if uerr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, uerr)
	}
	return p.user(info.Subject, info.Claims)
}

func (p *Provider) user(subject string, decode func(any) error) (*User, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	var claims map[string]any
	if err := decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	u := &User{
		Provider:    p.id,
		Subject:     subject,
		Permissions: permissionsFrom(claims[p.permissionsClaim]),
	}
	if verified, _ := claims["email_verified"].(bool); verified {
		u.Email, _ = claims["email"].(string)
	}
	return u, nil
}

func permissionsFrom(v any) []string {
	switch v := v.(type) {
	case string:
		return strings.Fields(v)
	case []any:
		perms := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok && s != "" {
				perms = append(perms, s)
			}
		}
		return perms
	}
	return nil
}

// Registry routes bearer tokens to the provider that issued them.
type Registry struct {
	mu        sync.RWMutex
	providers []*Provider
}

// NewRegistry creates a new, empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a provider to the registry, replacing one with the same ID.
func (r *Registry) Register(p *Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.providers {
		if old.id == p.id {
			r.providers[i] = p
			return
		}
	}
	r.providers = append(r.providers, p)
}

// Get retrieves a provider by ID.
func (r *Registry) Get(id string) (*Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.id == id {
			return p, true
		}
	}
	return nil, false
}

var signatureAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// Authenticate verifies token with the provider named by its "iss" claim.
// Tokens that are not JWTs go to the first provider with userinfo lookups
// enabled. A lone provider receives every token, which covers providers
// registered with [WithSkipIssuerCheck].
func (r *Registry) Authenticate(ctx context.Context, token string) (*User, error) {
	r.mu.RLock()
	providers := r.providers
	r.mu.RUnlock()

	if len(providers) == 1 {
		return providers[0].Authenticate(ctx, token)
	}
	if issuer, ok := unverifiedIssuer(token); ok {
		for _, p := range providers {
			if p.issuer == issuer {
				return p.Authenticate(ctx, token)
			}
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownIssuer, issuer)
	}
	for _, p := range providers {
		if p.userInfo {
			return p.Authenticate(ctx, token)
		}
	}
	return nil, ErrUnknownIssuer
}

// unverifiedIssuer reads the issuer of a JWT without checking its
// signature. The result only selects a provider; the provider verifies.
func unverifiedIssuer(token string) (string, bool) {
	parsed, err := jwt.ParseSigned(token, signatureAlgorithms)
	if err != nil {
		return "", false
	}
	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil || claims.Issuer == "" {
		return "", false
	}
	return claims.Issuer, true
}
