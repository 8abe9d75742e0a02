// Package auth authenticates JSON-RPC connections with bearer tokens
// issued by OIDC providers.
//
// A [Provider] is built by OIDC discovery and verifies ID tokens, and
// optionally opaque access tokens through the userinfo endpoint. A
// [Registry] holds several providers and routes each token to its issuer.
// [BearerScope] turns either into a scope func for the transports:
//
//	reg := auth.NewRegistry()
//	p, err := auth.NewProvider(ctx, "google", "https://accounts.google.com", clientID)
//	if err != nil { ... }
//	reg.Register(p)
//	srv := wsrpc.NewServer(d, wsrpc.WithScope(auth.BearerScope(reg), middleware.RequireUser()))
package auth

import (
	"slices"
)

// User is the identity carried by a verified token.
type User struct {
	Provider string
	Subject  string
	// Email is set only when the provider marks it verified.
	Email       string
	Permissions []string
}

// ID returns a stable identifier for the user.
// Format: "provider:subject"
func (u *User) ID() string {
	return u.Provider + ":" + u.Subject
}

func (u *User) IsAuthenticated() bool {
	return u != nil && u.Subject != ""
}

func (u *User) HasPermissions(perms ...string) bool {
	if !u.IsAuthenticated() {
		return false
	}
	for _, p := range perms {
		if !slices.Contains(u.Permissions, p) {
			return false
		}
	}
	return true
}
