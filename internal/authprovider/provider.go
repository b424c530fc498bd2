// Package authprovider defines the authentication collaborator consumed by the
// session guard: an opaque user identity and a sign-out capability. The guard
// never owns login; hosts wire whichever implementation they authenticate with.
package authprovider

import "context"

// Identity is the authenticated user as far as the guard cares: a stable ID
// and an optional email for display and audit.
type Identity struct {
	ID    string
	Email string
}

// Provider exposes the current identity and the ability to discard it.
type Provider interface {
	// CurrentIdentity returns the signed-in identity, or nil when signed out.
	CurrentIdentity() *Identity
	// SignOut discards the identity. Callers must treat a failure as degraded,
	// not blocking: local state is cleared regardless.
	SignOut(ctx context.Context) error
}
