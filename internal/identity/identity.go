// Package identity carries the acting user through a context.
//
// Elevation is scoped: RunAs derives a new context for the callback, so the
// caller's identity is restored on every exit path without explicit cleanup.
package identity

import "context"

// SystemUser is the fixed identity used for maintenance work
const SystemUser = "System"

type contextKey struct{}

// WithUser returns a context carrying user as the current identity
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// Current returns the identity carried by ctx, or "" when none is set
func Current(ctx context.Context) string {
	if user, ok := ctx.Value(contextKey{}).(string); ok {
		return user
	}
	return ""
}

// IsSystem reports whether ctx runs as the system identity
func IsSystem(ctx context.Context) bool {
	return Current(ctx) == SystemUser
}

// RunAs runs fn with user as the current identity
func RunAs[T any](ctx context.Context, user string, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(WithUser(ctx, user))
}
