// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext and uid resolution against the token subject

package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrUIDMismatch is returned when a request names a uid other than the token subject
var ErrUIDMismatch = errors.New("uid does not match token subject")

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	UID string // token "sub" claim
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// ResolveUID returns the uid a request acts as. With an authenticated context
// an empty requested uid defaults to the subject and any other value must equal
// it. Without one the requested uid is trusted as given.
func ResolveUID(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	authCtx := FromContext(ctx)
	if authCtx == nil {
		return requested, nil
	}
	if requested == "" {
		return authCtx.UID, nil
	}
	if requested != authCtx.UID {
		return "", ErrUIDMismatch
	}
	return requested, nil
}
