// Package auth authenticates inbound requests. The service runs behind
// Identity-Aware Proxy: every request carries a signed assertion naming the
// end user, which the middleware verifies and converts into the principal
// the handlers act on behalf of.
package auth

import (
	"context"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches the authenticated user to the context.
func WithPrincipal(ctx context.Context, user resources.UserEmail) context.Context {
	return context.WithValue(ctx, principalKey, user)
}

// GetPrincipal retrieves the authenticated user from the context.
func GetPrincipal(ctx context.Context) (resources.UserEmail, error) {
	user, ok := ctx.Value(principalKey).(resources.UserEmail)
	if !ok {
		return resources.UserEmail{}, apperr.New(apperr.Unauthenticated, "no authenticated principal")
	}
	return user, nil
}
