package shared

import "context"

// Principal identifies the authenticated account on a request.
type Principal struct {
	AccountID int64
	LoginName string
	// FullyAuthenticated is false when the session was established through
	// a remember-me style mechanism rather than explicit credentials.
	FullyAuthenticated bool
}

type principalContextKey struct{}

// ContextWithPrincipal stores the authenticated principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context, nil when anonymous.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
