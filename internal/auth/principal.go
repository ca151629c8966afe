package auth

import (
	"context"

	"github.com/stustapay/apiserver/types"
)

type contextKey string

const contextPrincipalKey contextKey = "principal"

// Principal is the already-authenticated caller of an operation. User is set
// for user tokens and for terminals with a logged-in user; Terminal is set
// only when the call comes from a registered till.
type Principal struct {
	User     *types.User
	Terminal *types.Terminal
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextPrincipalKey, p)
}

// PrincipalFrom returns the principal attached to ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextPrincipalKey).(Principal)
	return p, ok
}
