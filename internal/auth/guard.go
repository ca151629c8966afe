package auth

import (
	"context"
	"errors"

	"github.com/stustapay/apiserver/types"
)

var (
	// ErrUnauthenticated is returned when no user principal is present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPermissionDenied is returned when the principal lacks the required
	// privilege or terminal context.
	ErrPermissionDenied = errors.New("permission denied")
)

// RequireUserPrivileges returns the calling user when it holds at least one
// of required. With no required privileges any authenticated user passes.
func RequireUserPrivileges(ctx context.Context, required ...types.Privilege) (types.User, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok || p.User == nil {
		return types.User{}, ErrUnauthenticated
	}
	if len(required) > 0 && !p.User.Privileges.HasAny(required...) {
		return types.User{}, ErrPermissionDenied
	}
	return *p.User, nil
}

// RequireTerminal is RequireUserPrivileges for calls that must originate from
// a registered till. The user checked is the one logged in at the till.
func RequireTerminal(ctx context.Context, required ...types.Privilege) (types.Terminal, types.User, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok || p.Terminal == nil {
		return types.Terminal{}, types.User{}, ErrPermissionDenied
	}
	if p.User == nil {
		return types.Terminal{}, types.User{}, ErrPermissionDenied
	}
	if len(required) > 0 && !p.User.Privileges.HasAny(required...) {
		return types.Terminal{}, types.User{}, ErrPermissionDenied
	}
	return *p.Terminal, *p.User, nil
}

// RequireTerminalDevice only checks that the call comes from a registered
// till, whether or not a user is logged in there.
func RequireTerminalDevice(ctx context.Context) (types.Terminal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok || p.Terminal == nil {
		return types.Terminal{}, ErrPermissionDenied
	}
	return *p.Terminal, nil
}
