package api

import (
	"context"

	"github.com/todo-1m/tms/internal/app/identity"
)

type principalKey struct{}

type requestIDKey struct{}

func withPrincipal(ctx context.Context, u identity.User) context.Context {
	return context.WithValue(ctx, principalKey{}, u)
}

// PrincipalFrom returns the authenticated user attached by the gate.
func PrincipalFrom(ctx context.Context) (identity.User, bool) {
	u, ok := ctx.Value(principalKey{}).(identity.User)
	return u, ok
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
