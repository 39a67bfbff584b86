package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("auth: identity not in context")

// Identity is what an access token proves about the caller.
type Identity struct {
	UserID   string
	TenantID string
	Role     string
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, userID, tenantID, role string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Identity{UserID: userID, TenantID: tenantID, Role: role})
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.UserID != "" {
		return id.UserID, nil
	}
	return "", ErrNoIdentity
}

func TenantID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.TenantID != "" {
		return id.TenantID, nil
	}
	return "", ErrNoIdentity
}

func Role(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.Role != "" {
		return id.Role, nil
	}
	return "", ErrNoIdentity
}
