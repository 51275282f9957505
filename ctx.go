package identity

import (
	"context"

	"github.com/goliatone/go-router"
)

// DefaultContextKey is the router locals key holding the verified claims
const DefaultContextKey = "user"

var accountCtxKey = &contextKey{"account"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithAccountContext sets the Account in the given context
func WithAccountContext(r context.Context, account *Account) context.Context {
	return context.WithValue(r, accountCtxKey, account)
}

// AccountFromContext finds the account loaded by the approval gate.
func AccountFromContext(ctx context.Context) (*Account, bool) {
	raw, ok := ctx.Value(accountCtxKey).(*Account)
	return raw, ok && raw != nil
}

// WithClaimsContext sets the AccountClaims in the given context
func WithClaimsContext(r context.Context, claims *AccountClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the AccountClaims from the standard context
func GetClaims(ctx context.Context) (*AccountClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*AccountClaims)
	return raw, ok && raw != nil
}

// GetRouterClaims extracts the AccountClaims from the router context
func GetRouterClaims(ctx router.Context, key string) (*AccountClaims, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(*AccountClaims)
	return claims, ok && claims != nil
}
