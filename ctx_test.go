package identity_test

import (
	"context"
	"testing"

	identity "github.com/goliatone/go-care-identity"
	"github.com/stretchr/testify/assert"
)

func TestAccountContext(t *testing.T) {
	ctx := context.Background()

	_, ok := identity.AccountFromContext(ctx)
	assert.False(t, ok)

	_, ok = identity.AccountFromContext(identity.WithAccountContext(ctx, nil))
	assert.False(t, ok)

	account := testAccount()
	got, ok := identity.AccountFromContext(identity.WithAccountContext(ctx, account))
	assert.True(t, ok)
	assert.Same(t, account, got)
}

func TestClaimsContext(t *testing.T) {
	ctx := context.Background()

	_, ok := identity.GetClaims(ctx)
	assert.False(t, ok)

	claims := &identity.AccountClaims{UID: "abc"}
	got, ok := identity.GetClaims(identity.WithClaimsContext(ctx, claims))
	assert.True(t, ok)
	assert.Same(t, claims, got)
}
