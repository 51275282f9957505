package identity_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	identity "github.com/goliatone/go-care-identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(clock func() time.Time) *identity.TokenService {
	return identity.NewTokenService(
		[]byte(testSigningKey),
		24,
		"care-identity",
		jwt.ClaimStrings{"care-api"},
		nopLogger{},
		identity.WithTokenClock(clock),
	)
}

func testAccount() *identity.Account {
	return &identity.Account{
		ID:         uuid.New(),
		ExternalID: "DOC123456ABCD",
		Email:      "amar@example.com",
		Role:       identity.RoleDoctor,
	}
}

func TestTokenServiceIssueAndVerify(t *testing.T) {
	clock := newTestClock()
	ts := newTestTokenService(clock.Now)
	account := testAccount()

	token, err := ts.Issue(account)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ts.Verify(token)
	require.NoError(t, err)

	id, err := claims.AccountID()
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)
	assert.Equal(t, account.ID.String(), claims.Subject)
	assert.Equal(t, identity.RoleDoctor, claims.Role())
	assert.False(t, claims.IsAdmin())
	assert.Equal(t, "amar@example.com", claims.Email)
	assert.Equal(t, "DOC123456ABCD", claims.ExternalID)
	assert.Equal(t, "care-identity", claims.Issuer)
	assert.True(t, clock.Now().Equal(claims.IssuedAt()))
	assert.True(t, clock.Now().Add(24*time.Hour).Equal(claims.Expires()))
	assert.NotEmpty(t, claims.ID)
}

func TestTokenServiceIssueNilAccount(t *testing.T) {
	ts := newTestTokenService(time.Now)

	_, err := ts.Issue(nil)
	assert.Error(t, err)
}

func TestTokenServiceRejectsExpiredTokens(t *testing.T) {
	clock := newTestClock()
	ts := newTestTokenService(clock.Now)

	token, err := ts.Issue(testAccount())
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)

	_, err = ts.Verify(token)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestTokenServiceRejectsForeignTokens(t *testing.T) {
	clock := newTestClock()
	ts := newTestTokenService(clock.Now)
	account := testAccount()

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}

	valid := func() *identity.AccountClaims {
		return &identity.AccountClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   account.ID.String(),
				Issuer:    "care-identity",
				Audience:  jwt.ClaimStrings{"care-api"},
				IssuedAt:  jwt.NewNumericDate(clock.Now()),
				ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
			},
			UID:      account.ID.String(),
			UserRole: identity.RoleAdmin,
		}
	}

	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"

	wrongAudience := valid()
	wrongAudience.Audience = jwt.ClaimStrings{"other-api"}

	noExpiry := valid()
	noExpiry.ExpiresAt = nil

	badSubject := valid()
	badSubject.UID = "not-a-uuid"
	badSubject.Subject = "not-a-uuid"

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not.a.token"},
		{name: "empty", token: ""},
		{name: "wrong key", token: sign(jwt.SigningMethodHS256, []byte("another-key-with-at-least-32-bytes!!"), valid())},
		{name: "wrong algorithm", token: sign(jwt.SigningMethodHS512, []byte(testSigningKey), valid())},
		{name: "unsigned", token: sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())},
		{name: "wrong issuer", token: sign(jwt.SigningMethodHS256, []byte(testSigningKey), wrongIssuer)},
		{name: "wrong audience", token: sign(jwt.SigningMethodHS256, []byte(testSigningKey), wrongAudience)},
		{name: "missing expiry", token: sign(jwt.SigningMethodHS256, []byte(testSigningKey), noExpiry)},
		{name: "bad subject", token: sign(jwt.SigningMethodHS256, []byte(testSigningKey), badSubject)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ts.Verify(tt.token)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, identity.ErrInvalidToken)
		})
	}

	claims, err := ts.Verify(sign(jwt.SigningMethodHS256, []byte(testSigningKey), valid()))
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
}

func TestTokenServiceCopiesSigningKey(t *testing.T) {
	key := []byte(testSigningKey)
	ts := identity.NewTokenService(key, 0, "", nil, nopLogger{})

	token, err := ts.Issue(testAccount())
	require.NoError(t, err)

	for i := range key {
		key[i] = 'x'
	}

	_, err = ts.Verify(token)
	assert.NoError(t, err)
}
