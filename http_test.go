package identity_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	identity "github.com/goliatone/go-care-identity"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// baseRouterCtx names the embedded router.Context so it does not clash
// with the Context() method below.
type baseRouterCtx = router.Context

// fakeContext implements the router.Context methods the handlers use.
type fakeContext struct {
	baseRouterCtx
	ctx     context.Context
	headers map[string]string
	params  map[string]string
	locals  map[any]any
	body    []byte
	status  int
	payload any
}

func newFakeContext(t *testing.T, body any) *fakeContext {
	t.Helper()

	c := &fakeContext{
		ctx:     context.Background(),
		headers: map[string]string{},
		params:  map[string]string{},
		locals:  map[any]any{},
	}

	switch v := body.(type) {
	case nil:
	case string:
		c.body = []byte(v)
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		c.body = raw
	}
	return c
}

func (c *fakeContext) Context() context.Context { return c.ctx }

func (c *fakeContext) SetContext(ctx context.Context) { c.ctx = ctx }

func (c *fakeContext) Header(key string) string { return c.headers[key] }

func (c *fakeContext) Param(key string, defaultValue ...string) string {
	if v, ok := c.params[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *fakeContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		c.locals[key] = value[0]
		return value[0]
	}
	return c.locals[key]
}

func (c *fakeContext) Bind(v any) error {
	return json.Unmarshal(c.body, v)
}

func (c *fakeContext) JSON(code int, v any) error {
	c.status = code
	c.payload = v
	return nil
}

func (c *fakeContext) bearer(token string) *fakeContext {
	c.headers["Authorization"] = "Bearer " + token
	return c
}

// response decodes the written payload the way a client would see it.
func (c *fakeContext) response(t *testing.T) map[string]any {
	t.Helper()
	raw, err := json.Marshal(c.payload)
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func okHandler(called *bool) router.HandlerFunc {
	return func(c router.Context) error {
		*called = true
		return c.JSON(http.StatusOK, map[string]any{"ok": true})
	}
}

func newGuard(f *fixture) *identity.RouteGuard {
	return identity.NewRouteGuard(f.service.Tokens, f.service.Lifecycle, identity.WithGuardLogger(nopLogger{}))
}

func issue(t *testing.T, f *fixture, account *identity.Account) string {
	t.Helper()
	token, err := f.service.Tokens.Issue(account)
	require.NoError(t, err)
	return token
}

func TestProtectedRouteMissingToken(t *testing.T) {
	f := newFixture(t)
	called := false

	c := newFakeContext(t, nil)
	require.NoError(t, newGuard(f).ProtectedRoute()(okHandler(&called))(c))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, c.status)
	body := c.response(t)
	assert.Equal(t, identity.TextCodeInvalidToken, body["code"])
	assert.Equal(t, "No token, authorization denied", body["message"])
}

func TestProtectedRouteInvalidToken(t *testing.T) {
	f := newFixture(t)
	called := false

	c := newFakeContext(t, nil).bearer("not.a.token")
	require.NoError(t, newGuard(f).ProtectedRoute()(okHandler(&called))(c))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, c.status)
	assert.Equal(t, identity.TextCodeInvalidToken, c.response(t)["code"])
}

func TestProtectedRouteStoresClaims(t *testing.T) {
	f := newFixture(t)
	patient := f.verifiedPatient(t, "Jane Doe", "jane@example.com")
	token := issue(t, f, patient)

	for name, header := range map[string]string{
		"bearer scheme": "Bearer " + token,
		"lower case":    "bearer " + token,
		"raw token":     token,
	} {
		t.Run(name, func(t *testing.T) {
			called := false
			c := newFakeContext(t, nil)
			c.headers["Authorization"] = header

			require.NoError(t, newGuard(f).ProtectedRoute()(okHandler(&called))(c))
			assert.True(t, called)
			assert.Equal(t, http.StatusOK, c.status)

			claims, ok := identity.GetRouterClaims(c, "")
			require.True(t, ok)
			assert.Equal(t, patient.ID.String(), claims.UserID())

			fromCtx, ok := identity.GetClaims(c.Context())
			require.True(t, ok)
			assert.Same(t, claims, fromCtx)
		})
	}
}

func TestRequireApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	guard := newGuard(f)

	admin := f.admin(t)
	patient := f.verifiedPatient(t, "Jane Doe", "jane@example.com")
	doctor, _ := f.register(t, f.doctorInput("Amar Shah", "amar@example.com"))

	run := func(account *identity.Account) (*fakeContext, bool) {
		called := false
		var seen *identity.Account
		handler := identity.Chain(func(c router.Context) error {
			called = true
			seen, _ = identity.AccountFromContext(c.Context())
			return c.JSON(http.StatusOK, seen)
		}, guard.ProtectedRoute(), guard.RequireApproval())

		c := newFakeContext(t, nil).bearer(issue(t, f, account))
		require.NoError(t, handler(c))
		if called {
			require.NotNil(t, seen)
			assert.Equal(t, account.ID, seen.ID)
		}
		return c, called
	}

	c, called := run(doctor)
	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, c.status)
	body := c.response(t)
	assert.Equal(t, identity.TextCodePendingApproval, body["code"])
	assert.Equal(t, true, body["needsApproval"])

	_, err := f.lifecycle().SetApproval(ctx, admin.ID, doctor.ID, true)
	require.NoError(t, err)

	_, called = run(doctor)
	assert.True(t, called, "approval applies before the token expires")

	_, called = run(patient)
	assert.True(t, called)

	_, err = f.lifecycle().SetActive(ctx, admin.ID, patient.ID, false)
	require.NoError(t, err)

	c, called = run(patient)
	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, c.status)
	assert.Equal(t, identity.TextCodeAccountDisabled, c.response(t)["code"])
}

func TestRequireApprovalWithoutClaims(t *testing.T) {
	f := newFixture(t)
	called := false

	c := newFakeContext(t, nil)
	require.NoError(t, newGuard(f).RequireApproval()(okHandler(&called))(c))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, c.status)
}

func TestRequireAdmin(t *testing.T) {
	f := newFixture(t)
	guard := newGuard(f)

	admin := f.admin(t)
	patient := f.verifiedPatient(t, "Jane Doe", "jane@example.com")

	called := false
	c := newFakeContext(t, nil).bearer(issue(t, f, patient))
	require.NoError(t, identity.Chain(okHandler(&called), guard.ProtectedRoute(), guard.RequireAdmin())(c))
	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, c.status)
	assert.Equal(t, identity.TextCodeForbidden, c.response(t)["code"])

	c = newFakeContext(t, nil).bearer(issue(t, f, admin))
	require.NoError(t, identity.Chain(okHandler(&called), guard.ProtectedRoute(), guard.RequireAdmin())(c))
	assert.True(t, called)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) router.MiddlewareFunc {
		return func(next router.HandlerFunc) router.HandlerFunc {
			return func(c router.Context) error {
				order = append(order, name)
				return next(c)
			}
		}
	}

	handler := identity.Chain(func(router.Context) error {
		order = append(order, "handler")
		return nil
	}, mw("first"), nil, mw("second"))

	require.NoError(t, handler(newFakeContext(t, nil)))
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{name: "plain error", err: errors.New("connection reset"), wantStatus: http.StatusInternalServerError, wantCode: identity.TextCodeStorage, wantMessage: "Server error"},
		{name: "locked", err: identity.ErrAccountLocked, wantStatus: http.StatusLocked, wantCode: identity.TextCodeAccountLocked, wantMessage: identity.ErrAccountLocked.Message},
		{name: "duplicate email", err: identity.ErrDuplicateEmail, wantStatus: http.StatusBadRequest, wantCode: identity.TextCodeDuplicateEmail, wantMessage: "User already exists"},
		{name: "not found", err: identity.ErrRelationshipNotFound, wantStatus: http.StatusNotFound, wantCode: identity.TextCodeNotFound, wantMessage: "Request not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeContext(t, nil)
			require.NoError(t, identity.WriteError(c, nopLogger{}, tt.err))

			assert.Equal(t, tt.wantStatus, c.status)
			body := c.response(t)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.Equal(t, tt.wantMessage, body["message"])
		})
	}
}

func TestWriteErrorValidationFields(t *testing.T) {
	c := newFakeContext(t, nil)
	err := identity.NewValidationError(map[string]string{"phone": "must be a valid phone number"})
	require.NoError(t, identity.WriteError(c, nil, err))

	assert.Equal(t, http.StatusBadRequest, c.status)
	body := c.response(t)
	assert.Equal(t, identity.TextCodeValidation, body["code"])
	assert.Equal(t, map[string]any{"phone": "must be a valid phone number"}, body["errors"])
}
