package identity

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const (
	msgNoToken     = "No token, authorization denied"
	msgServerError = "Server error"
)

// RouteGuardOption customizes the route guard
type RouteGuardOption func(*RouteGuard)

// WithGuardLogger sets the logger
func WithGuardLogger(logger Logger) RouteGuardOption {
	return func(g *RouteGuard) {
		if logger != nil {
			g.Logger = logger
		}
	}
}

// WithGuardContextKey sets the router locals key used for claims
func WithGuardContextKey(key string) RouteGuardOption {
	return func(g *RouteGuard) {
		if key != "" {
			g.contextKey = key
		}
	}
}

// WithGuardErrorHandler overrides the JSON error responder
func WithGuardErrorHandler(h func(router.Context, error) error) RouteGuardOption {
	return func(g *RouteGuard) {
		if h != nil {
			g.ErrorHandler = h
		}
	}
}

// RouteGuard holds the bearer, approval and admin middlewares.
type RouteGuard struct {
	tokens       TokenIssuer
	lifecycle    Lifecycle
	contextKey   string
	Logger       Logger
	ErrorHandler func(c router.Context, err error) error
}

// NewRouteGuard creates the middlewares over the token issuer and lifecycle
func NewRouteGuard(tokens TokenIssuer, lifecycle Lifecycle, opts ...RouteGuardOption) *RouteGuard {
	g := &RouteGuard{
		tokens:     tokens,
		lifecycle:  lifecycle,
		contextKey: DefaultContextKey,
		Logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	if g.ErrorHandler == nil {
		g.ErrorHandler = func(c router.Context, err error) error {
			return WriteError(c, g.Logger, err)
		}
	}

	return g
}

// ContextKey returns the locals key holding the claims
func (g *RouteGuard) ContextKey() string {
	return g.contextKey
}

// ProtectedRoute requires a valid bearer token. Claims are stored in the
// router locals and in the request context.
func (g *RouteGuard) ProtectedRoute() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			raw := bearerToken(c.Header("Authorization"))
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"message": msgNoToken,
					"code":    TextCodeInvalidToken,
				})
			}

			claims, err := g.tokens.Verify(raw)
			if err != nil {
				return g.ErrorHandler(c, ErrInvalidToken)
			}

			c.Locals(g.contextKey, claims)
			c.SetContext(WithClaimsContext(c.Context(), claims))

			return next(c)
		}
	}
}

// RequireApproval re-reads the account so approvals and deactivations take
// effect before the token expires.
func (g *RouteGuard) RequireApproval() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			claims, ok := GetRouterClaims(c, g.contextKey)
			if !ok {
				return g.ErrorHandler(c, ErrInvalidToken)
			}

			id, err := claims.AccountID()
			if err != nil {
				return g.ErrorHandler(c, ErrInvalidToken)
			}

			account, err := g.lifecycle.CurrentAccount(c.Context(), id)
			if err != nil {
				if IsNotFound(err) {
					return g.ErrorHandler(c, ErrInvalidToken)
				}
				return g.ErrorHandler(c, err)
			}

			if !account.Active {
				return g.ErrorHandler(c, ErrAccountDisabled)
			}

			if account.RequiresApproval() {
				return g.ErrorHandler(c, ErrPendingApproval)
			}

			c.SetContext(WithAccountContext(c.Context(), account))
			return next(c)
		}
	}
}

// RequireAdmin checks the role claim.
func (g *RouteGuard) RequireAdmin() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			claims, ok := GetRouterClaims(c, g.contextKey)
			if !ok {
				return g.ErrorHandler(c, ErrInvalidToken)
			}
			if !claims.IsAdmin() {
				return g.ErrorHandler(c, ErrForbidden)
			}
			return next(c)
		}
	}
}

// Chain wraps handler so the first middleware runs first.
func Chain(handler router.HandlerFunc, mws ...router.MiddlewareFunc) router.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			handler = mws[i](handler)
		}
	}
	return handler
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// WriteError renders err as JSON using the status code carried by the
// typed error. Untyped and storage errors come back as an opaque 500.
func WriteError(c router.Context, logger Logger, err error) error {
	logger = normalizeLogger(logger)

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		logger.Error("unhandled error", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"message": msgServerError,
			"code":    TextCodeStorage,
		})
	}

	status := rich.Code
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}

	body := map[string]any{
		"message": rich.Message,
		"code":    rich.TextCode,
	}

	switch {
	case rich.TextCode == TextCodeStorage || status >= http.StatusInternalServerError:
		logger.Error("request failed",
			"error", rich.Error(),
			"category", rich.Category,
			"details", print.MaybePrettyJSON(rich.Metadata),
		)
		body["message"] = msgServerError
	case rich.TextCode == TextCodeValidation:
		body["errors"] = ValidationFields(rich)
	case rich.TextCode == TextCodePendingApproval:
		body["needsApproval"] = true
	default:
		logger.Debug("request rejected",
			"error", rich.Message,
			"text_code", rich.TextCode,
		)
	}

	return c.JSON(status, body)
}
