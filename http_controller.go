package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RegisterIdentityRoutes mounts the auth, family and patient routes.
func RegisterIdentityRoutes[T any](app router.Router[T], controller *HTTPController) {
	r := controller.Routes
	guard := controller.Guard

	bearer := guard.ProtectedRoute()
	approved := guard.RequireApproval()
	admin := guard.RequireAdmin()

	app.Post(r.Register, controller.Register).SetName("auth.register")
	app.Post(r.VerifyEmail, controller.VerifyEmail).SetName("auth.verify-email")
	app.Post(r.Login, controller.Login).SetName("auth.login")
	app.Get(r.CurrentUser, Chain(controller.CurrentUser, bearer, approved)).SetName("auth.user")
	app.Post(r.ApproveUser, Chain(controller.ApproveUser, bearer)).SetName("auth.approve-user")
	app.Get(r.PendingApprovals, Chain(controller.PendingApprovals, bearer, admin)).SetName("auth.pending-approvals")
	app.Post(r.SetActive, Chain(controller.SetActive, bearer, admin)).SetName("auth.set-active")
	app.Post(r.CreateAdmin, controller.CreateAdmin).SetName("auth.create-admin")

	app.Post(r.FamilySearch, Chain(controller.FamilySearch, bearer)).SetName("family.search")
	app.Post(r.FamilyRequest, Chain(controller.FamilyRequest, bearer)).SetName("family.request")
	app.Get(r.FamilyRequests, Chain(controller.FamilyRequests, bearer)).SetName("family.requests")
	app.Post(r.FamilyRespond, Chain(controller.FamilyRespond, bearer)).SetName("family.respond")
	app.Delete(r.FamilyRemove, Chain(controller.FamilyRemove, bearer)).SetName("family.remove")

	app.Get(r.OwnPatientRecord, Chain(controller.OwnPatientRecord, bearer, approved)).SetName("patients.me")
	app.Get(r.PatientRecord, Chain(controller.PatientRecord, bearer, approved)).SetName("patients.get")
}

// HTTPControllerRoutes holds the route paths
type HTTPControllerRoutes struct {
	Register         string
	VerifyEmail      string
	Login            string
	CurrentUser      string
	ApproveUser      string
	PendingApprovals string
	SetActive        string
	CreateAdmin      string
	FamilySearch     string
	FamilyRequest    string
	FamilyRequests   string
	FamilyRespond    string
	FamilyRemove     string
	OwnPatientRecord string
	PatientRecord    string
}

// DefaultRoutes returns the /api route layout
func DefaultRoutes() *HTTPControllerRoutes {
	return &HTTPControllerRoutes{
		Register:         "/api/auth/register",
		VerifyEmail:      "/api/auth/verify-email",
		Login:            "/api/auth/login",
		CurrentUser:      "/api/auth/user",
		ApproveUser:      "/api/auth/approve-user",
		PendingApprovals: "/api/auth/pending-approvals",
		SetActive:        "/api/auth/set-active",
		CreateAdmin:      "/api/auth/create-admin",
		FamilySearch:     "/api/family/search",
		FamilyRequest:    "/api/family/request",
		FamilyRequests:   "/api/family/requests",
		FamilyRespond:    "/api/family/respond",
		FamilyRemove:     "/api/family/remove",
		OwnPatientRecord: "/api/patients/me",
		PatientRecord:    "/api/patients/:id",
	}
}

// HTTPController exposes the lifecycle, graph and record gate as JSON handlers.
type HTTPController struct {
	// Debug logs payloads and returns the verification token on register
	Debug     bool
	Logger    Logger
	Lifecycle Lifecycle
	Graph     Graph
	Tokens    TokenIssuer
	Records   *PatientRecordAccess
	Guard     *RouteGuard
	Routes    *HTTPControllerRoutes
}

// HTTPControllerOption configures the controller
type HTTPControllerOption func(*HTTPController) *HTTPController

// WithControllerDebug toggles debug mode
func WithControllerDebug(debug bool) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Debug = debug
		return c
	}
}

// WithControllerLogger sets the logger
func WithControllerLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerRoutes overrides the route paths
func WithControllerRoutes(routes *HTTPControllerRoutes) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

// WithPatientRecordAccess sets the patient record gate
func WithPatientRecordAccess(records *PatientRecordAccess) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Records = records
		return c
	}
}

// WithRouteGuard sets the middleware holder
func WithRouteGuard(guard *RouteGuard) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Guard = guard
		return c
	}
}

// NewHTTPController creates the controller. It panics when a required
// collaborator is missing.
func NewHTTPController(lifecycle Lifecycle, graph Graph, tokens TokenIssuer, opts ...HTTPControllerOption) *HTTPController {
	c := &HTTPController{
		Logger:    defLogger{},
		Lifecycle: lifecycle,
		Graph:     graph,
		Tokens:    tokens,
		Routes:    DefaultRoutes(),
	}

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}

	if c.Lifecycle == nil {
		panic("Missing Lifecycle in identity controller...")
	}

	if c.Graph == nil {
		panic("Missing Graph in identity controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenIssuer in identity controller...")
	}

	if c.Guard == nil {
		c.Guard = NewRouteGuard(c.Tokens, c.Lifecycle, WithGuardLogger(c.Logger))
	}

	return c
}

// RegisterPayload is the registration request body
type RegisterPayload struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     string          `json:"role"`
	Phone    string          `json:"phone"`
	Profile  json.RawMessage `json:"profile,omitempty"`
}

// Register creates an account and returns a provisional session token.
func (h *HTTPController) Register(ctx router.Context) error {
	payload := new(RegisterPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.badPayload(ctx, err)
	}

	role, _ := ParseRole(payload.Role)
	profile, err := decodeProfile(role, payload.Profile)
	if err != nil {
		return h.fail(ctx, err)
	}

	h.debug("register", payload.Email)

	account, verificationToken, err := h.Lifecycle.Register(ctx.Context(), RegistrationInput{
		Name:     payload.Name,
		Email:    payload.Email,
		Password: payload.Password,
		Role:     role,
		Phone:    payload.Phone,
		Profile:  profile,
	})
	if err != nil {
		return h.fail(ctx, err)
	}

	token, err := h.Tokens.Issue(account)
	if err != nil {
		return h.fail(ctx, err)
	}

	message := "Registration successful! Please wait for admin approval after email verification."
	if account.Role == RolePatient {
		message = "Registration successful! Please verify your email."
	}

	body := map[string]any{
		"token":   token,
		"user":    account,
		"message": message,
	}
	if h.Debug {
		body["verification_token"] = verificationToken
	}

	return ctx.JSON(http.StatusOK, body)
}

// VerifyEmailPayload carries the verification token
type VerifyEmailPayload struct {
	Token string `json:"token"`
}

// Validate will run validation rules
func (r VerifyEmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

// VerifyEmail consumes a verification token and issues a session.
func (h *HTTPController) VerifyEmail(ctx router.Context) error {
	payload := new(VerifyEmailPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.badPayload(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return h.fail(ctx, validationError(err))
	}

	account, err := h.Lifecycle.VerifyEmail(ctx.Context(), payload.Token)
	if err != nil {
		return h.fail(ctx, err)
	}

	token, err := h.Tokens.Issue(account)
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"token":   token,
		"user":    account,
		"message": "Email verified successfully!",
	})
}

// LoginPayload is the login request body
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

// Login authenticates and issues a session token.
func (h *HTTPController) Login(ctx router.Context) error {
	payload := new(LoginPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.badPayload(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return h.fail(ctx, validationError(err))
	}

	h.debug("login", payload.Email)

	account, err := h.Lifecycle.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return h.fail(ctx, err)
	}

	token, err := h.Tokens.Issue(account)
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"token": token,
		"user":  account,
	})
}

// CurrentUser returns the account loaded by the approval gate.
func (h *HTTPController) CurrentUser(ctx router.Context) error {
	account, ok := AccountFromContext(ctx.Context())
	if !ok {
		id, err := h.callerID(ctx)
		if err != nil {
			return h.fail(ctx, err)
		}
		if account, err = h.Lifecycle.CurrentAccount(ctx.Context(), id); err != nil {
			return h.fail(ctx, err)
		}
	}
	return ctx.JSON(http.StatusOK, account)
}

// AccountFlagPayload targets an account with a boolean flag
type AccountFlagPayload struct {
	UserID   string `json:"user_id"`
	Approved *bool  `json:"approved,omitempty"`
	Active   *bool  `json:"active,omitempty"`
}

// ApproveUser sets or revokes approval. The lifecycle checks the caller
// is an active admin.
func (h *HTTPController) ApproveUser(ctx router.Context) error {
	payload := new(AccountFlagPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.badPayload(ctx, err)
	}

	adminID, err := h.callerID(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}

	targetID, err := parseID("user_id", payload.UserID)
	if err != nil {
		return h.fail(ctx, err)
	}

	if payload.Approved == nil {
		return h.fail(ctx, NewValidationError(map[string]string{"approved": "cannot be blank"}))
	}

	account, err := h.Lifecycle.SetApproval(ctx.Context(), adminID, targetID, *payload.Approved)
	if err != nil {
		return h.fail(ctx, err)
	}

	message := "User approval revoked"
	if account.Approved {
		message = "User approved successfully"
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"message": message,
		"user":    account.Summary(),
	})
}

// PendingApprovals lists staff accounts waiting for approval.
func (h *HTTPController) PendingApprovals(ctx router.Context) error {
	adminID, err := h.callerID(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}

	accounts, err := h.Lifecycle.PendingApprovals(ctx.Context(), adminID)
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, accounts)
}

// SetActive deactivates or reactivates an account.
func (h *HTTPController) SetActive(ctx router.Context) error {
	payload := new(AccountFlagPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.badPayload(ctx, err)
	}

	adminID, err := h.callerID(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}

	targetID, err := parseID("user_id", payload.UserID)
	if err != nil {
		return h.fail(ctx, err)
	}

	if payload.Active == nil {
		return h.fail(ctx, NewValidationError(map[string]string{"active": "cannot be blank"}))
	}

	account, err := h.Lifecycle.SetActive(ctx.Context(), adminID, targetID, *payload.Active)
	if err != nil {
		return h.fail(ctx, err)
	}

	message := "User deactivated"
	if account.Active {
		message = "User reactivated"
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"message": message,
		"user":    account.Summary(),
	})
}

// CreateAdminPayload is the bootstrap admin request body
type CreateAdminPayload struct {
	AdminInput
	AdminSecret string `json:"admin_secret"`
}

// CreateAdmin bootstraps the first admin account.
func (h *HTTPController) CreateAdmin(ctx router.Context) error {
	payload := new(CreateAdminPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.badPayload(ctx, err)
	}

	account, err := h.Lifecycle.BootstrapAdmin(ctx.Context(), payload.AdminSecret, payload.AdminInput)
	if err != nil {
		return h.fail(ctx, err)
	}

	token, err := h.Tokens.Issue(account)
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"token":   token,
		"user":    account,
		"message": "Admin account created successfully!",
	})
}

// FamilySearchPayload is the search request body
type FamilySearchPayload struct {
	SearchTerm string `json:"search_term"`
}

// FamilySearch finds accounts to connect with.
func (h *HTTPController) FamilySearch(ctx router.Context) error {
	payload := new(FamilySearchPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.badPayload(ctx, err)
	}

	callerID, err := h.callerID(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}

	results, err := h.Graph.Search(ctx.Context(), callerID, payload.SearchTerm)
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, results)
}

// FamilyRequestPayload is the connection request body
type FamilyRequestPayload struct {
	RequestedID  string `json:"requested_id"`
	Relationship string `json:"relationship"`
	Notes        string `json:"notes,omitempty"`
}

// FamilyRequest sends a family request.
func (h *HTTPController) FamilyRequest(ctx router.Context) error {
	payload := new(FamilyRequestPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.badPayload(ctx, err)
	}

	callerID, err := h.callerID(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}

	requestedID, err := parseID("requested_id", payload.RequestedID)
	if err != nil {
		return h.fail(ctx, err)
	}

	kind := RelationshipKind(strings.ToLower(strings.TrimSpace(payload.Relationship)))

	edge, err := h.Graph.RequestConnection(ctx.Context(), callerID, requestedID, kind, payload.Notes)
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"message": "Family request sent successfully",
		"request": edge,
	})
}

// FamilyRequests lists incoming, outgoing and accepted edges.
func (h *HTTPController) FamilyRequests(ctx router.Context) error {
	callerID, err := h.callerID(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}

	listing, err := h.Graph.ListForUser(ctx.Context(), callerID)
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, listing)
}

// FamilyRespondPayload is the respond request body
type FamilyRespondPayload struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// FamilyRespond accepts or declines an incoming request.
func (h *HTTPController) FamilyRespond(ctx router.Context) error {
	payload := new(FamilyRespondPayload)
	if err := ctx.Bind(payload); err != nil {
		return h.badPayload(ctx, err)
	}

	callerID, err := h.callerID(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}

	edgeID, err := parseID("request_id", payload.RequestID)
	if err != nil {
		return h.fail(ctx, err)
	}

	decision := RelationshipStatus(strings.ToLower(strings.TrimSpace(payload.Status)))

	edge, err := h.Graph.Respond(ctx.Context(), callerID, edgeID, decision)
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"message": "Family request " + string(edge.Status) + " successfully",
		"request": edge,
	})
}

// FamilyRemovePayload targets an accepted edge
type FamilyRemovePayload struct {
	RequestID string `json:"request_id"`
}

// FamilyRemove deletes an accepted edge.
func (h *HTTPController) FamilyRemove(ctx router.Context) error {
	payload := new(FamilyRemovePayload)
	if err := ctx.Bind(payload); err != nil {
		return h.badPayload(ctx, err)
	}

	callerID, err := h.callerID(ctx)
	if err != nil {
		return h.fail(ctx, err)
	}

	edgeID, err := parseID("request_id", payload.RequestID)
	if err != nil {
		return h.fail(ctx, err)
	}

	if err := h.Graph.Remove(ctx.Context(), callerID, edgeID); err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"message": "Family member removed successfully",
	})
}

// PatientRecord returns a patient record the caller may read.
func (h *HTTPController) PatientRecord(ctx router.Context) error {
	if h.Records == nil {
		return h.fail(ctx, ErrNotFound)
	}

	caller, ok := AccountFromContext(ctx.Context())
	if !ok {
		return h.fail(ctx, ErrInvalidToken)
	}

	record, err := h.Records.Record(ctx.Context(), caller, ctx.Param("id"))
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, record)
}

// OwnPatientRecord returns the record of the calling patient.
func (h *HTTPController) OwnPatientRecord(ctx router.Context) error {
	if h.Records == nil {
		return h.fail(ctx, ErrNotFound)
	}

	caller, ok := AccountFromContext(ctx.Context())
	if !ok {
		return h.fail(ctx, ErrInvalidToken)
	}

	record, err := h.Records.Own(ctx.Context(), caller)
	if err != nil {
		return h.fail(ctx, err)
	}

	return ctx.JSON(http.StatusOK, record)
}

func (h *HTTPController) callerID(ctx router.Context) (uuid.UUID, error) {
	claims, ok := GetRouterClaims(ctx, h.Guard.ContextKey())
	if !ok {
		if claims, ok = GetClaims(ctx.Context()); !ok {
			return uuid.Nil, ErrInvalidToken
		}
	}
	id, err := claims.AccountID()
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

func (h *HTTPController) fail(ctx router.Context, err error) error {
	return WriteError(ctx, h.Logger, err)
}

func (h *HTTPController) badPayload(ctx router.Context, err error) error {
	h.Logger.Debug("parse payload", "error", err)
	return h.fail(ctx, NewValidationError(map[string]string{"body": "Failed to parse request body"}))
}

func (h *HTTPController) debug(action, email string) {
	if !h.Debug {
		return
	}
	h.Logger.Debug("identity request", "action", action, "payload", print.MaybePrettyJSON(map[string]string{
		"email": email,
	}))
}

func parseID(field, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, NewValidationError(map[string]string{field: "cannot be blank"})
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, NewValidationError(map[string]string{field: "must be a valid id"})
	}
	return id, nil
}

// decodeProfile reads the profile variant the role requires. Unknown roles
// are left to the lifecycle validation.
func decodeProfile(role Role, raw json.RawMessage) (RoleProfile, error) {
	profile := ProfileFor(role)
	if profile == nil || len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, profile); err != nil {
		return nil, NewValidationError(map[string]string{"profile": "is not a valid " + profile.Kind() + " profile"})
	}
	return profile, nil
}

func validationError(err error) error {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return NewValidationError(map[string]string{"body": err.Error()})
	}
	fields := make(map[string]string, len(errs))
	for field, ferr := range errs {
		fields[field] = ferr.Error()
	}
	return NewValidationError(fields)
}
