package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	defaultStoreTimeout   = 10 * time.Second
	defaultMaxSwapRetries = 10
	defaultAdminDept      = "Administration"
	maxExternalIDAttempts = 3
)

var (
	errLoginStateConflict = errors.New("login state changed concurrently")
	errExternalIDTaken    = errors.New("external id already assigned")
)

// ExternalIDGenerator produces display identifiers, see NewExternalID
type ExternalIDGenerator func(prefix string, now time.Time) (string, error)

// RegistrationInput is the open registration payload
type RegistrationInput struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     Role        `json:"role"`
	Phone    string      `json:"phone"`
	Profile  RoleProfile `json:"-"`
}

// AdminInput is the bootstrap admin payload
type AdminInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Phone      string `json:"phone"`
	Department string `json:"department"`
}

// LifecycleOption customizes the lifecycle engine
type LifecycleOption func(*AccountLifecycle)

// WithLifecycleClock injects a custom clock (useful for tests).
func WithLifecycleClock(clock func() time.Time) LifecycleOption {
	return func(l *AccountLifecycle) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithPasswordAuthenticator overrides the bcrypt hasher
func WithPasswordAuthenticator(p PasswordAuthenticator) LifecycleOption {
	return func(l *AccountLifecycle) {
		if p != nil {
			l.hasher = p
		}
	}
}

// WithLifecycleDispatcher sets the notification dispatcher
func WithLifecycleDispatcher(d *Dispatcher) LifecycleOption {
	return func(l *AccountLifecycle) {
		if d != nil {
			l.dispatcher = d
		}
	}
}

// WithLifecycleActivitySink sets the ActivitySink used to publish lifecycle events.
func WithLifecycleActivitySink(sink ActivitySink) LifecycleOption {
	return func(l *AccountLifecycle) {
		l.activity = normalizeActivitySink(sink)
	}
}

// WithLifecycleMetrics records lifecycle counters
func WithLifecycleMetrics(m *Metrics) LifecycleOption {
	return func(l *AccountLifecycle) {
		l.metrics = m
	}
}

// WithLifecycleLogger sets the logger
func WithLifecycleLogger(logger Logger) LifecycleOption {
	return func(l *AccountLifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLockoutPolicy overrides the failed login policy
func WithLockoutPolicy(p LockoutPolicy) LifecycleOption {
	return func(l *AccountLifecycle) {
		l.policy = p.normalize()
	}
}

// WithPhoneRegion sets the region used for numbers without a country code
func WithPhoneRegion(region string) LifecycleOption {
	return func(l *AccountLifecycle) {
		if region != "" {
			l.phoneRegion = region
		}
	}
}

// WithBootstrapSecret enables the admin bootstrap path
func WithBootstrapSecret(secret string) LifecycleOption {
	return func(l *AccountLifecycle) {
		l.bootstrapSecret = secret
	}
}

// WithLifecycleStateMachine overrides the admin transition state machine
func WithLifecycleStateMachine(sm AccountStateMachine) LifecycleOption {
	return func(l *AccountLifecycle) {
		if sm != nil {
			l.stateMachine = sm
		}
	}
}

// WithExternalIDGenerator replaces NewExternalID for account and patient
// record display ids.
func WithExternalIDGenerator(gen ExternalIDGenerator) LifecycleOption {
	return func(l *AccountLifecycle) {
		if gen != nil {
			l.externalID = gen
		}
	}
}

// AccountLifecycle owns the verification, approval and lock axes of an account
type AccountLifecycle struct {
	repo            RepositoryManager
	hasher          PasswordAuthenticator
	stateMachine    AccountStateMachine
	dispatcher      *Dispatcher
	activity        ActivitySink
	metrics         *Metrics
	logger          Logger
	now             func() time.Time
	externalID      ExternalIDGenerator
	policy          LockoutPolicy
	phoneRegion     string
	bootstrapSecret string
	storeTimeout    time.Duration
	maxSwapRetries  int
}

var _ Lifecycle = (*AccountLifecycle)(nil)

// NewAccountLifecycle builds the engine over the repository manager
func NewAccountLifecycle(repo RepositoryManager, opts ...LifecycleOption) *AccountLifecycle {
	l := &AccountLifecycle{
		repo:           repo,
		hasher:         NewBcryptHasher(0),
		activity:       noopActivitySink{},
		logger:         defLogger{},
		now:            time.Now,
		externalID:     NewExternalID,
		policy:         DefaultLockoutPolicy,
		phoneRegion:    DefaultPhoneRegion,
		storeTimeout:   defaultStoreTimeout,
		maxSwapRetries: defaultMaxSwapRetries,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	if l.dispatcher == nil {
		l.dispatcher = NewDispatcher(nil, WithDispatcherLogger(l.logger), WithDispatcherMetrics(l.metrics))
	}

	if l.stateMachine == nil {
		l.stateMachine = NewAccountStateMachine(repo.Accounts(),
			WithStateMachineClock(l.now),
			WithStateMachineActivitySink(l.activity),
			WithStateMachineLogger(l.logger),
		)
	}

	return l
}

// Register creates an unverified account and returns it with its
// verification token.
func (l *AccountLifecycle) Register(ctx context.Context, input RegistrationInput) (*Account, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	if input.Role.IsValid() && !input.Role.CanRegister() {
		return nil, "", NewValidationError(map[string]string{
			"role": "Admin accounts cannot be created through registration",
		})
	}

	email, phone, err := l.validateAccount(input.Name, input.Email, input.Password, input.Phone, input.Role, input.Profile)
	if err != nil {
		return nil, "", err
	}

	account, err := l.newAccount(input.Name, email, phone, input.Password, input.Role, input.Profile)
	if err != nil {
		return nil, "", err
	}

	token, err := NewVerificationToken()
	if err != nil {
		return nil, "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification token")
	}
	account.VerificationToken = &token
	account.Approved = input.Role == RolePatient

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	err = l.insertAccount(ctx, account, func(ctx context.Context, tx bun.Tx) error {
		if err := l.ensureAvailable(ctx, tx, email, phone); err != nil {
			return err
		}

		if _, err := l.repo.Accounts().RegisterTx(ctx, tx, account); err != nil {
			return err
		}

		if account.Role == RolePatient {
			return l.createPatientRecord(ctx, tx, account)
		}
		return nil
	})
	if err != nil {
		l.metrics.registration(input.Role, "failed")
		return nil, "", storageError(err, "register")
	}

	l.metrics.registration(account.Role, "created")
	recordActivity(ctx, l.activity, l.logger, l.now, ActivityEvent{
		EventType: ActivityAccountRegistered,
		Actor:     accountActor(account),
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"role": string(account.Role)},
	})

	l.dispatcher.Dispatch(Notification{
		Kind: NotifyVerification,
		To:   account.Email,
		Name: account.Name,
		Data: map[string]string{
			"token":       token,
			"external_id": account.ExternalID,
		},
	})

	return account, token, nil
}

// VerifyEmail consumes the verification token. A token works once.
func (l *AccountLifecycle) VerifyEmail(ctx context.Context, token string) (*Account, error) {
	var account *Account

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = l.repo.Accounts().ConsumeVerificationTokenTx(ctx, tx, token, l.now().UTC())
		return err
	})
	if err != nil {
		return nil, storageError(err, "verify_email")
	}

	recordActivity(ctx, l.activity, l.logger, l.now, ActivityEvent{
		EventType: ActivityAccountVerified,
		Actor:     accountActor(account),
		AccountID: account.ID.String(),
	})

	return account, nil
}

// Login checks, in order: existence, lock window, active flag,
// verification, approval and finally the password.
func (l *AccountLifecycle) Login(ctx context.Context, email, password string) (*Account, error) {
	account, err := l.repo.Accounts().ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			l.metrics.login("unknown_account")
			return nil, ErrInvalidCredentials
		}
		return nil, storageError(err, "login")
	}

	now := l.now().UTC()

	if account.IsLocked(now) {
		l.metrics.login("locked")
		return nil, ErrAccountLocked
	}

	if !account.Active {
		l.metrics.login("disabled")
		return nil, ErrAccountDisabled
	}

	if !account.Verified {
		l.metrics.login("not_verified")
		return nil, ErrNotVerified
	}

	if account.RequiresApproval() {
		l.metrics.login("pending_approval")
		return nil, ErrPendingApproval
	}

	if err := l.hasher.ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		if !errors.Is(err, ErrMismatchedHashAndPassword) {
			l.logger.Error("password compare failed", "account", account.ID, "error", err)
		}

		if _, ferr := l.RecordFailedAttempt(ctx, account); ferr != nil {
			return nil, ferr
		}

		l.metrics.login("invalid_credentials")
		recordActivity(ctx, l.activity, l.logger, l.now, ActivityEvent{
			EventType: ActivityLoginFailure,
			Actor:     accountActor(account),
			AccountID: account.ID.String(),
		})
		return nil, ErrInvalidCredentials
	}

	updated, err := l.swapLoginState(ctx, account.ID, func(*Account) LoginState {
		return l.policy.Success(now)
	})
	if err != nil {
		return nil, err
	}

	l.metrics.login("success")
	recordActivity(ctx, l.activity, l.logger, l.now, ActivityEvent{
		EventType: ActivityLoginSuccess,
		Actor:     accountActor(updated),
		AccountID: updated.ID.String(),
	})

	return updated, nil
}

// RecordFailedAttempt counts one failed password for account. It re-reads
// the row and retries on a concurrent update so no failure is lost.
func (l *AccountLifecycle) RecordFailedAttempt(ctx context.Context, account *Account) (*Account, error) {
	if account == nil {
		return nil, ErrAccountNotFound
	}

	var locked bool
	updated, err := l.swapLoginState(ctx, account.ID, func(current *Account) LoginState {
		state, opened := l.policy.NextFailure(current.LoginAttempts, current.LockUntil, l.now().UTC())
		locked = opened
		return state
	})
	if err != nil {
		return nil, err
	}

	if locked {
		l.metrics.lockout()
		l.logger.Warn("account locked", "account", updated.ID, "until", updated.LockUntil)
		recordActivity(ctx, l.activity, l.logger, l.now, ActivityEvent{
			EventType: ActivityAccountLocked,
			Actor:     SystemActor,
			AccountID: updated.ID.String(),
			Metadata:  map[string]any{"attempts": updated.LoginAttempts},
		})
	}

	account.LoginAttempts = updated.LoginAttempts
	account.LockUntil = updated.LockUntil
	account.Version = updated.Version
	return updated, nil
}

func (l *AccountLifecycle) swapLoginState(ctx context.Context, id uuid.UUID, next func(current *Account) LoginState) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	for attempt := 0; attempt < l.maxSwapRetries; attempt++ {
		var current *Account
		err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			var err error
			current, err = l.repo.Accounts().ByIDTx(ctx, tx, id)
			if err != nil {
				return err
			}

			ok, err := l.repo.Accounts().SwapLoginStateTx(ctx, tx, current, next(current), l.now().UTC())
			if err != nil {
				return err
			}
			if !ok {
				return errLoginStateConflict
			}
			return nil
		})

		if err == nil {
			return current, nil
		}

		if !errors.Is(err, errLoginStateConflict) {
			return nil, storageError(err, "login_state")
		}
	}

	return nil, storageError(errLoginStateConflict, "login_state")
}

// SetApproval lets an admin approve or revoke a staff account. Revoking
// keeps the previous approver stamp.
func (l *AccountLifecycle) SetApproval(ctx context.Context, adminID, targetID uuid.UUID, approved bool) (*Account, error) {
	transition := TransitionRevoke
	if approved {
		transition = TransitionApprove
	}

	account, changed, err := l.applyTransition(ctx, adminID, targetID, transition)
	if err != nil {
		return nil, err
	}

	if changed {
		l.metrics.approval(approved)
		l.dispatcher.Dispatch(Notification{
			Kind: NotifyApprovalChanged,
			To:   account.Email,
			Name: account.Name,
			Data: map[string]string{"approved": boolString(approved)},
		})
	}

	return account, nil
}

// SetActive is the soft delete toggle. Admins cannot deactivate themselves.
func (l *AccountLifecycle) SetActive(ctx context.Context, adminID, targetID uuid.UUID, active bool) (*Account, error) {
	if adminID == targetID && !active {
		return nil, NewValidationError(map[string]string{
			"user_id": "admins cannot deactivate their own account",
		})
	}

	transition := TransitionDeactivate
	if active {
		transition = TransitionReactivate
	}

	account, _, err := l.applyTransition(ctx, adminID, targetID, transition)
	return account, err
}

func (l *AccountLifecycle) applyTransition(ctx context.Context, adminID, targetID uuid.UUID, transition AccountTransition) (*Account, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	var (
		account *Account
		changed bool
		events  []ActivityEvent
	)

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		events = events[:0]

		admin, err := l.requireAdmin(ctx, tx, adminID)
		if err != nil {
			return err
		}

		target, err := l.repo.Accounts().ByIDTx(ctx, tx, targetID)
		if err != nil {
			return err
		}
		wasApproved, wasActive := target.Approved, target.Active

		account, err = l.stateMachine.Apply(ctx, tx, admin, target, transition,
			WithDeferredActivity(func(evt ActivityEvent) {
				events = append(events, evt)
			}),
		)
		if err != nil {
			return err
		}
		changed = account.Approved != wasApproved || account.Active != wasActive
		return nil
	})
	if err != nil {
		return nil, false, storageError(err, string(transition))
	}

	for _, evt := range events {
		recordActivity(ctx, l.activity, l.logger, l.now, evt)
	}

	return account, changed, nil
}

// PendingApprovals lists staff accounts waiting for approval.
func (l *AccountLifecycle) PendingApprovals(ctx context.Context, adminID uuid.UUID) ([]*Account, error) {
	if _, err := l.requireAdmin(ctx, nil, adminID); err != nil {
		return nil, err
	}

	records, err := l.repo.Accounts().PendingApprovals(ctx)
	if err != nil {
		return nil, storageError(err, "pending_approvals")
	}
	return records, nil
}

// CurrentAccount loads the account behind a session.
func (l *AccountLifecycle) CurrentAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	account, err := l.repo.Accounts().ByID(ctx, id)
	if err != nil {
		return nil, storageError(err, "current_account")
	}
	return account, nil
}

// BootstrapAdmin provisions the first admin, gated by a shared secret.
// The admin is verified and self approved.
func (l *AccountLifecycle) BootstrapAdmin(ctx context.Context, secret string, input AdminInput) (*Account, error) {
	if l.bootstrapSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(l.bootstrapSecret)) != 1 {
		return nil, ErrForbidden
	}

	department := input.Department
	if department == "" {
		department = defaultAdminDept
	}
	profile := &StaffProfile{Department: department}

	email, phone, err := l.validateAccount(input.Name, input.Email, input.Password, input.Phone, RoleAdmin, profile)
	if err != nil {
		return nil, err
	}

	account, err := l.newAccount(input.Name, email, phone, input.Password, RoleAdmin, profile)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	self := account.ID
	account.Verified = true
	account.Approved = true
	account.ApprovedBy = &self
	account.ApprovedAt = &now

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	err = l.insertAccount(ctx, account, func(ctx context.Context, tx bun.Tx) error {
		exists, err := l.repo.Accounts().AdminExistsTx(ctx, tx)
		if err != nil {
			return err
		}
		if exists {
			return ErrAdminExists
		}

		if err := l.ensureAvailable(ctx, tx, email, phone); err != nil {
			return err
		}

		_, err = l.repo.Accounts().RegisterTx(ctx, tx, account)
		return err
	})
	if err != nil {
		return nil, storageError(err, "bootstrap_admin")
	}

	recordActivity(ctx, l.activity, l.logger, l.now, ActivityEvent{
		EventType: ActivityAdminBootstrapped,
		Actor:     SystemActor,
		AccountID: account.ID.String(),
	})

	return account, nil
}

func (l *AccountLifecycle) requireAdmin(ctx context.Context, tx bun.IDB, adminID uuid.UUID) (*Account, error) {
	var (
		admin *Account
		err   error
	)
	if tx == nil {
		admin, err = l.repo.Accounts().ByID(ctx, adminID)
	} else {
		admin, err = l.repo.Accounts().ByIDTx(ctx, tx, adminID)
	}

	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	if admin.Role != RoleAdmin || !admin.Active {
		return nil, ErrForbidden
	}
	return admin, nil
}

func (l *AccountLifecycle) ensureAvailable(ctx context.Context, tx bun.IDB, email, phone string) error {
	taken, err := l.repo.Accounts().EmailTakenTx(ctx, tx, email)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicateEmail
	}

	taken, err = l.repo.Accounts().PhoneTakenTx(ctx, tx, phone)
	if err != nil {
		return err
	}
	if taken {
		return ErrDuplicatePhone
	}
	return nil
}

// insertAccount runs fn in a transaction and retries it with a fresh
// external id when the display id is already taken.
func (l *AccountLifecycle) insertAccount(ctx context.Context, account *Account, fn func(ctx context.Context, tx bun.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := l.repo.RunInTx(ctx, nil, fn)
		if !errors.Is(err, errExternalIDTaken) || attempt == maxExternalIDAttempts {
			return err
		}

		l.logger.Debug("external id collision, regenerating", "external_id", account.ExternalID, "attempt", attempt)

		externalID, err := l.externalID(account.Role.ExternalIDPrefix(), l.now().UTC())
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate external id")
		}
		account.ExternalID = externalID
	}
}

func (l *AccountLifecycle) createPatientRecord(ctx context.Context, tx bun.IDB, account *Account) error {
	externalID, err := l.externalID(PatientRecordPrefix, account.CreatedAt)
	if err != nil {
		return err
	}

	_, err = l.repo.PatientRecords().CreateTx(ctx, tx, &PatientRecord{
		ID:         uuid.New(),
		ExternalID: externalID,
		AccountID:  account.ID,
		CreatedAt:  account.CreatedAt,
	})
	if target, ok := uniqueViolation(err); ok && violatesColumn(target, "patient_records", "external_id") {
		return errExternalIDTaken
	}
	return err
}

func (l *AccountLifecycle) newAccount(name, email, phone, password string, role Role, profile RoleProfile) (*Account, error) {
	hash, err := l.hasher.HashPassword(password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	id, err := AccountIDFromEmail(email)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to derive account id")
	}

	now := l.now().UTC()
	externalID, err := l.externalID(role.ExternalIDPrefix(), now)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate external id")
	}

	return &Account{
		ID:           id,
		ExternalID:   externalID,
		Name:         name,
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		Profile:      ProfileEnvelope{Profile: profile},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

type accountFields struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	Phone    string `json:"phone"`
}

// validateAccount returns the normalized email and phone or a
// ValidationError with every failing field.
func (l *AccountLifecycle) validateAccount(name, email, password, phone string, role Role, profile RoleProfile) (string, string, error) {
	in := accountFields{
		Name:     name,
		Email:    NormalizeEmail(email),
		Password: password,
		Role:     role,
		Phone:    phone,
	}

	var normalizedPhone string
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(2, 100)),
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(6, 128)),
		validation.Field(&in.Role, validation.Required, validation.By(func(value interface{}) error {
			if r, _ := value.(Role); !r.IsValid() {
				return errors.New("must be one of admin, doctor, nurse, receptionist, pharmacy, patient")
			}
			return nil
		})),
		validation.Field(&in.Phone, validation.Required, validation.By(func(value interface{}) error {
			raw, _ := value.(string)
			p, ok := NormalizePhone(raw, l.phoneRegion)
			if !ok {
				return errors.New("must be a valid phone number")
			}
			normalizedPhone = p
			return nil
		})),
	)

	fields := map[string]string{}
	if err != nil {
		errs, ok := err.(validation.Errors)
		if !ok {
			return "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "validation failed")
		}
		for field, ferr := range errs {
			fields[field] = ferr.Error()
		}
	}

	if role.IsValid() {
		for field, msg := range validateProfile(role, profile) {
			fields[field] = msg
		}
	}

	if len(fields) > 0 {
		return "", "", NewValidationError(fields)
	}

	return in.Email, normalizedPhone, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
