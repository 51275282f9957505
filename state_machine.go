package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const textCodeInvalidTransition = "INVALID_ACCOUNT_TRANSITION"

// ErrInvalidTransition is returned when a transition does not apply to the account.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// AccountTransition is an administrative change on the approval or active axis.
type AccountTransition string

const (
	TransitionApprove    AccountTransition = "approve"
	TransitionRevoke     AccountTransition = "revoke"
	TransitionDeactivate AccountTransition = "deactivate"
	TransitionReactivate AccountTransition = "reactivate"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor      ActorRef
	Account    *Account
	Transition AccountTransition
	Meta       TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// AccountStateMachine applies admin driven transitions. Verification and
// lockout are driven by the lifecycle engine directly.
type AccountStateMachine interface {
	Apply(ctx context.Context, tx bun.IDB, admin, account *Account, transition AccountTransition, opts ...TransitionOption) (*Account, error)
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithBeforeTransitionHook adds a hook executed before the update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the update succeeds.
// A failing hook aborts the surrounding transaction.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// WithDeferredActivity hands the transition event to fn instead of the
// activity sink. Callers applying a transition inside a transaction
// publish the event once it commits.
func WithDeferredActivity(fn func(ActivityEvent)) TransitionOption {
	return func(opts *transitionOptions) {
		opts.deferActivity = fn
	}
}

type transitionRule struct {
	// applies is false when the account is already in the target state
	applies func(a *Account) bool
	allowed func(a *Account) bool
	persist func(ctx context.Context, tx bun.IDB, admin, a *Account, now time.Time) error
}

type accountStateMachine struct {
	accounts     Accounts
	rules        map[AccountTransition]transitionRule
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks   []TransitionHook
	afterHooks    []TransitionHook
	deferActivity func(ActivityEvent)
}

// NewAccountStateMachine returns the default implementation backed by accounts.
func NewAccountStateMachine(accounts Accounts, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		accounts:     accounts,
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	nonPatient := func(a *Account) bool { return a.Role != RolePatient }
	always := func(*Account) bool { return true }

	sm.rules = map[AccountTransition]transitionRule{
		TransitionApprove: {
			applies: func(a *Account) bool { return !a.Approved },
			allowed: nonPatient,
			persist: func(ctx context.Context, tx bun.IDB, admin, a *Account, now time.Time) error {
				by := admin.ID
				if err := sm.accounts.SetApprovalTx(ctx, tx, a.ID, true, &by, &now, now); err != nil {
					return err
				}
				a.Approved, a.ApprovedBy, a.ApprovedAt = true, &by, &now
				return nil
			},
		},
		TransitionRevoke: {
			applies: func(a *Account) bool { return a.Approved },
			allowed: nonPatient,
			persist: func(ctx context.Context, tx bun.IDB, _, a *Account, now time.Time) error {
				if err := sm.accounts.SetApprovalTx(ctx, tx, a.ID, false, nil, nil, now); err != nil {
					return err
				}
				a.Approved = false
				return nil
			},
		},
		TransitionDeactivate: {
			applies: func(a *Account) bool { return a.Active },
			allowed: always,
			persist: func(ctx context.Context, tx bun.IDB, _, a *Account, now time.Time) error {
				if err := sm.accounts.SetActiveTx(ctx, tx, a.ID, false, now); err != nil {
					return err
				}
				a.Active = false
				return nil
			},
		},
		TransitionReactivate: {
			applies: func(a *Account) bool { return !a.Active },
			allowed: always,
			persist: func(ctx context.Context, tx bun.IDB, _, a *Account, now time.Time) error {
				if err := sm.accounts.SetActiveTx(ctx, tx, a.ID, true, now); err != nil {
					return err
				}
				a.Active = true
				return nil
			},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

func (sm *accountStateMachine) Apply(ctx context.Context, tx bun.IDB, admin, account *Account, transition AccountTransition, opts ...TransitionOption) (*Account, error) {
	if admin == nil || admin.Role != RoleAdmin {
		return nil, ErrForbidden
	}

	if account == nil {
		return nil, ErrAccountNotFound
	}

	rule, ok := sm.rules[transition]
	if !ok || !rule.allowed(account) {
		return nil, ErrInvalidTransition
	}

	if !rule.applies(account) {
		return account, nil
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	tc := TransitionContext{
		Actor:      accountActor(admin),
		Account:    account,
		Transition: transition,
		Meta:       options.metadata,
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc); err != nil {
		return nil, err
	}

	now := sm.now().UTC()
	if err := rule.persist(ctx, tx, admin, account, now); err != nil {
		return nil, err
	}
	account.UpdatedAt = now

	if err := sm.runHooks(ctx, options.afterHooks, tc); err != nil {
		return nil, err
	}

	eventType := ActivityApprovalChanged
	if transition == TransitionDeactivate || transition == TransitionReactivate {
		eventType = ActivityActiveChanged
	}

	evt := ActivityEvent{
		EventType: eventType,
		Actor:     tc.Actor,
		AccountID: account.ID.String(),
		Metadata:  transitionMetadata(transition, tc.Meta),
	}
	if options.deferActivity != nil {
		options.deferActivity(evt)
		return account, nil
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, evt)
	return account, nil
}

func (sm *accountStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, tc TransitionContext) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, tc); err != nil {
			return err
		}
	}
	return nil
}

func transitionMetadata(transition AccountTransition, meta TransitionMetadata) map[string]any {
	result := map[string]any{"transition": string(transition)}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
