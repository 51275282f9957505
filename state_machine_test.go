package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	identity "github.com/goliatone/go-care-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStateMachine(f *fixture) identity.AccountStateMachine {
	return identity.NewAccountStateMachine(f.repo.Accounts(),
		identity.WithStateMachineClock(f.clock.Now),
		identity.WithStateMachineActivitySink(f.sink),
		identity.WithStateMachineLogger(nopLogger{}),
	)
}

func TestStateMachineApproveRunsHooks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sm := newStateMachine(f)

	admin := f.admin(t)
	doctor, _ := f.register(t, f.doctorInput("Amar Shah", "amar@example.com"))
	before := f.sink.count(identity.ActivityApprovalChanged)

	var calls []string
	updated, err := sm.Apply(ctx, f.db, admin, doctor, identity.TransitionApprove,
		identity.WithTransitionReason("license checked"),
		identity.WithBeforeTransitionHook(func(_ context.Context, tc identity.TransitionContext) error {
			calls = append(calls, "before")
			assert.False(t, tc.Account.Approved)
			assert.Equal(t, "license checked", tc.Meta.Reason)
			assert.Equal(t, admin.ID.String(), tc.Actor.ID)
			return nil
		}),
		identity.WithAfterTransitionHook(func(_ context.Context, tc identity.TransitionContext) error {
			calls = append(calls, "after")
			assert.True(t, tc.Account.Approved)
			return nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "after"}, calls)
	assert.True(t, updated.Approved)
	require.NotNil(t, updated.ApprovedBy)
	assert.Equal(t, admin.ID, *updated.ApprovedBy)

	stored, err := f.repo.Accounts().ByID(ctx, doctor.ID)
	require.NoError(t, err)
	assert.True(t, stored.Approved)
	require.NotNil(t, stored.ApprovedAt)
	assert.WithinDuration(t, f.clock.Now(), *stored.ApprovedAt, time.Second)

	assert.Equal(t, before+1, f.sink.count(identity.ActivityApprovalChanged))

	f.sink.mu.Lock()
	last := f.sink.events[len(f.sink.events)-1]
	f.sink.mu.Unlock()
	assert.Equal(t, "approve", last.Metadata["transition"])
	assert.Equal(t, "license checked", last.Metadata["reason"])
}

func TestStateMachineNoopWhenAlreadyInState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sm := newStateMachine(f)

	admin := f.admin(t)
	patient := f.verifiedPatient(t, "Jane Doe", "jane@example.com")

	called := false
	updated, err := sm.Apply(ctx, f.db, admin, patient, identity.TransitionReactivate,
		identity.WithBeforeTransitionHook(func(context.Context, identity.TransitionContext) error {
			called = true
			return nil
		}),
	)
	require.NoError(t, err)
	assert.True(t, updated.Active)
	assert.False(t, called)
	assert.Zero(t, f.sink.count(identity.ActivityActiveChanged))
}

func TestStateMachineRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sm := newStateMachine(f)

	admin := f.admin(t)
	doctor, _ := f.register(t, f.doctorInput("Amar Shah", "amar@example.com"))
	patient := f.verifiedPatient(t, "Jane Doe", "jane@example.com")

	_, err := sm.Apply(ctx, f.db, doctor, patient, identity.TransitionDeactivate)
	assert.ErrorIs(t, err, identity.ErrForbidden)

	_, err = sm.Apply(ctx, f.db, nil, patient, identity.TransitionDeactivate)
	assert.ErrorIs(t, err, identity.ErrForbidden)

	_, err = sm.Apply(ctx, f.db, admin, nil, identity.TransitionDeactivate)
	assert.ErrorIs(t, err, identity.ErrAccountNotFound)

	_, err = sm.Apply(ctx, f.db, admin, patient, identity.TransitionApprove)
	assert.ErrorIs(t, err, identity.ErrInvalidTransition)

	_, err = sm.Apply(ctx, f.db, admin, doctor, identity.AccountTransition("promote"))
	assert.ErrorIs(t, err, identity.ErrInvalidTransition)
}

func TestStateMachineBeforeHookAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sm := newStateMachine(f)

	admin := f.admin(t)
	patient := f.verifiedPatient(t, "Jane Doe", "jane@example.com")

	hookErr := errors.New("on call review pending")
	_, err := sm.Apply(ctx, f.db, admin, patient, identity.TransitionDeactivate,
		identity.WithBeforeTransitionHook(func(context.Context, identity.TransitionContext) error {
			return hookErr
		}),
	)
	assert.ErrorIs(t, err, hookErr)

	stored, err := f.repo.Accounts().ByID(ctx, patient.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestStateMachineDeferredActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sm := newStateMachine(f)

	admin := f.admin(t)
	doctor, _ := f.register(t, f.doctorInput("Amar Shah", "amar@example.com"))
	before := f.sink.count(identity.ActivityActiveChanged)

	var deferred []identity.ActivityEvent
	_, err := sm.Apply(ctx, f.db, admin, doctor, identity.TransitionDeactivate,
		identity.WithDeferredActivity(func(evt identity.ActivityEvent) {
			deferred = append(deferred, evt)
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, before, f.sink.count(identity.ActivityActiveChanged))
	require.Len(t, deferred, 1)
	assert.Equal(t, identity.ActivityActiveChanged, deferred[0].EventType)
	assert.Equal(t, doctor.ID.String(), deferred[0].AccountID)
	assert.Equal(t, "deactivate", deferred[0].Metadata["transition"])
}
