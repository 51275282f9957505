package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityAccountRegistered     ActivityEventType = "account.registered"
	ActivityAccountVerified       ActivityEventType = "account.verified"
	ActivityAccountLocked         ActivityEventType = "account.locked"
	ActivityApprovalChanged       ActivityEventType = "account.approval.changed"
	ActivityActiveChanged         ActivityEventType = "account.active.changed"
	ActivityAdminBootstrapped     ActivityEventType = "account.admin.bootstrapped"
	ActivityLoginSuccess          ActivityEventType = "auth.login.success"
	ActivityLoginFailure          ActivityEventType = "auth.login.failure"
	ActivityRelationshipRequested ActivityEventType = "relationship.requested"
	ActivityRelationshipResponded ActivityEventType = "relationship.responded"
	ActivityRelationshipRemoved   ActivityEventType = "relationship.removed"
)

// ActorRef identifies who/what triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// SystemActor is used when no account triggered the event
var SystemActor = ActorRef{Type: "system"}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

func accountActor(a *Account) ActorRef {
	if a == nil {
		return SystemActor
	}
	return ActorRef{ID: a.ID.String(), Type: string(a.Role)}
}

// recordActivity never fails the caller, sink errors are logged.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = SystemActor
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
