package activitymap_test

import (
	"context"
	"errors"
	"testing"
	"time"

	identity "github.com/goliatone/go-care-identity"
	"github.com/goliatone/go-care-identity/activitymap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAccountEvent(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := identity.ActivityEvent{
		EventType: identity.ActivityApprovalChanged,
		Actor:     identity.ActorRef{ID: "admin-42", Type: "admin"},
		AccountID: "account-100",
		Metadata: map[string]any{
			"transition": "approve",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	assert.Equal(t, "admin-42", out.ActorID)
	assert.Equal(t, string(identity.ActivityApprovalChanged), out.Verb)
	assert.Equal(t, "account", out.ObjectType)
	assert.Equal(t, "account-100", out.ObjectID)
	assert.Equal(t, "identity", out.Channel)
	assert.True(t, out.OccurredAt.Equal(ts))
	assert.Equal(t, "approve", out.Metadata["transition"])
	assert.Equal(t, "admin", out.Metadata[activitymap.MetadataKeyActorType])
	assert.NotContains(t, out.Metadata, activitymap.MetadataKeyAccountID)

	assert.Len(t, event.Metadata, 1, "source metadata must not change")
}

func TestNormalizeRelationshipEvent(t *testing.T) {
	t.Parallel()

	event := identity.ActivityEvent{
		EventType: identity.ActivityRelationshipRequested,
		Actor:     identity.ActorRef{ID: "requester-1", Type: "patient"},
		AccountID: "requested-2",
		Metadata: map[string]any{
			activitymap.MetadataKeyRelationshipID: "edge-9",
			"kind":                                "spouse",
			activitymap.MetadataKeyActorType:      "existing",
		},
	}

	fixed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	out := activitymap.Normalize(event,
		activitymap.WithChannel("audit"),
		activitymap.WithClock(func() time.Time { return fixed }),
	)

	assert.Equal(t, "relationship", out.ObjectType)
	assert.Equal(t, "edge-9", out.ObjectID)
	assert.Equal(t, "audit", out.Channel)
	assert.Equal(t, fixed, out.OccurredAt)
	assert.Equal(t, "requested-2", out.Metadata[activitymap.MetadataKeyAccountID])
	assert.Equal(t, "existing", out.Metadata[activitymap.MetadataKeyActorType])
	assert.Equal(t, "spouse", out.Metadata["kind"])
	assert.NotContains(t, out.Metadata, activitymap.MetadataKeyRelationshipID)
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  identity.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses actor id when present",
			event:  identity.ActivityEvent{Actor: identity.ActorRef{ID: "actor-1"}, AccountID: "account-1"},
			expect: "actor-1",
		},
		{
			name:   "uses default fallback when actor missing",
			event:  identity.ActivityEvent{AccountID: "account-2"},
			expect: "system",
		},
		{
			name:   "uses configured fallback when actor missing",
			event:  identity.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("job")},
			expect: "job",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			assert.Equal(t, tc.expect, out.ActorID)
		})
	}
}

func TestSinkPublishesNormalizedRecords(t *testing.T) {
	t.Parallel()

	var got []activitymap.Record
	sink := activitymap.Sink(func(_ context.Context, r activitymap.Record) error {
		got = append(got, r)
		return nil
	})

	err := sink.Record(context.Background(), identity.ActivityEvent{
		EventType: identity.ActivityAccountLocked,
		AccountID: "account-7",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "account-7", got[0].ObjectID)
	assert.Equal(t, "system", got[0].ActorID)

	failing := activitymap.Sink(func(context.Context, activitymap.Record) error {
		return errors.New("broker down")
	})
	assert.Error(t, failing.Record(context.Background(), identity.ActivityEvent{}))
}
