package activitymap

import (
	"context"
	"strings"
	"time"

	identity "github.com/goliatone/go-care-identity"
)

const (
	// MetadataKeyActorType stores the actor type derived from identity.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyAccountID stores the affected account when the object is not the account itself.
	MetadataKeyAccountID = "account_id"
	// MetadataKeyRelationshipID is read to resolve relationship objects.
	MetadataKeyRelationshipID = "relationship_id"
)

const (
	defaultChannel = "identity"
	defaultActorID = "system"

	objectAccount      = "account"
	objectRelationship = "relationship"
)

// Record is a transport agnostic activity shape for audit pipelines.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

// Normalize converts an identity.ActivityEvent into a Record. Relationship
// events point at the edge, every other event at the account.
func Normalize(event identity.ActivityEvent, opts ...Option) Record {
	options := normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(options.actorFallback),
	)

	objectType, objectID := resolveObject(event)
	metadata := normalizeMetadata(event, objectType)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now()
	}

	return Record{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    options.channel,
		Metadata:   metadata,
		OccurredAt: occurredAt.UTC(),
	}
}

// Sink returns an ActivitySink that hands every normalized event to publish.
func Sink(publish func(ctx context.Context, record Record) error, opts ...Option) identity.ActivitySink {
	return identity.ActivitySinkFunc(func(ctx context.Context, event identity.ActivityEvent) error {
		if publish == nil {
			return nil
		}
		return publish(ctx, Normalize(event, opts...))
	})
}

// WithChannel sets the channel for normalized records.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if channel = strings.TrimSpace(channel); channel != "" {
			opts.channel = channel
		}
	}
}

// WithActorFallback sets the actor id used when the event has none.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the clock used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func resolveObject(event identity.ActivityEvent) (string, string) {
	if strings.HasPrefix(string(event.EventType), objectRelationship+".") {
		if id, ok := event.Metadata[MetadataKeyRelationshipID].(string); ok && id != "" {
			return objectRelationship, id
		}
	}
	return objectAccount, strings.TrimSpace(event.AccountID)
}

func normalizeMetadata(event identity.ActivityEvent, objectType string) map[string]any {
	metadata := make(map[string]any, len(event.Metadata)+2)
	for key, value := range event.Metadata {
		if objectType == objectRelationship && key == MetadataKeyRelationshipID {
			continue
		}
		metadata[key] = value
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, exists := metadata[MetadataKeyActorType]; !exists {
			metadata[MetadataKeyActorType] = actorType
		}
	}

	if objectType != objectAccount && event.AccountID != "" {
		metadata[MetadataKeyAccountID] = event.AccountID
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
