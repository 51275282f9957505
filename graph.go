package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const maxNoteLength = 500

// GraphOption customizes the relationship graph manager
type GraphOption func(*RelationshipGraph)

// WithGraphClock injects a custom clock (useful for tests).
func WithGraphClock(clock func() time.Time) GraphOption {
	return func(g *RelationshipGraph) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithGraphDispatcher sets the notification dispatcher
func WithGraphDispatcher(d *Dispatcher) GraphOption {
	return func(g *RelationshipGraph) {
		if d != nil {
			g.dispatcher = d
		}
	}
}

// WithGraphActivitySink sets the ActivitySink used to publish graph events.
func WithGraphActivitySink(sink ActivitySink) GraphOption {
	return func(g *RelationshipGraph) {
		g.activity = normalizeActivitySink(sink)
	}
}

// WithGraphMetrics records graph counters
func WithGraphMetrics(m *Metrics) GraphOption {
	return func(g *RelationshipGraph) {
		g.metrics = m
	}
}

// WithGraphLogger sets the logger
func WithGraphLogger(logger Logger) GraphOption {
	return func(g *RelationshipGraph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSearchLimit caps search results
func WithSearchLimit(limit int) GraphOption {
	return func(g *RelationshipGraph) {
		if limit > 0 {
			g.searchLimit = limit
		}
	}
}

// RelationshipGraph manages family requests between accounts. At most one
// edge exists per pair of accounts, whatever its direction or status.
type RelationshipGraph struct {
	repo         RepositoryManager
	dispatcher   *Dispatcher
	activity     ActivitySink
	metrics      *Metrics
	logger       Logger
	now          func() time.Time
	searchLimit  int
	storeTimeout time.Duration
}

var _ Graph = (*RelationshipGraph)(nil)

// NewRelationshipGraph builds the graph manager over the repository manager
func NewRelationshipGraph(repo RepositoryManager, opts ...GraphOption) *RelationshipGraph {
	g := &RelationshipGraph{
		repo:         repo,
		activity:     noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
		searchLimit:  defaultSearchLimit,
		storeTimeout: defaultStoreTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	if g.dispatcher == nil {
		g.dispatcher = NewDispatcher(nil, WithDispatcherLogger(g.logger), WithDispatcherMetrics(g.metrics))
	}

	return g
}

// Search finds accounts by email or external ID, the caller excluded.
func (g *RelationshipGraph) Search(ctx context.Context, callerID uuid.UUID, term string) ([]AccountSummary, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, NewValidationError(map[string]string{"search_term": "cannot be blank"})
	}

	records, err := g.repo.Accounts().Search(ctx, callerID, term, g.searchLimit)
	if err != nil {
		return nil, storageError(err, "search")
	}

	out := make([]AccountSummary, 0, len(records))
	for _, r := range records {
		out = append(out, r.Summary())
	}
	return out, nil
}

// RequestConnection creates a pending edge from requester to requested.
func (g *RelationshipGraph) RequestConnection(ctx context.Context, requesterID, requestedID uuid.UUID, kind RelationshipKind, note string) (*Relationship, error) {
	fields := map[string]string{}
	if requestedID == uuid.Nil {
		fields["requested_id"] = "cannot be blank"
	} else if requestedID == requesterID {
		fields["requested_id"] = "cannot send a family request to yourself"
	}
	if !kind.IsValid() {
		fields["relationship"] = "must be one of spouse, parent, child, sibling, grandparent, grandchild, other"
	}
	note = strings.TrimSpace(note)
	if len(note) > maxNoteLength {
		fields["notes"] = "is too long"
	}
	if len(fields) > 0 {
		return nil, NewValidationError(fields)
	}

	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	var (
		edge      *Relationship
		requester *Account
		requested *Account
	)

	err := g.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := g.repo.Relationships().BetweenTx(ctx, tx, requesterID, requestedID)
		if err == nil && existing != nil {
			return ErrDuplicateEdge
		}
		if err != nil && !IsNotFound(err) {
			return err
		}

		requester, err = g.repo.Accounts().ByIDTx(ctx, tx, requesterID)
		if err != nil {
			return err
		}

		requested, err = g.repo.Accounts().ByIDTx(ctx, tx, requestedID)
		if err != nil {
			if IsNotFound(err) {
				return ErrTargetNotFound
			}
			return err
		}

		if !requested.Verified {
			return ErrTargetNotVerified
		}

		edge, err = g.repo.Relationships().RequestTx(ctx, tx, &Relationship{
			ID:          uuid.New(),
			RequesterID: requesterID,
			RequestedID: requestedID,
			Kind:        kind,
			Status:      StatusPending,
			Note:        note,
			RequestedAt: g.now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, storageError(err, "request_connection")
	}

	g.metrics.relationship("requested")
	recordActivity(ctx, g.activity, g.logger, g.now, ActivityEvent{
		EventType: ActivityRelationshipRequested,
		Actor:     accountActor(requester),
		AccountID: requested.ID.String(),
		Metadata: map[string]any{
			"relationship_id": edge.ID.String(),
			"kind":            string(kind),
		},
	})

	g.dispatcher.Dispatch(Notification{
		Kind: NotifyRelationshipRequest,
		To:   requested.Email,
		Name: requested.Name,
		Data: map[string]string{
			"requester_name": requester.Name,
			"requester_id":   requester.ExternalID,
			"relationship":   string(kind),
		},
	})

	return edge, nil
}

// ListForUser groups the edges of an account. Reads are never cached.
func (g *RelationshipGraph) ListForUser(ctx context.Context, userID uuid.UUID) (*RelationshipListing, error) {
	edges, err := g.repo.Relationships().ForAccount(ctx, userID)
	if err != nil {
		return nil, storageError(err, "list_relationships")
	}

	ids := make([]uuid.UUID, 0, len(edges)*2)
	seen := map[uuid.UUID]struct{}{}
	for _, e := range edges {
		for _, id := range []uuid.UUID{e.RequesterID, e.RequestedID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	summaries, err := g.repo.Accounts().SummariesByID(ctx, ids)
	if err != nil {
		return nil, storageError(err, "list_relationships")
	}

	listing := &RelationshipListing{
		Incoming: []RelationshipView{},
		Outgoing: []RelationshipView{},
		Accepted: []RelationshipView{},
	}

	for _, e := range edges {
		view := RelationshipView{Relationship: e}
		if s, ok := summaries[e.RequesterID]; ok {
			view.Requester = &s
		}
		if s, ok := summaries[e.RequestedID]; ok {
			view.Requested = &s
		}

		switch {
		case e.Status == StatusAccepted:
			listing.Accepted = append(listing.Accepted, view)
		case e.Status == StatusPending && e.RequestedID == userID:
			listing.Incoming = append(listing.Incoming, view)
		case e.Status == StatusPending && e.RequesterID == userID:
			listing.Outgoing = append(listing.Outgoing, view)
		}
	}

	return listing, nil
}

// Respond accepts or declines a pending request addressed to userID.
func (g *RelationshipGraph) Respond(ctx context.Context, userID, edgeID uuid.UUID, decision RelationshipStatus) (*Relationship, error) {
	if !decision.IsDecision() {
		return nil, NewValidationError(map[string]string{"status": "must be accepted or declined"})
	}

	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	var (
		edge      *Relationship
		requester *Account
	)

	err := g.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		at := g.now().UTC()
		ok, err := g.repo.Relationships().RespondTx(ctx, tx, edgeID, userID, decision, at)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRelationshipNotFound
		}

		edge, err = g.repo.Relationships().ByIDTx(ctx, tx, edgeID)
		if err != nil {
			return err
		}

		requester, err = g.repo.Accounts().ByIDTx(ctx, tx, edge.RequesterID)
		return err
	})
	if err != nil {
		return nil, storageError(err, "respond")
	}

	g.metrics.relationship(string(decision))
	recordActivity(ctx, g.activity, g.logger, g.now, ActivityEvent{
		EventType: ActivityRelationshipResponded,
		Actor:     ActorRef{ID: userID.String(), Type: "account"},
		AccountID: edge.RequesterID.String(),
		Metadata: map[string]any{
			"relationship_id": edge.ID.String(),
			"status":          string(decision),
		},
	})

	g.dispatcher.Dispatch(Notification{
		Kind: NotifyRelationshipResponse,
		To:   requester.Email,
		Name: requester.Name,
		Data: map[string]string{
			"relationship_id": edge.ID.String(),
			"status":          string(decision),
		},
	})

	return edge, nil
}

// Remove hard deletes an accepted edge, either party may remove it.
func (g *RelationshipGraph) Remove(ctx context.Context, userID, edgeID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	err := g.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ok, err := g.repo.Relationships().RemoveAcceptedTx(ctx, tx, edgeID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRelationshipNotFound
		}
		return nil
	})
	if err != nil {
		return storageError(err, "remove_relationship")
	}

	g.metrics.relationship("removed")
	recordActivity(ctx, g.activity, g.logger, g.now, ActivityEvent{
		EventType: ActivityRelationshipRemoved,
		Actor:     ActorRef{ID: userID.String(), Type: "account"},
		AccountID: userID.String(),
		Metadata:  map[string]any{"relationship_id": edgeID.String()},
	})

	return nil
}
