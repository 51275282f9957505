package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Relationships is the edge store
type Relationships interface {
	repository.Repository[*Relationship]

	RequestTx(ctx context.Context, tx bun.IDB, edge *Relationship) (*Relationship, error)
	BetweenTx(ctx context.Context, tx bun.IDB, a, b uuid.UUID) (*Relationship, error)
	ByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Relationship, error)
	RespondTx(ctx context.Context, tx bun.IDB, id, requestedID uuid.UUID, status RelationshipStatus, at time.Time) (bool, error)
	RemoveAcceptedTx(ctx context.Context, tx bun.IDB, id, userID uuid.UUID) (bool, error)
	ForAccount(ctx context.Context, userID uuid.UUID) ([]*Relationship, error)
}

type relationships struct {
	repository.Repository[*Relationship]
	db *bun.DB
}

var _ Relationships = (*relationships)(nil)

// NewRelationshipsRepository returns the bun backed edge store
func NewRelationshipsRepository(db *bun.DB) Relationships {
	repo := repository.NewRepository[*Relationship](db, repository.ModelHandlers[*Relationship]{
		NewRecord: func() *Relationship { return &Relationship{} },
		GetID: func(r *Relationship) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Relationship, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "pair_key"
		},
	})

	return &relationships{
		Repository: repo,
		db:         db,
	}
}

// RequestTx inserts a pending edge. The pair key index rejects a second
// edge between the same accounts in either direction.
func (r *relationships) RequestTx(ctx context.Context, tx bun.IDB, edge *Relationship) (*Relationship, error) {
	edge.PairKey = pairKey(edge.RequesterID, edge.RequestedID)
	if _, err := tx.NewInsert().Model(edge).Exec(ctx); err != nil {
		if target, ok := uniqueViolation(err); ok && violatesColumn(target, "relationships", "pair_key") {
			return nil, ErrDuplicateEdge
		}
		return nil, storageError(err, "relationships.request")
	}
	return edge, nil
}

func (r *relationships) BetweenTx(ctx context.Context, tx bun.IDB, a, b uuid.UUID) (*Relationship, error) {
	record, err := r.Repository.GetByIdentifierTx(ctx, tx, pairKey(a, b))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrRelationshipNotFound
		}
		return nil, storageError(err, "relationships.between")
	}
	return record, nil
}

func (r *relationships) ByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Relationship, error) {
	record := &Relationship{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrRelationshipNotFound
		}
		return nil, storageError(err, "relationships.by_id")
	}
	return record, nil
}

// RespondTx moves a pending edge addressed to requestedID to status. The
// status condition makes concurrent responders race on the row, only one
// of them gets true.
func (r *relationships) RespondTx(ctx context.Context, tx bun.IDB, id, requestedID uuid.UUID, status RelationshipStatus, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*Relationship)(nil)).
		Set("status = ?", string(status)).
		Set("responded_at = ?", at).
		Where("id = ?", id).
		Where("requested_id = ?", requestedID).
		Where("status = ?", string(StatusPending)).
		Exec(ctx)
	if err != nil {
		return false, storageError(err, "relationships.respond")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError(err, "relationships.respond")
	}
	return n == 1, nil
}

// RemoveAcceptedTx hard deletes an accepted edge if userID is on either side.
func (r *relationships) RemoveAcceptedTx(ctx context.Context, tx bun.IDB, id, userID uuid.UUID) (bool, error) {
	res, err := tx.NewDelete().
		Model((*Relationship)(nil)).
		Where("id = ?", id).
		Where("status = ?", string(StatusAccepted)).
		WhereGroup(" AND ", func(q *bun.DeleteQuery) *bun.DeleteQuery {
			return q.Where("requester_id = ?", userID).WhereOr("requested_id = ?", userID)
		}).
		Exec(ctx)
	if err != nil {
		return false, storageError(err, "relationships.remove")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError(err, "relationships.remove")
	}
	return n == 1, nil
}

// ForAccount returns every edge where userID is requester or requested.
func (r *relationships) ForAccount(ctx context.Context, userID uuid.UUID) ([]*Relationship, error) {
	records := []*Relationship{}
	err := r.db.NewSelect().
		Model(&records).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.requester_id = ?", userID).WhereOr("?TableAlias.requested_id = ?", userID)
		}).
		OrderExpr("?TableAlias.requested_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, storageError(err, "relationships.for_account")
	}
	return records, nil
}
