package identity

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultSearchLimit = 20

// LoginState is the lockout bookkeeping written by SwapLoginStateTx
type LoginState struct {
	Attempts    int
	LockUntil   *time.Time
	LastLoginAt *time.Time
}

// Accounts is the credential store
type Accounts interface {
	repository.Repository[*Account]

	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	ByEmail(ctx context.Context, email string) (*Account, error)
	ByID(ctx context.Context, id uuid.UUID) (*Account, error)
	ByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	ByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error)
	EmailTakenTx(ctx context.Context, tx bun.IDB, email string) (bool, error)
	PhoneTakenTx(ctx context.Context, tx bun.IDB, phone string) (bool, error)
	AdminExistsTx(ctx context.Context, tx bun.IDB) (bool, error)

	ConsumeVerificationTokenTx(ctx context.Context, tx bun.IDB, token string, now time.Time) (*Account, error)
	SwapLoginStateTx(ctx context.Context, tx bun.IDB, account *Account, state LoginState, now time.Time) (bool, error)
	SetApprovalTx(ctx context.Context, tx bun.IDB, id uuid.UUID, approved bool, approver *uuid.UUID, at *time.Time, now time.Time) error
	SetActiveTx(ctx context.Context, tx bun.IDB, id uuid.UUID, active bool, now time.Time) error

	PendingApprovals(ctx context.Context) ([]*Account, error)
	Search(ctx context.Context, callerID uuid.UUID, term string, limit int) ([]*Account, error)
	SummariesByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]AccountSummary, error)
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var _ Accounts = (*accounts)(nil)

// NewAccountsRepository returns the bun backed credential store
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

// RegisterTx inserts the account, unique index violations on email or
// phone come back as ErrDuplicateEmail and ErrDuplicatePhone.
func (a *accounts) RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if _, err := tx.NewInsert().Model(account).Exec(ctx); err != nil {
		if mapped := registerViolation(err); mapped != nil {
			return nil, mapped
		}
		return nil, storageError(err, "accounts.register")
	}
	return account, nil
}

// registerViolation maps a unique index rejection on accounts to its
// domain error. The primary key is derived from the email.
func registerViolation(err error) error {
	target, ok := uniqueViolation(err)
	if !ok {
		return nil
	}

	switch {
	case violatesColumn(target, "accounts", "email"),
		violatesColumn(target, "accounts", "id"),
		strings.Contains(target, "accounts_pkey"):
		return ErrDuplicateEmail
	case violatesColumn(target, "accounts", "phone"):
		return ErrDuplicatePhone
	case violatesColumn(target, "accounts", "external_id"):
		return errExternalIDTaken
	}
	return nil
}

func (a *accounts) ByEmail(ctx context.Context, email string) (*Account, error) {
	return a.ByEmailTx(ctx, a.db, email)
}

func (a *accounts) ByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return a.ByIDTx(ctx, a.db, id)
}

func (a *accounts) ByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	record, err := a.Repository.GetByIdentifierTx(ctx, tx, NormalizeEmail(email))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, storageError(err, "accounts.by_email")
	}
	return record, nil
}

func (a *accounts) ByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, storageError(err, "accounts.by_id")
	}
	return record, nil
}

func (a *accounts) EmailTakenTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	return a.exists(ctx, tx, "email", NormalizeEmail(email))
}

func (a *accounts) PhoneTakenTx(ctx context.Context, tx bun.IDB, phone string) (bool, error) {
	return a.exists(ctx, tx, "phone", phone)
}

func (a *accounts) AdminExistsTx(ctx context.Context, tx bun.IDB) (bool, error) {
	return a.exists(ctx, tx, "role", string(RoleAdmin))
}

func (a *accounts) exists(ctx context.Context, tx bun.IDB, column, value string) (bool, error) {
	ok, err := tx.NewSelect().
		Model((*Account)(nil)).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Exists(ctx)
	if err != nil {
		return false, storageError(err, "accounts.exists")
	}
	return ok, nil
}

// ConsumeVerificationTokenTx flips the verification flag and clears the
// token in one conditional update. A token that was already consumed, or a
// concurrent consumer that lost the race, gets ErrInvalidToken.
func (a *accounts) ConsumeVerificationTokenTx(ctx context.Context, tx bun.IDB, token string, now time.Time) (*Account, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}

	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.verification_token = ?", token).
		Where("?TableAlias.verified = ?", false).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, storageError(err, "accounts.consume_token")
	}

	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("verified = ?", true).
		Set("verification_token = NULL").
		Set("version = version + 1").
		Set("updated_at = ?", now).
		Where("id = ?", record.ID).
		Where("verification_token = ?", token).
		Where("verified = ?", false).
		Exec(ctx)
	if err != nil {
		return nil, storageError(err, "accounts.consume_token")
	}

	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, ErrInvalidToken
	}

	record.Verified = true
	record.VerificationToken = nil
	record.Version++
	record.UpdatedAt = now
	return record, nil
}

// SwapLoginStateTx writes the lockout fields only if the row still has the
// version the caller read. It returns false when another writer got there
// first and the caller must re-read.
func (a *accounts) SwapLoginStateTx(ctx context.Context, tx bun.IDB, account *Account, state LoginState, now time.Time) (bool, error) {
	q := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("login_attempts = ?", state.Attempts).
		Set("lock_until = ?", state.LockUntil).
		Set("version = version + 1").
		Set("updated_at = ?", now).
		Where("id = ?", account.ID).
		Where("version = ?", account.Version)

	if state.LastLoginAt != nil {
		q = q.Set("last_login_at = ?", state.LastLoginAt)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, storageError(err, "accounts.login_state")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError(err, "accounts.login_state")
	}
	if n == 0 {
		return false, nil
	}

	account.LoginAttempts = state.Attempts
	account.LockUntil = state.LockUntil
	if state.LastLoginAt != nil {
		account.LastLoginAt = state.LastLoginAt
	}
	account.Version++
	account.UpdatedAt = now
	return true, nil
}

// SetApprovalTx flips the approval flag. Approver and timestamp are only
// written when given so revocations keep the previous stamp.
func (a *accounts) SetApprovalTx(ctx context.Context, tx bun.IDB, id uuid.UUID, approved bool, approver *uuid.UUID, at *time.Time, now time.Time) error {
	q := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("approved = ?", approved).
		Set("version = version + 1").
		Set("updated_at = ?", now).
		Where("id = ?", id)

	if approver != nil && at != nil {
		q = q.Set("approved_by = ?", *approver).Set("approved_at = ?", *at)
	}

	return a.expectOne(ctx, q, "accounts.set_approval")
}

func (a *accounts) SetActiveTx(ctx context.Context, tx bun.IDB, id uuid.UUID, active bool, now time.Time) error {
	q := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("active = ?", active).
		Set("version = version + 1").
		Set("updated_at = ?", now).
		Where("id = ?", id)

	return a.expectOne(ctx, q, "accounts.set_active")
}

func (a *accounts) expectOne(ctx context.Context, q *bun.UpdateQuery, operation string) error {
	res, err := q.Exec(ctx)
	if err != nil {
		return storageError(err, operation)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageError(err, operation)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// PendingApprovals lists verified, active staff accounts waiting for an admin.
func (a *accounts) PendingApprovals(ctx context.Context) ([]*Account, error) {
	records := []*Account{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.verified = ?", true).
		Where("?TableAlias.approved = ?", false).
		Where("?TableAlias.active = ?", true).
		Where("?TableAlias.role <> ?", string(RolePatient)).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, storageError(err, "accounts.pending_approvals")
	}
	return records, nil
}

// Search does a case insensitive substring match on email and external id.
func (a *accounts) Search(ctx context.Context, callerID uuid.UUID, term string, limit int) ([]*Account, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(term))) + "%"

	records := []*Account{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.id <> ?", callerID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where(`LOWER(?TableAlias.email) LIKE ? ESCAPE '\'`, pattern).
				WhereOr(`LOWER(?TableAlias.external_id) LIKE ? ESCAPE '\'`, pattern)
		}).
		OrderExpr("?TableAlias.name ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, storageError(err, "accounts.search")
	}
	return records, nil
}

func (a *accounts) SummariesByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]AccountSummary, error) {
	out := make(map[uuid.UUID]AccountSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	records := []*Account{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, storageError(err, "accounts.summaries")
	}

	for _, r := range records {
		out[r.ID] = r.Summary()
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
