package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// Validator checks the manager wiring
type Validator interface {
	Validate() error
	MustValidate()
}

// TransactionManager runs f inside a single database transaction
type TransactionManager interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
}

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validator
	TransactionManager
	Accounts() Accounts
	Relationships() Relationships
	PatientRecords() PatientRecords
}

type mngr struct {
	db             *bun.DB
	accounts       Accounts
	relationships  Relationships
	patientRecords PatientRecords
}

// NewRepositoryManager wires the stores over a single bun database
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:             db,
		accounts:       NewAccountsRepository(db),
		relationships:  NewRelationshipsRepository(db),
		patientRecords: NewPatientRecordsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.relationships == nil {
		return errors.New("repository relationships should be initialized")
	}

	if m.patientRecords == nil {
		return errors.New("repository patientRecords should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) Relationships() Relationships {
	return m.relationships
}

func (m mngr) PatientRecords() PatientRecords {
	return m.patientRecords
}
