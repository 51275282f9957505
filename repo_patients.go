package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PatientRecords stores the patient record collaborator
type PatientRecords interface {
	repository.Repository[*PatientRecord]
	ByID(ctx context.Context, id uuid.UUID) (*PatientRecord, error)
	ByAccount(ctx context.Context, accountID uuid.UUID) (*PatientRecord, error)
	ByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*PatientRecord, error)
	ByAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) (*PatientRecord, error)
}

type patientRecords struct {
	repository.Repository[*PatientRecord]
	db *bun.DB
}

// NewPatientRecordsRepository returns the bun backed patient records store
func NewPatientRecordsRepository(db *bun.DB) PatientRecords {
	handlers := repository.ModelHandlers[*PatientRecord]{
		NewRecord: func() *PatientRecord {
			return &PatientRecord{}
		},
		GetID: func(record *PatientRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PatientRecord, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "external_id"
		},
	}
	return &patientRecords{
		Repository: repository.NewRepository(db, handlers),
		db:         db,
	}
}

func (p *patientRecords) ByID(ctx context.Context, id uuid.UUID) (*PatientRecord, error) {
	return p.ByIDTx(ctx, p.db, id)
}

func (p *patientRecords) ByAccount(ctx context.Context, accountID uuid.UUID) (*PatientRecord, error) {
	return p.ByAccountTx(ctx, p.db, accountID)
}

func (p *patientRecords) ByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*PatientRecord, error) {
	return p.byColumn(ctx, tx, "id", id)
}

func (p *patientRecords) ByAccountTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID) (*PatientRecord, error) {
	return p.byColumn(ctx, tx, "account_id", accountID)
}

func (p *patientRecords) byColumn(ctx context.Context, tx bun.IDB, column string, value uuid.UUID) (*PatientRecord, error) {
	record := &PatientRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, storageError(err, "patient_records.get")
	}
	return record, nil
}
