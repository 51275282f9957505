package identity

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// ErrRecordAccessDenied is returned when a caller may not read a patient record.
var ErrRecordAccessDenied = goerrors.New("Access denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// PatientRecordAccess resolves patient records for a caller. Clinical and
// front desk staff may read any record, a patient only their own.
type PatientRecordAccess struct {
	repo   RepositoryManager
	logger Logger
}

// NewPatientRecordAccess creates the patient record gate
func NewPatientRecordAccess(repo RepositoryManager, logger Logger) *PatientRecordAccess {
	return &PatientRecordAccess{
		repo:   repo,
		logger: normalizeLogger(logger),
	}
}

// CanRead reports whether caller may read record.
func CanRead(caller *Account, record *PatientRecord) bool {
	if caller == nil || record == nil || !caller.Active {
		return false
	}
	if caller.Role.CanReadAnyPatientRecord() {
		return true
	}
	return caller.Role == RolePatient && record.AccountID == caller.ID
}

// Record loads a patient record by id or external id and checks access.
// Roles without record access are denied before the lookup. For patients
// a missing record is reported as ErrRecordAccessDenied, the same as
// another patient's record, so its existence is not disclosed.
func (p *PatientRecordAccess) Record(ctx context.Context, caller *Account, ref string) (*PatientRecord, error) {
	if caller == nil {
		return nil, ErrRecordAccessDenied
	}

	if !caller.Role.CanReadAnyPatientRecord() && caller.Role != RolePatient {
		return nil, ErrRecordAccessDenied
	}

	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, NewValidationError(map[string]string{"id": "cannot be blank"})
	}

	record, err := p.lookup(ctx, ref)
	if err != nil {
		if caller.Role == RolePatient && IsNotFound(err) {
			return nil, ErrRecordAccessDenied
		}
		return nil, err
	}

	if !CanRead(caller, record) {
		p.logger.Warn("patient record access denied",
			"account_id", caller.ID.String(),
			"role", string(caller.Role),
			"record", record.ExternalID,
		)
		return nil, ErrRecordAccessDenied
	}

	return record, nil
}

// Own returns the record of a patient account.
func (p *PatientRecordAccess) Own(ctx context.Context, caller *Account) (*PatientRecord, error) {
	if caller == nil || caller.Role != RolePatient {
		return nil, ErrRecordAccessDenied
	}
	return p.repo.PatientRecords().ByAccount(ctx, caller.ID)
}

func (p *PatientRecordAccess) lookup(ctx context.Context, ref string) (*PatientRecord, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return p.repo.PatientRecords().ByID(ctx, id)
	}

	record, err := p.repo.PatientRecords().GetByIdentifier(ctx, strings.ToUpper(ref))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, storageError(err, "patient_records.get")
	}
	return record, nil
}
