package identity

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation         = "VALIDATION_ERROR"
	TextCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	TextCodeDuplicatePhone     = "DUPLICATE_PHONE"
	TextCodeDuplicateEdge      = "DUPLICATE_EDGE"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeInvalidToken       = "INVALID_TOKEN"
	TextCodeAccountLocked      = "ACCOUNT_LOCKED"
	TextCodeAccountDisabled    = "ACCOUNT_DISABLED"
	TextCodeNotVerified        = "NOT_VERIFIED"
	TextCodePendingApproval    = "PENDING_APPROVAL"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeNotFound           = "NOT_FOUND"
	TextCodeTargetNotFound     = "TARGET_NOT_FOUND"
	TextCodeTargetNotVerified  = "TARGET_NOT_VERIFIED"
	TextCodeAdminExists        = "ADMIN_EXISTS"
	TextCodeStorage            = "STORAGE_ERROR"
)

// ErrDuplicateEmail is returned when the email is already registered.
var ErrDuplicateEmail = goerrors.New("User already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(goerrors.CodeBadRequest)

// ErrDuplicatePhone is returned when the phone is already registered.
var ErrDuplicatePhone = goerrors.New("Phone number already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicatePhone).
	WithCode(goerrors.CodeBadRequest)

// ErrDuplicateEdge is returned when any edge already links the two accounts.
var ErrDuplicateEdge = goerrors.New("Family request already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEdge).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials does not tell apart unknown emails and wrong passwords.
var ErrInvalidCredentials = goerrors.New("Invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidToken covers bad, expired, consumed and unknown tokens alike.
var ErrInvalidToken = goerrors.New("Token is not valid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

var ErrAccountLocked = goerrors.New("Account is temporarily locked due to too many failed login attempts", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountLocked).
	WithCode(http.StatusLocked)

var ErrAccountDisabled = goerrors.New("Account is disabled. Please contact the administrator.", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccountDisabled).
	WithCode(goerrors.CodeForbidden)

var ErrNotVerified = goerrors.New("Please verify your email address first", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotVerified).
	WithCode(goerrors.CodeBadRequest)

var ErrPendingApproval = goerrors.New("Your account is pending approval. Please contact the administrator.", goerrors.CategoryAuthz).
	WithTextCode(TextCodePendingApproval).
	WithCode(goerrors.CodeForbidden)

// ErrForbidden is a role mismatch.
var ErrForbidden = goerrors.New("Access denied. Admin only.", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

var ErrNotFound = goerrors.New("Resource not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrAccountNotFound = goerrors.New("User not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrRelationshipNotFound = goerrors.New("Request not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrTargetNotFound = goerrors.New("User not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeTargetNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrTargetNotVerified = goerrors.New("User has not verified their email address", goerrors.CategoryBadInput).
	WithTextCode(TextCodeTargetNotVerified).
	WithCode(goerrors.CodeBadRequest)

// ErrAdminExists is returned by the bootstrap path once an admin is provisioned.
var ErrAdminExists = goerrors.New("Admin account already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeAdminExists).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the bcrypt mismatch in our taxonomy.
var ErrMismatchedHashAndPassword = goerrors.New("password does not match hash", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeBadRequest)

// NewValidationError builds a ValidationError carrying per-field messages.
func NewValidationError(fields map[string]string) error {
	return goerrors.New("Validation failed", goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"fields": fields})
}

// ValidationFields returns the per-field messages of a ValidationError.
func ValidationFields(err error) map[string]string {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != TextCodeValidation {
		return nil
	}
	fields, _ := rich.Metadata["fields"].(map[string]string)
	return fields
}

// HasTextCode reports whether err is a typed error with the given text code.
func HasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	return HasTextCode(err, TextCodeValidation)
}

// IsStorageError reports whether err is an opaque StorageError.
func IsStorageError(err error) bool {
	return HasTextCode(err, TextCodeStorage)
}

// IsNotFound reports whether err belongs to the not found category.
func IsNotFound(err error) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Category == goerrors.CategoryNotFound
	}
	return false
}

func storageError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.TextCode != "" {
		return err
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "storage error").
		WithTextCode(TextCodeStorage).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"operation": operation})
}
