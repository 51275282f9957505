package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is the credentialed identity model
type Account struct {
	bun.BaseModel     `bun:"table:accounts,alias:acc"`
	ID                uuid.UUID       `bun:"id,pk,type:uuid" json:"id"`
	ExternalID        string          `bun:"external_id,notnull,unique" json:"external_id"`
	Name              string          `bun:"name,notnull" json:"name"`
	Email             string          `bun:"email,notnull,unique" json:"email"`
	Phone             string          `bun:"phone,notnull,unique" json:"phone"`
	PasswordHash      string          `bun:"password_hash,notnull" json:"-"`
	Role              Role            `bun:"role,notnull" json:"role"`
	Verified          bool            `bun:"verified,notnull" json:"verified"`
	Approved          bool            `bun:"approved,notnull" json:"approved"`
	Active            bool            `bun:"active,notnull" json:"active"`
	ApprovedBy        *uuid.UUID      `bun:"approved_by,type:uuid" json:"approved_by,omitempty"`
	ApprovedAt        *time.Time      `bun:"approved_at" json:"approved_at,omitempty"`
	VerificationToken *string         `bun:"verification_token" json:"-"`
	LoginAttempts     int             `bun:"login_attempts,notnull" json:"-"`
	LockUntil         *time.Time      `bun:"lock_until" json:"-"`
	LastLoginAt       *time.Time      `bun:"last_login_at" json:"last_login_at,omitempty"`
	Profile           ProfileEnvelope `bun:"profile,type:text" json:"profile"`
	Version           int64           `bun:"version,notnull" json:"-"`
	CreatedAt         time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt         time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

// IsLocked reports whether the lock window is still open at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a != nil && a.LockUntil != nil && now.Before(*a.LockUntil)
}

// RequiresApproval is true for non patient accounts that have not been approved.
func (a *Account) RequiresApproval() bool {
	return a != nil && a.Role != RolePatient && !a.Approved
}

// Summary returns the credential free projection of the account.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:         a.ID,
		Name:       a.Name,
		Email:      a.Email,
		ExternalID: a.ExternalID,
		Role:       a.Role,
		Verified:   a.Verified,
		Approved:   a.Approved,
	}
}

// AccountSummary is the public projection used by search and listings
type AccountSummary struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ExternalID string    `json:"external_id"`
	Role       Role      `json:"role"`
	Verified   bool      `json:"verified"`
	Approved   bool      `json:"approved"`
}

// RelationshipKind is the family relation declared by the requester
type RelationshipKind string

const (
	KindSpouse      RelationshipKind = "spouse"
	KindParent      RelationshipKind = "parent"
	KindChild       RelationshipKind = "child"
	KindSibling     RelationshipKind = "sibling"
	KindGrandparent RelationshipKind = "grandparent"
	KindGrandchild  RelationshipKind = "grandchild"
	KindOther       RelationshipKind = "other"
)

// IsValid checks the kind against the supported relations
func (k RelationshipKind) IsValid() bool {
	switch k {
	case KindSpouse, KindParent, KindChild, KindSibling, KindGrandparent, KindGrandchild, KindOther:
		return true
	default:
		return false
	}
}

// RelationshipStatus is the state of an edge
type RelationshipStatus string

const (
	StatusPending  RelationshipStatus = "pending"
	StatusAccepted RelationshipStatus = "accepted"
	StatusDeclined RelationshipStatus = "declined"
)

// IsDecision is true for the statuses a requested party can answer with.
func (s RelationshipStatus) IsDecision() bool {
	return s == StatusAccepted || s == StatusDeclined
}

// Relationship is a directed family request between two accounts.
// PairKey is direction independent and unique.
type Relationship struct {
	bun.BaseModel `bun:"table:relationships,alias:rel"`
	ID            uuid.UUID          `bun:"id,pk,type:uuid" json:"id"`
	RequesterID   uuid.UUID          `bun:"requester_id,notnull,type:uuid" json:"requester_id"`
	RequestedID   uuid.UUID          `bun:"requested_id,notnull,type:uuid" json:"requested_id"`
	PairKey       string             `bun:"pair_key,notnull,unique" json:"-"`
	Kind          RelationshipKind   `bun:"kind,notnull" json:"relationship"`
	Status        RelationshipStatus `bun:"status,notnull" json:"status"`
	Note          string             `bun:"note" json:"notes,omitempty"`
	RequestedAt   time.Time          `bun:"requested_at,notnull" json:"requested_at"`
	RespondedAt   *time.Time         `bun:"responded_at" json:"responded_at,omitempty"`
}

// Involves reports whether id is either side of the edge.
func (r *Relationship) Involves(id uuid.UUID) bool {
	return r != nil && (r.RequesterID == id || r.RequestedID == id)
}

// RelationshipView is an edge with both parties projected.
type RelationshipView struct {
	*Relationship
	Requester *AccountSummary `json:"requester,omitempty"`
	Requested *AccountSummary `json:"requested,omitempty"`
}

// RelationshipListing groups the edges visible to an account.
type RelationshipListing struct {
	Incoming []RelationshipView `json:"incoming"`
	Outgoing []RelationshipView `json:"outgoing"`
	Accepted []RelationshipView `json:"accepted"`
}

// PatientRecord is the clinical record owned by a patient account
type PatientRecord struct {
	bun.BaseModel `bun:"table:patient_records,alias:pr"`
	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	ExternalID    string    `bun:"external_id,notnull,unique" json:"external_id"`
	AccountID     uuid.UUID `bun:"account_id,notnull,unique,type:uuid" json:"account_id"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}
