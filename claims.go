package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccountClaims are the claims carried by a session token. Role is the
// role at issuance time.
type AccountClaims struct {
	jwt.RegisteredClaims
	UID        string `json:"uid,omitempty"`
	Email      string `json:"email,omitempty"`
	UserRole   Role   `json:"role,omitempty"`
	ExternalID string `json:"eid,omitempty"`
}

// UserID returns the account ID
func (c *AccountClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// AccountID parses the account ID
func (c *AccountClaims) AccountID() (uuid.UUID, error) {
	return uuid.Parse(c.UserID())
}

// Role returns the role claim
func (c *AccountClaims) Role() Role {
	return c.UserRole
}

// IsAdmin reports whether the role claim is admin
func (c *AccountClaims) IsAdmin() bool {
	return c.UserRole == RoleAdmin
}

// Expires returns the expiration time
func (c *AccountClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *AccountClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
