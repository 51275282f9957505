package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger is the logging contract used across the package. Messages carry
// key/value pairs in args, matching glog loggers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the identity service options.
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetLockoutThreshold() int
	GetLockoutDuration() time.Duration
	GetNotificationTimeout() time.Duration
	GetPhoneRegion() string
	GetBootstrapSecret() string
}

// PasswordAuthenticator hashes and compares passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// TokenIssuer mints and validates bearer credentials.
type TokenIssuer interface {
	Issue(account *Account) (string, error)
	Verify(token string) (*AccountClaims, error)
}

// Lifecycle is the account state machine exposed to the HTTP layer.
type Lifecycle interface {
	Register(ctx context.Context, input RegistrationInput) (*Account, string, error)
	VerifyEmail(ctx context.Context, token string) (*Account, error)
	Login(ctx context.Context, email, password string) (*Account, error)
	SetApproval(ctx context.Context, adminID, targetID uuid.UUID, approved bool) (*Account, error)
	SetActive(ctx context.Context, adminID, targetID uuid.UUID, active bool) (*Account, error)
	PendingApprovals(ctx context.Context, adminID uuid.UUID) ([]*Account, error)
	BootstrapAdmin(ctx context.Context, secret string, input AdminInput) (*Account, error)
	CurrentAccount(ctx context.Context, id uuid.UUID) (*Account, error)
}

// Graph is the family relationship manager exposed to the HTTP layer.
type Graph interface {
	Search(ctx context.Context, callerID uuid.UUID, term string) ([]AccountSummary, error)
	RequestConnection(ctx context.Context, requesterID, requestedID uuid.UUID, kind RelationshipKind, note string) (*Relationship, error)
	ListForUser(ctx context.Context, userID uuid.UUID) (*RelationshipListing, error)
	Respond(ctx context.Context, userID, edgeID uuid.UUID, decision RelationshipStatus) (*Relationship, error)
	Remove(ctx context.Context, userID, edgeID uuid.UUID) error
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Println("[ERR] IDENTITY " + formatLogLine(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Println("[WRN] IDENTITY " + formatLogLine(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Println("[INF] IDENTITY " + formatLogLine(msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Println("[DBG] IDENTITY " + formatLogLine(msg, args...))
}

func formatLogLine(msg string, args ...any) string {
	if len(args) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(args) {
			fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, "%v", args[i])
	}
	return b.String()
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
