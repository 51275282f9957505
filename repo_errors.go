package identity

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

const (
	pgUniqueViolation   = "23505"
	sqliteUniquePrefix  = "UNIQUE constraint failed: "
	uniqueKeyConstraint = "_key"
)

// uniqueViolation returns the constraint (postgres) or the column list
// (sqlite) that rejected a write, and false for any other error.
func uniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code) == pgUniqueViolation {
			return pqErr.Constraint, true
		}
		return "", false
	}

	msg := err.Error()
	if i := strings.Index(msg, sqliteUniquePrefix); i >= 0 {
		return strings.TrimSpace(msg[i+len(sqliteUniquePrefix):]), true
	}

	return "", false
}

// violatesColumn matches both "accounts_email_key" and "accounts.email".
func violatesColumn(target, table, column string) bool {
	return strings.Contains(target, table+"."+column) ||
		strings.Contains(target, table+"_"+column+uniqueKeyConstraint)
}
