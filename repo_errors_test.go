package identity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantTarget string
		wantOK     bool
	}{
		{name: "nil", err: nil},
		{name: "unrelated", err: errors.New("connection refused")},
		{
			name:       "sqlite",
			err:        errors.New("UNIQUE constraint failed: accounts.email"),
			wantTarget: "accounts.email",
			wantOK:     true,
		},
		{
			name:       "sqlite with driver prefix and code",
			err:        fmt.Errorf("insert: %w", errors.New("constraint failed: UNIQUE constraint failed: relationships.pair_key (2067)")),
			wantTarget: "relationships.pair_key (2067)",
			wantOK:     true,
		},
		{
			name:       "postgres",
			err:        fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "accounts_phone_key"}),
			wantTarget: "accounts_phone_key",
			wantOK:     true,
		},
		{
			name: "postgres other code",
			err:  &pq.Error{Code: "23503", Constraint: "relationships_requester_id_fkey"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, ok := uniqueViolation(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTarget, target)
		})
	}
}

func TestViolatesColumn(t *testing.T) {
	tests := []struct {
		target string
		table  string
		column string
		want   bool
	}{
		{target: "accounts.email", table: "accounts", column: "email", want: true},
		{target: "accounts_email_key", table: "accounts", column: "email", want: true},
		{target: "accounts.id", table: "accounts", column: "id", want: true},
		{target: "accounts.phone (2067)", table: "accounts", column: "phone", want: true},
		{target: "accounts_phone_key", table: "accounts", column: "phone", want: true},
		{target: "relationships.pair_key", table: "relationships", column: "pair_key", want: true},
		{target: "relationships_pair_key_key", table: "relationships", column: "pair_key", want: true},
		{target: "accounts.external_id", table: "accounts", column: "id", want: false},
		{target: "accounts_external_id_key", table: "accounts", column: "id", want: false},
		{target: "accounts_external_id_key", table: "accounts", column: "external_id", want: true},
		{target: "accounts_pkey", table: "accounts", column: "email", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.target+"/"+tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, violatesColumn(tt.target, tt.table, tt.column))
		})
	}
}

func TestRegisterTxMapsPostgresConstraints(t *testing.T) {
	tests := []struct {
		constraint string
		want       error
	}{
		{constraint: "accounts_pkey", want: ErrDuplicateEmail},
		{constraint: "accounts_email_key", want: ErrDuplicateEmail},
		{constraint: "accounts_phone_key", want: ErrDuplicatePhone},
		{constraint: "accounts_external_id_key", want: errExternalIDTaken},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			err := registerViolation(&pq.Error{Code: pgUniqueViolation, Constraint: tt.constraint})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Nil(t, registerViolation(errors.New("disk full")))
}
