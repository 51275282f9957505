package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

const (
	PatientRecordPrefix     = "PAT"
	verificationTokenLength = 32
	externalRandomBytes     = 2
	externalTimeDigits      = 6
)

// NewExternalID builds a display identifier: prefix, the last digits of the
// unix millisecond clock and a short random hex suffix.
func NewExternalID(prefix string, now time.Time) (string, error) {
	buf := make([]byte, externalRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	millis := strconv.FormatInt(now.UnixMilli(), 10)
	if len(millis) > externalTimeDigits {
		millis = millis[len(millis)-externalTimeDigits:]
	}

	return prefix + millis + strings.ToUpper(hex.EncodeToString(buf)), nil
}

// NewVerificationToken returns 32 random bytes, hex encoded.
func NewVerificationToken() (string, error) {
	buf := make([]byte, verificationTokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// AccountIDFromEmail derives the account primary key from the normalized
// email so two racing registrations collide on the key as well.
func AccountIDFromEmail(email string) (uuid.UUID, error) {
	id, err := hashid.NewUUID(NormalizeEmail(email))
	if err != nil {
		return uuid.Nil, fmt.Errorf("derive account id: %w", err)
	}
	return id, nil
}

// NormalizeEmail trims and lower cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// pairKey is the same for (a, b) and (b, a).
func pairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}
