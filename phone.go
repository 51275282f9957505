package identity

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	DefaultPhoneRegion = "US"
	minPhoneDigits     = 7
	maxPhoneDigits     = 15
)

// NormalizePhone parses raw and returns it in E.164 form. Numbers without a
// leading + are read in region.
func NormalizePhone(raw, region string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if region == "" {
		region = DefaultPhoneRegion
	}

	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return "", false
	}

	nsn := phonenumbers.GetNationalSignificantNumber(num)
	if len(nsn) < minPhoneDigits || len(nsn) > maxPhoneDigits {
		return "", false
	}

	return phonenumbers.Format(num, phonenumbers.E164), true
}
