package identity_test

import (
	"testing"

	identity "github.com/goliatone/go-care-identity"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		region string
		want   string
		ok     bool
	}{
		{name: "national format", raw: "(415) 555-0001", region: "US", want: "+14155550001", ok: true},
		{name: "already e164", raw: "+14155550001", region: "US", want: "+14155550001", ok: true},
		{name: "default region", raw: "415-555-0001", want: "+14155550001", ok: true},
		{name: "international prefix wins over region", raw: "+44 20 7946 0958", region: "US", want: "+442079460958", ok: true},
		{name: "lower case region", raw: "020 7946 0958", region: "gb", want: "+442079460958", ok: true},
		{name: "blank", raw: "   "},
		{name: "letters", raw: "call me"},
		{name: "too short", raw: "123", region: "US"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := identity.NormalizePhone(tt.raw, tt.region)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
