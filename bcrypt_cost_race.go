//go:build race

package identity

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// race builds run hashing under the detector, keep it cheap
	return bcrypt.DefaultCost
}
