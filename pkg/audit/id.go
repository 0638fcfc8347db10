package audit

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	executionIDPrefix = "exec_"
)

var executionIDPattern = regexp.MustCompile(`^exec_[a-zA-Z0-9]{24}$`)

// NewID generates a new execution ID with the "exec_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewID() string {
	return executionIDPrefix + randomAlphanumeric(idLength)
}

// ValidateID checks whether the given string is a valid execution ID
// (matches "exec_" + 24 alphanumeric characters).
func ValidateID(id string) bool {
	return executionIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
