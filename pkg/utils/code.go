package utils

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	charset = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"

	// CodeLength is the length of a session code shown to the operator
	CodeLength = 8
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// GenerateCode returns a random session code. Look-alike characters are left out
// because the code is read off one screen and typed into another.
func GenerateCode(length int) (string, error) {
	result := make([]byte, length)
	max := big.NewInt(int64(len(charset)))

	for i := range result {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		result[i] = charset[num.Int64()]
	}

	return string(result), nil
}

// IsValidCode validates that a code is exactly CodeLength alphanumeric characters
func IsValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	return codePattern.MatchString(code)
}
