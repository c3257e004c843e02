// Package auth holds password handling and the failed-login lockout used by
// the account handlers. All state lives in the database; nothing here keeps
// process-wide counters.
package auth

import (
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// ErrWeakPassword is returned when a password fails the complexity rules.
var ErrWeakPassword = errors.New("password must be at least 10 characters and contain at least 3 of: uppercase, lowercase, numbers, special characters")

var (
	hasUpper   = regexp.MustCompile(`[A-Z]`).MatchString
	hasLower   = regexp.MustCompile(`[a-z]`).MatchString
	hasNumber  = regexp.MustCompile(`[0-9]`).MatchString
	hasSpecial = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>_\-+=]`).MatchString
)

// ValidatePasswordStrength checks password complexity.
func ValidatePasswordStrength(password string) error {
	if len(password) < 10 {
		return ErrWeakPassword
	}
	checks := 0
	if hasUpper(password) {
		checks++
	}
	if hasLower(password) {
		checks++
	}
	if hasNumber(password) {
		checks++
	}
	if hasSpecial(password) {
		checks++
	}
	if checks < 3 {
		return ErrWeakPassword
	}
	return nil
}

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a stored hash with a candidate password.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// tempPasswordAlphabet avoids ambiguous characters (0/O, 1/l/I).
const tempPasswordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!#$%&*+-="

// GenerateTempPassword returns a random temporary password of the given
// length, used when an administrator resets an account.
func GenerateTempPassword(length int) (string, error) {
	if length < 10 {
		length = 10
	}
	b := make([]byte, length)
	max := big.NewInt(int64(len(tempPasswordAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = tempPasswordAlphabet[n.Int64()]
	}
	return string(b), nil
}
