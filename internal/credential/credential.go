// Package credential covers password hashing and confirmation-code issuance.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned when a caller tries to hash an empty plaintext.
var ErrEmptyPassword = errors.New("credential: empty password")

const codeBytes = 32

// Service hashes passwords and issues confirmation codes.
type Service struct {
	cost int
}

// NewService constructs a Service using the default bcrypt cost.
func NewService() *Service {
	return &Service{cost: bcrypt.DefaultCost}
}

// NewServiceWithCost constructs a Service with an explicit bcrypt cost.
func NewServiceWithCost(cost int) *Service {
	return &Service{cost: cost}
}

// Hash produces a salted one-way hash of the plaintext. Empty plaintext is a
// caller error and rejected before hashing.
func (s *Service) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), s.cost)
	if err != nil {
		return "", fmt.Errorf("credential: hash: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored hash. Malformed input
// yields false, never an error.
func (s *Service) Verify(storedHash, plaintext string) bool {
	if storedHash == "" || plaintext == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
}

// IssueConfirmationCode returns a cryptographically unpredictable opaque token.
func (s *Service) IssueConfirmationCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("credential: issue confirmation code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CodesMatch compares a submitted code against the stored one in constant time.
// An empty stored code never matches.
func CodesMatch(stored, submitted string) bool {
	if stored == "" || submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}
