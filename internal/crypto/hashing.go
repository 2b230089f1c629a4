// Package crypto hashes and checks the shared access password.
package crypto

import (
	"fmt"

	"github.com/gregriff/duet/internal/errs"
	"golang.org/x/crypto/bcrypt"
)

// CompareHashAndPassword returns errs.ErrUnauthorized when plaintext does not match hashed.
func CompareHashAndPassword(hashed, plaintext string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plaintext)); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrUnauthorized, err)
	}
	return nil
}

func HashPassword(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("%w: empty password", errs.ErrInvalidPayload)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	return string(hashed), err
}

// IsHash reports whether s parses as a bcrypt hash
func IsHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}
