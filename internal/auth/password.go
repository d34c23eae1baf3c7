package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	passwordMinLen = 8
	passwordMaxLen = 72 // bcrypt input limit
)

var ErrWeakPassword = errors.New("auth: password must be 8-72 characters")

// HashPassword validates length bounds and returns the bcrypt hash.
func HashPassword(plain string) (string, error) {
	if len(plain) < passwordMinLen || len(plain) > passwordMaxLen {
		return "", ErrWeakPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword reports whether plain matches the stored hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
