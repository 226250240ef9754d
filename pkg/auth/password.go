// ABOUTME: Server-side password digest used for signup and signin
// ABOUTME: Implements argon2id hashing with the login as salt

package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2 parameters
const (
	argonTime    = 2         // Number of iterations
	argonMemory  = 19 * 1024 // Memory in KB
	argonThreads = 1         // Number of threads
	argonKeyLen  = 32        // Output key length in bytes

	// MaxPasswordLength keeps a signup request well inside one frame
	MaxPasswordLength = 128
)

var (
	ErrEmptyPassword    = errors.New("password cannot be empty")
	ErrPasswordTooLong  = errors.New("password must be at most 128 characters")
	ErrPasswordReserved = errors.New("password cannot contain ':' or a newline")
)

// HashPassword returns the digest stored for a password. The login is used
// as salt so equal passwords on different accounts never share a digest.
func HashPassword(password, login string) string {
	hash := argon2.IDKey(
		[]byte(password),
		[]byte(login),
		argonTime,
		argonMemory,
		argonThreads,
		argonKeyLen,
	)
	return base64.RawURLEncoding.EncodeToString(hash)
}

// VerifyPassword reports whether password matches a stored digest
func VerifyPassword(password, login, digest string) bool {
	computed := HashPassword(password, login)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

// ValidatePasswordFormat checks a password can travel in a signup frame
func ValidatePasswordFormat(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	if strings.ContainsAny(password, ":\n") {
		return ErrPasswordReserved
	}
	return nil
}
