// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes surfaced by the credential core.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeCorruptCredential  = "AUTH_CORRUPT_CREDENTIAL"
	CodeEmailTaken         = "AUTH_EMAIL_TAKEN"
	CodeUsernameTaken      = "AUTH_USERNAME_TAKEN"
	CodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	CodeInvalidUsername    = "AUTH_INVALID_USERNAME"
	CodeInvalidPassword    = "AUTH_INVALID_PASSWORD"
	CodeIncorrectPassword  = "AUTH_INCORRECT_PASSWORD"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorruptCredential is returned when a stored password digest cannot be parsed.
	ErrCorruptCredential = errors.New("corrupt credential")
)

// errInvalidCredentials is the single failure shape of Authenticate.
func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid username or password")
}

// errUserNotFound starts an AUTH_USER_NOT_FOUND error. It must not wrap a
// coded repository error: oops reports the innermost code.
func errUserNotFound() oops.OopsErrorBuilder {
	return oops.Code(CodeUserNotFound)
}

// errInvalidToken is the single failure shape of every token check.
func errInvalidToken(kind TokenKind) error {
	return oops.Code(CodeTokenInvalid).
		With("kind", string(kind)).
		Errorf("token is invalid or expired")
}

// IsUnauthenticated reports whether err is an authentication failure.
func IsUnauthenticated(err error) bool {
	return hasCode(err, CodeInvalidCredentials)
}

// IsInvalidToken reports whether err is a rejected reset or verification token.
func IsInvalidToken(err error) bool {
	return hasCode(err, CodeTokenInvalid)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCorruptCredential reports whether err wraps ErrCorruptCredential.
func IsCorruptCredential(err error) bool {
	return errors.Is(err, ErrCorruptCredential)
}

func hasCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}
