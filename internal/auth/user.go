// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package auth

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account field constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
	MinPasswordLength = 8
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
//
// Usernames can never contain '@', which Authenticate relies on to tell
// them apart from email addresses.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

var validate = validator.New(validator.WithRequiredStructEnabled())

// User is an account as seen by the credential core.
//
// ResetToken and VerificationToken hold token digests (see DigestToken), never
// plaintext. Each token field is set and cleared together with its expiry.
type User struct {
	ID                         ulid.ULID
	Email                      string
	Username                   string
	PasswordHash               string
	FullName                   string
	IsActive                   bool
	IsSuperuser                bool
	EmailVerified              bool
	ResetToken                 *string
	ResetTokenExpiresAt        *time.Time
	VerificationToken          *string
	VerificationTokenExpiresAt *time.Time
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// NewUser creates an active, unverified User with validated fields.
// now is stored in UTC as both CreatedAt and UpdatedAt.
func NewUser(email, username, passwordHash string, now time.Time) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if strings.TrimSpace(passwordHash) == "" {
		return nil, oops.Code(CodeInvalidPassword).Errorf("password hash cannot be empty")
	}

	now = now.UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// LogValue keeps the password digest and token digests out of logs.
func (u *User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID.String()),
		slog.String("username", u.Username),
		slog.Bool("email_verified", u.EmailVerified),
	)
}

// tokenState returns the stored digest and expiry for kind.
func (u *User) tokenState(kind TokenKind) (digest *string, expiresAt *time.Time) {
	if kind == TokenKindReset {
		return u.ResetToken, u.ResetTokenExpiresAt
	}
	return u.VerificationToken, u.VerificationTokenExpiresAt
}

// setToken stores a digest and its expiry, replacing any earlier pair.
func (u *User) setToken(kind TokenKind, digest string, expiresAt, now time.Time) {
	exp := expiresAt.UTC()
	if kind == TokenKindReset {
		u.ResetToken, u.ResetTokenExpiresAt = &digest, &exp
	} else {
		u.VerificationToken, u.VerificationTokenExpiresAt = &digest, &exp
	}
	u.UpdatedAt = now.UTC()
}

// clearToken nulls a digest and its expiry together.
func (u *User) clearToken(kind TokenKind, now time.Time) {
	if kind == TokenKindReset {
		u.ResetToken, u.ResetTokenExpiresAt = nil, nil
	} else {
		u.VerificationToken, u.VerificationTokenExpiresAt = nil, nil
	}
	u.UpdatedAt = now.UTC()
}

// ValidateEmail checks that email is a syntactically valid address.
func ValidateEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return oops.Code(CodeInvalidEmail).Errorf("email address is invalid")
	}
	return nil
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeInvalidUsername).Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code(CodeInvalidUsername).
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidatePassword enforces the minimum plaintext length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code(CodeInvalidPassword).
			With("min", MinPasswordLength).
			Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// UserRepository manages user persistence.
//
// Lookups return an error wrapping ErrNotFound when no row matches. Email
// and username lookups are exact (case-sensitive). When called inside
// Transactor.InTransaction, lookups lock the returned row until the
// transaction ends.
type UserRepository interface {
	// Create stores a new user.
	// Returns AUTH_EMAIL_TAKEN or AUTH_USERNAME_TAKEN on a uniqueness conflict.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByUsername retrieves a user by username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByResetToken retrieves the user holding the given reset token digest.
	GetByResetToken(ctx context.Context, digest string) (*User, error)

	// GetByVerificationToken retrieves the user holding the given verification token digest.
	GetByVerificationToken(ctx context.Context, digest string) (*User, error)

	// Save atomically writes every mutable field of an existing user.
	Save(ctx context.Context, user *User) error
}

// Transactor runs a unit of work atomically.
type Transactor interface {
	// InTransaction calls fn with a context bound to one transaction.
	// The transaction commits if fn returns nil and rolls back otherwise.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
