// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/snapwave/snapwave/internal/auth"
)

// Unique constraint names from migration 000001.
const (
	constraintEmail             = "users_email_key"
	constraintUsername          = "users_username_key"
	constraintResetToken        = "users_reset_token_key"
	constraintVerificationToken = "users_verification_token_key"
)

const selectUser = `
	SELECT id, email, username, hashed_password, full_name,
	       is_active, is_superuser, email_verified,
	       reset_token, reset_token_expires_at,
	       verification_token, verification_token_expires_at,
	       created_at, updated_at
	FROM users
`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// q returns the transaction bound to ctx, or the pool.
func (r *UserRepository) q(ctx context.Context) querier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return r.pool
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO users (
			id, email, username, hashed_password, full_name,
			is_active, is_superuser, email_verified,
			reset_token, reset_token_expires_at,
			verification_token, verification_token_expires_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		user.ID.String(),
		user.Email,
		user.Username,
		user.PasswordHash,
		nullableString(user.FullName),
		user.IsActive,
		user.IsSuperuser,
		user.EmailVerified,
		user.ResetToken,
		utcPtr(user.ResetTokenExpiresAt),
		user.VerificationToken,
		utcPtr(user.VerificationTokenExpiresAt),
		user.CreatedAt.UTC(),
		user.UpdatedAt.UTC(),
	)
	if err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return conflict
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return r.getOne(ctx, "id", id.String(), `WHERE id = $1`)
}

// GetByEmail retrieves a user by exact email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.getOne(ctx, "email", email, `WHERE email = $1`)
}

// GetByUsername retrieves a user by exact username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	return r.getOne(ctx, "username", username, `WHERE username = $1`)
}

// GetByResetToken retrieves the holder of a reset token digest.
func (r *UserRepository) GetByResetToken(ctx context.Context, digest string) (*auth.User, error) {
	return r.getOne(ctx, "reset_token", digest, `WHERE reset_token = $1`)
}

// GetByVerificationToken retrieves the holder of a verification token digest.
func (r *UserRepository) GetByVerificationToken(ctx context.Context, digest string) (*auth.User, error) {
	return r.getOne(ctx, "verification_token", digest, `WHERE verification_token = $1`)
}

// getOne runs selectUser with where. Inside a transaction the row is locked
// with FOR UPDATE so a concurrent consumer blocks until this one commits.
func (r *UserRepository) getOne(ctx context.Context, field, value, where string) (*auth.User, error) {
	query := selectUser + where
	if _, ok := txFromContext(ctx); ok {
		query += ` FOR UPDATE`
	}

	user, err := scanUser(r.q(ctx).QueryRow(ctx, query, value))
	if errors.Is(err, pgx.ErrNoRows) {
		e := oops.Code("USER_NOT_FOUND")
		if !isSecret(field) {
			e = e.With(field, value)
		}
		return nil, e.Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "get user by "+field).
			Wrap(err)
	}
	return user, nil
}

// Save writes every mutable column of an existing user.
func (r *UserRepository) Save(ctx context.Context, user *auth.User) error {
	result, err := r.q(ctx).Exec(ctx, `
		UPDATE users SET
			email = $2,
			username = $3,
			hashed_password = $4,
			full_name = $5,
			is_active = $6,
			is_superuser = $7,
			email_verified = $8,
			reset_token = $9,
			reset_token_expires_at = $10,
			verification_token = $11,
			verification_token_expires_at = $12,
			updated_at = $13
		WHERE id = $1
	`,
		user.ID.String(),
		user.Email,
		user.Username,
		user.PasswordHash,
		nullableString(user.FullName),
		user.IsActive,
		user.IsSuperuser,
		user.EmailVerified,
		user.ResetToken,
		utcPtr(user.ResetTokenExpiresAt),
		user.VerificationToken,
		utcPtr(user.VerificationTokenExpiresAt),
		user.UpdatedAt.UTC(),
	)
	if err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return conflict
		}
		return oops.Code("USER_SAVE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUser scans a single row into a User.
// pgx.ErrNoRows is returned unchanged for callers to wrap.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr                 string
		user                  auth.User
		fullName              *string
		resetExpiresAt        *time.Time
		verificationExpiresAt *time.Time
		createdAt, updatedAt  time.Time
	)

	err := row.Scan(
		&idStr,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&fullName,
		&user.IsActive,
		&user.IsSuperuser,
		&user.EmailVerified,
		&user.ResetToken,
		&resetExpiresAt,
		&user.VerificationToken,
		&verificationExpiresAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}

	user.ID = id
	if fullName != nil {
		user.FullName = *fullName
	}
	user.ResetTokenExpiresAt = utcPtr(resetExpiresAt)
	user.VerificationTokenExpiresAt = utcPtr(verificationExpiresAt)
	user.CreatedAt = createdAt.UTC()
	user.UpdatedAt = updatedAt.UTC()
	return &user, nil
}

// uniqueConflict maps a unique violation to the matching auth error code.
func uniqueConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case constraintEmail:
		return oops.Code(auth.CodeEmailTaken).Wrapf(err, "email already registered")
	case constraintUsername:
		return oops.Code(auth.CodeUsernameTaken).Wrapf(err, "username already taken")
	case constraintResetToken, constraintVerificationToken:
		return oops.Code("TOKEN_COLLISION").Wrapf(err, "token digest already in use")
	}
	return nil
}

func isSecret(field string) bool {
	return field == "reset_token" || field == "verification_token"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
