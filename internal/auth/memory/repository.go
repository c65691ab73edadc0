// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package memory provides an in-process implementation of the auth
// repositories, used by tests and local tooling.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/snapwave/snapwave/internal/auth"
)

// UserRepository implements auth.UserRepository and auth.Transactor in memory.
//
// Transactions are serialized: InTransaction holds an exclusive lock for the
// whole unit of work, which is the strongest isolation the core can ask for.
// Returned users are copies; changes only land through Create and Save.
type UserRepository struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	users map[ulid.ULID]*auth.User
}

// NewUserRepository creates an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[ulid.ULID]*auth.User)}
}

// InTransaction runs fn while holding the transaction lock.
func (r *UserRepository) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	return fn(ctx)
}

// Create stores a new user.
func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email {
			return oops.Code(auth.CodeEmailTaken).With("email", user.Email).Errorf("email already registered")
		}
		if u.Username == user.Username {
			return oops.Code(auth.CodeUsernameTaken).With("username", user.Username).Errorf("username already taken")
		}
	}
	if _, ok := r.users[user.ID]; ok {
		return oops.Code("USER_CREATE_FAILED").With("id", user.ID.String()).Errorf("duplicate id")
	}
	r.users[user.ID] = clone(user)
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	return r.find("id", id.String(), func(u *auth.User) bool { return u.ID == id })
}

// GetByEmail retrieves a user by exact email.
func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	return r.find("email", email, func(u *auth.User) bool { return u.Email == email })
}

// GetByUsername retrieves a user by exact username.
func (r *UserRepository) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	return r.find("username", username, func(u *auth.User) bool { return u.Username == username })
}

// GetByResetToken retrieves the holder of a reset token digest.
func (r *UserRepository) GetByResetToken(_ context.Context, digest string) (*auth.User, error) {
	return r.find("reset_token", "", func(u *auth.User) bool {
		return u.ResetToken != nil && *u.ResetToken == digest
	})
}

// GetByVerificationToken retrieves the holder of a verification token digest.
func (r *UserRepository) GetByVerificationToken(_ context.Context, digest string) (*auth.User, error) {
	return r.find("verification_token", "", func(u *auth.User) bool {
		return u.VerificationToken != nil && *u.VerificationToken == digest
	})
}

// Save replaces the stored user.
func (r *UserRepository) Save(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	for id, u := range r.users {
		if id == user.ID {
			continue
		}
		if sameDigest(u.ResetToken, user.ResetToken) || sameDigest(u.VerificationToken, user.VerificationToken) {
			return oops.Code("USER_SAVE_FAILED").With("id", user.ID.String()).Errorf("token digest already in use")
		}
	}
	r.users[user.ID] = clone(user)
	return nil
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *UserRepository) find(field, value string, match func(*auth.User) bool) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			return clone(u), nil
		}
	}
	e := oops.Code("USER_NOT_FOUND")
	if value != "" {
		e = e.With(field, value)
	}
	return nil, e.Wrap(auth.ErrNotFound)
}

func sameDigest(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func clone(u *auth.User) *auth.User {
	c := *u
	if u.ResetToken != nil {
		v := *u.ResetToken
		c.ResetToken = &v
	}
	if u.ResetTokenExpiresAt != nil {
		v := *u.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &v
	}
	if u.VerificationToken != nil {
		v := *u.VerificationToken
		c.VerificationToken = &v
	}
	if u.VerificationTokenExpiresAt != nil {
		v := *u.VerificationTokenExpiresAt
		c.VerificationTokenExpiresAt = &v
	}
	return &c
}

// Compile-time interface checks.
var (
	_ auth.UserRepository = (*UserRepository)(nil)
	_ auth.Transactor     = (*UserRepository)(nil)
)
