// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/snapwave/snapwave/internal/auth"
	"github.com/snapwave/snapwave/internal/auth/authtest"
	"github.com/snapwave/snapwave/internal/auth/memory"
	"github.com/snapwave/snapwave/pkg/errutil"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *auth.CredentialService
	repo   *memory.UserRepository
	clock  *authtest.ManualClock
	tokens *authtest.SequenceTokens
}

func newFixture(t *testing.T, opts ...auth.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   memory.NewUserRepository(),
		clock:  authtest.NewManualClock(epoch),
		tokens: authtest.NewSequenceTokens("tok"),
	}
	opts = append([]auth.Option{auth.WithClock(f.clock), auth.WithTokenGenerator(f.tokens)}, opts...)
	svc, err := auth.NewCredentialService(f.repo, f.repo, authtest.InsecureHasher{}, opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) register(t *testing.T, email, username, password string) *auth.User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), auth.RegisterParams{
		Email:    email,
		Username: username,
		Password: password,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) stored(t *testing.T, id ulid.ULID) *auth.User {
	t.Helper()
	user, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return user
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordAuthentication(outcome string) {
	m.Called(outcome)
}

func (m *mockRecorder) RecordTokenIssued(kind auth.TokenKind) {
	m.Called(kind)
}

func (m *mockRecorder) RecordTokenConsumed(kind auth.TokenKind, outcome string) {
	m.Called(kind, outcome)
}

func TestNewCredentialService(t *testing.T) {
	repo := memory.NewUserRepository()
	hasher := authtest.InsecureHasher{}

	t.Run("requires repository", func(t *testing.T) {
		_, err := auth.NewCredentialService(nil, repo, hasher)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "user repository is required")
	})

	t.Run("requires transactor", func(t *testing.T) {
		_, err := auth.NewCredentialService(repo, nil, hasher)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transactor is required")
	})

	t.Run("requires hasher", func(t *testing.T) {
		_, err := auth.NewCredentialService(repo, repo, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "password hasher is required")
	})

	t.Run("rejects nil option values", func(t *testing.T) {
		_, err := auth.NewCredentialService(repo, repo, hasher, auth.WithLogger(nil))
		require.Error(t, err)
	})
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("creates active unverified user", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")

		stored := f.stored(t, user.ID)
		assert.True(t, stored.IsActive)
		assert.False(t, stored.EmailVerified)
		assert.NotEqual(t, "Secret123!", stored.PasswordHash)
		assert.True(t, epoch.Equal(stored.CreatedAt))
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice@example.com", "alice", "Secret123!")

		_, err := f.svc.Register(ctx, auth.RegisterParams{Email: "alice@example.com", Username: "alice2", Password: "Secret123!"})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeEmailTaken)
		assert.Equal(t, 1, f.repo.Len())
	})

	t.Run("rejects duplicate username", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice@example.com", "alice", "Secret123!")

		_, err := f.svc.Register(ctx, auth.RegisterParams{Email: "other@example.com", Username: "alice", Password: "Secret123!"})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeUsernameTaken)
	})

	t.Run("rejects short password", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, auth.RegisterParams{Email: "alice@example.com", Username: "alice", Password: "short"})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidPassword)
		assert.Zero(t, f.repo.Len())
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.register(t, "alice@example.com", "alice", "Secret123!")

	t.Run("by email", func(t *testing.T) {
		user, err := f.svc.Authenticate(ctx, "alice@example.com", "Secret123!")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, user.ID)
	})

	t.Run("by username", func(t *testing.T) {
		user, err := f.svc.Authenticate(ctx, "alice", "Secret123!")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, user.ID)
	})

	t.Run("failures are indistinguishable", func(t *testing.T) {
		cases := map[string][2]string{
			"wrong password":        {"alice", "wrong-password"},
			"unknown username":      {"nobody", "Secret123!"},
			"unknown email":         {"nobody@example.com", "Secret123!"},
			"username case differs": {"Alice", "Secret123!"},
			"empty identifier":      {"", "Secret123!"},
		}
		var messages []string
		for name, c := range cases {
			t.Run(name, func(t *testing.T) {
				user, err := f.svc.Authenticate(ctx, c[0], c[1])
				require.Error(t, err)
				assert.Nil(t, user)
				assert.True(t, auth.IsUnauthenticated(err))
				errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
				messages = append(messages, err.Error())
			})
		}
		for _, msg := range messages {
			assert.Equal(t, messages[0], msg)
		}
	})

	t.Run("does not mutate the user", func(t *testing.T) {
		before := f.stored(t, alice.ID)
		_, err := f.svc.Authenticate(ctx, "alice", "Secret123!")
		require.NoError(t, err)
		assert.Equal(t, before, f.stored(t, alice.ID))
	})
}

func TestAuthenticate_InactiveUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "bob@example.com", "bob", "Secret123!")

	stored := f.stored(t, user.ID)
	stored.IsActive = false
	require.NoError(t, f.repo.Save(ctx, stored))

	_, err := f.svc.Authenticate(ctx, "bob", "Secret123!")
	require.Error(t, err)
	assert.True(t, auth.IsUnauthenticated(err))
}

func TestAuthenticate_CorruptDigest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "bob@example.com", "bob", "Secret123!")

	stored := f.stored(t, user.ID)
	stored.PasswordHash = "garbage"
	require.NoError(t, f.repo.Save(ctx, stored))

	_, err := f.svc.Authenticate(ctx, "bob", "Secret123!")
	require.Error(t, err)
	assert.False(t, auth.IsUnauthenticated(err))
	assert.True(t, auth.IsCorruptCredential(err))
	errutil.AssertErrorCode(t, err, auth.CodeCorruptCredential)
}

func TestAuthenticate_ZeroTimeDigestDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewUserRepository()
	svc, err := auth.NewCredentialService(repo, repo, auth.NewArgon2idHasher())
	require.NoError(t, err)

	user, err := auth.NewUser("bob@example.com", "bob",
		"$argon2id$v=19$m=65536,t=0,p=4$c2FsdHNhbHRzYWx0$aGFzaGhhc2hoYXNoaGFzaA", epoch)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, user))

	require.NotPanics(t, func() {
		_, err = svc.Authenticate(ctx, "bob", "password")
	})
	require.Error(t, err)
	assert.True(t, auth.IsCorruptCredential(err))
	errutil.AssertErrorCode(t, err, auth.CodeCorruptCredential)
}

func TestAuthenticate_LegacyBcrypt(t *testing.T) {
	ctx := context.Background()
	legacy, err := bcrypt.GenerateFromPassword([]byte("Secret123!"), bcrypt.MinCost)
	require.NoError(t, err)

	setup := func(t *testing.T, opts ...auth.Option) (*auth.CredentialService, *memory.UserRepository, ulid.ULID) {
		t.Helper()
		repo := memory.NewUserRepository()
		svc, err := auth.NewCredentialService(repo, repo, auth.NewArgon2idHasher(), opts...)
		require.NoError(t, err)
		user, err := auth.NewUser("old@example.com", "olduser", string(legacy), epoch)
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, user))
		return svc, repo, user.ID
	}

	t.Run("verifies without rewriting by default", func(t *testing.T) {
		svc, repo, id := setup(t)
		_, err := svc.Authenticate(ctx, "olduser", "Secret123!")
		require.NoError(t, err)

		stored, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, string(legacy), stored.PasswordHash)
	})

	t.Run("upgrades to argon2id when enabled", func(t *testing.T) {
		svc, repo, id := setup(t, auth.WithLegacyRehash(true))
		user, err := svc.Authenticate(ctx, "olduser", "Secret123!")
		require.NoError(t, err)
		assert.Contains(t, user.PasswordHash, "$argon2id$")

		stored, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, stored.PasswordHash, "$argon2id$")

		_, err = svc.Authenticate(ctx, "olduser", "Secret123!")
		require.NoError(t, err)
	})
}

func TestIssueResetToken(t *testing.T) {
	ctx := context.Background()

	t.Run("stores digest and 24h expiry", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")

		issued, err := f.svc.IssueResetToken(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", issued.Token)
		assert.Equal(t, user.ID.String(), issued.UserID)
		assert.Equal(t, "alice@example.com", issued.Email)
		assert.True(t, epoch.Add(24*time.Hour).Equal(issued.ExpiresAt))

		stored := f.stored(t, user.ID)
		require.NotNil(t, stored.ResetToken)
		require.NotNil(t, stored.ResetTokenExpiresAt)
		assert.Equal(t, auth.DigestToken("tok-1"), *stored.ResetToken)
		assert.NotEqual(t, "tok-1", *stored.ResetToken)
		assert.Equal(t, time.UTC, stored.ResetTokenExpiresAt.Location())
	})

	t.Run("unknown email", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IssueResetToken(ctx, "ghost@example.com")
		require.Error(t, err)
		assert.True(t, auth.IsNotFound(err))
		errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)
	})

	t.Run("email lookup is exact", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice@example.com", "alice", "Secret123!")
		_, err := f.svc.IssueResetToken(ctx, "Alice@Example.com")
		require.Error(t, err)
		assert.True(t, auth.IsNotFound(err))
	})

	t.Run("reissue replaces earlier token", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice@example.com", "alice", "Secret123!")

		first, err := f.svc.IssueResetToken(ctx, "alice@example.com")
		require.NoError(t, err)
		second, err := f.svc.IssueResetToken(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.NotEqual(t, first.Token, second.Token)

		_, err = f.svc.VerifyResetToken(ctx, first.Token)
		assert.True(t, auth.IsInvalidToken(err))
		_, err = f.svc.VerifyResetToken(ctx, second.Token)
		assert.NoError(t, err)
	})

	t.Run("does not touch verification state", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		_, err := f.svc.IssueVerificationToken(ctx, user.ID)
		require.NoError(t, err)

		_, err = f.svc.IssueResetToken(ctx, "alice@example.com")
		require.NoError(t, err)

		stored := f.stored(t, user.ID)
		require.NotNil(t, stored.VerificationToken)
		assert.Equal(t, auth.DigestToken("tok-1"), *stored.VerificationToken)
		assert.False(t, stored.EmailVerified)
	})
}

func TestVerifyResetToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.register(t, "alice@example.com", "alice", "Secret123!")
	issued, err := f.svc.IssueResetToken(ctx, "alice@example.com")
	require.NoError(t, err)

	t.Run("valid token returns holder without mutating", func(t *testing.T) {
		before := f.stored(t, user.ID)
		got, err := f.svc.VerifyResetToken(ctx, issued.Token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, before, f.stored(t, user.ID))
	})

	for name, token := range map[string]string{
		"empty token":     "",
		"unknown token":   "not-a-token",
		"raw digest":      auth.DigestToken(issued.Token),
		"prefix of token": issued.Token[:3],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.VerifyResetToken(ctx, token)
			require.Error(t, err)
			assert.True(t, auth.IsInvalidToken(err))
			errutil.AssertErrorCode(t, err, auth.CodeTokenInvalid)
		})
	}
}

func TestVerifyResetToken_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice@example.com", "alice", "Secret123!")
	issued, err := f.svc.IssueResetToken(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Set(issued.ExpiresAt)
	_, err = f.svc.VerifyResetToken(ctx, issued.Token)
	require.NoError(t, err, "token is valid at the exact expiry instant")

	f.clock.Advance(time.Nanosecond)
	_, err = f.svc.VerifyResetToken(ctx, issued.Token)
	require.Error(t, err)
	assert.True(t, auth.IsInvalidToken(err))
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces password and consumes token", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		issued, err := f.svc.IssueResetToken(ctx, "alice@example.com")
		require.NoError(t, err)

		f.clock.Advance(time.Hour)
		got, err := f.svc.ResetPassword(ctx, issued.Token, "NewPass456!")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)

		stored := f.stored(t, user.ID)
		assert.Nil(t, stored.ResetToken)
		assert.Nil(t, stored.ResetTokenExpiresAt)
		assert.True(t, epoch.Add(time.Hour).Equal(stored.UpdatedAt))

		_, err = f.svc.Authenticate(ctx, "alice", "Secret123!")
		assert.True(t, auth.IsUnauthenticated(err))
		_, err = f.svc.Authenticate(ctx, "alice", "NewPass456!")
		assert.NoError(t, err)

		_, err = f.svc.ResetPassword(ctx, issued.Token, "Another789!")
		require.Error(t, err)
		assert.True(t, auth.IsInvalidToken(err))
	})

	t.Run("short password leaves token usable", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		issued, err := f.svc.IssueResetToken(ctx, "alice@example.com")
		require.NoError(t, err)

		_, err = f.svc.ResetPassword(ctx, issued.Token, "short")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidPassword)
		assert.NotNil(t, f.stored(t, user.ID).ResetToken)

		_, err = f.svc.ResetPassword(ctx, issued.Token, "LongEnough1")
		assert.NoError(t, err)
	})

	t.Run("expired token changes nothing", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		issued, err := f.svc.IssueResetToken(ctx, "alice@example.com")
		require.NoError(t, err)
		before := f.stored(t, user.ID)

		f.clock.Advance(25 * time.Hour)
		_, err = f.svc.ResetPassword(ctx, issued.Token, "NewPass456!")
		require.Error(t, err)
		assert.True(t, auth.IsInvalidToken(err))
		assert.Equal(t, before, f.stored(t, user.ID))
	})

	t.Run("verification token cannot reset password", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		issued, err := f.svc.IssueVerificationToken(ctx, user.ID)
		require.NoError(t, err)

		_, err = f.svc.ResetPassword(ctx, issued.Token, "NewPass456!")
		require.Error(t, err)
		assert.True(t, auth.IsInvalidToken(err))
	})
}

func TestResetPassword_SingleUseUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice@example.com", "alice", "Secret123!")
	issued, err := f.svc.IssueResetToken(ctx, "alice@example.com")
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		rejected  atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ResetPassword(ctx, issued.Token, "NewPass456!")
			switch {
			case err == nil:
				successes.Add(1)
			case auth.IsInvalidToken(err):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), rejected.Load())
}

func TestEmailVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("issue then verify", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")

		issued, err := f.svc.IssueVerificationToken(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, epoch.Add(72*time.Hour).Equal(issued.ExpiresAt))
		assert.False(t, f.stored(t, user.ID).EmailVerified)

		got, err := f.svc.VerifyEmail(ctx, issued.Token)
		require.NoError(t, err)
		assert.True(t, got.EmailVerified)

		stored := f.stored(t, user.ID)
		assert.True(t, stored.EmailVerified)
		assert.Nil(t, stored.VerificationToken)
		assert.Nil(t, stored.VerificationTokenExpiresAt)

		_, err = f.svc.VerifyEmail(ctx, issued.Token)
		assert.True(t, auth.IsInvalidToken(err))
	})

	t.Run("unknown user id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.IssueVerificationToken(ctx, ulid.Make())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)
	})

	t.Run("already verified user can still be issued a token", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		issued, err := f.svc.IssueVerificationToken(ctx, user.ID)
		require.NoError(t, err)
		_, err = f.svc.VerifyEmail(ctx, issued.Token)
		require.NoError(t, err)

		again, err := f.svc.IssueVerificationToken(ctx, user.ID)
		require.NoError(t, err)
		_, err = f.svc.VerifyEmail(ctx, again.Token)
		require.NoError(t, err)
		assert.True(t, f.stored(t, user.ID).EmailVerified)
	})

	t.Run("expires after 72h", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		issued, err := f.svc.IssueVerificationToken(ctx, user.ID)
		require.NoError(t, err)

		f.clock.Advance(72*time.Hour + time.Second)
		_, err = f.svc.VerifyEmail(ctx, issued.Token)
		assert.True(t, auth.IsInvalidToken(err))
		assert.False(t, f.stored(t, user.ID).EmailVerified)
	})

	t.Run("reset token cannot verify email", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice@example.com", "alice", "Secret123!")
		issued, err := f.svc.IssueResetToken(ctx, "alice@example.com")
		require.NoError(t, err)

		_, err = f.svc.VerifyEmail(ctx, issued.Token)
		assert.True(t, auth.IsInvalidToken(err))
	})
}

func TestCustomTokenTTLs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, auth.WithTokenTTLs(time.Hour, 0))
	user := f.register(t, "alice@example.com", "alice", "Secret123!")

	reset, err := f.svc.IssueResetToken(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, epoch.Add(time.Hour).Equal(reset.ExpiresAt))

	verify, err := f.svc.IssueVerificationToken(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, epoch.Add(auth.VerificationTokenTTL).Equal(verify.ExpiresAt))
}

// TestAliceLifecycle walks one account through every flow in order.
func TestAliceLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	alice := f.register(t, "alice@example.com", "alice", "Secret123!")

	_, err := f.svc.Authenticate(ctx, "alice@example.com", "Secret123!")
	require.NoError(t, err)

	verification, err := f.svc.IssueVerificationToken(ctx, alice.ID)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)
	_, err = f.svc.VerifyEmail(ctx, verification.Token)
	require.NoError(t, err)

	reset, err := f.svc.IssueResetToken(ctx, "alice@example.com")
	require.NoError(t, err)
	f.clock.Advance(23 * time.Hour)

	holder, err := f.svc.VerifyResetToken(ctx, reset.Token)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, holder.ID)

	_, err = f.svc.ResetPassword(ctx, reset.Token, "NewPass456!")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, "alice", "Secret123!")
	assert.True(t, auth.IsUnauthenticated(err))

	user, err := f.svc.Authenticate(ctx, "alice", "NewPass456!")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
	assert.Nil(t, user.ResetToken)
	assert.Nil(t, user.VerificationToken)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	rec := &mockRecorder{}
	rec.On("RecordAuthentication", auth.OutcomeSuccess).Once()
	rec.On("RecordAuthentication", auth.OutcomeFailure).Once()
	rec.On("RecordTokenIssued", auth.TokenKindReset).Once()
	rec.On("RecordTokenConsumed", auth.TokenKindReset, auth.OutcomeSuccess).Once()
	rec.On("RecordTokenConsumed", auth.TokenKindReset, auth.OutcomeFailure).Once()

	f := newFixture(t, auth.WithRecorder(rec))
	f.register(t, "alice@example.com", "alice", "Secret123!")

	_, _ = f.svc.Authenticate(ctx, "alice", "Secret123!")
	_, _ = f.svc.Authenticate(ctx, "alice", "wrong-password")
	issued, err := f.svc.IssueResetToken(ctx, "alice@example.com")
	require.NoError(t, err)
	_, _ = f.svc.ResetPassword(ctx, issued.Token, "NewPass456!")
	_, _ = f.svc.ResetPassword(ctx, issued.Token, "NewPass456!")

	rec.AssertExpectations(t)
}

// failingRepository wraps a memory repository and fails Save.
type failingRepository struct {
	*memory.UserRepository
	saveErr error
}

func (r *failingRepository) Save(context.Context, *auth.User) error {
	return r.saveErr
}

func TestResetPassword_SaveFailureKeepsToken(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewUserRepository()
	clock := authtest.NewManualClock(epoch)

	good, err := auth.NewCredentialService(mem, mem, authtest.InsecureHasher{}, auth.WithClock(clock))
	require.NoError(t, err)
	user, err := good.Register(ctx, auth.RegisterParams{Email: "alice@example.com", Username: "alice", Password: "Secret123!"})
	require.NoError(t, err)
	issued, err := good.IssueResetToken(ctx, "alice@example.com")
	require.NoError(t, err)

	broken := &failingRepository{UserRepository: mem, saveErr: errors.New("disk full")}
	svc, err := auth.NewCredentialService(broken, mem, authtest.InsecureHasher{}, auth.WithClock(clock))
	require.NoError(t, err)

	_, err = svc.ResetPassword(ctx, issued.Token, "NewPass456!")
	require.Error(t, err)
	assert.False(t, auth.IsInvalidToken(err))
	errutil.AssertErrorCode(t, err, "TOKEN_CONSUME_FAILED")

	stored, err := mem.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ResetToken)

	_, err = good.ResetPassword(ctx, issued.Token, "NewPass456!")
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces password and clears reset token", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		issued, err := f.svc.IssueResetToken(ctx, "alice@example.com")
		require.NoError(t, err)

		f.clock.Advance(time.Minute)
		got, err := f.svc.ChangePassword(ctx, user.ID, "Secret123!", "NewPass456!")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)

		stored := f.stored(t, user.ID)
		assert.Nil(t, stored.ResetToken)
		assert.Nil(t, stored.ResetTokenExpiresAt)
		assert.True(t, epoch.Add(time.Minute).Equal(stored.UpdatedAt))

		_, err = f.svc.Authenticate(ctx, "alice", "Secret123!")
		assert.True(t, auth.IsUnauthenticated(err))
		_, err = f.svc.Authenticate(ctx, "alice", "NewPass456!")
		require.NoError(t, err)

		_, err = f.svc.VerifyResetToken(ctx, issued.Token)
		assert.True(t, auth.IsInvalidToken(err))
	})

	t.Run("keeps verification token", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		issued, err := f.svc.IssueVerificationToken(ctx, user.ID)
		require.NoError(t, err)

		_, err = f.svc.ChangePassword(ctx, user.ID, "Secret123!", "NewPass456!")
		require.NoError(t, err)

		_, err = f.svc.VerifyEmail(ctx, issued.Token)
		assert.NoError(t, err)
	})

	t.Run("rejects wrong current password", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		before := f.stored(t, user.ID).PasswordHash

		_, err := f.svc.ChangePassword(ctx, user.ID, "not-my-password", "NewPass456!")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeIncorrectPassword)
		assert.Equal(t, before, f.stored(t, user.ID).PasswordHash)
	})

	t.Run("rejects short new password", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")

		_, err := f.svc.ChangePassword(ctx, user.ID, "Secret123!", "short")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidPassword)

		_, err = f.svc.Authenticate(ctx, "alice", "Secret123!")
		assert.NoError(t, err)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ChangePassword(ctx, ulid.Make(), "Secret123!", "NewPass456!")
		require.Error(t, err)
		assert.True(t, auth.IsNotFound(err))
		errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)
	})

	t.Run("corrupt stored digest", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice@example.com", "alice", "Secret123!")
		stored := f.stored(t, user.ID)
		stored.PasswordHash = "garbage"
		require.NoError(t, f.repo.Save(ctx, stored))

		_, err := f.svc.ChangePassword(ctx, user.ID, "Secret123!", "NewPass456!")
		require.Error(t, err)
		assert.True(t, auth.IsCorruptCredential(err))
	})
}
