// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/snapwave/snapwave/internal/auth"

// dummyPasswordHash is verified when an identifier matches no account so the
// unknown-user path costs the same as the wrong-password path. It never
// matches any password.
//
//nolint:gosec // G101: intentionally fake hash for timing equalisation, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Authentication outcomes passed to Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Recorder receives outcome counts from the credential service.
type Recorder interface {
	RecordAuthentication(outcome string)
	RecordTokenIssued(kind TokenKind)
	RecordTokenConsumed(kind TokenKind, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordAuthentication(string)           {}
func (noopRecorder) RecordTokenIssued(TokenKind)           {}
func (noopRecorder) RecordTokenConsumed(TokenKind, string) {}

// CredentialService authenticates users and manages reset and verification tokens.
type CredentialService struct {
	users        UserRepository
	tx           Transactor
	hasher       PasswordHasher
	tokens       TokenGenerator
	clock        Clock
	recorder     Recorder
	logger       *slog.Logger
	tracer       trace.Tracer
	resetTTL     time.Duration
	verifyTTL    time.Duration
	rehashLegacy bool
}

// Option configures a CredentialService.
type Option func(*CredentialService)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(s *CredentialService) { s.clock = c }
}

// WithTokenGenerator replaces the crypto/rand token generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *CredentialService) { s.tokens = g }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *CredentialService) { s.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *CredentialService) { s.recorder = r }
}

// WithTokenTTLs overrides the reset and verification validity windows.
// Non-positive values keep the defaults.
func WithTokenTTLs(reset, verification time.Duration) Option {
	return func(s *CredentialService) {
		if reset > 0 {
			s.resetTTL = reset
		}
		if verification > 0 {
			s.verifyTTL = verification
		}
	}
}

// WithLegacyRehash makes Authenticate replace legacy (non-argon2id) digests
// after a successful login. Off by default, which keeps Authenticate read-only.
func WithLegacyRehash(enabled bool) Option {
	return func(s *CredentialService) { s.rehashLegacy = enabled }
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(users UserRepository, tx Transactor, hasher PasswordHasher, opts ...Option) (*CredentialService, error) {
	if users == nil {
		return nil, oops.Errorf("user repository is required")
	}
	if tx == nil {
		return nil, oops.Errorf("transactor is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}

	s := &CredentialService{
		users:     users,
		tx:        tx,
		hasher:    hasher,
		tokens:    NewRandomTokenGenerator(),
		clock:     SystemClock{},
		recorder:  noopRecorder{},
		logger:    slog.New(slog.DiscardHandler),
		tracer:    otel.Tracer(tracerName),
		resetTTL:  ResetTokenTTL,
		verifyTTL: VerificationTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil || s.clock == nil || s.tokens == nil || s.recorder == nil {
		return nil, oops.Errorf("options must not set nil dependencies")
	}
	return s, nil
}

// RegisterParams holds the fields of a new account.
type RegisterParams struct {
	Email    string
	Username string
	Password string
	FullName string
}

// LogValue keeps the plaintext password out of logs.
func (p RegisterParams) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("email", p.Email),
		slog.String("username", p.Username),
	)
}

// Register creates a new active, unverified account.
func (s *CredentialService) Register(ctx context.Context, params RegisterParams) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer func() { endSpan(span, err) }()

	if err := ValidateEmail(params.Email); err != nil {
		return nil, err
	}
	if err := ValidateUsername(params.Username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(params.Password); err != nil {
		return nil, err
	}

	if err := s.ensureAbsent(ctx, s.users.GetByEmail, params.Email, CodeEmailTaken, "email already registered"); err != nil {
		return nil, err
	}
	if err := s.ensureAbsent(ctx, s.users.GetByUsername, params.Username, CodeUsernameTaken, "username already taken"); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err = NewUser(params.Email, params.Username, hash, s.clock.Now())
	if err != nil {
		return nil, err
	}
	user.FullName = params.FullName

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user registered", "user", user)
	return user, nil
}

func (s *CredentialService) ensureAbsent(
	ctx context.Context,
	lookup func(context.Context, string) (*User, error),
	value, code, msg string,
) error {
	_, err := lookup(ctx, value)
	switch {
	case err == nil:
		return oops.Code(code).Errorf("%s", msg)
	case IsNotFound(err):
		return nil
	default:
		return oops.Code("AUTH_REGISTER_FAILED").With("operation", "uniqueness check").Wrap(err)
	}
}

// User returns the account with the given ID.
func (s *CredentialService) User(ctx context.Context, id ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, errUserNotFound().With("user_id", id.String()).Wrap(ErrNotFound)
		}
		return nil, oops.Code("AUTH_LOOKUP_FAILED").With("operation", "get user by id").Wrap(err)
	}
	return user, nil
}

// Authenticate resolves identifier (an email if it contains '@', otherwise a
// username) and checks password. Unknown identifiers, wrong passwords and
// inactive accounts all return the same AUTH_INVALID_CREDENTIALS error.
func (s *CredentialService) Authenticate(ctx context.Context, identifier, password string) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Authenticate")
	defer func() { endSpan(span, err) }()

	if strings.Contains(identifier, "@") {
		user, err = s.users.GetByEmail(ctx, identifier)
	} else {
		user, err = s.users.GetByUsername(ctx, identifier)
	}

	targetHash := dummyPasswordHash
	switch {
	case err == nil:
		targetHash = user.PasswordHash
	case IsNotFound(err):
		user = nil
	default:
		s.recorder.RecordAuthentication(OutcomeError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "lookup user").Wrap(err)
	}

	// Always verify, even for unknown users, to keep timing constant.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && user != nil {
		s.recorder.RecordAuthentication(OutcomeError)
		return nil, oops.Code(CodeCorruptCredential).
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}

	if user == nil || !valid || !user.IsActive {
		s.recorder.RecordAuthentication(OutcomeFailure)
		return nil, errInvalidCredentials()
	}

	if s.rehashLegacy && s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	s.recorder.RecordAuthentication(OutcomeSuccess)
	return user, nil
}

// upgradeHash re-hashes a legacy digest. Failures are logged, never returned.
func (s *CredentialService) upgradeHash(ctx context.Context, user *User, password string) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "legacy hash upgrade failed", "user", user, "error", err)
		return
	}
	upgraded := *user
	upgraded.PasswordHash = hash
	upgraded.UpdatedAt = s.clock.Now()
	if err := s.users.Save(ctx, &upgraded); err != nil {
		s.logger.WarnContext(ctx, "legacy hash upgrade failed", "user", user, "error", err)
		return
	}
	*user = upgraded
}

// IssueResetToken stores a fresh reset token for the account with the given
// email, replacing any earlier one. The returned token must only be sent to
// that address; callers must not reveal whether the email exists
// (see recovery.Guard).
func (s *CredentialService) IssueResetToken(ctx context.Context, email string) (*IssuedToken, error) {
	return s.issue(ctx, TokenKindReset, func(ctx context.Context) (*User, error) {
		return s.users.GetByEmail(ctx, email)
	})
}

// IssueVerificationToken stores a fresh email-verification token for the
// account, replacing any earlier one. It does not change EmailVerified.
func (s *CredentialService) IssueVerificationToken(ctx context.Context, userID ulid.ULID) (*IssuedToken, error) {
	return s.issue(ctx, TokenKindVerification, func(ctx context.Context) (*User, error) {
		return s.users.GetByID(ctx, userID)
	})
}

func (s *CredentialService) issue(
	ctx context.Context,
	kind TokenKind,
	lookup func(context.Context) (*User, error),
) (issued *IssuedToken, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.IssueToken", trace.WithAttributes(attribute.String("token.kind", string(kind))))
	defer func() { endSpan(span, err) }()

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, err := lookup(ctx)
		if err != nil {
			if IsNotFound(err) {
				return errUserNotFound().With("kind", string(kind)).Wrap(ErrNotFound)
			}
			return oops.Code("TOKEN_ISSUE_FAILED").With("operation", "lookup user").Wrap(err)
		}

		token, err := s.tokens.Generate()
		if err != nil {
			return oops.Code("TOKEN_ISSUE_FAILED").With("operation", "generate token").Wrap(err)
		}

		now := s.clock.Now().UTC()
		expiresAt := now.Add(s.ttl(kind))
		user.setToken(kind, DigestToken(token), expiresAt, now)

		if err := s.users.Save(ctx, user); err != nil {
			return oops.Code("TOKEN_ISSUE_FAILED").With("operation", "save user").Wrap(err)
		}

		issued = &IssuedToken{
			UserID:    user.ID.String(),
			Email:     user.Email,
			Username:  user.Username,
			Token:     token,
			ExpiresAt: expiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.RecordTokenIssued(kind)
	s.logger.DebugContext(ctx, "token issued", "kind", kind, "user_id", issued.UserID, "expires_at", issued.ExpiresAt)
	return issued, nil
}

// VerifyResetToken returns the user holding an unexpired reset token.
// Empty, unknown and expired tokens all return TOKEN_INVALID. It never mutates state.
func (s *CredentialService) VerifyResetToken(ctx context.Context, token string) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.VerifyResetToken")
	defer func() { endSpan(span, err) }()

	return s.lookupToken(ctx, TokenKindReset, token)
}

// ResetPassword replaces the password of the user holding token and clears
// the token in the same write, so the token works once.
func (s *CredentialService) ResetPassword(ctx context.Context, token, newPassword string) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ResetPassword")
	defer func() { endSpan(span, err) }()

	if err := ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	// Hashed before the token check so valid and invalid tokens cost the same.
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, oops.Code("RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	return s.consume(ctx, TokenKindReset, token, func(u *User) {
		u.PasswordHash = hash
	})
}

// ChangePassword replaces the password of a signed-in user after checking
// the current one. It also clears any outstanding reset token.
func (s *CredentialService) ChangePassword(ctx context.Context, userID ulid.ULID, current, newPassword string) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ChangePassword")
	defer func() { endSpan(span, err) }()

	if err := ValidatePassword(newPassword); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, oops.Code("CHANGE_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			if IsNotFound(err) {
				return errUserNotFound().With("user_id", userID.String()).Wrap(ErrNotFound)
			}
			return oops.Code("CHANGE_PASSWORD_FAILED").With("operation", "get user by id").Wrap(err)
		}

		valid, err := s.hasher.Verify(current, u.PasswordHash)
		if err != nil {
			return oops.Code(CodeCorruptCredential).With("user_id", userID.String()).Wrap(err)
		}
		if !valid {
			return oops.Code(CodeIncorrectPassword).
				With("user_id", userID.String()).
				Errorf("current password is incorrect")
		}

		u.PasswordHash = hash
		u.clearToken(TokenKindReset, s.clock.Now())
		if err := s.users.Save(ctx, u); err != nil {
			return oops.Code("CHANGE_PASSWORD_FAILED").With("operation", "save user").Wrap(err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "password changed", "user", user)
	return user, nil
}

// VerifyEmail marks the user holding token as verified and clears the token.
func (s *CredentialService) VerifyEmail(ctx context.Context, token string) (user *User, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.VerifyEmail")
	defer func() { endSpan(span, err) }()

	return s.consume(ctx, TokenKindVerification, token, func(u *User) {
		u.EmailVerified = true
	})
}

// consume checks token and applies mutate inside one transaction, clearing
// the token pair in the same save. On any failure nothing is written.
func (s *CredentialService) consume(ctx context.Context, kind TokenKind, token string, mutate func(*User)) (*User, error) {
	var user *User
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		u, err := s.lookupToken(ctx, kind, token)
		if err != nil {
			return err
		}

		mutate(u)
		u.clearToken(kind, s.clock.Now())

		if err := s.users.Save(ctx, u); err != nil {
			return oops.Code("TOKEN_CONSUME_FAILED").
				With("operation", "save user").
				With("kind", string(kind)).
				Wrap(err)
		}
		user = u
		return nil
	})
	if err != nil {
		s.recordConsumed(kind, err)
		return nil, err
	}

	s.recorder.RecordTokenConsumed(kind, OutcomeSuccess)
	s.logger.InfoContext(ctx, "token consumed", "kind", kind, "user", user)
	return user, nil
}

func (s *CredentialService) recordConsumed(kind TokenKind, err error) {
	if IsInvalidToken(err) {
		s.recorder.RecordTokenConsumed(kind, OutcomeFailure)
		return
	}
	s.recorder.RecordTokenConsumed(kind, OutcomeError)
}

// lookupToken finds the holder of token and checks its expiry against the
// clock. Both sides of the comparison are UTC instants.
func (s *CredentialService) lookupToken(ctx context.Context, kind TokenKind, token string) (*User, error) {
	if token == "" {
		return nil, errInvalidToken(kind)
	}

	digest := DigestToken(token)

	var (
		user *User
		err  error
	)
	if kind == TokenKindReset {
		user, err = s.users.GetByResetToken(ctx, digest)
	} else {
		user, err = s.users.GetByVerificationToken(ctx, digest)
	}
	if err != nil {
		if IsNotFound(err) {
			return nil, errInvalidToken(kind)
		}
		return nil, oops.Code("TOKEN_LOOKUP_FAILED").With("kind", string(kind)).Wrap(err)
	}

	stored, expiresAt := user.tokenState(kind)
	if stored == nil || expiresAt == nil {
		return nil, errInvalidToken(kind)
	}
	if expiresAt.UTC().Before(s.clock.Now().UTC()) {
		return nil, errInvalidToken(kind)
	}
	return user, nil
}

func (s *CredentialService) ttl(kind TokenKind) time.Duration {
	if kind == TokenKindReset {
		return s.resetTTL
	}
	return s.verifyTTL
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
