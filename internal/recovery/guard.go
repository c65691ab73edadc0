// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package recovery decides what callers outside the process learn about
// password-reset and email-verification requests.
//
// Guard sits between the HTTP layer and auth.CredentialService. A reset
// request returns the same Result whether or not the email belongs to an
// account; only the notification side effect differs.
package recovery

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/snapwave/snapwave/internal/auth"
	"github.com/snapwave/snapwave/internal/notify"
	"github.com/snapwave/snapwave/pkg/errutil"
)

// Messages returned to callers.
const (
	MessageResetRequested   = "If that email address is registered, you will receive a password reset link."
	MessageVerificationSent = "A verification link has been sent to your email address."
	MessageAlreadyVerified  = "Your email address is already verified."
)

// Issuer is the part of auth.CredentialService the guard uses.
type Issuer interface {
	IssueResetToken(ctx context.Context, email string) (*auth.IssuedToken, error)
	IssueVerificationToken(ctx context.Context, userID ulid.ULID) (*auth.IssuedToken, error)
	User(ctx context.Context, id ulid.ULID) (*auth.User, error)
}

// Result is what a caller may show the requester.
type Result struct {
	Message string
	// DebugToken is the plaintext token, set only when token exposure is
	// enabled (development) and a token was actually issued.
	DebugToken string
}

// Guard applies the recovery policies.
type Guard struct {
	issuer       Issuer
	dispatcher   notify.Dispatcher
	links        notify.Links
	logger       *slog.Logger
	exposeTokens bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithExposedTokens echoes issued tokens in Result.DebugToken.
// Config validation refuses it in production.
func WithExposedTokens(enabled bool) Option {
	return func(g *Guard) { g.exposeTokens = enabled }
}

// NewGuard creates a Guard.
func NewGuard(issuer Issuer, dispatcher notify.Dispatcher, links notify.Links, opts ...Option) (*Guard, error) {
	if issuer == nil {
		return nil, oops.Errorf("issuer is required")
	}
	if dispatcher == nil {
		return nil, oops.Errorf("dispatcher is required")
	}
	g := &Guard{
		issuer:     issuer,
		dispatcher: dispatcher,
		links:      links,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RequestPasswordReset issues a reset token for email and dispatches it if
// the account exists. The returned Result carries MessageResetRequested in
// both cases, and dispatch failures are logged rather than returned.
// Only repository failures, which occur regardless of account existence,
// produce an error.
func (g *Guard) RequestPasswordReset(ctx context.Context, email string) (Result, error) {
	result := Result{Message: MessageResetRequested}

	issued, err := g.issuer.IssueResetToken(ctx, email)
	if err != nil {
		if auth.IsNotFound(err) {
			g.logger.DebugContext(ctx, "password reset requested for unknown email")
			return result, nil
		}
		return Result{}, oops.With("operation", "issue reset token").Wrap(err)
	}

	g.dispatch(ctx, g.links.FromIssued(notify.KindPasswordReset, issued))
	if g.exposeTokens {
		result.DebugToken = issued.Token
	}
	return result, nil
}

// SendVerification issues a verification token for an authenticated user and
// dispatches it. Already-verified users get MessageAlreadyVerified and no
// new token.
func (g *Guard) SendVerification(ctx context.Context, userID ulid.ULID) (Result, error) {
	user, err := g.issuer.User(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if user.EmailVerified {
		return Result{Message: MessageAlreadyVerified}, nil
	}

	issued, err := g.issuer.IssueVerificationToken(ctx, userID)
	if err != nil {
		return Result{}, oops.
			With("operation", "issue verification token").
			With("user_id", userID.String()).
			Wrap(err)
	}

	g.dispatch(ctx, g.links.FromIssued(notify.KindEmailVerification, issued))
	result := Result{Message: MessageVerificationSent}
	if g.exposeTokens {
		result.DebugToken = issued.Token
	}
	return result, nil
}

func (g *Guard) dispatch(ctx context.Context, n notify.Notification) {
	if err := g.dispatcher.Dispatch(ctx, n); err != nil {
		errutil.Log(ctx, g.logger, slog.LevelError, "notification dispatch failed", err)
	}
}
