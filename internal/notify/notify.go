// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package notify delivers password-reset and email-verification messages.
//
// The credential core never sends anything itself. Callers build a
// Notification from an auth.IssuedToken and hand it to a Dispatcher.
package notify

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/snapwave/snapwave/internal/auth"
)

// Kind selects the message template.
type Kind string

// Notification kinds.
const (
	KindPasswordReset     Kind = Kind(auth.TokenKindReset)
	KindEmailVerification Kind = Kind(auth.TokenKindVerification)
)

// Delivery statuses passed to Recorder.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
)

// Notification is one message to one recipient.
type Notification struct {
	Recipient string
	Username  string
	Token     string
	Kind      Kind
	ExpiresAt time.Time
	Link      string
}

// LogValue leaves the token and link out of logs.
func (n Notification) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(n.Kind)),
		slog.String("recipient", n.Recipient),
		slog.Time("expires_at", n.ExpiresAt),
	)
}

// Dispatcher sends notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Recorder counts dispatch outcomes.
type Recorder interface {
	RecordNotification(kind, status string)
}

// Links builds the frontend URLs embedded in notifications.
type Links struct {
	base string
}

// NewLinks validates frontendURL and returns a Links for it.
func NewLinks(frontendURL string) (Links, error) {
	u, err := url.Parse(frontendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Links{}, oops.Code("NOTIFY_FRONTEND_URL_INVALID").
			With("frontend_url", frontendURL).
			Errorf("frontend url must be absolute")
	}
	return Links{base: strings.TrimRight(frontendURL, "/")}, nil
}

// For returns the link for kind carrying token.
func (l Links) For(kind Kind, token string) string {
	path := "/verify-email"
	if kind == KindPasswordReset {
		path = "/reset-password"
	}
	return l.base + path + "?token=" + url.QueryEscape(token)
}

// FromIssued builds the notification for a freshly issued token.
func (l Links) FromIssued(kind Kind, issued *auth.IssuedToken) Notification {
	return Notification{
		Recipient: issued.Email,
		Username:  issued.Username,
		Token:     issued.Token,
		Kind:      kind,
		ExpiresAt: issued.ExpiresAt,
		Link:      l.For(kind, issued.Token),
	}
}
