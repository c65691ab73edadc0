// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package accesstoken signs and verifies the bearer tokens handed out after a
// successful login. Tokens are HS256 JWTs whose subject is the user ULID.
package accesstoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/snapwave/snapwave/internal/auth"
)

// TokenType is the OAuth2 token_type returned with every access token.
const TokenType = "bearer"

// MinSecretLength is the shortest HMAC secret NewSigner accepts.
const MinSecretLength = 32

// ErrInvalid is wrapped by every verification failure.
var ErrInvalid = errors.New("access token invalid")

// Claims are the verified contents of an access token.
type Claims struct {
	UserID    ulid.ULID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer issues and verifies access tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	clock  auth.Clock
	method jwt.SigningMethod
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock replaces the system clock.
func WithClock(c auth.Clock) Option {
	return func(s *Signer) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewSigner creates a Signer.
func NewSigner(secret string, ttl time.Duration, issuer string, opts ...Option) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("ACCESS_TOKEN_SECRET_WEAK").
			With("min_length", MinSecretLength).
			Errorf("access token secret is too short")
	}
	if ttl <= 0 {
		return nil, oops.Code("ACCESS_TOKEN_TTL_INVALID").With("ttl", ttl.String()).Errorf("ttl must be positive")
	}
	s := &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		clock:  auth.SystemClock{},
		method: jwt.SigningMethodHS256,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns how long issued tokens stay valid.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Sign returns a token for userID.
func (s *Signer) Sign(userID ulid.ULID) (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", oops.Code("ACCESS_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify checks the signature, algorithm, issuer and expiry of token.
func (s *Signer) Verify(token string) (*Claims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, oops.Code("ACCESS_TOKEN_INVALID").With("reason", reason(err)).Wrap(errors.Join(ErrInvalid, err))
	}

	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, oops.Code("ACCESS_TOKEN_INVALID").With("reason", "subject").Wrap(errors.Join(ErrInvalid, err))
	}

	out := &Claims{UserID: id}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.UTC()
	}
	return out, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	default:
		return "other"
	}
}
