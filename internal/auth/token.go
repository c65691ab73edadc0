// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// Token configuration.
const (
	TokenBytes           = 32 // 256 bits of entropy
	ResetTokenTTL        = 24 * time.Hour
	VerificationTokenTTL = 72 * time.Hour
)

// TokenKind names the flow a single-use token belongs to.
type TokenKind string

// Token kinds.
const (
	TokenKindReset        TokenKind = "password_reset"
	TokenKindVerification TokenKind = "email_verification"
)

// TokenGenerator produces unguessable single-use token values.
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokenGenerator draws tokens from crypto/rand.
type RandomTokenGenerator struct{}

// NewRandomTokenGenerator creates a RandomTokenGenerator.
func NewRandomTokenGenerator() *RandomTokenGenerator {
	return &RandomTokenGenerator{}
}

// Generate returns 32 random bytes encoded as unpadded base64url.
func (g *RandomTokenGenerator) Generate() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DigestToken returns the value stored for a token: the hex SHA-256 of the
// plaintext. The plaintext never reaches storage, so a leaked users table
// cannot be replayed against the reset or verification endpoints.
func DigestToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IssuedToken is the result of a successful issuance.
type IssuedToken struct {
	UserID    string
	Email     string
	Username  string
	Token     string
	ExpiresAt time.Time
}
