// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package authtest provides deterministic clocks, token generators and a
// fast password hasher for tests.
package authtest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/snapwave/snapwave/internal/auth"
)

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock fixed at start (converted to UTC).
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// Now returns the current fixed time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// SequenceTokens yields "<prefix>-1", "<prefix>-2", ... so tests can predict
// token values.
type SequenceTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceTokens creates a SequenceTokens generator.
func NewSequenceTokens(prefix string) *SequenceTokens {
	return &SequenceTokens{prefix: prefix}
}

// Generate returns the next token in the sequence.
func (g *SequenceTokens) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n), nil
}

const insecurePrefix = "insecure$"

// InsecureHasher stores passwords reversibly. It exists so tests can hash
// many passwords without argon2id's memory cost.
type InsecureHasher struct{}

// Hash returns the password behind a marker prefix.
func (InsecureHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", auth.ErrEmptyPassword
	}
	return insecurePrefix + password, nil
}

// Verify compares password with the stored value. Digests without the
// marker prefix are reported as corrupt.
func (InsecureHasher) Verify(password, digest string) (bool, error) {
	stored, ok := strings.CutPrefix(digest, insecurePrefix)
	if !ok {
		return false, oops.Code(auth.CodeCorruptCredential).Wrapf(auth.ErrCorruptCredential, "not an insecure digest")
	}
	return stored == password, nil
}

// NeedsUpgrade always returns false.
func (InsecureHasher) NeedsUpgrade(string) bool { return false }

var _ auth.PasswordHasher = InsecureHasher{}

var (
	_ auth.Clock          = (*ManualClock)(nil)
	_ auth.TokenGenerator = (*SequenceTokens)(nil)
)
