// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

const argon2Prefix = "$argon2id$"

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted digest of the password. Two calls with the same
	// input produce different digests.
	Hash(password string) (string, error)

	// Verify checks if the password matches the digest.
	// Returns (true, nil) on match, (false, nil) on mismatch, or an
	// AUTH_CORRUPT_CREDENTIAL error when the digest cannot be parsed.
	Verify(password, digest string) (bool, error)

	// NeedsUpgrade returns true if the digest should be re-hashed with argon2id.
	NeedsUpgrade(digest string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id for new digests.
// Legacy bcrypt digests are still verified so accounts created before the
// migration keep working until their next successful login.
type Argon2idHasher struct{}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash produces an argon2id digest of the password in PHC string format.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks the password against an argon2id or bcrypt digest.
func (h *Argon2idHasher) Verify(password, digest string) (bool, error) {
	if isBcrypt(digest) {
		return verifyBcrypt(password, digest)
	}
	return verifyArgon2id(password, digest)
}

// NeedsUpgrade returns true if the digest is not argon2id (e.g., bcrypt).
func (h *Argon2idHasher) NeedsUpgrade(digest string) bool {
	return !strings.HasPrefix(digest, argon2Prefix)
}

// maxArgon2Memory bounds the m= parameter read from a stored digest, in KiB (4 GiB).
const maxArgon2Memory = 1 << 22

func verifyArgon2id(password, digest string) (bool, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 {
		return false, corrupt("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return false, corrupt("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, corrupt("invalid version segment")
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, corrupt("invalid parameter segment")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, corrupt("invalid salt encoding")
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, corrupt("invalid key encoding")
	}

	if version != argon2.Version {
		return false, corrupt("unsupported argon2 version %d", version)
	}

	if time == 0 {
		return false, corrupt("time value 0 out of range")
	}

	if memory == 0 || memory > maxArgon2Memory {
		return false, corrupt("memory value %d out of range", memory)
	}

	if threads == 0 || threads > 255 {
		return false, corrupt("threads value %d out of range", threads)
	}

	keyLen := len(expected)
	if keyLen == 0 || keyLen > 1<<30 {
		return false, corrupt("invalid hash key length: %d", keyLen)
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(keyLen))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func verifyBcrypt(password, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code(CodeCorruptCredential).
			With("algorithm", "bcrypt").
			Wrap(errors.Join(ErrCorruptCredential, err))
	}
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") ||
		strings.HasPrefix(digest, "$2b$") ||
		strings.HasPrefix(digest, "$2y$")
}

func corrupt(format string, args ...any) error {
	return oops.Code(CodeCorruptCredential).
		With("algorithm", "argon2id").
		Wrapf(ErrCorruptCredential, format, args...)
}
