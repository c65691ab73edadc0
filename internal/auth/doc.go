// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package auth is the SnapWave credential core: password hashing,
// authentication, and the lifecycle of single-use password-reset and
// email-verification tokens.
//
// # Domain Types
//
// Users should be created with NewUser, which validates email, username and
// password hash. Direct struct initialization bypasses validation.
//
// Token fields on User always hold a SHA-256 digest of the issued token
// together with a UTC expiry; the pair is set and cleared as one unit.
//
// # Services
//
// CredentialService coordinates every credential operation:
//   - Register - create an account
//   - Authenticate - check an email/username and password
//   - IssueResetToken, VerifyResetToken, ResetPassword - password reset
//   - IssueVerificationToken, VerifyEmail - email verification
//
// Storage is reached through UserRepository and Transactor; token consumption
// runs inside one transaction so a token can succeed at most once.
//
// The core never sends notifications and never decides what a remote caller
// may learn about account existence; see package recovery for that policy.
package auth
