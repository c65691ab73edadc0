// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/snapwave/snapwave/internal/accesstoken"
	"github.com/snapwave/snapwave/internal/auth"
	"github.com/snapwave/snapwave/pkg/errutil"
)

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	FullName      string    `json:"full_name,omitempty"`
	IsActive      bool      `json:"is_active"`
	IsSuperuser   bool      `json:"is_superuser"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		Username:      u.Username,
		FullName:      u.FullName,
		IsActive:      u.IsActive,
		IsSuperuser:   u.IsSuperuser,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

type messageResponse struct {
	Message    string `json:"message"`
	DebugToken string `json:"debug_token,omitempty"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=20"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"max=100"`
}

type registerResponse struct {
	userResponse
	DebugToken string `json:"debug_token,omitempty"`
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}

	user, err := a.creds.Register(r.Context(), auth.RegisterParams{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := registerResponse{userResponse: newUserResponse(user)}
	// The account exists at this point; a failed verification send is
	// recoverable through /verify-email/resend.
	result, err := a.recovery.SendVerification(r.Context(), user.ID)
	if err != nil {
		errutil.LogError(a.logger, "verification after registration failed", err)
	} else {
		resp.DebugToken = result.DebugToken
	}
	writeJSON(w, http.StatusCreated, resp)
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}

	user, err := a.creds.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	token, err := a.tokens.Sign(user.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token, TokenType: accesstoken.TokenType})
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (a *api) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !a.decode(w, r, &req) {
		return
	}

	result, err := a.recovery.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: result.Message, DebugToken: result.DebugToken})
}

type resetVerifyResponse struct {
	Valid bool   `json:"valid"`
	Email string `json:"email"`
}

func (a *api) handleResetVerify(w http.ResponseWriter, r *http.Request) {
	user, err := a.creds.VerifyResetToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resetVerifyResponse{Valid: true, Email: user.Email})
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (a *api) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decode(w, r, &req) {
		return
	}

	if _, err := a.creds.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password has been reset successfully."})
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

func (a *api) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !a.decode(w, r, &req) {
		return
	}

	if _, err := a.creds.VerifyEmail(r.Context(), req.Token); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Email address verified."})
}

func (a *api) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	result, err := a.recovery.SendVerification(r.Context(), user.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: result.Message, DebugToken: result.DebugToken})
}

func (a *api) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newUserResponse(userFromContext(r.Context())))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

func (a *api) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !a.decode(w, r, &req) {
		return
	}

	user := userFromContext(r.Context())
	if _, err := a.creds.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password has been changed successfully."})
}

type userKey struct{}

func userFromContext(ctx context.Context) *auth.User {
	user, _ := ctx.Value(userKey{}).(*auth.User) //nolint:errcheck // set by requireUser
	return user
}

// requireUser resolves the bearer token to an active user.
func (a *api) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			a.unauthorized(w)
			return
		}
		claims, err := a.tokens.Verify(raw)
		if err != nil {
			a.logger.DebugContext(r.Context(), "bearer token rejected", "error", err)
			a.unauthorized(w)
			return
		}

		user, err := a.creds.User(r.Context(), claims.UserID)
		if err != nil {
			if auth.IsNotFound(err) {
				a.unauthorized(w)
				return
			}
			a.writeError(w, r, err)
			return
		}
		if !user.IsActive {
			writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INACTIVE_USER", Message: "Inactive user"})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}
