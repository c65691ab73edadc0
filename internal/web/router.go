// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package web serves the account HTTP API under /api/v1/auth.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/snapwave/snapwave/internal/accesstoken"
	"github.com/snapwave/snapwave/internal/auth"
	"github.com/snapwave/snapwave/internal/recovery"
)

// Credentials is the part of auth.CredentialService the API calls.
type Credentials interface {
	Register(ctx context.Context, params auth.RegisterParams) (*auth.User, error)
	Authenticate(ctx context.Context, identifier, password string) (*auth.User, error)
	User(ctx context.Context, id ulid.ULID) (*auth.User, error)
	VerifyResetToken(ctx context.Context, token string) (*auth.User, error)
	ResetPassword(ctx context.Context, token, newPassword string) (*auth.User, error)
	VerifyEmail(ctx context.Context, token string) (*auth.User, error)
	ChangePassword(ctx context.Context, userID ulid.ULID, current, newPassword string) (*auth.User, error)
}

// Recovery is the part of recovery.Guard the API calls.
type Recovery interface {
	RequestPasswordReset(ctx context.Context, email string) (recovery.Result, error)
	SendVerification(ctx context.Context, userID ulid.ULID) (recovery.Result, error)
}

// Tokens signs and verifies bearer access tokens.
type Tokens interface {
	Sign(userID ulid.ULID) (string, error)
	Verify(token string) (*accesstoken.Claims, error)
}

// Recorder counts HTTP requests.
type Recorder interface {
	RecordRequest(method, route string, status int, seconds float64)
}

type noopRecorder struct{}

func (noopRecorder) RecordRequest(string, string, int, float64) {}

// Deps are the collaborators of the API.
type Deps struct {
	Credentials Credentials
	Recovery    Recovery
	Tokens      Tokens
	Logger      *slog.Logger
	Recorder    Recorder
}

type api struct {
	creds    Credentials
	recovery Recovery
	tokens   Tokens
	logger   *slog.Logger
	validate *validate
}

// NewRouter builds the API handler.
func NewRouter(deps Deps) (http.Handler, error) {
	if deps.Credentials == nil || deps.Recovery == nil || deps.Tokens == nil {
		return nil, oops.Errorf("credentials, recovery and tokens are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}

	a := &api{
		creds:    deps.Credentials,
		recovery: deps.Recovery,
		tokens:   deps.Tokens,
		logger:   deps.Logger,
		validate: newValidate(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(instrument(deps.Recorder))
	r.Use(recoverer(deps.Logger))

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Post("/password-reset/request", a.handleResetRequest)
		r.Get("/password-reset/verify", a.handleResetVerify)
		r.Post("/password-reset", a.handleResetPassword)
		r.Post("/verify-email", a.handleVerifyEmail)

		r.Group(func(r chi.Router) {
			r.Use(a.requireUser)
			r.Post("/verify-email/resend", a.handleResendVerification)
			r.Get("/me", a.handleMe)
			r.Put("/me/password", a.handleChangePassword)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})
	return r, nil
}

// instrument records one observation per request, labelled with the chi
// route pattern rather than the raw path.
func instrument(rec Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			rec.RecordRequest(r.Method, route, status, time.Since(start).Seconds())
		})
	}
}

func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.ErrorContext(r.Context(), "handler panic",
						"panic", v,
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", middleware.GetReqID(r.Context()),
					)
					writeJSON(w, http.StatusInternalServerError, errInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
