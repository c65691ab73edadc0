// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/snapwave/snapwave/internal/auth"
	"github.com/snapwave/snapwave/pkg/errutil"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

var errInternal = errorResponse{Code: "INTERNAL", Message: "internal server error"}

// Fixed client messages. Anything not listed is a 500.
var clientErrors = map[string]struct {
	status  int
	message string
}{
	auth.CodeInvalidCredentials: {http.StatusUnauthorized, "Incorrect username or password"},
	auth.CodeTokenInvalid:       {http.StatusBadRequest, "Invalid or expired token"},
	auth.CodeEmailTaken:         {http.StatusBadRequest, "Email already registered"},
	auth.CodeUsernameTaken:      {http.StatusBadRequest, "Username already taken"},
	auth.CodeInvalidEmail:       {http.StatusBadRequest, ""},
	auth.CodeInvalidUsername:    {http.StatusBadRequest, ""},
	auth.CodeInvalidPassword:    {http.StatusBadRequest, ""},
	auth.CodeIncorrectPassword:  {http.StatusBadRequest, "Current password is incorrect"},
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errchkjson,errcheck // client may have gone away
	json.NewEncoder(w).Encode(body)
}

// writeError maps err to a status and a fixed message. Unexpected errors
// are logged with their oops context and reported as 500.
func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	if ce, ok := clientErrors[code]; ok {
		msg := ce.message
		if msg == "" {
			msg = publicMessage(err)
		}
		if ce.status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		writeJSON(w, ce.status, errorResponse{Code: code, Message: msg})
		return
	}

	errutil.Log(r.Context(), a.logger.With("request_id", middleware.GetReqID(r.Context())),
		slog.LevelError, "request failed", err)
	writeJSON(w, http.StatusInternalServerError, errInternal)
}

// publicMessage is the message of the innermost oops error, which for
// validation errors is the human-readable rule.
func publicMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Error()
	}
	return err.Error()
}

func (a *api) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Code:    "UNAUTHORIZED",
		Message: "Could not validate credentials",
	})
}

// decode reads a JSON body into dst and validates it. On failure it writes
// the 400 response and returns false.
func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "request body must be a JSON object"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = "request body too large"
		} else if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: msg})
		return false
	}
	if fields := a.validate.fields(dst); fields != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "VALIDATION_FAILED",
			Message: "request validation failed",
			Fields:  fields,
		})
		return false
	}
	return true
}
