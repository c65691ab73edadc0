// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

// Package errutil holds helpers for logging and inspecting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. See Log.
func LogError(logger *slog.Logger, msg string, err error) {
	Log(context.Background(), logger, slog.LevelError, msg, err)
}

// Log logs err at level. For oops errors the code and context are logged as
// separate attributes; other errors are logged as their string.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.Log(ctx, level, msg, "error", err)
		return
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if c := oopsErr.Context(); len(c) > 0 {
		attrs = append(attrs, "context", c)
	}
	logger.Log(ctx, level, msg, attrs...)
}

// Code returns the oops code carried by err, or "" when there is none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}
