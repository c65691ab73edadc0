// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package notify

import (
	"context"
	"log/slog"
)

// LogDispatcher writes notifications to a logger instead of sending them.
// It is the development driver: the link it logs is a live credential.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a LogDispatcher. A nil logger uses slog.Default.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

// Dispatch logs n at info level.
func (d *LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.logger.InfoContext(ctx, "notification (not sent, log driver)",
		"notification", n,
		"username", n.Username,
		"link", n.Link,
	)
	return nil
}

var _ Dispatcher = (*LogDispatcher)(nil)
