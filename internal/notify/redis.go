// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// DefaultStream is the outbox stream read by the mailer.
const DefaultStream = "snapwave:notifications"

// RedisDispatcher appends notifications to a Redis stream. A separate
// mailer process consumes the stream and sends the email.
type RedisDispatcher struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// RedisOption configures a RedisDispatcher.
type RedisOption func(*RedisDispatcher)

// WithStream overrides DefaultStream.
func WithStream(stream string) RedisOption {
	return func(d *RedisDispatcher) {
		if stream != "" {
			d.stream = stream
		}
	}
}

// WithMaxLen caps the stream length (approximate trimming). Zero disables trimming.
func WithMaxLen(n int64) RedisOption {
	return func(d *RedisDispatcher) { d.maxLen = n }
}

// NewRedisDispatcher creates a RedisDispatcher over client.
func NewRedisDispatcher(client redis.Cmdable, opts ...RedisOption) *RedisDispatcher {
	d := &RedisDispatcher{client: client, stream: DefaultStream, maxLen: 10000}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch XADDs n to the stream.
func (d *RedisDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if err := d.client.XAdd(ctx, d.args(n)).Err(); err != nil {
		return oops.Code("NOTIFY_REDIS_FAILED").
			With("stream", d.stream).
			With("kind", string(n.Kind)).
			Wrap(err)
	}
	return nil
}

func (d *RedisDispatcher) args(n Notification) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: d.stream,
		MaxLen: d.maxLen,
		Approx: d.maxLen > 0,
		Values: []any{
			"kind", string(n.Kind),
			"recipient", n.Recipient,
			"username", n.Username,
			"token", n.Token,
			"link", n.Link,
			"expires_at", n.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}
}

var _ Dispatcher = (*RedisDispatcher)(nil)
