// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/snapwave/snapwave/internal/auth"
)

// Metrics holds the SnapWave counters. It implements auth.Recorder and the
// recorder interfaces of the notify and web packages.
type Metrics struct {
	Authentications    *prometheus.CounterVec
	TokensIssued       *prometheus.CounterVec
	TokensConsumed     *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPRequestSeconds *prometheus.HistogramVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Authentications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapwave_authentications_total",
				Help: "Authentication attempts by outcome",
			},
			[]string{"outcome"},
		),
		TokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapwave_tokens_issued_total",
				Help: "Reset and verification tokens issued by kind",
			},
			[]string{"kind"},
		),
		TokensConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapwave_tokens_consumed_total",
				Help: "Token consumption attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapwave_notifications_total",
				Help: "Notifications dispatched by kind and status",
			},
			[]string{"kind", "status"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapwave_http_requests_total",
				Help: "HTTP API requests by route and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snapwave_http_request_duration_seconds",
				Help:    "HTTP API request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.Authentications,
		m.TokensIssued,
		m.TokensConsumed,
		m.Notifications,
		m.HTTPRequests,
		m.HTTPRequestSeconds,
	)
	return m
}

// RecordAuthentication counts an Authenticate call.
func (m *Metrics) RecordAuthentication(outcome string) {
	m.Authentications.WithLabelValues(outcome).Inc()
}

// RecordTokenIssued counts an issued token.
func (m *Metrics) RecordTokenIssued(kind auth.TokenKind) {
	m.TokensIssued.WithLabelValues(string(kind)).Inc()
}

// RecordTokenConsumed counts a ResetPassword or VerifyEmail call.
func (m *Metrics) RecordTokenConsumed(kind auth.TokenKind, outcome string) {
	m.TokensConsumed.WithLabelValues(string(kind), outcome).Inc()
}

// RecordNotification counts a dispatched notification.
func (m *Metrics) RecordNotification(kind, status string) {
	m.Notifications.WithLabelValues(kind, status).Inc()
}

// RecordRequest counts one HTTP request. route is the matched pattern,
// never the raw path, so tokens in query strings stay out of labels.
func (m *Metrics) RecordRequest(method, route string, status int, seconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestSeconds.WithLabelValues(method, route).Observe(seconds)
}

var _ auth.Recorder = (*Metrics)(nil)
