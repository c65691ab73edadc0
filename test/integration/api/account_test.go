// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

//go:build integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/snapwave/snapwave/internal/auth"
	"github.com/snapwave/snapwave/internal/notify"
	"github.com/snapwave/snapwave/internal/recovery"
)

func call(method, path, bearer string, body any) (int, map[string]any) {
	GinkgoHelper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, env.server.URL+path, rd)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := env.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	if len(raw) > 0 {
		Expect(json.Unmarshal(raw, &out)).To(Succeed(), string(raw))
	}
	return resp.StatusCode, out
}

// awaitNotification polls the outbox stream for the n-th message of kind.
func awaitNotification(kind notify.Kind, n int) map[string]any {
	GinkgoHelper()
	var found map[string]any
	Eventually(func() int {
		msgs, err := env.rdb.XRange(env.ctx, stream, "-", "+").Result()
		Expect(err).NotTo(HaveOccurred())
		count := 0
		for _, m := range msgs {
			if m.Values["kind"] == string(kind) {
				count++
				if count == n {
					found = m.Values
				}
			}
		}
		return count
	}).WithTimeout(5 * time.Second).Should(BeNumerically(">=", n))
	return found
}

func register(email, username, password string) {
	GinkgoHelper()
	status, body := call(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": email, "username": username, "password": password,
	})
	Expect(status).To(Equal(http.StatusCreated), "%v", body)
}

func login(identifier, password string) string {
	GinkgoHelper()
	status, body := call(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"identifier": identifier, "password": password,
	})
	Expect(status).To(Equal(http.StatusOK), "%v", body)
	return body["access_token"].(string)
}

var _ = Describe("Account lifecycle", func() {
	Describe("registration and email verification", func() {
		It("queues a verification link and verifies the address", func() {
			register("alice@example.com", "alice", "correct-horse")

			msg := awaitNotification(notify.KindEmailVerification, 1)
			Expect(msg["recipient"]).To(Equal("alice@example.com"))
			Expect(msg["link"]).To(HavePrefix("https://app.example.com/verify-email?token="))
			token := msg["token"].(string)

			status, body := call(http.MethodPost, "/api/v1/auth/verify-email", "", map[string]string{"token": token})
			Expect(status).To(Equal(http.StatusOK), "%v", body)

			bearer := login("alice@example.com", "correct-horse")
			status, me := call(http.MethodGet, "/api/v1/auth/me", bearer, nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(me["email_verified"]).To(BeTrue())

			status, body = call(http.MethodPost, "/api/v1/auth/verify-email", "", map[string]string{"token": token})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body["code"]).To(Equal(auth.CodeTokenInvalid))
		})

		It("rejects a duplicate email", func() {
			register("bob@example.com", "bob", "correct-horse")
			status, body := call(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
				"email": "bob@example.com", "username": "bobby", "password": "correct-horse",
			})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body["code"]).To(Equal(auth.CodeEmailTaken))
		})
	})

	Describe("password reset", func() {
		It("answers identically for unknown emails and resets known accounts", func() {
			register("carol@example.com", "carol", "correct-horse")

			status, known := call(http.MethodPost, "/api/v1/auth/password-reset/request", "",
				map[string]string{"email": "carol@example.com"})
			Expect(status).To(Equal(http.StatusAccepted))
			_, unknown := call(http.MethodPost, "/api/v1/auth/password-reset/request", "",
				map[string]string{"email": "nobody@example.com"})
			Expect(unknown).To(Equal(known))
			Expect(known["message"]).To(Equal(recovery.MessageResetRequested))

			token := awaitNotification(notify.KindPasswordReset, 1)["token"].(string)

			status, body := call(http.MethodGet, "/api/v1/auth/password-reset/verify?token="+token, "", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(body["email"]).To(Equal("carol@example.com"))

			status, _ = call(http.MethodPost, "/api/v1/auth/password-reset", "",
				map[string]string{"token": token, "new_password": "battery-staple"})
			Expect(status).To(Equal(http.StatusOK))

			login("carol", "battery-staple")
			status, _ = call(http.MethodPost, "/api/v1/auth/login", "",
				map[string]string{"identifier": "carol", "password": "correct-horse"})
			Expect(status).To(Equal(http.StatusUnauthorized))
		})

		It("invalidates the previous token when a new one is issued", func() {
			register("dave@example.com", "dave", "correct-horse")
			call(http.MethodPost, "/api/v1/auth/password-reset/request", "",
				map[string]string{"email": "dave@example.com"})
			first := awaitNotification(notify.KindPasswordReset, 1)["token"].(string)
			call(http.MethodPost, "/api/v1/auth/password-reset/request", "",
				map[string]string{"email": "dave@example.com"})
			second := awaitNotification(notify.KindPasswordReset, 2)["token"].(string)
			Expect(first).NotTo(Equal(second))

			status, _ := call(http.MethodGet, "/api/v1/auth/password-reset/verify?token="+first, "", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
			status, _ = call(http.MethodGet, "/api/v1/auth/password-reset/verify?token="+second, "", nil)
			Expect(status).To(Equal(http.StatusOK))
		})
	})

	Describe("login", func() {
		It("gives the same answer for a wrong password and an unknown account", func() {
			register("erin@example.com", "erin", "correct-horse")
			_, wrong := call(http.MethodPost, "/api/v1/auth/login", "",
				map[string]string{"identifier": "erin", "password": "wrong-horse"})
			status, missing := call(http.MethodPost, "/api/v1/auth/login", "",
				map[string]string{"identifier": "ghost", "password": "wrong-horse"})
			Expect(status).To(Equal(http.StatusUnauthorized))
			Expect(missing).To(Equal(wrong))
		})
	})
})
