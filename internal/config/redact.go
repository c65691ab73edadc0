// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package config

import "net/url"

// redactURL masks the password of a connection URL. Unparseable values are
// masked entirely.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "********"
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
