// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SnapWave Contributors

package auth

import "time"

// Clock supplies the current time. Implementations must return UTC.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
