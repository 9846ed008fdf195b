// Copyright 2025 The repograph Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package fetch

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError means the origin refused the request because the client is
// over its quota. ResetAt is when the quota refreshes, zero when the origin
// did not say.
type RateLimitError struct {
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if !e.ResetAt.IsZero() {
		return fmt.Sprintf("origin rate limited, resets at %s", e.ResetAt.Format(time.RFC3339))
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("origin rate limited, retry after %s", e.RetryAfter)
	}
	return "origin rate limited"
}

// Delay returns how long to wait before retrying, preferring the origin's
// own guidance and falling back to fallback.
func (e *RateLimitError) Delay(fallback time.Duration) time.Duration {
	if e.RetryAfter > 0 {
		return e.RetryAfter
	}
	if !e.ResetAt.IsZero() {
		if d := time.Until(e.ResetAt); d > 0 {
			return d
		}
	}
	return fallback
}

// PermanentError means retrying the same request can never succeed, such as
// a missing file or revoked credentials.
type PermanentError struct {
	Status int
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent fetch failure (status %d): %s", e.Status, e.Reason)
}

// IsRateLimit reports whether err is or wraps a rate limit error.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsPermanent reports whether err is or wraps a permanent failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
