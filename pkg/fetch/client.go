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
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// FileRequest identifies one file to retrieve.
type FileRequest struct {
	Owner string
	Repo  string
	Path  string
	Token string
}

// Client retrieves file contents from an origin.
type Client interface {
	FetchFile(ctx context.Context, req FileRequest) ([]byte, error)
}

// maxBodyBytes caps response reads independently of the contract soft
// limit, guarding against an origin that ignores size hints.
const maxBodyBytes = 16 * 1024 * 1024

// HTTPClient fetches raw file contents over a GitHub-style contents API:
// GET {base}/repos/{owner}/{repo}/contents/{path} with a raw Accept header.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a client against the given API base URL.
func NewHTTPClient(baseURL string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// FetchFile retrieves one file. Responses are classified into the package
// error taxonomy; callers decide policy, this method only reports.
func (c *HTTPClient) FetchFile(ctx context.Context, req FileRequest) ([]byte, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.baseURL, url.PathEscape(req.Owner), url.PathEscape(req.Repo), escapePath(req.Path))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request for %s: %w", req.Path, err)
	}
	httpReq.Header.Set("Accept", "application/vnd.github.raw+json")
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", req.Path, err)
		}
		return body, nil

	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		// 403 is also plain permission denial; only the presence of
		// quota headers makes it a rate limit.
		if rl := rateLimitFromHeaders(resp.Header); rl != nil {
			c.logger.Warn("fetch.rate_limited",
				"path", req.Path,
				"status", resp.StatusCode,
				"reset_at", rl.ResetAt,
			)
			return nil, rl
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitError{}
		}
		return nil, &PermanentError{Status: resp.StatusCode, Reason: "access denied"}

	case resp.StatusCode == http.StatusNotFound:
		return nil, &PermanentError{Status: resp.StatusCode, Reason: "file not found at origin"}

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &PermanentError{Status: resp.StatusCode, Reason: "credentials rejected"}

	default:
		return nil, fmt.Errorf("fetch %s: origin returned status %d", req.Path, resp.StatusCode)
	}
}

// rateLimitFromHeaders builds a RateLimitError from Retry-After or
// X-RateLimit-Reset, returning nil when neither is present.
func rateLimitFromHeaders(h http.Header) *RateLimitError {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return &RateLimitError{RetryAfter: time.Duration(secs) * time.Second}
		}
	}
	if remaining := h.Get("X-RateLimit-Remaining"); remaining == "0" {
		rl := &RateLimitError{}
		if v := h.Get("X-RateLimit-Reset"); v != "" {
			if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
				rl.ResetAt = time.Unix(epoch, 0).UTC()
			}
		}
		return rl
	}
	return nil
}

// escapePath escapes each path segment while keeping separators.
func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
