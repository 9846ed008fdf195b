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
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CredentialResolver maps a user id to an origin access token.
type CredentialResolver interface {
	Token(ctx context.Context, userID string) (string, error)
}

// EnvResolver returns one shared token from the environment, the standalone
// single-user setup.
type EnvResolver struct {
	// Var is the environment variable name, REPOGRAPH_ORIGIN_TOKEN by
	// default.
	Var string
}

func (r *EnvResolver) Token(_ context.Context, _ string) (string, error) {
	name := r.Var
	if name == "" {
		name = "REPOGRAPH_ORIGIN_TOKEN"
	}
	return os.Getenv(name), nil
}

// CachingResolver memoizes another resolver with a bounded LRU so a burst
// of jobs for one user costs a single upstream lookup.
type CachingResolver struct {
	inner CredentialResolver
	cache *lru.Cache[string, string]
}

// NewCachingResolver wraps inner with a cache of at most size entries.
func NewCachingResolver(inner CredentialResolver, size int) (*CachingResolver, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create credential cache: %w", err)
	}
	return &CachingResolver{inner: inner, cache: cache}, nil
}

func (r *CachingResolver) Token(ctx context.Context, userID string) (string, error) {
	if token, ok := r.cache.Get(userID); ok {
		return token, nil
	}
	token, err := r.inner.Token(ctx, userID)
	if err != nil {
		return "", err
	}
	r.cache.Add(userID, token)
	return token, nil
}

// Invalidate drops a user's cached token, used after the origin rejects it.
func (r *CachingResolver) Invalidate(userID string) {
	r.cache.Remove(userID)
}
