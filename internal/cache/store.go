// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

// Package cache provides the TTL key/value store that holds verification
// records.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is a key/value store with per-key expiry.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// SetIfAbsent stores value with ttl only when key is absent.
	// It reports whether the value was stored.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Set stores value with ttl, replacing any existing value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes key only while it still holds value.
	// It reports whether the key was removed.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// Close releases the underlying connection.
	Close() error
}
