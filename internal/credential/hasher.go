// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package credential

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicker/credsvc/internal/observability"
	"github.com/flicker/credsvc/internal/status"
)

// DefaultCost is the bcrypt work factor used when none is configured.
const DefaultCost = 10

// saltLen is the length of the "$2a$NN$" header plus the 22-character
// encoded salt at the start of every bcrypt hash.
const saltLen = 29

// maxInputLen is the longest input bcrypt accepts.
const maxInputLen = 72

// Result is a derived credential. Salt is the prefix of Hash that encodes
// the algorithm, cost and salt.
type Result struct {
	Hash string
	Salt string
}

// Hasher derives salted bcrypt hashes.
type Hasher struct {
	cost    int
	pool    *Pool
	metrics *observability.Metrics
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithHashMetrics records derivation time in m.
func WithHashMetrics(m *observability.Metrics) HasherOption {
	return func(h *Hasher) { h.metrics = m }
}

// NewHasher returns a Hasher at cost that runs on pool.
func NewHasher(cost int, pool *Pool, opts ...HasherOption) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code(status.ErrCodeConfigInvalid).
			With("cost", cost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if pool == nil {
		return nil, oops.Errorf("worker pool is required")
	}
	h := &Hasher{cost: cost, pool: pool}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Cost returns the configured work factor.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash derives a hash of plaintext under a fresh random salt.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (Result, error) {
	if plaintext == "" {
		return Result{}, oops.Code(status.ErrCodeCredentialEmpty).Errorf("credential is empty")
	}
	if len(plaintext) > maxInputLen {
		return Result{}, oops.Code(status.ErrCodeCredentialTooLong).
			With("length", len(plaintext)).
			Errorf("credential exceeds %d bytes", maxInputLen)
	}

	var (
		hash []byte
		err  error
	)
	start := time.Now()
	if poolErr := h.pool.Do(ctx, func() {
		hash, err = bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	}); poolErr != nil {
		return Result{}, oops.Code(status.ErrCodeHashFailed).Wrapf(poolErr, "wait for hash worker")
	}
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return Result{}, oops.Code(status.ErrCodeCredentialTooLong).Wrap(err)
		}
		return Result{}, oops.Code(status.ErrCodeHashFailed).With("cost", h.cost).Wrapf(err, "derive hash")
	}
	h.metrics.ObserveHash(time.Since(start))

	encoded := string(hash)
	return Result{Hash: encoded, Salt: encoded[:saltLen]}, nil
}
