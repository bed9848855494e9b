// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package credential

import (
	"context"
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/flicker/credsvc/internal/status"
)

// Verifier checks candidates against stored bcrypt hashes.
type Verifier struct {
	pool *Pool
}

// NewVerifier returns a Verifier that runs on pool.
func NewVerifier(pool *Pool) (*Verifier, error) {
	if pool == nil {
		return nil, oops.Errorf("worker pool is required")
	}
	return &Verifier{pool: pool}, nil
}

// Verify reports whether candidate matches storedHash. A mismatch is
// (false, nil); a malformed hash is an error.
func (v *Verifier) Verify(ctx context.Context, candidate, storedHash string) (bool, error) {
	return v.compare(ctx, "verify", candidate, storedHash)
}

// AuthenticateReset checks the credential presented during a password reset
// against the stored hash.
func (v *Verifier) AuthenticateReset(ctx context.Context, presented, storedHash string) (bool, error) {
	return v.compare(ctx, "authenticate_reset", presented, storedHash)
}

func (v *Verifier) compare(ctx context.Context, op, candidate, storedHash string) (bool, error) {
	if candidate == "" || storedHash == "" {
		return false, oops.Code(status.ErrCodeInvalidParams).
			With("operation", op).
			Errorf("candidate and stored hash are required")
	}

	var err error
	if poolErr := v.pool.Do(ctx, func() {
		err = bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(candidate))
	}); poolErr != nil {
		return false, oops.Code(status.ErrCodeVerifyFailed).
			With("operation", op).
			Wrapf(poolErr, "wait for hash worker")
	}

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, oops.Code(status.ErrCodeCredentialTooLong).With("operation", op).Wrap(err)
	default:
		return false, oops.Code(status.ErrCodeHashInvalid).
			With("operation", op).
			Wrapf(err, "stored hash is not a valid bcrypt hash")
	}
}
