// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

// Package verification issues and consumes one-time email verification codes.
//
// At most one live code exists per address. A per-address lock taken with
// an atomic set-if-absent admits one issuer at a time, and the code is
// stored only once its email has been sent, so a failed send leaves no code
// behind and concurrent callers never receive a code that was not mailed.
package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/flicker/credsvc/internal/cache"
	"github.com/flicker/credsvc/internal/mail"
	"github.com/flicker/credsvc/internal/observability"
	"github.com/flicker/credsvc/internal/status"
	"github.com/flicker/credsvc/pkg/errutil"
)

// Defaults for issued codes.
const (
	DefaultKeyPrefix = "verification_code_"
	DefaultTTL       = 300 * time.Second
	DefaultSubject   = "Flicker verification code"
)

// DefaultLockTTL bounds how long one caller may hold the issue lock for an
// address. The email send gets half of it.
const DefaultLockTTL = 30 * time.Second

const (
	lockPrefix      = "lock:"
	issueAttempts   = 3
	cleanupTimeout  = 5 * time.Second
	pollInterval    = 10 * time.Millisecond
	maxPollInterval = 200 * time.Millisecond
)

var (
	errIssuePending   = errors.New("verification code issue in progress")
	errIssueAbandoned = errors.New("verification code issue abandoned")
)

// Issuer issues verification codes and checks them on consumption.
type Issuer struct {
	store    cache.Store
	mailer   mail.Dispatcher
	logger   *slog.Logger
	metrics  *observability.Metrics
	prefix   string
	ttl      time.Duration
	lockTTL  time.Duration
	subject  string
	generate func() (string, error)
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithKeyPrefix sets the cache key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(i *Issuer) { i.prefix = prefix }
}

// WithTTL sets how long an issued code stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) { i.ttl = ttl }
}

// WithLockTTL sets how long a caller may hold the issue lock.
func WithLockTTL(ttl time.Duration) Option {
	return func(i *Issuer) { i.lockTTL = ttl }
}

// WithSubject sets the email subject line.
func WithSubject(subject string) Option {
	return func(i *Issuer) { i.subject = subject }
}

// WithMetrics records issuance outcomes in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(i *Issuer) { i.metrics = m }
}

// NewIssuer creates an Issuer over store and mailer.
func NewIssuer(store cache.Store, mailer mail.Dispatcher, logger *slog.Logger, opts ...Option) (*Issuer, error) {
	if store == nil {
		return nil, oops.Errorf("cache store is required")
	}
	if mailer == nil {
		return nil, oops.Errorf("mail dispatcher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	i := &Issuer{
		store:    store,
		mailer:   mailer,
		logger:   logger,
		prefix:   DefaultKeyPrefix,
		ttl:      DefaultTTL,
		lockTTL:  DefaultLockTTL,
		subject:  DefaultSubject,
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.prefix == "" {
		return nil, oops.Errorf("key prefix must not be empty")
	}
	if i.ttl <= 0 {
		return nil, oops.With("ttl", i.ttl).Errorf("ttl must be positive")
	}
	if i.lockTTL <= 0 {
		return nil, oops.With("lock_ttl", i.lockTTL).Errorf("lock ttl must be positive")
	}
	return i, nil
}

// Key returns the cache key holding the code for address.
func (i *Issuer) Key(address string) string {
	return i.prefix + address
}

// IssueCode returns the live code for address, issuing and emailing a new
// one when none exists. requestType is carried for logging only.
//
// Issuers for one address are serialized by a lock key. The code record is
// written only after the email has been sent, so every code a caller sees
// is one that was delivered. Callers that find the lock held wait for the
// holder to finish and share its code, or take over if it gave up.
func (i *Issuer) IssueCode(ctx context.Context, address string, requestType int32) (string, error) {
	if strings.TrimSpace(address) == "" {
		i.metrics.CodeIssued("invalid")
		return "", oops.Code(status.ErrCodeInvalidParams).Errorf("address is required")
	}
	key := i.Key(address)
	lockKey := i.lockKey(address)
	logger := i.logger.With("address", address, "request_type", requestType)

	for range issueAttempts {
		existing, err := i.live(ctx, key)
		if err != nil {
			i.metrics.CodeIssued("cache_error")
			return "", oops.With("address", address).Wrapf(err, "read existing verification code")
		}
		if existing != "" {
			i.metrics.CodeIssued("existing")
			logger.InfoContext(ctx, "reusing live verification code")
			return existing, nil
		}

		token, err := i.generate()
		if err != nil {
			i.metrics.CodeIssued("internal_error")
			return "", err
		}
		acquired, err := i.store.SetIfAbsent(ctx, lockKey, token, i.lockTTL)
		if err != nil {
			i.metrics.CodeIssued("cache_error")
			return "", oops.With("address", address).Wrapf(err, "lock verification code issue")
		}
		if acquired {
			return i.issueLocked(ctx, logger, address, key, lockKey, token)
		}

		code, err := i.awaitIssue(ctx, key, lockKey)
		switch {
		case err == nil:
			i.metrics.CodeIssued("existing")
			logger.InfoContext(ctx, "reusing verification code from concurrent issue")
			return code, nil
		case errors.Is(err, errIssueAbandoned):
			logger.DebugContext(ctx, "concurrent issue abandoned, retrying")
			continue
		default:
			i.metrics.CodeIssued("cache_error")
			return "", oops.Code(status.ErrCodeCacheUnavailable).
				With("address", address).
				Wrapf(err, "wait for concurrent verification code issue")
		}
	}

	i.metrics.CodeIssued("cache_error")
	return "", oops.Code(status.ErrCodeCacheUnavailable).
		With("address", address).
		Errorf("verification code issue kept being abandoned")
}

// issueLocked sends code and commits it while holding the issue lock. The
// lock token doubles as the code.
func (i *Issuer) issueLocked(ctx context.Context, logger *slog.Logger, address, key, lockKey, code string) (string, error) {
	committed := false
	defer func() { i.release(ctx, logger, lockKey, code, committed) }()

	// A holder that finished just before we took the lock has committed.
	existing, err := i.live(ctx, key)
	if err != nil {
		i.metrics.CodeIssued("cache_error")
		return "", oops.With("address", address).Wrapf(err, "read existing verification code")
	}
	if existing != "" {
		committed = true
		i.metrics.CodeIssued("existing")
		logger.InfoContext(ctx, "reusing live verification code")
		return existing, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, i.lockTTL/2)
	defer cancel()
	if err := i.send(sendCtx, address, code); err != nil {
		i.metrics.CodeIssued("email_failed")
		return "", oops.Code(status.ErrCodeMailSendFailed).
			With("address", address).
			Wrapf(err, "send verification email")
	}

	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer commitCancel()
	stored, err := i.store.SetIfAbsent(commitCtx, key, code, i.ttl)
	if err != nil {
		i.metrics.CodeIssued("cache_error")
		errutil.LogErrorContext(ctx, logger, "verification email sent but code not stored", err)
		return "", oops.With("address", address).Wrapf(err, "store verification code")
	}
	committed = true
	if !stored {
		i.metrics.CodeIssued("cache_error")
		return "", oops.Code(status.ErrCodeCacheUnavailable).
			With("address", address).
			Errorf("verification code stored concurrently while lock was held")
	}

	i.metrics.CodeIssued("new")
	logger.InfoContext(ctx, "verification code issued", "ttl", i.ttl)
	return code, nil
}

// awaitIssue polls until the lock holder commits a record, returning its
// code, or releases the lock without one, returning errIssueAbandoned.
func (i *Issuer) awaitIssue(ctx context.Context, key, lockKey string) (string, error) {
	b := retry.NewExponential(pollInterval)
	b = retry.WithCappedDuration(maxPollInterval, b)
	b = retry.WithMaxDuration(i.lockTTL, b)

	return retry.DoValue(ctx, b, func(ctx context.Context) (string, error) { //nolint:wrapcheck // wrapped by caller
		existing, err := i.live(ctx, key)
		if err != nil || existing != "" {
			return existing, err
		}
		held, err := i.store.Exists(ctx, lockKey)
		if err != nil {
			return "", err //nolint:wrapcheck // wrapped by caller
		}
		if !held {
			return "", errIssueAbandoned
		}
		return "", retry.RetryableError(errIssuePending)
	})
}

// live returns the stored code for key, or "" when there is none.
func (i *Issuer) live(ctx context.Context, key string) (string, error) {
	code, err := i.store.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return "", nil
	}
	return code, err //nolint:wrapcheck // wrapped by caller
}

func (i *Issuer) lockKey(address string) string {
	return lockPrefix + i.Key(address)
}

func (i *Issuer) send(ctx context.Context, address, code string) error {
	msg, err := mail.VerificationMessage(address, i.subject, code, i.ttl)
	if err != nil {
		return err
	}
	return i.mailer.Send(ctx, msg) //nolint:wrapcheck // wrapped by caller
}

// release drops the issue lock. It runs even when ctx is already cancelled
// so an aborted request does not stall waiters until the lock expires.
func (i *Issuer) release(ctx context.Context, logger *slog.Logger, lockKey, token string, committed bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if _, err := i.store.CompareAndDelete(ctx, lockKey, token); err != nil {
		if !committed {
			i.metrics.CodeIssued("rollback_failed")
		}
		errutil.LogErrorContext(ctx, logger, "failed to release verification issue lock", err,
			"lock_key", lockKey,
			"lock_ttl", i.lockTTL,
			"committed", committed,
		)
	}
}

// ConsumeCode checks code against the live record for address and deletes
// the record on a match. A mismatch keeps the record so the user can retry.
func (i *Issuer) ConsumeCode(ctx context.Context, address, code string) error {
	if strings.TrimSpace(address) == "" || strings.TrimSpace(code) == "" {
		return oops.Code(status.ErrCodeInvalidParams).Errorf("address and code are required")
	}
	key := i.Key(address)
	code = strings.ToUpper(strings.TrimSpace(code))

	existing, err := i.store.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return oops.Code(status.ErrCodeCodeExpired).With("address", address).Errorf("no live verification code")
	}
	if err != nil {
		return oops.With("address", address).Wrapf(err, "read verification code")
	}

	if subtle.ConstantTimeCompare([]byte(existing), []byte(code)) != 1 {
		return oops.Code(status.ErrCodeCodeMismatch).With("address", address).Errorf("verification code mismatch")
	}

	deleted, err := i.store.CompareAndDelete(ctx, key, existing)
	if err != nil {
		return oops.With("address", address).Wrapf(err, "consume verification code")
	}
	if !deleted {
		return oops.Code(status.ErrCodeCodeExpired).With("address", address).Errorf("verification code already consumed")
	}

	i.logger.InfoContext(ctx, "verification code consumed", "address", address)
	return nil
}
