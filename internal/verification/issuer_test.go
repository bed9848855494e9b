// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package verification

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/flicker/credsvc/internal/cache"
	"github.com/flicker/credsvc/internal/mail"
	"github.com/flicker/credsvc/internal/observability"
	"github.com/flicker/credsvc/internal/status"
)

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, msg mail.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// stuckLockStore fails every CompareAndDelete, leaving issue locks behind.
type stuckLockStore struct {
	cache.Store
}

func (s *stuckLockStore) CompareAndDelete(context.Context, string, string) (bool, error) {
	return false, oops.Code(status.ErrCodeCacheUnavailable).Errorf("connection reset")
}

type fixture struct {
	issuer *Issuer
	mailer *mockMailer
	mr     *miniredis.Miniredis
	store  *cache.RedisStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	store := cache.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	t.Cleanup(func() { _ = store.Close() })

	mailer := &mockMailer{}
	issuer, err := NewIssuer(store, mailer, slog.New(slog.DiscardHandler), opts...)
	require.NoError(t, err)
	return &fixture{issuer: issuer, mailer: mailer, mr: mr, store: store}
}

func sentTo(address string) any {
	return mock.MatchedBy(func(msg mail.Message) bool { return msg.To == address })
}

func TestNewIssuer_RequiresDependencies(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := &stuckLockStore{}
	mailer := &mockMailer{}

	_, err := NewIssuer(nil, mailer, logger)
	assert.Error(t, err)
	_, err = NewIssuer(store, nil, logger)
	assert.Error(t, err)
	_, err = NewIssuer(store, mailer, nil)
	assert.Error(t, err)
	_, err = NewIssuer(store, mailer, logger, WithTTL(0))
	assert.Error(t, err)
	_, err = NewIssuer(store, mailer, logger, WithKeyPrefix(""))
	assert.Error(t, err)
	_, err = NewIssuer(store, mailer, logger, WithLockTTL(0))
	assert.Error(t, err)
}

func TestIssueCode_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailer.On("Send", mock.Anything, sentTo("a@b.com")).Return(nil)

	first, err := f.issuer.IssueCode(ctx, "a@b.com", 1)
	require.NoError(t, err)
	assert.Regexp(t, codePattern, first)

	again, err := f.issuer.IssueCode(ctx, "a@b.com", 1)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	f.mailer.AssertNumberOfCalls(t, "Send", 1)

	f.mr.FastForward(301 * time.Second)

	renewed, err := f.issuer.IssueCode(ctx, "a@b.com", 1)
	require.NoError(t, err)
	assert.Regexp(t, codePattern, renewed)
	assert.NotEqual(t, first, renewed)
	f.mailer.AssertNumberOfCalls(t, "Send", 2)
}

func TestIssueCode_StoresRecordWithTTL(t *testing.T) {
	f := newFixture(t)
	f.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	code, err := f.issuer.IssueCode(context.Background(), "a@b.com", 1)
	require.NoError(t, err)

	stored, err := f.mr.Get("verification_code_a@b.com")
	require.NoError(t, err)
	assert.Equal(t, code, stored)
	assert.Equal(t, 300*time.Second, f.mr.TTL("verification_code_a@b.com"))
}

func TestIssueCode_EmailCarriesCode(t *testing.T) {
	f := newFixture(t, WithSubject("Your code"))
	var sent mail.Message
	f.mailer.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(mail.Message) }).
		Return(nil)

	code, err := f.issuer.IssueCode(context.Background(), "a@b.com", 1)
	require.NoError(t, err)

	assert.Equal(t, "a@b.com", sent.To)
	assert.Equal(t, "Your code", sent.Subject)
	assert.Contains(t, sent.Text, code)
	assert.Contains(t, sent.HTML, code)
}

func TestIssueCode_EmptyAddress(t *testing.T) {
	f := newFixture(t)

	_, err := f.issuer.IssueCode(context.Background(), "  ", 1)
	require.Error(t, err)
	assert.Equal(t, status.InvalidParams, status.FromError(err))
	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestIssueCode_SendFailureCachesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailer.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp: 554 rejected")).Once()

	code, err := f.issuer.IssueCode(ctx, "a@b.com", 1)
	require.Error(t, err)
	assert.Empty(t, code)
	assert.Equal(t, status.EmailSendFailed, status.FromError(err))
	assert.False(t, f.mr.Exists("verification_code_a@b.com"))

	f.mailer.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	code, err = f.issuer.IssueCode(ctx, "a@b.com", 1)
	require.NoError(t, err)
	assert.Regexp(t, codePattern, code)
	f.mailer.AssertNumberOfCalls(t, "Send", 2)
}

func TestIssueCode_SendFailureAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.mailer.On("Send", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(context.Canceled)

	_, err := f.issuer.IssueCode(ctx, "a@b.com", 1)
	require.Error(t, err)
	assert.Equal(t, status.EmailSendFailed, status.FromError(err))
	assert.False(t, f.mr.Exists("verification_code_a@b.com"))
}

func TestIssueCode_CacheFailureSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.mr.SetError("ERR server unavailable")

	code, err := f.issuer.IssueCode(context.Background(), "a@b.com", 1)
	require.Error(t, err)
	assert.Empty(t, code)
	assert.Equal(t, status.CacheError, status.FromError(err))
	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

type issueResult struct {
	code string
	err  error
}

func issueAsync(f *fixture, address string) <-chan issueResult {
	out := make(chan issueResult, 1)
	go func() {
		code, err := f.issuer.IssueCode(context.Background(), address, 1)
		out <- issueResult{code: code, err: err}
	}()
	return out
}

func TestIssueCode_SendFailureDoesNotLeakCodeToWaiter(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var sent []mail.Message
	var mu sync.Mutex
	record := func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, args.Get(1).(mail.Message))
	}
	f.mailer.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			record(args)
			close(entered)
			<-release
		}).
		Return(errors.New("smtp: 451 try again later")).Once()
	f.mailer.On("Send", mock.Anything, mock.Anything).Run(record).Return(nil).Once()

	first := issueAsync(f, "a@b.com")
	<-entered
	second := issueAsync(f, "a@b.com")
	// Let the second caller find the lock held before the send fails.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, f.mr.Exists("verification_code_a@b.com"), "nothing is stored while the send is pending")
	close(release)

	failed := <-first
	require.Error(t, failed.err)
	assert.Equal(t, status.EmailSendFailed, status.FromError(failed.err))

	got := <-second
	require.NoError(t, got.err)
	stored, err := f.mr.Get("verification_code_a@b.com")
	require.NoError(t, err)
	assert.Equal(t, stored, got.code)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 2)
	assert.NotContains(t, sent[0].Text, got.code)
	assert.Contains(t, sent[1].Text, got.code)
	assert.False(t, f.mr.Exists("lock:verification_code_a@b.com"))
}

func TestIssueCode_WaiterSharesLockHolderCode(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mr.Set("lock:verification_code_a@b.com", "HOLDER"))

	result := issueAsync(f, "a@b.com")
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, f.mr.Set("verification_code_a@b.com", "K7M2QX"))
	f.mr.Del("lock:verification_code_a@b.com")

	got := <-result
	require.NoError(t, got.err)
	assert.Equal(t, "K7M2QX", got.code)
	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestIssueCode_TakesOverAbandonedLock(t *testing.T) {
	f := newFixture(t)
	f.mailer.On("Send", mock.Anything, sentTo("a@b.com")).Return(nil)
	require.NoError(t, f.mr.Set("lock:verification_code_a@b.com", "HOLDER"))

	result := issueAsync(f, "a@b.com")
	time.Sleep(30 * time.Millisecond)
	f.mr.Del("lock:verification_code_a@b.com")

	got := <-result
	require.NoError(t, got.err)
	assert.Regexp(t, codePattern, got.code)
	stored, err := f.mr.Get("verification_code_a@b.com")
	require.NoError(t, err)
	assert.Equal(t, got.code, stored)
	f.mailer.AssertNumberOfCalls(t, "Send", 1)
}

func TestIssueCode_LockHeldPastTTL(t *testing.T) {
	f := newFixture(t, WithLockTTL(100*time.Millisecond))
	require.NoError(t, f.mr.Set("lock:verification_code_a@b.com", "HOLDER"))

	code, err := f.issuer.IssueCode(context.Background(), "a@b.com", 1)
	require.Error(t, err)
	assert.Empty(t, code)
	assert.Equal(t, status.CacheError, status.FromError(err))
	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestIssueCode_LockReleaseFailureIsReported(t *testing.T) {
	mr := miniredis.RunT(t)
	redisStore := cache.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	t.Cleanup(func() { _ = redisStore.Close() })
	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp: 554 rejected"))

	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	issuer, err := NewIssuer(&stuckLockStore{Store: redisStore}, mailer,
		slog.New(slog.NewJSONHandler(&logs, nil)),
		WithMetrics(observability.NewMetrics(reg)))
	require.NoError(t, err)

	_, err = issuer.IssueCode(context.Background(), "a@b.com", 1)
	assert.Equal(t, status.EmailSendFailed, status.FromError(err))
	assert.False(t, mr.Exists("verification_code_a@b.com"))
	assert.True(t, mr.Exists("lock:verification_code_a@b.com"))

	assert.InDelta(t, 1, issuedCount(t, reg, "rollback_failed"), 0)
	assert.InDelta(t, 1, issuedCount(t, reg, "email_failed"), 0)
	assert.Contains(t, logs.String(), `"level":"ERROR"`)
	assert.Contains(t, logs.String(), `"msg":"failed to release verification issue lock"`)
	assert.Contains(t, logs.String(), `"address":"a@b.com"`)
}

func issuedCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "credsvc_verification_codes_issued_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestIssueCode_CustomPrefixLocksUnderPrefix(t *testing.T) {
	f := newFixture(t, WithKeyPrefix("vc:"))
	require.NoError(t, f.mr.Set("lock:vc:a@b.com", "HOLDER"))
	require.NoError(t, f.mr.Set("vc:a@b.com", "K7M2QX"))

	code, err := f.issuer.IssueCode(context.Background(), "a@b.com", 1)
	require.NoError(t, err)
	assert.Equal(t, "K7M2QX", code)
	assert.Equal(t, "vc:a@b.com", f.issuer.Key("a@b.com"))
	assert.Equal(t, "lock:vc:a@b.com", f.issuer.lockKey("a@b.com"))
}

func TestIssueCode_ConcurrentCallersShareOneCode(t *testing.T) {
	f := newFixture(t)
	f.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	const callers = 16
	codes := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i], errs[i] = f.issuer.IssueCode(context.Background(), "a@b.com", 1)
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, codes[0], codes[i])
	}
	f.mailer.AssertNumberOfCalls(t, "Send", 1)
}

func TestIssueCode_CustomPrefixAndTTL(t *testing.T) {
	f := newFixture(t, WithKeyPrefix("vc:"), WithTTL(time.Minute))
	f.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	_, err := f.issuer.IssueCode(context.Background(), "a@b.com", 1)
	require.NoError(t, err)

	assert.True(t, f.mr.Exists("vc:a@b.com"))
	assert.Equal(t, time.Minute, f.mr.TTL("vc:a@b.com"))
}

func TestConsumeCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	code, err := f.issuer.IssueCode(ctx, "a@b.com", 1)
	require.NoError(t, err)

	wrong := "ZZZZZZ"
	if code == wrong {
		wrong = "YYYYYY"
	}
	err = f.issuer.ConsumeCode(ctx, "a@b.com", wrong)
	assert.Equal(t, status.CodeMismatch, status.FromError(err))
	assert.True(t, f.mr.Exists("verification_code_a@b.com"), "mismatch keeps the record")

	require.NoError(t, f.issuer.ConsumeCode(ctx, "a@b.com", code))
	assert.False(t, f.mr.Exists("verification_code_a@b.com"))

	err = f.issuer.ConsumeCode(ctx, "a@b.com", code)
	assert.Equal(t, status.CodeExpired, status.FromError(err))
}

func TestConsumeCode_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mr.Set("verification_code_a@b.com", "AB12CD"))

	assert.NoError(t, f.issuer.ConsumeCode(context.Background(), "a@b.com", " ab12cd "))
}

func TestConsumeCode_Expired(t *testing.T) {
	f := newFixture(t)
	f.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	code, err := f.issuer.IssueCode(context.Background(), "a@b.com", 1)
	require.NoError(t, err)
	f.mr.FastForward(301 * time.Second)

	err = f.issuer.ConsumeCode(context.Background(), "a@b.com", code)
	assert.Equal(t, status.CodeExpired, status.FromError(err))
}

func TestConsumeCode_Errors(t *testing.T) {
	f := newFixture(t)

	err := f.issuer.ConsumeCode(context.Background(), "", "AB12CD")
	assert.Equal(t, status.FormParamsMissing, status.FromError(err))

	err = f.issuer.ConsumeCode(context.Background(), "a@b.com", "")
	assert.Equal(t, status.FormParamsMissing, status.FromError(err))

	f.mr.SetError("ERR down")
	err = f.issuer.ConsumeCode(context.Background(), "a@b.com", "AB12CD")
	assert.Equal(t, status.CacheError, status.FromError(err))
}

func TestConsumeCode_ConcurrentConsumersOneWins(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mr.Set("verification_code_a@b.com", "AB12CD"))

	const consumers = 8
	results := make([]status.Code, consumers)
	var wg sync.WaitGroup
	for i := range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = status.FromError(f.issuer.ConsumeCode(context.Background(), "a@b.com", "AB12CD"))
		}()
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		switch r {
		case status.Success:
			wins++
		case status.CodeExpired:
		default:
			t.Fatalf("unexpected result %s", r)
		}
	}
	assert.Equal(t, 1, wins)
}
