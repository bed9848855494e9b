// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package main

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/flicker/credsvc/internal/config"
	credgrpc "github.com/flicker/credsvc/internal/grpc"
	"github.com/flicker/credsvc/internal/mail"
	"github.com/flicker/credsvc/internal/status"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

func quietCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd
}

type runningWorker struct {
	client  *credgrpc.Client
	cancel  context.CancelFunc
	done    chan error
	logFile string
}

func (w *runningWorker) stop(t *testing.T) {
	t.Helper()
	w.cancel()
	select {
	case err := <-w.done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func startWorker(t *testing.T, service string, cfg *config.Config, deps *ServeDeps) *runningWorker {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.ListenerFactory = func(_, _ string) (net.Listener, error) { return lis, nil }

	logFile := filepath.Join(t.TempDir(), "logs", service+".log")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(ctx, quietCmd(), service, cfg, logFile, deps) }()

	client, err := credgrpc.NewClient(ctx, credgrpc.ClientConfig{Address: lis.Addr().String()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.Eventually(t, func() bool {
		hctx, hcancel := context.WithTimeout(ctx, time.Second)
		defer hcancel()
		st, err := client.Health(hctx, grpcServiceName(service))
		return err == nil && st == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	return &runningWorker{client: client, cancel: cancel, done: done, logFile: logFile}
}

func TestServe_Encryption(t *testing.T) {
	cfg := config.Default()
	cfg.Encryption.Cost = bcrypt.MinCost
	cfg.Encryption.Workers = 2

	w := startWorker(t, config.ServiceEncryption, &cfg, nil)
	ctx := context.Background()

	hashed, err := w.client.HashCredential(ctx, "hunter2")
	require.NoError(t, err)
	require.Equal(t, status.Success, hashed.Status)

	verified, err := w.client.VerifyCredential(ctx, "hunter2", hashed.Hash)
	require.NoError(t, err)
	assert.True(t, verified.IsValid)

	empty, err := w.client.HashCredential(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, status.InvalidParams, empty.Status)

	w.stop(t)

	data, err := os.ReadFile(w.logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "worker ready")
	assert.Contains(t, string(data), "shutdown complete")
}

func TestServe_Authentication(t *testing.T) {
	cfg := config.Default()
	w := startWorker(t, config.ServiceAuthentication, &cfg, nil)

	stored, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	resp, err := w.client.AuthenticateCredentialReset(context.Background(), string(stored), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, status.Success, resp.Status)
	assert.True(t, resp.IsAuthenticated)

	w.stop(t)
}

func TestServe_Verification(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	mailer := &recordingMailer{}

	w := startWorker(t, config.ServiceVerification, &cfg, &ServeDeps{
		MailerFactory: func(config.MailConfig) (mail.Dispatcher, error) { return mailer, nil },
	})
	ctx := context.Background()

	first, err := w.client.IssueVerificationCode(ctx, "a@b.com", 1)
	require.NoError(t, err)
	require.Equal(t, status.Success, first.Status)

	second, err := w.client.IssueVerificationCode(ctx, "a@b.com", 1)
	require.NoError(t, err)
	assert.Equal(t, first.Code, second.Code)

	require.Len(t, mailer.messages(), 1)
	assert.Equal(t, "a@b.com", mailer.messages()[0].To)
	assert.True(t, mr.Exists(cfg.Verification.KeyPrefix+"a@b.com"))

	consumed, err := w.client.ConsumeVerificationCode(ctx, "a@b.com", first.Code)
	require.NoError(t, err)
	assert.Equal(t, status.Success, consumed.Status)

	w.stop(t)
}

func TestServe_VerificationCacheUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.DialTimeout = 200 * time.Millisecond
	mr.Close()

	err := runServeWithDeps(context.Background(), quietCmd(), config.ServiceVerification, &cfg,
		filepath.Join(t.TempDir(), "v.log"), &ServeDeps{
			MailerFactory: func(config.MailConfig) (mail.Dispatcher, error) { return &recordingMailer{}, nil },
		})
	require.Error(t, err)
}

func TestServe_WithMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Encryption.Cost = bcrypt.MinCost
	cfg.Metrics.Addr = "127.0.0.1:0"

	w := startWorker(t, config.ServiceEncryption, &cfg, nil)
	_, err := w.client.HashCredential(context.Background(), "hunter2")
	require.NoError(t, err)
	w.stop(t)
}
