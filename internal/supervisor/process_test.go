// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

//go:build unix

package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicker/credsvc/internal/status"
	"github.com/flicker/credsvc/pkg/errutil"
)

const helperEnv = "CREDSVC_SUPERVISOR_HELPER"

// TestHelperProcess is re-executed as a worker by the tests below.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}
	switch mode {
	case "exit":
		code, _ := strconv.Atoi(os.Getenv("CREDSVC_HELPER_CODE"))
		fmt.Fprintln(os.Stdout, "hello from worker")
		fmt.Fprintln(os.Stderr, "about to exit")
		os.Exit(code)
	case "serve":
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGTERM)
		fmt.Fprintln(os.Stdout, "ready")
		<-sigs
		os.Exit(0)
	}
	os.Exit(3)
}

func helperSpec(name, mode string, env ...string) Spec {
	return Spec{
		Name: name,
		Path: os.Args[0],
		Args: []string{"-test.run=^TestHelperProcess$"},
		Env:  append([]string{helperEnv + "=" + mode}, env...),
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestExecLauncherExitCode(t *testing.T) {
	var stdout, stderr syncBuffer
	proc, err := ExecLauncher{WaitDelay: time.Second}.Launch(
		helperSpec("verification", "exit", "CREDSVC_HELPER_CODE=7"), &stdout, &stderr)
	require.NoError(t, err)
	assert.Positive(t, proc.Pid())

	err = proc.Wait()
	require.Error(t, err)
	assert.Equal(t, 7, exitCode(err))
	assert.Contains(t, stdout.String(), "hello from worker")
	assert.Contains(t, stderr.String(), "about to exit")
}

func TestExecLauncherCleanExit(t *testing.T) {
	var out syncBuffer
	proc, err := ExecLauncher{}.Launch(helperSpec("verification", "exit", "CREDSVC_HELPER_CODE=0"), &out, &out)
	require.NoError(t, err)
	require.NoError(t, proc.Wait())
	assert.Equal(t, 0, exitCode(nil))
}

func TestExecLauncherMissingBinary(t *testing.T) {
	_, err := ExecLauncher{}.Launch(Spec{Name: "verification", Path: "/nonexistent/credsvc"}, nil, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, status.ErrCodeSupervisorStart)
	errutil.AssertErrorContext(t, err, "service", "verification")
	assert.Equal(t, -1, exitCode(err))
}

func TestSupervisorStopsRealWorker(t *testing.T) {
	s, err := New([]Spec{helperSpec("encryption", "serve")}, ExecLauncher{WaitDelay: time.Second},
		discardLogger(), WithConfig(Config{
			MaxRestarts:   1,
			BaseBackoff:   10 * time.Millisecond,
			MaxBackoff:    10 * time.Millisecond,
			ShutdownGrace: 5 * time.Second,
		}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	ready := false
	for ev := range s.Events() {
		if ev.Kind == EventOutput && ev.Line == "ready" {
			ready = true
			cancel()
		}
	}
	require.True(t, ready)
	require.NoError(t, <-done)

	st, _ := s.State("encryption")
	assert.Equal(t, StateExitedClean, st)
}
