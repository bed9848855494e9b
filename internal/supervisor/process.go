// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package supervisor

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/samber/oops"

	"github.com/flicker/credsvc/internal/status"
)

// Spec describes how to launch one service.
type Spec struct {
	Name string
	Path string
	Args []string
	// Env is appended to the supervisor's own environment.
	Env []string
}

// Process is a running worker.
type Process interface {
	Pid() int
	// Wait blocks until the process exits. A nil error means exit status 0.
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// Launcher starts worker processes, wiring their output to the writers.
type Launcher interface {
	Launch(spec Spec, stdout, stderr io.Writer) (Process, error)
}

// ExecLauncher launches workers as OS processes.
type ExecLauncher struct {
	// WaitDelay bounds how long Wait keeps copying output after the
	// process exits, in case a grandchild still holds the pipes.
	WaitDelay time.Duration
}

// Launch implements Launcher.
func (l ExecLauncher) Launch(spec Spec, stdout, stderr io.Writer) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...) //nolint:gosec // path comes from operator config
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = l.WaitDelay

	if err := cmd.Start(); err != nil {
		return nil, oops.Code(status.ErrCodeSupervisorStart).
			With("service", spec.Name).
			With("path", spec.Path).
			Wrapf(err, "start worker")
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

//nolint:wrapcheck // inspected by exitCode
func (p *execProcess) Wait() error { return p.cmd.Wait() }

//nolint:wrapcheck // best effort
func (p *execProcess) Signal(s os.Signal) error { return p.cmd.Process.Signal(s) }

//nolint:wrapcheck // best effort
func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

// exitCode derives a process exit code from a wait error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}
