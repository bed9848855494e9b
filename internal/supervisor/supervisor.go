// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

// Package supervisor keeps worker processes alive.
//
// Each service moves through Starting and Running. A clean exit is final.
// An abnormal exit (nonzero status, a signal, or a failure to start) leads
// to Restarting and a relaunch after an exponential backoff, until the
// restart budget runs out and the service is marked Failed. A run that
// stays up for StableAfter resets the budget and the backoff.
package supervisor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/flicker/credsvc/internal/observability"
	"github.com/flicker/credsvc/internal/status"
	"github.com/flicker/credsvc/pkg/errutil"
)

// Config bounds restarts and shutdown.
type Config struct {
	MaxRestarts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	StableAfter   time.Duration
	ShutdownGrace time.Duration
}

// DefaultConfig returns the stock restart policy.
func DefaultConfig() Config {
	return Config{
		MaxRestarts:   5,
		BaseBackoff:   500 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
		StableAfter:   time.Minute,
		ShutdownGrace: 10 * time.Second,
	}
}

// Sink is the log destination flushed and closed once supervision ends.
type Sink interface {
	Flush() error
	Close() error
}

const defaultEventBuffer = 256

// Supervisor runs a fixed set of services.
type Supervisor struct {
	specs    []Spec
	launcher Launcher
	logger   *slog.Logger
	metrics  *observability.Metrics
	cfg      Config
	sink     Sink

	events  chan Event
	started atomic.Bool

	mu     sync.Mutex
	states map[string]State
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithConfig replaces the default restart policy.
func WithConfig(cfg Config) Option {
	return func(s *Supervisor) { s.cfg = cfg }
}

// WithMetrics records restarts and states in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithSink sets the log sink flushed and closed when Run returns.
func WithSink(sink Sink) Option {
	return func(s *Supervisor) { s.sink = sink }
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(s *Supervisor) { s.events = make(chan Event, n) }
}

// New creates a Supervisor for specs.
func New(specs []Spec, launcher Launcher, logger *slog.Logger, opts ...Option) (*Supervisor, error) {
	if len(specs) == 0 {
		return nil, oops.Errorf("at least one service is required")
	}
	if launcher == nil {
		return nil, oops.Errorf("launcher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}

	s := &Supervisor{
		specs:    specs,
		launcher: launcher,
		logger:   logger,
		cfg:      DefaultConfig(),
		events:   make(chan Event, defaultEventBuffer),
		states:   make(map[string]State, len(specs)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cfg.MaxRestarts < 0 {
		return nil, oops.With("max_restarts", s.cfg.MaxRestarts).Errorf("max restarts must not be negative")
	}
	if s.cfg.BaseBackoff <= 0 || s.cfg.MaxBackoff < s.cfg.BaseBackoff {
		return nil, oops.
			With("base_backoff", s.cfg.BaseBackoff).
			With("max_backoff", s.cfg.MaxBackoff).
			Errorf("invalid backoff bounds")
	}
	if s.cfg.ShutdownGrace <= 0 {
		return nil, oops.With("shutdown_grace", s.cfg.ShutdownGrace).Errorf("shutdown grace must be positive")
	}

	for _, spec := range specs {
		if spec.Name == "" {
			return nil, oops.Errorf("service name is required")
		}
		if _, dup := s.states[spec.Name]; dup {
			return nil, oops.With("service", spec.Name).Errorf("duplicate service")
		}
		s.states[spec.Name] = StateStarting
	}
	return s, nil
}

// Events returns the event stream. It is closed when Run returns. Events
// are dropped rather than blocking supervision when the buffer is full.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// State returns the current state of the named service.
func (s *Supervisor) State(name string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[name]
	return st, ok
}

// Run supervises every service until all are terminal or ctx is cancelled.
// On cancellation workers receive SIGTERM and, after the shutdown grace,
// SIGKILL. Run returns an error naming any service that ended Failed,
// unless it stopped because ctx was cancelled; a shutdown only logs them.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return oops.Errorf("supervisor already running")
	}
	defer close(s.events)

	s.logger.InfoContext(ctx, "supervisor starting", "services", len(s.specs))

	var wg sync.WaitGroup
	for _, spec := range s.specs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.manage(ctx, spec)
		}()
	}
	wg.Wait()

	failed := s.failed()
	shutdown := ctx.Err() != nil
	switch {
	case len(failed) > 0 && shutdown:
		s.logger.ErrorContext(ctx, "supervisor shut down with failed services", "failed", failed)
	case len(failed) > 0:
		s.logger.ErrorContext(ctx, "supervisor stopped with failed services", "failed", failed)
	default:
		s.logger.InfoContext(ctx, "supervisor stopped", "shutdown", shutdown)
	}
	s.closeSink(ctx)

	if len(failed) > 0 && !shutdown {
		return oops.Code(status.ErrCodeSupervisorFailed).
			With("services", failed).
			Errorf("services failed: %v", failed)
	}
	return nil
}

func (s *Supervisor) failed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, st := range s.states {
		if st == StateFailed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Supervisor) closeSink(ctx context.Context) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Flush(); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to flush log sink", err)
	}
	if err := s.sink.Close(); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "failed to close log sink", err)
	}
}

func (s *Supervisor) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.cfg.BaseBackoff)
	b = retry.WithCappedDuration(s.cfg.MaxBackoff, b)
	return retry.WithMaxRetries(uint64(s.cfg.MaxRestarts), b) //nolint:gosec // validated non-negative in New
}

// manage runs one service through its lifecycle.
func (s *Supervisor) manage(ctx context.Context, spec Spec) {
	logger := s.logger.With("service", spec.Name)
	backoff := s.newBackoff()

	for {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "service not started, shutting down")
			s.setState(ctx, spec.Name, StateExitedClean, 0)
			return
		}
		s.setState(ctx, spec.Name, StateStarting, 0)
		started := time.Now()

		stopped, err := s.runOnce(ctx, logger, spec)
		code := exitCode(err)
		s.emit(Event{Service: spec.Name, Kind: EventExit, ExitCode: code, Err: err})

		if stopped {
			logger.InfoContext(ctx, "service stopped", "exit_code", code)
			s.setState(ctx, spec.Name, StateExitedClean, 0)
			return
		}
		if err == nil {
			logger.InfoContext(ctx, "service exited cleanly")
			s.setState(ctx, spec.Name, StateExitedClean, 0)
			return
		}

		errutil.LogErrorContext(ctx, logger, "service exited abnormally", err, "exit_code", code)
		s.setState(ctx, spec.Name, StateExitedError, 0)

		if s.cfg.StableAfter > 0 && time.Since(started) >= s.cfg.StableAfter {
			backoff = s.newBackoff()
		}

		delay, exhausted := backoff.Next()
		s.setState(ctx, spec.Name, StateRestarting, delay)
		if exhausted {
			logger.ErrorContext(ctx, "service failed, restart budget exhausted", "max_restarts", s.cfg.MaxRestarts)
			s.setState(ctx, spec.Name, StateFailed, 0)
			return
		}
		s.metrics.SupervisorRestart(spec.Name)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.InfoContext(ctx, "restart cancelled by shutdown")
			s.setState(ctx, spec.Name, StateExitedClean, 0)
			return
		case <-timer.C:
		}
	}
}

// runOnce launches spec and waits for it to exit. stopped reports that the
// exit was requested by shutdown.
func (s *Supervisor) runOnce(ctx context.Context, logger *slog.Logger, spec Spec) (stopped bool, err error) {
	stdout := newLineWriter(func(line string) {
		logger.Info("service output", "line", line)
		s.emit(Event{Service: spec.Name, Kind: EventOutput, Line: line})
	})
	stderr := newLineWriter(func(line string) {
		logger.Error("service error output", "line", line)
		s.emit(Event{Service: spec.Name, Kind: EventError, Line: line})
	})
	defer stdout.Flush()
	defer stderr.Flush()

	proc, err := s.launcher.Launch(spec, stdout, stderr)
	if err != nil {
		return false, err
	}
	logger = logger.With("pid", proc.Pid())
	s.setState(ctx, spec.Name, StateRunning, 0)

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	select {
	case err := <-done:
		return false, err
	case <-ctx.Done():
	}

	logger.Info("stopping service")
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		logger.Warn("failed to signal service", "error", err)
	}

	timer := time.NewTimer(s.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case err := <-done:
		return true, err
	case <-timer.C:
	}

	logger.Warn("service did not stop within grace period, killing", "grace", s.cfg.ShutdownGrace)
	if err := proc.Kill(); err != nil {
		logger.Warn("failed to kill service", "error", err)
	}
	return true, <-done
}

func (s *Supervisor) setState(ctx context.Context, name string, st State, delay time.Duration) {
	s.mu.Lock()
	s.states[name] = st
	s.mu.Unlock()

	s.metrics.SetSupervisorState(name, int(st))
	s.emit(Event{Service: name, Kind: EventState, State: st, Delay: delay})

	level := slog.LevelDebug
	if st == StateFailed {
		level = slog.LevelError
	}
	attrs := []any{"service", name, "state", st.String()}
	if delay > 0 {
		attrs = append(attrs, "delay", delay)
	}
	s.logger.Log(ctx, level, "service state changed", attrs...)
}

func (s *Supervisor) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("event buffer full, dropping event", "service", ev.Service, "kind", ev.Kind.String())
	}
}
