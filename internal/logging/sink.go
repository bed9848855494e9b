// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package logging

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
)

// Sink is a log destination that can be flushed and closed on shutdown.
// The zero path writes to stdout, which is never closed.
type Sink struct {
	mu     sync.Mutex
	f      *os.File
	owned  bool
	closed bool
}

// OpenSink opens path for appending, creating its directory first.
// An empty path returns a sink over stdout.
func OpenSink(path string) (*Sink, error) {
	if path == "" {
		return &Sink{f: os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, oops.With("path", path).Wrapf(err, "create log directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, oops.With("path", path).Wrapf(err, "open log file")
	}
	return &Sink{f: f, owned: true}, nil
}

// Write implements io.Writer. Writes after Close are dropped.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return len(p), nil
	}
	n, err := s.f.Write(p)
	if err != nil {
		return n, oops.Wrapf(err, "write log")
	}
	return n, nil
}

// Flush commits buffered log output to stable storage.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.owned {
		return nil
	}
	if err := s.f.Sync(); err != nil {
		return oops.With("path", s.f.Name()).Wrapf(err, "sync log file")
	}
	return nil
}

// Close flushes and closes the underlying file. Closing twice is a no-op.
func (s *Sink) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.owned {
		return nil
	}
	if err := s.f.Close(); err != nil {
		return oops.With("path", s.f.Name()).Wrapf(err, "close log file")
	}
	return nil
}
