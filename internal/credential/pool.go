// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package credential

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of bcrypt derivations running at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool returns a pool with size slots. A size below 1 uses GOMAXPROCS.
func NewPool(size int) *Pool {
	if size < 1 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn on the caller's goroutine once a slot is free.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err //nolint:wrapcheck // callers attach their own code
	}
	defer p.sem.Release(1)
	fn()
	return nil
}
