// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package main

import (
	"context"
	"net"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/flicker/credsvc/internal/cache"
	"github.com/flicker/credsvc/internal/config"
	"github.com/flicker/credsvc/internal/mail"
	"github.com/flicker/credsvc/internal/supervisor"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// RedisClientFactory connects to the verification code cache.
	// Default: cache.NewRedisClient
	RedisClientFactory func(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error)

	// MailerFactory creates the dispatcher that delivers codes.
	// Default: mail.NewSMTPDispatcher
	MailerFactory func(cfg config.MailConfig) (mail.Dispatcher, error)

	// ListenerFactory creates the gRPC listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.RedisClientFactory == nil {
		out.RedisClientFactory = cache.NewRedisClient
	}
	if out.MailerFactory == nil {
		out.MailerFactory = func(cfg config.MailConfig) (mail.Dispatcher, error) {
			return mail.NewSMTPDispatcher(cfg)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	return &out
}

// SuperviseDeps contains injectable dependencies for the supervise command.
// All fields with nil values will use their default implementations.
type SuperviseDeps struct {
	// Launcher starts worker processes.
	// Default: supervisor.ExecLauncher
	Launcher supervisor.Launcher

	// Executable returns the binary re-executed for each worker.
	// Default: os.Executable
	Executable func() (string, error)
}

func (d *SuperviseDeps) withDefaults() *SuperviseDeps {
	out := SuperviseDeps{}
	if d != nil {
		out = *d
	}
	if out.Launcher == nil {
		out.Launcher = supervisor.ExecLauncher{WaitDelay: defaultWaitDelay}
	}
	if out.Executable == nil {
		out.Executable = os.Executable
	}
	return &out
}
