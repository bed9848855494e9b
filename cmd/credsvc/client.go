// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/flicker/credsvc/internal/config"
	credgrpc "github.com/flicker/credsvc/internal/grpc"
	"github.com/flicker/credsvc/internal/status"
)

const clientTimeout = 10 * time.Second

// clientFlags are shared by the commands that call a running worker.
type clientFlags struct {
	addr string
}

func (f *clientFlags) register(cmd *cobra.Command, service string) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "worker address (default: "+service+".addr from config)")
}

// dial opens a client to the worker hosting service.
func (f *clientFlags) dial(ctx context.Context, global *globalFlags, service string) (*credgrpc.Client, error) {
	addr := f.addr
	if addr == "" {
		cfg, err := global.load(nil, nil)
		if err != nil {
			return nil, err
		}
		if addr, err = cfg.Addr(service); err != nil {
			return nil, err
		}
	}
	return credgrpc.NewClient(ctx, credgrpc.ClientConfig{Address: addr})
}

// checkStatus turns a non-success response into a command error.
func checkStatus(resp credgrpc.Response, msg string) error {
	if code := resp.StatusCode(); code != status.Success {
		return oops.With("status", code.String()).Errorf("%s: %s", msg, code.Message())
	}
	return nil
}

type issueFlags struct {
	clientFlags
	email       string
	requestType int32
}

// NewIssueCmd creates the issue subcommand.
func NewIssueCmd(global *globalFlags) *cobra.Command {
	flags := &issueFlags{}

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Request a verification code for an email address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
			defer cancel()

			client, err := flags.dial(ctx, global, config.ServiceVerification)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			resp, err := client.IssueVerificationCode(ctx, flags.email, flags.requestType)
			if err != nil {
				return err
			}
			if err := checkStatus(resp, "issue failed"); err != nil {
				return err
			}
			cmd.Printf("verification code sent to %s\n", flags.email)
			return nil
		},
	}

	flags.register(cmd, config.ServiceVerification)
	cmd.Flags().StringVar(&flags.email, "email", "", "recipient email address")
	cmd.Flags().Int32Var(&flags.requestType, "type", 0, "request type")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

type hashFlags struct {
	clientFlags
	plaintext string
}

// NewHashCmd creates the hash subcommand.
func NewHashCmd(global *globalFlags) *cobra.Command {
	flags := &hashFlags{}

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Hash a credential with the encryption service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
			defer cancel()

			client, err := flags.dial(ctx, global, config.ServiceEncryption)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			resp, err := client.HashCredential(ctx, flags.plaintext)
			if err != nil {
				return err
			}
			if err := checkStatus(resp, "hash failed"); err != nil {
				return err
			}
			cmd.Println(resp.Hash)
			return nil
		},
	}

	flags.register(cmd, config.ServiceEncryption)
	cmd.Flags().StringVar(&flags.plaintext, "plaintext", "", "credential to hash")
	_ = cmd.MarkFlagRequired("plaintext")

	return cmd
}
