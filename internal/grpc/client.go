// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package grpc

import (
	"context"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// Client wraps a gRPC connection to one credsvc worker.
type Client struct {
	conn           *grpc.ClientConn
	verification   *VerificationClient
	encryption     *EncryptionClient
	authentication *AuthenticationClient
	health         healthpb.HealthClient
}

// ClientConfig holds configuration for the gRPC client.
type ClientConfig struct {
	// Address is the target worker address (e.g., "127.0.0.1:50051")
	Address string

	// KeepaliveTime is how often to ping the server (default: 10s)
	KeepaliveTime time.Duration

	// KeepaliveTimeout is how long to wait for ping response (default: 5s)
	KeepaliveTimeout time.Duration

	// DialOptions are appended after the defaults, for tests.
	DialOptions []grpc.DialOption
}

// NewClient creates a client for the worker at cfg.Address. The connection
// is established lazily on the first call.
func NewClient(_ context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, oops.Errorf("address is required")
	}

	if cfg.KeepaliveTime == 0 {
		cfg.KeepaliveTime = 10 * time.Second
	}
	if cfg.KeepaliveTimeout == 0 {
		cfg.KeepaliveTimeout = 5 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, oops.With("address", cfg.Address).Wrapf(err, "create grpc client")
	}

	return &Client{
		conn:           conn,
		verification:   NewVerificationClient(conn),
		encryption:     NewEncryptionClient(conn),
		authentication: NewAuthenticationClient(conn),
		health:         healthpb.NewHealthClient(conn),
	}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			return oops.Wrapf(err, "close grpc connection")
		}
	}
	return nil
}

// IssueVerificationCode requests a verification code for address.
func (c *Client) IssueVerificationCode(ctx context.Context, address string, requestType int32) (*IssueCodeResponse, error) {
	resp, err := c.verification.IssueVerificationCode(ctx, &IssueCodeRequest{Address: address, RequestType: requestType})
	if err != nil {
		return nil, oops.With("method", MethodIssueVerificationCode).Wrapf(err, "issue verification code RPC failed")
	}
	return resp, nil
}

// ConsumeVerificationCode presents code for address.
func (c *Client) ConsumeVerificationCode(ctx context.Context, address, code string) (*ConsumeCodeResponse, error) {
	resp, err := c.verification.ConsumeVerificationCode(ctx, &ConsumeCodeRequest{Address: address, Code: code})
	if err != nil {
		return nil, oops.With("method", MethodConsumeVerificationCode).Wrapf(err, "consume verification code RPC failed")
	}
	return resp, nil
}

// HashCredential hashes plaintext.
func (c *Client) HashCredential(ctx context.Context, plaintext string) (*HashResponse, error) {
	resp, err := c.encryption.HashCredential(ctx, &HashRequest{Plaintext: plaintext})
	if err != nil {
		return nil, oops.With("method", MethodHashCredential).Wrapf(err, "hash credential RPC failed")
	}
	return resp, nil
}

// VerifyCredential checks plaintext against storedHash.
func (c *Client) VerifyCredential(ctx context.Context, plaintext, storedHash string) (*VerifyResponse, error) {
	resp, err := c.encryption.VerifyCredential(ctx, &VerifyRequest{Plaintext: plaintext, StoredHash: storedHash})
	if err != nil {
		return nil, oops.With("method", MethodVerifyCredential).Wrapf(err, "verify credential RPC failed")
	}
	return resp, nil
}

// AuthenticateCredentialReset checks presented against storedHash.
func (c *Client) AuthenticateCredentialReset(ctx context.Context, storedHash, presented string) (*ResetResponse, error) {
	resp, err := c.authentication.AuthenticateCredentialReset(ctx, &ResetRequest{StoredHash: storedHash, PresentedHash: presented})
	if err != nil {
		return nil, oops.With("method", MethodAuthenticateCredentialReset).Wrapf(err, "authenticate credential reset RPC failed")
	}
	return resp, nil
}

// Health returns the serving status the worker reports for service.
// An empty service asks about the server as a whole.
func (c *Client) Health(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, oops.With("service", service).Wrapf(err, "health check failed")
	}
	return resp.GetStatus(), nil
}
