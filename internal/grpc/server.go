// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

// Package grpc exposes the credsvc services over gRPC.
package grpc

import (
	"context"
	"log/slog"

	"github.com/flicker/credsvc/internal/credential"
	"github.com/flicker/credsvc/internal/status"
	"github.com/flicker/credsvc/pkg/errutil"
)

// CodeIssuer issues and consumes verification codes.
type CodeIssuer interface {
	IssueCode(ctx context.Context, address string, requestType int32) (string, error)
	ConsumeCode(ctx context.Context, address, code string) error
}

// CredentialHasher derives credential hashes.
type CredentialHasher interface {
	Hash(ctx context.Context, plaintext string) (credential.Result, error)
}

// CredentialVerifier compares credentials against stored hashes.
type CredentialVerifier interface {
	Verify(ctx context.Context, candidate, storedHash string) (bool, error)
	AuthenticateReset(ctx context.Context, presented, storedHash string) (bool, error)
}

// result maps err to the response status and message, logging failures.
// Business failures never become transport errors.
func result(ctx context.Context, logger *slog.Logger, op string, err error) (status.Code, string) {
	code := status.FromError(err)
	if err != nil {
		if code == status.InternalException || code == status.CacheError || code == status.HashError || code == status.EmailSendFailed {
			errutil.LogErrorContext(ctx, logger, op+" failed", err)
		} else {
			logger.InfoContext(ctx, op+" rejected", "status", code.String(), "error", err)
		}
	}
	return code, code.Message()
}

// VerificationServer implements credsvc.v1.Verification.
type VerificationServer struct {
	issuer CodeIssuer
	logger *slog.Logger
}

// NewVerificationServer creates a VerificationServer.
func NewVerificationServer(issuer CodeIssuer, logger *slog.Logger) *VerificationServer {
	return &VerificationServer{issuer: issuer, logger: logger}
}

// IssueVerificationCode implements VerificationService.
func (s *VerificationServer) IssueVerificationCode(ctx context.Context, req *IssueCodeRequest) (*IssueCodeResponse, error) {
	code, err := s.issuer.IssueCode(ctx, req.Address, req.RequestType)
	st, msg := result(ctx, s.logger, "issue verification code", err)
	if err != nil {
		code = ""
	}
	return &IssueCodeResponse{Status: st, Message: msg, Code: code}, nil
}

// ConsumeVerificationCode implements VerificationService.
func (s *VerificationServer) ConsumeVerificationCode(ctx context.Context, req *ConsumeCodeRequest) (*ConsumeCodeResponse, error) {
	err := s.issuer.ConsumeCode(ctx, req.Address, req.Code)
	st, msg := result(ctx, s.logger, "consume verification code", err)
	return &ConsumeCodeResponse{Status: st, Message: msg}, nil
}

// EncryptionServer implements credsvc.v1.Encryption.
type EncryptionServer struct {
	hasher   CredentialHasher
	verifier CredentialVerifier
	logger   *slog.Logger
}

// NewEncryptionServer creates an EncryptionServer.
func NewEncryptionServer(hasher CredentialHasher, verifier CredentialVerifier, logger *slog.Logger) *EncryptionServer {
	return &EncryptionServer{hasher: hasher, verifier: verifier, logger: logger}
}

// HashCredential implements EncryptionService.
func (s *EncryptionServer) HashCredential(ctx context.Context, req *HashRequest) (*HashResponse, error) {
	res, err := s.hasher.Hash(ctx, req.Plaintext)
	st, msg := result(ctx, s.logger, "hash credential", err)
	if err != nil {
		return &HashResponse{Status: st, Message: msg}, nil
	}
	return &HashResponse{Status: st, Message: msg, Hash: res.Hash, Salt: res.Salt}, nil
}

// VerifyCredential implements EncryptionService.
func (s *EncryptionServer) VerifyCredential(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	ok, err := s.verifier.Verify(ctx, req.Plaintext, req.StoredHash)
	st, msg := result(ctx, s.logger, "verify credential", err)
	return &VerifyResponse{Status: st, Message: msg, IsValid: ok && err == nil}, nil
}

// AuthenticationServer implements credsvc.v1.Authentication.
type AuthenticationServer struct {
	verifier CredentialVerifier
	logger   *slog.Logger
}

// NewAuthenticationServer creates an AuthenticationServer.
func NewAuthenticationServer(verifier CredentialVerifier, logger *slog.Logger) *AuthenticationServer {
	return &AuthenticationServer{verifier: verifier, logger: logger}
}

// AuthenticateCredentialReset implements AuthenticationService.
func (s *AuthenticationServer) AuthenticateCredentialReset(ctx context.Context, req *ResetRequest) (*ResetResponse, error) {
	ok, err := s.verifier.AuthenticateReset(ctx, req.PresentedHash, req.StoredHash)
	st, msg := result(ctx, s.logger, "authenticate credential reset", err)
	return &ResetResponse{Status: st, Message: msg, IsAuthenticated: ok && err == nil}, nil
}
