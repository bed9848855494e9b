// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service names and full method names. Every message travels as a
// google.protobuf.Struct, so no generated code is needed.
const (
	VerificationServiceName   = "credsvc.v1.Verification"
	EncryptionServiceName     = "credsvc.v1.Encryption"
	AuthenticationServiceName = "credsvc.v1.Authentication"

	MethodIssueVerificationCode       = "/credsvc.v1.Verification/IssueVerificationCode"
	MethodConsumeVerificationCode     = "/credsvc.v1.Verification/ConsumeVerificationCode"
	MethodHashCredential              = "/credsvc.v1.Encryption/HashCredential"
	MethodVerifyCredential            = "/credsvc.v1.Encryption/VerifyCredential"
	MethodAuthenticateCredentialReset = "/credsvc.v1.Authentication/AuthenticateCredentialReset"
)

// VerificationService is the server API for credsvc.v1.Verification.
type VerificationService interface {
	IssueVerificationCode(context.Context, *IssueCodeRequest) (*IssueCodeResponse, error)
	ConsumeVerificationCode(context.Context, *ConsumeCodeRequest) (*ConsumeCodeResponse, error)
}

// EncryptionService is the server API for credsvc.v1.Encryption.
type EncryptionService interface {
	HashCredential(context.Context, *HashRequest) (*HashResponse, error)
	VerifyCredential(context.Context, *VerifyRequest) (*VerifyResponse, error)
}

// AuthenticationService is the server API for credsvc.v1.Authentication.
type AuthenticationService interface {
	AuthenticateCredentialReset(context.Context, *ResetRequest) (*ResetResponse, error)
}

// RegisterVerificationService registers srv on s.
func RegisterVerificationService(s grpc.ServiceRegistrar, srv VerificationService) {
	s.RegisterService(&verificationServiceDesc, srv)
}

// RegisterEncryptionService registers srv on s.
func RegisterEncryptionService(s grpc.ServiceRegistrar, srv EncryptionService) {
	s.RegisterService(&encryptionServiceDesc, srv)
}

// RegisterAuthenticationService registers srv on s.
func RegisterAuthenticationService(s grpc.ServiceRegistrar, srv AuthenticationService) {
	s.RegisterService(&authenticationServiceDesc, srv)
}

var verificationServiceDesc = grpc.ServiceDesc{
	ServiceName: VerificationServiceName,
	HandlerType: (*VerificationService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "IssueVerificationCode",
			Handler: unary[IssueCodeRequest](MethodIssueVerificationCode,
				func(srv any, ctx context.Context, req *IssueCodeRequest) (Response, error) {
					return srv.(VerificationService).IssueVerificationCode(ctx, req)
				}),
		},
		{
			MethodName: "ConsumeVerificationCode",
			Handler: unary[ConsumeCodeRequest](MethodConsumeVerificationCode,
				func(srv any, ctx context.Context, req *ConsumeCodeRequest) (Response, error) {
					return srv.(VerificationService).ConsumeVerificationCode(ctx, req)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credsvc/v1/verification.proto",
}

var encryptionServiceDesc = grpc.ServiceDesc{
	ServiceName: EncryptionServiceName,
	HandlerType: (*EncryptionService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "HashCredential",
			Handler: unary[HashRequest](MethodHashCredential,
				func(srv any, ctx context.Context, req *HashRequest) (Response, error) {
					return srv.(EncryptionService).HashCredential(ctx, req)
				}),
		},
		{
			MethodName: "VerifyCredential",
			Handler: unary[VerifyRequest](MethodVerifyCredential,
				func(srv any, ctx context.Context, req *VerifyRequest) (Response, error) {
					return srv.(EncryptionService).VerifyCredential(ctx, req)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credsvc/v1/encryption.proto",
}

var authenticationServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthenticationServiceName,
	HandlerType: (*AuthenticationService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AuthenticateCredentialReset",
			Handler: unary[ResetRequest](MethodAuthenticateCredentialReset,
				func(srv any, ctx context.Context, req *ResetRequest) (Response, error) {
					return srv.(AuthenticationService).AuthenticateCredentialReset(ctx, req)
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credsvc/v1/authentication.proto",
}

// unary builds a grpc.MethodHandler that decodes the Struct into Req, runs
// call through the interceptor chain and encodes the Response.
func unary[Req any, PReq interface {
	*Req
	message
}](fullMethod string, call func(srv any, ctx context.Context, req PReq) (Response, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		req := PReq(new(Req))
		req.fromStruct(in)

		handler := func(ctx context.Context, r any) (any, error) {
			return call(srv, ctx, r.(PReq))
		}

		var (
			out any
			err error
		)
		if interceptor == nil {
			out, err = handler(ctx, req)
		} else {
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			out, err = interceptor(ctx, req, info, handler)
		}
		if err != nil {
			return nil, err
		}
		resp, ok := out.(Response)
		if !ok {
			return nil, grpcstatus.Errorf(codes.Internal, "unexpected response type %T", out)
		}
		encoded, err := resp.toStruct()
		if err != nil {
			return nil, grpcstatus.Error(codes.Internal, err.Error())
		}
		return encoded, nil
	}
}

// invoke encodes req, calls method on cc and decodes the reply into Resp.
func invoke[Resp any, PResp interface {
	*Resp
	message
}](ctx context.Context, cc grpc.ClientConnInterface, method string, req message, opts ...grpc.CallOption) (PResp, error) {
	in, err := req.toStruct()
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with method context
	}
	resp := PResp(new(Resp))
	resp.fromStruct(out)
	return resp, nil
}

// VerificationClient is the client API for credsvc.v1.Verification.
type VerificationClient struct{ cc grpc.ClientConnInterface }

// NewVerificationClient returns a client over cc.
func NewVerificationClient(cc grpc.ClientConnInterface) *VerificationClient {
	return &VerificationClient{cc: cc}
}

// IssueVerificationCode calls the IssueVerificationCode RPC.
func (c *VerificationClient) IssueVerificationCode(ctx context.Context, req *IssueCodeRequest, opts ...grpc.CallOption) (*IssueCodeResponse, error) {
	return invoke[IssueCodeResponse](ctx, c.cc, MethodIssueVerificationCode, req, opts...)
}

// ConsumeVerificationCode calls the ConsumeVerificationCode RPC.
func (c *VerificationClient) ConsumeVerificationCode(ctx context.Context, req *ConsumeCodeRequest, opts ...grpc.CallOption) (*ConsumeCodeResponse, error) {
	return invoke[ConsumeCodeResponse](ctx, c.cc, MethodConsumeVerificationCode, req, opts...)
}

// EncryptionClient is the client API for credsvc.v1.Encryption.
type EncryptionClient struct{ cc grpc.ClientConnInterface }

// NewEncryptionClient returns a client over cc.
func NewEncryptionClient(cc grpc.ClientConnInterface) *EncryptionClient {
	return &EncryptionClient{cc: cc}
}

// HashCredential calls the HashCredential RPC.
func (c *EncryptionClient) HashCredential(ctx context.Context, req *HashRequest, opts ...grpc.CallOption) (*HashResponse, error) {
	return invoke[HashResponse](ctx, c.cc, MethodHashCredential, req, opts...)
}

// VerifyCredential calls the VerifyCredential RPC.
func (c *EncryptionClient) VerifyCredential(ctx context.Context, req *VerifyRequest, opts ...grpc.CallOption) (*VerifyResponse, error) {
	return invoke[VerifyResponse](ctx, c.cc, MethodVerifyCredential, req, opts...)
}

// AuthenticationClient is the client API for credsvc.v1.Authentication.
type AuthenticationClient struct{ cc grpc.ClientConnInterface }

// NewAuthenticationClient returns a client over cc.
func NewAuthenticationClient(cc grpc.ClientConnInterface) *AuthenticationClient {
	return &AuthenticationClient{cc: cc}
}

// AuthenticateCredentialReset calls the AuthenticateCredentialReset RPC.
func (c *AuthenticationClient) AuthenticateCredentialReset(ctx context.Context, req *ResetRequest, opts ...grpc.CallOption) (*ResetResponse, error) {
	return invoke[ResetResponse](ctx, c.cc, MethodAuthenticateCredentialReset, req, opts...)
}
