// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package grpc

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/flicker/credsvc/internal/logging"
	"github.com/flicker/credsvc/internal/observability"
	"github.com/flicker/credsvc/internal/status"
	"github.com/flicker/credsvc/pkg/errutil"
)

var tracer = otel.Tracer("credsvc/grpc")

// UnaryInterceptor traces each call under a ULID request id, logs and
// counts it, and turns a handler panic into an INTERNAL_EXCEPTION response
// so the call still completes at the transport level.
func UnaryInterceptor(logger *slog.Logger, metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		requestID := ulid.Make().String()
		ctx, span := tracer.Start(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("rpc.method", info.FullMethod),
				attribute.String("request.id", requestID),
			),
		)
		ctx = logging.WithRequestID(ctx, requestID)
		start := time.Now()

		defer func() {
			if r := recover(); r != nil {
				errutil.LogErrorContext(ctx, logger, "rpc handler panicked",
					oops.With("method", info.FullMethod).Errorf("panic: %v", r),
					"stack", string(debug.Stack()))
				resp = &statusResponse{
					Status:  status.InternalException,
					Message: status.InternalException.Message(),
				}
				err = nil
			}

			code := status.InternalException
			if r, ok := resp.(Response); ok && err == nil {
				code = r.StatusCode()
			}
			span.SetAttributes(attribute.String("rpc.status", code.String()))
			if code != status.Success {
				span.SetStatus(otelcodes.Error, code.String())
			}
			span.End()

			metrics.ObserveRPC(info.FullMethod, code.String())
			logger.InfoContext(ctx, "rpc completed",
				"method", info.FullMethod,
				"status", code.String(),
				"duration", time.Since(start),
			)
		}()

		return handler(ctx, req)
	}
}

// NewServer creates a gRPC server with the credsvc interceptor installed.
func NewServer(logger *slog.Logger, metrics *observability.Metrics, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryInterceptor(logger, metrics))}, opts...)
	return grpc.NewServer(opts...)
}
