package api

import (
	"context"
	"runtime/debug"
	"time"

	"kajabook/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const requestIDMetadataKey = "x-request-id"

// ChainUnaryInterceptors runs the interceptors in order, the first one outermost.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var step func(i int) grpc.UnaryHandler
		step = func(i int) grpc.UnaryHandler {
			if i == len(interceptors) {
				return handler
			}
			return func(ctx context.Context, req any) (any, error) {
				return interceptors[i](ctx, req, info, step(i+1))
			}
		}
		return step(0)(ctx, req)
	}
}

// RecoveryUnaryInterceptor turns a handler panic into codes.Internal.
func RecoveryUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	log := componentLogger(logger)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			log.Error().
				Interface("panic", rec).
				Str("method", info.FullMethod).
				Bytes("stack", debug.Stack()).
				Msg("panic in grpc handler")
			resp, err = nil, status.Error(codes.Internal, "internal error")
		}()
		return handler(ctx, req)
	}
}

// LoggingUnaryInterceptor echoes the request id back as a header, counts the
// call and writes one access line. Server faults log at error level.
func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	log := componentLogger(logger)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		metrics.IncGRPC(info.FullMethod, code.String())

		ev := log.Debug()
		switch code {
		case codes.Internal, codes.Unknown, codes.DataLoss:
			ev = log.Error().Err(err)
		case codes.OK:
		default:
			ev = log.Info()
		}
		ev.Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("peer", peerAddr(ctx)).
			Stringer("code", code).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

func componentLogger(logger *zerolog.Logger) zerolog.Logger {
	if logger == nil {
		return zerolog.Nop()
	}
	return logger.With().Str("component", "grpc").Logger()
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func requestIDFromMetadata(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if id := metadataValue(md, requestIDMetadataKey); id != "" {
		return id
	}
	return uuid.NewString()
}
