package api

import (
	"context"
	"errors"
	"strings"

	"kajabook/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const permReadHealth = "read:health"

// AuthInterceptor applies the admin key ring and the rate limit to gRPC calls.
// Metadata keys are the lower-cased HTTP header names.
type AuthInterceptor struct {
	enabled bool
	keys    *keyring
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		enabled: cfg.Auth.Enabled,
		keys:    newKeyring(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if a.enabled {
			if md == nil {
				return nil, status.Error(codes.Unauthenticated, "missing metadata")
			}
			_, err := a.keys.verify(
				metadataValue(md, a.keys.apiKeyHeader),
				metadataValue(md, a.keys.extraHeader),
				requiredPermission(info.FullMethod),
			)
			switch {
			case errors.Is(err, errPermissionDenied):
				return nil, status.Error(codes.PermissionDenied, err.Error())
			case err != nil:
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
		}

		if !a.limiter.allow(a.clientKey(ctx, md)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// requiredPermission maps a full method name to the permission it needs.
// Reflection is open so that tooling can discover the services.
func requiredPermission(fullMethod string) string {
	switch {
	case strings.HasPrefix(fullMethod, "/"+healthServiceName+"/"):
		return permReadHealth
	case strings.HasPrefix(fullMethod, "/"+availabilityServiceName+"/"):
		return permReadSlots
	}
	return ""
}

func (a *AuthInterceptor) clientKey(ctx context.Context, md metadata.MD) string {
	if apiKey := metadataValue(md, a.keys.apiKeyHeader); apiKey != "" {
		return "key:" + apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "host:" + p.Addr.String()
	}
	return clientKeyUnknown
}

func metadataValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}
