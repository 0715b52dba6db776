package grpc

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/panyam/authkit/ratelimit"
)

// OperationName maps a full method name such as "/pkg.v1.Users/Get" to the
// rate-limit operation "Users.Get", so rules like "Users.*" apply.
func OperationName(fullMethod string) string {
	svc, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok {
		return fullMethod
	}
	if i := strings.LastIndex(svc, "."); i >= 0 {
		svc = svc[i+1:]
	}
	return svc + "." + method
}

// clientIP reads the limiter's IP headers from incoming metadata and falls
// back to the transport peer address.
func clientIP(ctx context.Context, headers []string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		h := http.Header{}
		for _, name := range headers {
			if values := md.Get(name); len(values) > 0 {
				h.Set(name, values[0])
			}
		}
		if ip := ratelimit.ClientIP(h, headers); ip != "" {
			return ip
		}
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// UnaryRateLimitInterceptor rejects calls over their limit with
// ResourceExhausted and a "retry-after" trailer. Calls whose client IP is
// unknown, or whose counter store fails, are let through.
func UnaryRateLimitInterceptor(limiter *ratelimit.Limiter, logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !limiter.Enabled() {
			return handler(ctx, req)
		}
		op := OperationName(info.FullMethod)
		res, err := limiter.Check(ctx, op, clientIP(ctx, limiter.Headers()))
		if err != nil {
			logger.Warn("rate limit check failed", "operation", op, "err", err)
			return handler(ctx, req)
		}
		if res.Limited {
			_ = grpc.SetTrailer(ctx, metadata.Pairs("retry-after", strconv.Itoa(res.RetryAfter)))
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry after %ds", res.RetryAfter)
		}
		return handler(ctx, req)
	}
}

// UnaryAuthInterceptor rejects calls without a forwarded user id, except
// for the full method names listed in public.
func UnaryAuthInterceptor(public ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]bool, len(public))
	for _, m := range public {
		open[m] = true
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !open[info.FullMethod] && UserIDFromContext(ctx) == "" {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return handler(ctx, req)
	}
}
