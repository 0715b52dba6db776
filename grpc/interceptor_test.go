package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/panyam/authkit/ratelimit"
	"github.com/panyam/authkit/stores/memory"
)

func okHandler(called *int) grpc.UnaryHandler {
	return func(ctx context.Context, req any) (any, error) {
		*called++
		return "result", nil
	}
}

func newLimiter(max int) *ratelimit.Limiter {
	now := time.UnixMilli(1_700_000_000_000)
	return ratelimit.New(memory.NewSecondary(), ratelimit.Config{
		Enabled: true,
		Rules:   map[string]ratelimit.Rule{"Users.*": {Window: time.Minute, Max: max}},
	}, ratelimit.WithClock(func() time.Time { return now }))
}

func TestOperationName(t *testing.T) {
	cases := map[string]string{
		"/pkg.v1.Users/Get": "Users.Get",
		"/Users/Get":        "Users.Get",
		"malformed":         "malformed",
	}
	for in, want := range cases {
		if got := OperationName(in); got != want {
			t.Errorf("OperationName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnaryRateLimitInterceptor_LimitsByForwardedIP(t *testing.T) {
	interceptor := UnaryRateLimitInterceptor(newLimiter(2), nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.v1.Users/Get"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "10.0.0.1, 10.0.0.2"))

	called := 0
	for i := 0; i < 2; i++ {
		if _, err := interceptor(ctx, nil, info, okHandler(&called)); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	_, err := interceptor(ctx, nil, info, okHandler(&called))
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	if called != 2 {
		t.Errorf("handler called %d times, want 2", called)
	}

	other := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "10.9.9.9"))
	if _, err := interceptor(other, nil, info, okHandler(&called)); err != nil {
		t.Errorf("different client should not be limited: %v", err)
	}
}

func TestUnaryRateLimitInterceptor_PeerFallback(t *testing.T) {
	interceptor := UnaryRateLimitInterceptor(newLimiter(1), nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.v1.Users/List"}
	ctx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("192.168.1.5"), Port: 5000},
	})

	called := 0
	if _, err := interceptor(ctx, nil, info, okHandler(&called)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := interceptor(ctx, nil, info, okHandler(&called)); status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted from peer address, got %v", err)
	}
}

func TestUnaryRateLimitInterceptor_UnknownIPAllowed(t *testing.T) {
	interceptor := UnaryRateLimitInterceptor(newLimiter(1), nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.v1.Users/Get"}

	called := 0
	for i := 0; i < 3; i++ {
		if _, err := interceptor(context.Background(), nil, info, okHandler(&called)); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if called != 3 {
		t.Errorf("handler called %d times, want 3", called)
	}
}

func TestUnaryRateLimitInterceptor_Disabled(t *testing.T) {
	limiter := ratelimit.New(memory.NewSecondary(), ratelimit.Config{Enabled: false})
	interceptor := UnaryRateLimitInterceptor(limiter, nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.v1.Users/Get"}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-real-ip", "10.0.0.1"))

	called := 0
	for i := 0; i < 200; i++ {
		if _, err := interceptor(ctx, nil, info, okHandler(&called)); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
}

func TestUnaryAuthInterceptor(t *testing.T) {
	interceptor := UnaryAuthInterceptor("/pkg.Svc/Public")

	called := 0
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Private"}, okHandler(&called))
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("expected Unauthenticated, got %v", err)
	}

	if _, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Public"}, okHandler(&called)); err != nil {
		t.Errorf("public method rejected: %v", err)
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(MetadataKeyUserID, "user123"))
	if _, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Private"}, okHandler(&called)); err != nil {
		t.Errorf("authenticated call rejected: %v", err)
	}
	if called != 2 {
		t.Errorf("handler called %d times, want 2", called)
	}
}

func TestUserIDRoundTrip(t *testing.T) {
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty user id, got %q", got)
	}
	out := UserIDToOutgoingContext(context.Background(), "user42")
	md, _ := metadata.FromOutgoingContext(out)
	in := metadata.NewIncomingContext(context.Background(), md)
	if got := UserIDFromContext(in); got != "user42" {
		t.Errorf("UserIDFromContext = %q, want user42", got)
	}
}
