// Package grpc carries authkit into gRPC services: a unary interceptor that
// applies the authkit rate limiter per method, and helpers that forward the
// signed-in user id from an HTTP front end to backends through metadata.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// MetadataKeyUserID is the metadata key holding the authenticated user id.
const MetadataKeyUserID = "x-authkit-user-id"

// UserIDFromContext returns the forwarded user id, or "".
func UserIDFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(MetadataKeyUserID); len(values) > 0 {
		return values[0]
	}
	return ""
}

// UserIDToOutgoingContext attaches userID to calls made with the returned context.
func UserIDToOutgoingContext(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKeyUserID, userID)
}
