// Package shipper sends seed ops to deltacache-server over gRPC
// (deltacache.v1.CacheService Put and Delete).
//
// Shipper.Ship() is non-blocking: ops are placed in an in-memory channel
// (default capacity 1000). When the buffer is full the oldest op is evicted.
//
// Shipper.Run() drains the buffer in a loop, reconnecting with truncated
// exponential backoff (1s→60s, ±25% jitter) on connection or send errors.
// Permanent gRPC errors (Unauthenticated, PermissionDenied, InvalidArgument)
// discard the op immediately rather than retrying.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata header,
// or insecure (plaintext) for local development.
package shipper
