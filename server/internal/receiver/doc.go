// Package receiver implements the gRPC cache service deltacache.v1.CacheService
// on top of the entry store. The wire types, codec and service descriptor live
// in pkg/types; register a Receiver with types.Register.
//
// Receiver validates requests (codes.InvalidArgument on a missing key,
// non-JSON value or unparsable purge condition) and forwards them to the
// store. Authentication is enforced by the gRPC server interceptor (see
// package auth), so the receiver itself only performs structural validation.
package receiver
