// Package auth provides API key authentication for the server.
//
// APIKeyInterceptor(cfg) returns a gRPC UnaryServerInterceptor that validates
// the key from the configured metadata header. Middleware(cfg, next, exempt...)
// applies the same check to HTTP requests.
//
// When cfg.Mode != "apikey" or the key environment variable is unset, every
// call passes through (useful for local development with auth disabled).
// Otherwise an incorrect or absent key is rejected immediately with
// codes.Unauthenticated or HTTP 401.
package auth
