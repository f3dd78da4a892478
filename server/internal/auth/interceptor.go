package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/deltacache/server/internal/config"
)

// keyCheck holds the resolved API key settings shared by the gRPC
// interceptor and the HTTP middleware.
type keyCheck struct {
	header string
	key    string
}

func newKeyCheck(cfg config.AuthConfig) keyCheck {
	kc := keyCheck{header: strings.ToLower(cfg.EffectiveHeader())}
	if cfg.Mode == "apikey" {
		kc.key = cfg.Key()
	}
	return kc
}

// enabled is false when mode != "apikey" or no key is configured.
func (k keyCheck) enabled() bool { return k.key != "" }

func (k keyCheck) valid(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(k.key)) == 1
}

// APIKeyInterceptor returns a gRPC UnaryServerInterceptor that enforces API key
// authentication on every incoming call.
//
// Behaviour:
//   - If cfg.Mode != "apikey" or the key resolves empty, all calls are allowed.
//   - Otherwise the value of cfg.EffectiveHeader() in the incoming metadata must
//     equal the key.
//   - A missing, empty, or incorrect key returns codes.Unauthenticated.
func APIKeyInterceptor(cfg config.AuthConfig) grpc.UnaryServerInterceptor {
	kc := newKeyCheck(cfg)
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !kc.enabled() {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		vals := md.Get(kc.header)
		if len(vals) == 0 || !kc.valid(vals[0]) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}

		return handler(ctx, req)
	}
}
