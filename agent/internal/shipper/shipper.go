package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/deltacache/agent/internal/config"
	"github.com/obsidianstack/deltacache/agent/internal/seed"
	"github.com/obsidianstack/deltacache/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// Shipper buffers seed ops and sends them to deltacache-server via gRPC.
// Ship() is non-blocking; when the buffer is full the oldest op is evicted.
// Run() must be called in a goroutine to drain the buffer and handle reconnection.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan seed.Op
	dialFn dialFunc // injectable for tests

	retry *seed.Op // owned by Run
}

// dialFunc opens a gRPC connection. Tests swap in a local listener.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	return &Shipper{
		cfg:    cfg,
		buf:    make(chan seed.Op, cfg.BufferSize),
		dialFn: defaultDial,
	}
}

// Ship enqueues ops in order. If the buffer is full the oldest entry is
// evicted to make room.
func (s *Shipper) Ship(ops ...seed.Op) {
	for _, op := range ops {
		select {
		case s.buf <- op:
		default:
			select {
			case old := <-s.buf:
				slog.Warn("shipper: buffer full, evicted oldest op",
					"source", old.SourceID, "key", old.Key, "buffer_cap", cap(s.buf))
			default:
			}
			s.buf <- op
		}
	}
}

// Pending returns the number of buffered ops.
func (s *Shipper) Pending() int { return len(s.buf) }

// Run drains the buffer, sending ops to the server.
// It reconnects with exponential backoff when the connection is lost.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)
		bo.reset()

		err = s.drain(ctx, types.NewClient(conn))
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.cfg.ServerEndpoint,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain reads from the buffer and sends ops until a send fails with a
// transient error or ctx is cancelled. The failed op is held back and sent
// first on the next connection, so ops for one key keep their order.
func (s *Shipper) drain(ctx context.Context, client *types.Client) error {
	for {
		op, ok := s.next(ctx)
		if !ok {
			return nil
		}

		err := s.send(ctx, client, op)
		if err == nil {
			slog.Debug("shipper: op delivered", "source", op.SourceID, "key", op.Key, "delete", op.Delete)
			continue
		}

		if isPermanentError(err) {
			slog.Error("shipper: permanent send error, discarding op",
				"source", op.SourceID, "key", op.Key, "err", err)
			continue
		}

		s.retry = &op
		return fmt.Errorf("send: %w", err)
	}
}

// next returns the held-back op, if any, else waits for the buffer.
func (s *Shipper) next(ctx context.Context) (seed.Op, bool) {
	if s.retry != nil {
		op := *s.retry
		s.retry = nil
		return op, true
	}
	select {
	case <-ctx.Done():
		return seed.Op{}, false
	case op := <-s.buf:
		return op, true
	}
}

func (s *Shipper) send(ctx context.Context, client *types.Client, op seed.Op) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if s.cfg.ServerAuth.Mode == "apikey" {
		sendCtx = metadata.AppendToOutgoingContext(sendCtx,
			s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key())
	}

	if op.Delete {
		_, err := client.Delete(sendCtx, &types.DeleteRequest{Keys: []string{op.Key}})
		return err
	}
	resp, err := client.Put(sendCtx, &types.PutRequest{Key: op.Key, Value: op.Value})
	if err != nil {
		return err
	}
	if !resp.Ok {
		slog.Warn("shipper: server did not confirm put", "source", op.SourceID, "key", op.Key)
	}
	return nil
}

// isPermanentError returns true for gRPC errors that indicate the op
// itself is invalid and should not be retried.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // deprecated in 1.63
}

// dialOptions builds grpc.DialOption slice based on the server auth config.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	if cfg.ServerAuth.Mode == "mtls" {
		creds, err := buildMTLSCreds(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
	}
	// apikey sends the key per call; none is for local development.
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
