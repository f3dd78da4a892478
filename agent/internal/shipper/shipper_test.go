package shipper

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/deltacache/agent/internal/config"
	"github.com/obsidianstack/deltacache/agent/internal/seed"
	"github.com/obsidianstack/deltacache/pkg/types"
)

// mockServer implements types.CacheServiceServer for testing.
type mockServer struct {
	mu sync.Mutex
	// received holds "+key=value" for puts and "-key" for deletes.
	received []string
	apiKeys  []string
	// failN calls fail with failCode (Unavailable when unset).
	failN    int
	failCode codes.Code
}

func (m *mockServer) record(ctx context.Context, entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		m.apiKeys = append(m.apiKeys, md.Get("x-api-key")...)
	}
	if m.failN > 0 {
		m.failN--
		code := m.failCode
		if code == codes.OK {
			code = codes.Unavailable
		}
		return status.Error(code, "mock failure")
	}
	m.received = append(m.received, entry)
	return nil
}

func (m *mockServer) Put(ctx context.Context, req *types.PutRequest) (*types.PutResponse, error) {
	if err := m.record(ctx, "+"+req.Key+"="+string(req.Value)); err != nil {
		return nil, err
	}
	return &types.PutResponse{Ok: true, UpdatedAt: time.Now()}, nil
}

func (m *mockServer) Get(context.Context, *types.GetRequest) (*types.GetResponse, error) {
	return &types.GetResponse{}, nil
}

func (m *mockServer) Delete(ctx context.Context, req *types.DeleteRequest) (*types.DeleteResponse, error) {
	for _, k := range req.Keys {
		if err := m.record(ctx, "-"+k); err != nil {
			return nil, err
		}
	}
	return &types.DeleteResponse{Ok: true}, nil
}

func (m *mockServer) Purge(context.Context, *types.PurgeRequest) (*types.PurgeResponse, error) {
	return &types.PurgeResponse{}, nil
}

func (m *mockServer) entries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.received))
	copy(out, m.received)
	return out
}

// startTestServer starts an in-process gRPC server and returns a dial
// function that connects to it.
func startTestServer(t *testing.T, srv *mockServer) dialFunc {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	gs := grpc.NewServer()
	types.Register(gs, srv)

	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)

	addr := lis.Addr().String()
	return func(ctx context.Context, _ string, _ config.AgentConfig) (*grpc.ClientConn, error) {
		return grpc.DialContext(ctx, addr, //nolint:staticcheck
			grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
}

func put(key, value string) seed.Op {
	return seed.Op{SourceID: "src", Key: key, Value: json.RawMessage(value)}
}

func del(key string) seed.Op {
	return seed.Op{SourceID: "src", Key: key, Delete: true}
}

func agentCfg() config.AgentConfig {
	return config.AgentConfig{
		ServerEndpoint: "unused-overridden-by-dialFn",
		BufferSize:     10,
	}
}

// waitFor polls until srv has received n entries or timeout passes.
func waitFor(t *testing.T, srv *mockServer, n int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(srv.entries()) >= n {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	return srv.entries()
}

// --- Tests ---

func TestShipper_DeliversOpsInOrder(t *testing.T) {
	srv := &mockServer{}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(put("a", `1`), put("b", `{"x":2}`), del("c"))

	got := waitFor(t, srv, 3, 2*time.Second)
	want := []string{"+a=1", `+b={"x":2}`, "-c"}
	if len(got) != len(want) {
		t.Fatalf("server received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("received[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestShipper_SendsAPIKey(t *testing.T) {
	t.Setenv("TEST_AGENT_KEY", "k3y")
	srv := &mockServer{}
	cfg := agentCfg()
	cfg.ServerAuth = config.AuthConfig{Mode: "apikey", KeyEnv: "TEST_AGENT_KEY"}
	s := New(cfg)
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(put("a", `1`))
	waitFor(t, srv, 1, 2*time.Second)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.apiKeys) == 0 || srv.apiKeys[0] != "k3y" {
		t.Errorf("api keys seen: %v, want [k3y]", srv.apiKeys)
	}
}

func TestShipper_RetriesTransientFailureInOrder(t *testing.T) {
	srv := &mockServer{failN: 1}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Ship(put("k", `1`), put("k", `2`))
	go s.Run(ctx)

	// The first put fails once, is retried after backoff, and must still
	// land before the second.
	got := waitFor(t, srv, 2, 4*time.Second)
	if len(got) != 2 || got[0] != "+k=1" || got[1] != "+k=2" {
		t.Fatalf("server received %v, want [+k=1 +k=2]", got)
	}
}

func TestShipper_DiscardsPermanentFailure(t *testing.T) {
	srv := &mockServer{failN: 1, failCode: codes.InvalidArgument}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s.Ship(put("bad", `1`), put("good", `2`))
	go s.Run(ctx)

	got := waitFor(t, srv, 1, 2*time.Second)
	if len(got) != 1 || got[0] != "+good=2" {
		t.Fatalf("server received %v, want [+good=2]", got)
	}
}

func TestShipper_BufferEvictsOldest(t *testing.T) {
	// BufferSize=3; Ship 5 ops while the shipper is not running.
	// Only the 3 most recent should survive.
	s := New(config.AgentConfig{BufferSize: 3})

	for _, k := range []string{"k0", "k1", "k2", "k3", "k4"} {
		s.Ship(put(k, `1`))
	}
	if s.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", s.Pending())
	}

	var keys []string
	for len(s.buf) > 0 {
		keys = append(keys, (<-s.buf).Key)
	}
	for i, want := range []string{"k2", "k3", "k4"} {
		if keys[i] != want {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want)
		}
	}
}

func TestShipper_BackoffResets(t *testing.T) {
	b := newBackoff()
	first := b.next()
	if first > 2*time.Second {
		t.Errorf("first backoff too large: %v", first)
	}
	for i := 0; i < 10; i++ {
		b.next()
	}
	b.reset()
	after := b.next()
	if after > 2*time.Second {
		t.Errorf("backoff after reset too large: %v", after)
	}
}

func TestBackoff_NeverExceedsMax(t *testing.T) {
	b := newBackoff()
	for i := 0; i < 50; i++ {
		d := b.next()
		// With jitter, max is backoffMax * 1.25
		if d > backoffMax*2 {
			t.Errorf("backoff[%d] = %v, exceeds 2×max", i, d)
		}
	}
}

func TestShipper_GracefulShutdown(t *testing.T) {
	srv := &mockServer{}
	s := New(agentCfg())
	s.dialFn = startTestServer(t, srv)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Give it time to connect, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestDialOptions_MTLSRequiresReadableCert(t *testing.T) {
	cfg := agentCfg()
	cfg.ServerAuth = config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}
	if _, err := dialOptions(cfg); err == nil {
		t.Fatal("expected error for unreadable client cert")
	}
}
