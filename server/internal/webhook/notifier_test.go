package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/obsidianstack/deltacache/pkg/cache"
	"github.com/obsidianstack/deltacache/server/internal/config"
	"github.com/obsidianstack/deltacache/server/internal/store"
	"github.com/obsidianstack/deltacache/server/internal/webhook"
)

type received struct {
	id   string
	body []byte
}

// sink starts an HTTP server recording every POST it receives.
func sink(t *testing.T, status int) (url string, got <-chan received) {
	t.Helper()
	ch := make(chan received, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- received{id: r.Header.Get("X-Delivery-ID"), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv.URL, ch
}

func change(seq uint64) cache.Change[string, *store.Entry] {
	return cache.Change[string, *store.Entry]{
		Event: cache.DidChangeEvent,
		Cache: "test",
		Seq:   seq,
		Updated: map[string]*store.Entry{
			"a": {Value: json.RawMessage(`1`), Source: store.SourceHTTP},
		},
		Removed: []string{"b"},
		At:      time.Now(),
	}
}

func next(t *testing.T, got <-chan received) received {
	t.Helper()
	select {
	case r := <-got:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no webhook received")
		return received{}
	}
}

func TestPublish_HTTP(t *testing.T) {
	url, got := sink(t, http.StatusOK)
	t.Setenv("TEST_HOOK_HTTP", url)

	n := webhook.New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "TEST_HOOK_HTTP"}},
	})
	defer n.Close()

	n.Publish(context.Background(), change(3))
	r := next(t, got)

	if r.id == "" {
		t.Error("X-Delivery-ID: missing")
	}
	var p webhook.Payload
	if err := json.Unmarshal(r.body, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ID != r.id {
		t.Errorf("payload id %q != header id %q", p.ID, r.id)
	}
	if p.Event != cache.DidChangeEvent || p.Cache != "test" || p.Seq != 3 {
		t.Errorf("payload: got %+v", p)
	}
	if len(p.Updated) != 1 || len(p.Removed) != 1 || p.Removed[0] != "b" {
		t.Errorf("payload delta: got updated=%v removed=%v", p.Updated, p.Removed)
	}
}

func TestPublish_SlackAndTeams(t *testing.T) {
	slackURL, slackGot := sink(t, http.StatusOK)
	teamsURL, teamsGot := sink(t, http.StatusOK)
	t.Setenv("TEST_HOOK_SLACK", slackURL)
	t.Setenv("TEST_HOOK_TEAMS", teamsURL)

	n := webhook.New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{
			{Type: "slack", URLEnv: "TEST_HOOK_SLACK"},
			{Type: "teams", URLEnv: "TEST_HOOK_TEAMS"},
		},
	})
	defer n.Close()

	n.Publish(context.Background(), change(1))

	s := next(t, slackGot)
	if !strings.Contains(string(s.body), `1 updated, 1 removed`) {
		t.Errorf("slack body: got %s", s.body)
	}
	tm := next(t, teamsGot)
	if !strings.Contains(string(tm.body), `"@type":"MessageCard"`) {
		t.Errorf("teams body: got %s", tm.body)
	}
	if s.id != tm.id {
		t.Errorf("targets of one change should share the delivery id: %q vs %q", s.id, tm.id)
	}
}

func TestPublish_FailureIsRecorded(t *testing.T) {
	url, got := sink(t, http.StatusInternalServerError)
	t.Setenv("TEST_HOOK_FAIL", url)

	n := webhook.New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "TEST_HOOK_FAIL"}},
	})
	n.Publish(context.Background(), change(1))
	next(t, got)
	n.Close() // waits for the delivery to be recorded

	recent := n.Recent()
	if len(recent) != 1 {
		t.Fatalf("Recent: got %d, want 1", len(recent))
	}
	if recent[0].OK || !strings.Contains(recent[0].Error, "500") {
		t.Errorf("Recent[0]: got %+v", recent[0])
	}
}

func TestPublish_NoWebhooksIsNoop(t *testing.T) {
	n := webhook.New(config.NotifyConfig{})
	n.Publish(context.Background(), change(1))
	n.Close()
	if len(n.Recent()) != 0 {
		t.Errorf("Recent: got %d deliveries, want 0", len(n.Recent()))
	}
}

func TestPublish_MissingURLSkipped(t *testing.T) {
	n := webhook.New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "TEST_HOOK_UNSET_XYZ"}},
	})
	n.Publish(context.Background(), change(1))
	n.Close()
	if len(n.Recent()) != 0 {
		t.Errorf("Recent: got %d deliveries, want 0", len(n.Recent()))
	}
}

func TestPublish_RateLimited(t *testing.T) {
	var mu sync.Mutex
	var times []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
	}))
	defer srv.Close()
	t.Setenv("TEST_HOOK_RATE", srv.URL)

	n := webhook.New(config.NotifyConfig{
		RatePerSecond: 20,
		Burst:         1,
		Webhooks:      []config.WebhookConfig{{Type: "http", URLEnv: "TEST_HOOK_RATE"}},
	})
	defer n.Close()

	start := time.Now()
	for i := 1; i <= 3; i++ {
		n.Publish(context.Background(), change(uint64(i)))
	}

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(times)
	}
	deadline := time.Now().Add(2 * time.Second)
	for count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) != 3 {
		t.Fatalf("deliveries: got %d, want 3", len(times))
	}
	// 20/s with a burst of 1 spaces deliveries ~50ms apart.
	if elapsed := times[2].Sub(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 deliveries within %v, want rate limited", elapsed)
	}
}

func TestPublish_DeliversInSeqOrder(t *testing.T) {
	const total = 50
	url, got := sink(t, http.StatusOK)
	t.Setenv("TEST_HOOK_SEQ", url)

	n := webhook.New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "TEST_HOOK_SEQ"}},
	})
	defer n.Close()

	for i := 1; i <= total; i++ {
		n.Publish(context.Background(), change(uint64(i)))
	}

	var last uint64
	for i := 0; i < total; i++ {
		r := next(t, got)
		var p webhook.Payload
		if err := json.Unmarshal(r.body, &p); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if p.Seq != last+1 {
			t.Fatalf("delivery %d: got seq %d after %d", i, p.Seq, last)
		}
		last = p.Seq
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	url, got := sink(t, http.StatusOK)
	t.Setenv("TEST_HOOK_ORDER", url)

	n := webhook.New(config.NotifyConfig{
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "TEST_HOOK_ORDER"}},
	})
	n.Publish(context.Background(), change(1))
	next(t, got)
	// Wait for the first delivery to be recorded before sending the second.
	deadline := time.Now().Add(2 * time.Second)
	for len(n.Recent()) < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	n.Publish(context.Background(), change(2))
	next(t, got)
	n.Close()

	recent := n.Recent()
	if len(recent) != 2 || recent[0].Seq != 2 || recent[1].Seq != 1 {
		t.Errorf("Recent: got %+v", recent)
	}
}
