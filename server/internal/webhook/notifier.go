package webhook

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/obsidianstack/deltacache/pkg/cache"
	"github.com/obsidianstack/deltacache/server/internal/config"
	"github.com/obsidianstack/deltacache/server/internal/store"
)

const (
	defaultTimeout = 10 * time.Second
	maxHistoryLen  = 200
)

// Delivery records the outcome of one change sent to one target.
type Delivery struct {
	ID     string    `json:"id"`
	Target string    `json:"target"`
	Cache  string    `json:"cache"`
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
}

// Payload is the body sent to generic HTTP targets.
type Payload struct {
	Event   string                  `json:"event"`
	ID      string                  `json:"id"`
	Cache   string                  `json:"cache"`
	Seq     uint64                  `json:"seq"`
	At      time.Time               `json:"at"`
	Updated map[string]*store.Entry `json:"updated"`
	Removed []string                `json:"removed"`
}

// Notifier is a cache.Publisher that posts every change to the configured
// webhook targets.
//
// Notifier is safe for concurrent use.
type Notifier struct {
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	webhooks []config.WebhookConfig
	history  []Delivery
	queue    []job

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// job is one change waiting for delivery, with the targets current at
// publish time.
type job struct {
	targets []config.WebhookConfig
	payload *Payload
}

// New creates a Notifier from the notify configuration.
// A Notifier with no webhooks is valid; Publish becomes a no-op.
func New(cfg config.NotifyConfig) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		client:  &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Inf, 0),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	n.Reconfigure(cfg)

	n.wg.Add(1)
	go n.run()
	return n
}

// run delivers queued changes one at a time, in publish order.
func (n *Notifier) run() {
	defer n.wg.Done()
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			select {
			case <-n.ctx.Done():
				return
			case <-n.wake:
				continue
			}
		}
		j := n.queue[0]
		n.queue[0] = job{}
		n.queue = n.queue[1:]
		n.mu.Unlock()

		if n.ctx.Err() != nil {
			return
		}
		n.deliver(j.targets, j.payload)
	}
}

// Reconfigure replaces the targets and the delivery rate.
func (n *Notifier) Reconfigure(cfg config.NotifyConfig) {
	n.mu.Lock()
	n.webhooks = append([]config.WebhookConfig(nil), cfg.Webhooks...)
	n.mu.Unlock()

	limit, burst := rate.Inf, 0
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		burst = max(cfg.Burst, 1)
	}
	n.limiter.SetLimit(limit)
	n.limiter.SetBurst(burst)
}

// Publish queues ch for delivery to every target and returns immediately.
// Targets receive changes in the order they were published.
func (n *Notifier) Publish(_ context.Context, ch cache.Change[string, *store.Entry]) {
	n.mu.Lock()
	targets := n.webhooks
	n.mu.Unlock()
	if len(targets) == 0 || n.ctx.Err() != nil {
		return
	}

	removed := ch.Removed
	if removed == nil {
		removed = []string{}
	}
	p := Payload{
		Event:   ch.Event,
		ID:      uuid.NewString(),
		Cache:   ch.Cache,
		Seq:     ch.Seq,
		At:      ch.At,
		Updated: ch.Updated,
		Removed: removed,
	}

	n.mu.Lock()
	n.queue = append(n.queue, job{targets: targets, payload: &p})
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Recent returns the most recent deliveries, newest first.
func (n *Notifier) Recent() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Delivery, len(n.history))
	for i, d := range n.history {
		out[len(out)-1-i] = d
	}
	return out
}

// Close abandons queued deliveries and those waiting for the rate limiter,
// and waits for an in-flight one to finish.
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}

func (n *Notifier) record(d Delivery) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.history = append(n.history, d)
	if len(n.history) > maxHistoryLen {
		n.history = n.history[len(n.history)-maxHistoryLen:]
	}
}

// summary is the one-line human description used by chat targets.
func summary(p *Payload) string {
	return fmt.Sprintf("cache %q changed (seq %d): %d updated, %d removed",
		p.Cache, p.Seq, len(p.Updated), len(p.Removed))
}
