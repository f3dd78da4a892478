package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/obsidianstack/deltacache/pkg/cache"
	"github.com/obsidianstack/deltacache/server/internal/rules"
	"github.com/obsidianstack/deltacache/server/internal/store"
	"github.com/obsidianstack/deltacache/server/internal/webhook"
)

const maxBodySize = 4 << 20

// Loader reads keys missing from the cache from an origin.
type Loader interface {
	Load(ctx context.Context, key string) (json.RawMessage, bool, error)
	Forget(key string)
}

// DeliveryLog exposes recent webhook deliveries.
type DeliveryLog interface {
	Recent() []webhook.Delivery
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithUpstream makes GET /api/v1/items/{key} read through l on a miss.
func WithUpstream(l Loader) Option { return func(h *Handler) { h.upstream = l } }

// WithDeliveries serves d at GET /api/v1/deliveries.
func WithDeliveries(d DeliveryLog) Option { return func(h *Handler) { h.deliveries = d } }

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store      *store.Store
	upstream   Loader
	deliveries DeliveryLog
	mux        *http.ServeMux
}

// New creates a Handler wired to the given store and registers all routes.
func New(st *store.Store, opts ...Option) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux()}
	for _, o := range opts {
		o(h)
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/items", h.items)
	h.mux.HandleFunc("/api/v1/items/", h.item) // subtree, extracts {key}
	h.mux.HandleFunc("/api/v1/purge", h.purge)
	h.mux.HandleFunc("/api/v1/config", h.config)
	h.mux.HandleFunc("/api/v1/notify", h.notify)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)
	h.mux.HandleFunc("/api/v1/deliveries", h.listDeliveries)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: entry count, intervals, pending changes.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ev, nt := h.store.Intervals()
	state := cacheState{
		stats:        h.store.Stats(),
		rules:        h.store.Rules(),
		eviction:     ev,
		notification: nt,
	}
	hints := computeDiagnostics(state)
	if hints == nil {
		hints = []DiagnosticHint{}
	}

	jsonResp(w, http.StatusOK, HealthResponse{
		Cache:                h.store.Name(),
		State:                stateFromHints(hints),
		Count:                state.stats.Entries,
		Rules:                state.rules,
		EvictionInterval:     ev.String(),
		NotificationInterval: nt.String(),
		PendingUpdated:       state.stats.PendingUpdated,
		PendingRemoved:       state.stats.PendingRemoved,
		Diagnostics:          hints,
	})
}

// items serves /api/v1/items:
//
//	GET     every entry, sorted by key
//	POST    merge a batch in one atomic write
//	DELETE  remove everything, or only ?keys=a,b
func (h *Handler) items(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, http.StatusOK, toItemResponses(h.store.List(ctx)))

	case http.MethodPost:
		var req MergeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		for k := range req.Items {
			if k == "" {
				jsonErr(w, http.StatusBadRequest, "item key must not be empty")
				return
			}
		}
		n, err := h.store.Merge(ctx, req.Items, store.SourceHTTP)
		if err != nil {
			storeErr(w, err)
			return
		}
		if h.upstream != nil {
			for k := range req.Items {
				h.upstream.Forget(k)
			}
		}
		jsonResp(w, http.StatusOK, MergeResponse{Written: n})

	case http.MethodDelete:
		var err error
		if keys := splitKeys(r.URL.Query().Get("keys")); len(keys) > 0 {
			err = h.store.DeleteMany(ctx, keys)
		} else {
			err = h.store.Clear(ctx)
		}
		if err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// item serves /api/v1/items/{key}: GET reads (through the upstream when one
// is configured), PUT sets the request body as the value, DELETE removes.
func (h *Handler) item(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/v1/items/")
	if key == "" {
		h.items(w, r)
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		var (
			e   *store.Entry
			ok  bool
			err error
		)
		if h.upstream != nil {
			e, ok, err = h.store.GetOrLoad(ctx, key, h.upstream.Load)
		} else {
			e, ok = h.store.Get(ctx, key)
		}
		if err != nil {
			if errors.Is(err, cache.ErrClosed) {
				storeErr(w, err)
				return
			}
			jsonErr(w, http.StatusBadGateway, err.Error())
			return
		}
		if !ok {
			jsonErr(w, http.StatusNotFound, "item not found")
			return
		}
		jsonResp(w, http.StatusOK, toItemResponse(key, e))

	case http.MethodPut:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			jsonErr(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if !json.Valid(body) {
			jsonErr(w, http.StatusBadRequest, "value is not valid JSON")
			return
		}
		e, err := h.store.Put(ctx, key, json.RawMessage(body), store.SourceHTTP)
		if err != nil {
			storeErr(w, err)
			return
		}
		if h.upstream != nil {
			h.upstream.Forget(key)
		}
		jsonResp(w, http.StatusOK, toItemResponse(key, e))

	case http.MethodDelete:
		if err := h.store.Delete(ctx, key); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// purge handles POST /api/v1/purge: runs the eviction rules now, plus an
// optional one-off condition.
func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PurgeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var extra *rules.Condition
	if req.Condition != "" {
		c, err := rules.Parse(req.Condition)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		extra = &c
	}

	n, err := h.store.Purge(r.Context(), extra)
	if err != nil {
		storeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, PurgeResponse{Evicted: n})
}

// config serves /api/v1/config: GET reads both intervals, PUT changes them.
func (h *Handler) config(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req ConfigRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ev, err := parseInterval("eviction_interval", req.EvictionInterval)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		nt, err := parseInterval("notification_interval", req.NotificationInterval)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.store.SetIntervals(r.Context(), ev, nt); err != nil {
			storeErr(w, err)
			return
		}
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ev, nt := h.store.Intervals()
	jsonResp(w, http.StatusOK, ConfigResponse{
		EvictionInterval:     ev.String(),
		NotificationInterval: nt.String(),
		Rules:                h.store.Rules(),
	})
}

// notify handles POST /api/v1/notify: publishes pending changes now.
func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sent, err := h.store.Flush(r.Context())
	if err != nil {
		storeErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, NotifyResponse{Sent: sent})
}

// snapshot returns GET /api/v1/snapshot: full JSON dump of every entry.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jsonResp(w, http.StatusOK, SnapshotResponse{
		Cache:       h.store.Name(),
		Items:       toItemResponses(h.store.List(r.Context())),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// listDeliveries returns GET /api/v1/deliveries: recent webhook attempts,
// newest first. Empty when no notifier is wired.
func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := []webhook.Delivery{}
	if h.deliveries != nil {
		out = append(out, h.deliveries.Recent()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// storeErr maps a store error to a status: a closed cache is unavailable,
// anything else is ours.
func storeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, cache.ErrClosed) {
		jsonErr(w, http.StatusServiceUnavailable, "cache is closed")
		return
	}
	jsonErr(w, http.StatusInternalServerError, err.Error())
}

// decodeBody decodes a JSON request body into v, writing a 400 and
// returning false when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// parseInterval parses an optional duration field. Absent means unchanged,
// reported as -1.
func parseInterval(field string, s *string) (time.Duration, error) {
	if s == nil {
		return -1, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}

func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// toItemResponse maps a store entry to its JSON representation.
func toItemResponse(key string, e *store.Entry) ItemResponse {
	return ItemResponse{
		Key:       key,
		Value:     e.Value,
		Source:    e.Source,
		UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toItemResponses(items []store.Item) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResponse(it.Key, &it.Entry))
	}
	return out
}
