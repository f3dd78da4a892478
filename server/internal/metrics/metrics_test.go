package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/deltacache/pkg/cache"
	"github.com/obsidianstack/deltacache/server/internal/metrics"
)

type fakeSource struct{ stats cache.Stats }

func (f fakeSource) Name() string       { return "sessions" }
func (f fakeSource) Stats() cache.Stats { return f.stats }

// scrape serves the registry through Handler and parses the text exposition.
func scrape(t *testing.T, src metrics.Source, clients func() int) map[string]*dto.MetricFamily {
	t.Helper()
	reg, err := metrics.NewRegistry(metrics.NewCollector(src, clients))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return mfs
}

func value(t *testing.T, mfs map[string]*dto.MetricFamily, name string) float64 {
	t.Helper()
	mf, ok := mfs[name]
	if !ok {
		t.Fatalf("metric %s not exposed", name)
	}
	m := mf.GetMetric()[0]
	for _, lp := range m.GetLabel() {
		if lp.GetName() == "cache" && lp.GetValue() != "sessions" {
			t.Errorf("%s: cache label %q, want sessions", name, lp.GetValue())
		}
	}
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	}
	t.Fatalf("%s: neither counter nor gauge", name)
	return 0
}

func TestCollector_ExposesStats(t *testing.T) {
	mfs := scrape(t, fakeSource{cache.Stats{
		Entries:        12,
		PendingUpdated: 3,
		PendingRemoved: 1,
		Hits:           40,
		Misses:         2,
		Loads:          5,
		LoadErrors:     1,
		Purges:         7,
		Evicted:        9,
		Notifications:  4,
	}}, nil)

	want := map[string]float64{
		"deltacache_entries":             12,
		"deltacache_pending_updated":     3,
		"deltacache_pending_removed":     1,
		"deltacache_hits_total":          40,
		"deltacache_misses_total":        2,
		"deltacache_loads_total":         5,
		"deltacache_load_errors_total":   1,
		"deltacache_purges_total":        7,
		"deltacache_evicted_total":       9,
		"deltacache_notifications_total": 4,
	}
	for name, v := range want {
		if got := value(t, mfs, name); got != v {
			t.Errorf("%s: got %v, want %v", name, got, v)
		}
	}
	if mfs["deltacache_hits_total"].GetType() != dto.MetricType_COUNTER {
		t.Error("hits_total: want counter type")
	}
	if _, ok := mfs["deltacache_stream_clients"]; ok {
		t.Error("stream_clients exposed without a client counter")
	}
	if _, ok := mfs["go_goroutines"]; !ok {
		t.Error("go runtime metrics missing")
	}
}

func TestCollector_StreamClients(t *testing.T) {
	mfs := scrape(t, fakeSource{}, func() int { return 3 })
	if got := value(t, mfs, "deltacache_stream_clients"); got != 3 {
		t.Errorf("stream_clients: got %v, want 3", got)
	}
}
