package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obsidianstack/deltacache/pkg/cache"
)

const namespace = "deltacache"

// Source is what the collector reads on every scrape.
type Source interface {
	Name() string
	Stats() cache.Stats
}

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(cache.Stats) float64
}

// Collector is a prometheus.Collector over a cache's Stats.
type Collector struct {
	src     Source
	metrics []metric
	clients *prometheus.Desc
	count   func() int
}

// NewCollector returns a Collector for src. clients, when non-nil, is
// reported as the number of connected change-stream clients.
func NewCollector(src Source, clients func() int) *Collector {
	labels := prometheus.Labels{"cache": src.Name()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}
	gauge := func(name, help string, v func(cache.Stats) float64) metric {
		return metric{desc: desc(name, help), kind: prometheus.GaugeValue, value: v}
	}
	counter := func(name, help string, v func(cache.Stats) float64) metric {
		return metric{desc: desc(name, help), kind: prometheus.CounterValue, value: v}
	}

	c := &Collector{
		src: src,
		metrics: []metric{
			gauge("entries", "Number of entries in the cache.",
				func(s cache.Stats) float64 { return float64(s.Entries) }),
			gauge("pending_updated", "Entries updated since the last change notification.",
				func(s cache.Stats) float64 { return float64(s.PendingUpdated) }),
			gauge("pending_removed", "Keys removed since the last change notification.",
				func(s cache.Stats) float64 { return float64(s.PendingRemoved) }),
			counter("hits_total", "Lookups that found an entry.",
				func(s cache.Stats) float64 { return float64(s.Hits) }),
			counter("misses_total", "Lookups that found no entry.",
				func(s cache.Stats) float64 { return float64(s.Misses) }),
			counter("loads_total", "Read-through loads attempted.",
				func(s cache.Stats) float64 { return float64(s.Loads) }),
			counter("load_errors_total", "Read-through loads that failed.",
				func(s cache.Stats) float64 { return float64(s.LoadErrors) }),
			counter("purges_total", "Eviction scans run.",
				func(s cache.Stats) float64 { return float64(s.Purges) }),
			counter("evicted_total", "Entries removed by eviction.",
				func(s cache.Stats) float64 { return float64(s.Evicted) }),
			counter("notifications_total", "Change notifications published.",
				func(s cache.Stats) float64 { return float64(s.Notifications) }),
		},
	}
	if clients != nil {
		c.clients = desc("stream_clients", "Connected WebSocket change-stream clients.")
		c.count = clients
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
	if c.clients != nil {
		ch <- c.clients
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(s))
	}
	if c.clients != nil {
		ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(c.count()))
	}
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
