// Package metrics exposes cache activity in the Prometheus text format.
//
// Collector reads cache.Stats once per scrape and reports entry and pending
// change gauges plus cumulative hit, miss, load, eviction and notification
// counters, all labelled with the cache name. Handler serves the registry at
// /metrics.
package metrics
