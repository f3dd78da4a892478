package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/obsidianstack/deltacache/pkg/cache"
)

// DiagnosticHint is one human-readable observation about the cache.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number behind the hint (e.g. a ratio in percent).
	Value *float64 `json:"value,omitempty"`
}

// Thresholds for the ratio-based hints. Ratios are only judged once there
// are enough samples to mean something.
const (
	minRatioSamples   = 20
	loadErrorWarnPct  = 10.0
	loadErrorCritPct  = 50.0
	hitRatioLowPct    = 50.0
	pendingBacklogMax = 10000
)

type cacheState struct {
	stats        cache.Stats
	rules        int
	eviction     time.Duration
	notification time.Duration
}

// computeDiagnostics derives hints from the cache's counters and settings.
// Hints are ordered critical first, then warnings, then info.
func computeDiagnostics(s cacheState) []DiagnosticHint {
	var hints []DiagnosticHint
	st := s.stats
	pending := st.PendingUpdated + st.PendingRemoved

	// ── Upstream loads failing ───────────────────────────────────────────────
	if attempts := st.Loads + st.LoadErrors; attempts >= minRatioSamples {
		pct := float64(st.LoadErrors) / float64(attempts) * 100
		if pct >= loadErrorWarnPct {
			level := "warning"
			if pct >= loadErrorCritPct {
				level = "critical"
			}
			hints = append(hints, DiagnosticHint{
				Key:   "load_errors",
				Level: level,
				Title: "Upstream loads failing",
				Detail: fmt.Sprintf(
					"%.1f%% of read-through loads returned an error. "+
						"Misses are served as errors until the upstream recovers; "+
						"check its reachability and credentials.",
					pct,
				),
				Value: &pct,
			})
		}
	}

	// ── Changes accumulating without a schedule ──────────────────────────────
	if s.notification == 0 && pending > 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "notify_manual",
			Level: "warning",
			Title: "Changes awaiting flush",
			Detail: fmt.Sprintf(
				"%d changes are pending but the notification interval is off. "+
					"Subscribers only hear about them after POST /api/v1/notify.",
				pending,
			),
		})
	} else if pending > pendingBacklogMax {
		hints = append(hints, DiagnosticHint{
			Key:   "notify_backlog",
			Level: "warning",
			Title: "Large change backlog",
			Detail: fmt.Sprintf(
				"%d changes are waiting for the next notification (every %s). "+
					"A shorter interval keeps each message smaller.",
				pending, s.notification,
			),
		})
	}

	// ── Eviction configuration ───────────────────────────────────────────────
	switch {
	case s.rules > 0 && s.eviction == 0:
		hints = append(hints, DiagnosticHint{
			Key:   "eviction_off",
			Level: "info",
			Title: "Scheduled eviction off",
			Detail: fmt.Sprintf(
				"%d eviction rules are loaded but the eviction interval is off. "+
					"They only run on POST /api/v1/purge.",
				s.rules,
			),
		})
	case s.rules == 0 && s.eviction > 0:
		hints = append(hints, DiagnosticHint{
			Key:   "no_rules",
			Level: "info",
			Title: "No eviction rules",
			Detail: fmt.Sprintf(
				"The cache scans itself every %s but no rule can select an entry. "+
					"Entries stay until they are deleted.",
				s.eviction,
			),
		})
	}

	// ── Hit ratio ────────────────────────────────────────────────────────────
	if reads := st.Hits + st.Misses; reads >= minRatioSamples {
		pct := float64(st.Hits) / float64(reads) * 100
		if pct < hitRatioLowPct {
			hints = append(hints, DiagnosticHint{
				Key:   "low_hit_ratio",
				Level: "info",
				Title: "Low hit ratio",
				Detail: fmt.Sprintf(
					"Only %.1f%% of reads found an entry. "+
						"Eviction rules may be removing entries before they are read again.",
					pct,
				),
				Value: &pct,
			})
		}
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank(hints[i].Level) < levelRank(hints[j].Level)
	})
	return hints
}

func levelRank(level string) int {
	switch level {
	case "critical":
		return 0
	case "warning":
		return 1
	default:
		return 2
	}
}

// stateFromHints summarises hints as the overall health state.
func stateFromHints(hints []DiagnosticHint) string {
	if len(hints) == 0 {
		return "healthy"
	}
	switch hints[0].Level {
	case "critical":
		return "critical"
	case "warning":
		return "degraded"
	default:
		return "healthy"
	}
}
