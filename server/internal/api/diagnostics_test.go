package api

import (
	"testing"
	"time"

	"github.com/obsidianstack/deltacache/pkg/cache"
)

func keys(hints []DiagnosticHint) []string {
	out := make([]string, len(hints))
	for i, h := range hints {
		out[i] = h.Key
	}
	return out
}

func TestDiagnostics_Quiet(t *testing.T) {
	hints := computeDiagnostics(cacheState{
		stats:        cache.Stats{Entries: 10, Hits: 90, Misses: 10},
		rules:        2,
		eviction:     time.Minute,
		notification: time.Second,
	})
	if len(hints) != 0 {
		t.Errorf("hints: got %v, want none", keys(hints))
	}
	if s := stateFromHints(hints); s != "healthy" {
		t.Errorf("state: got %q, want healthy", s)
	}
}

func TestDiagnostics_LoadErrorsCritical(t *testing.T) {
	hints := computeDiagnostics(cacheState{
		stats:        cache.Stats{Loads: 5, LoadErrors: 15},
		notification: time.Second,
	})
	if len(hints) != 1 || hints[0].Key != "load_errors" || hints[0].Level != "critical" {
		t.Fatalf("hints: got %+v", hints)
	}
	if hints[0].Value == nil || *hints[0].Value != 75 {
		t.Errorf("value: got %v, want 75", hints[0].Value)
	}
	if s := stateFromHints(hints); s != "critical" {
		t.Errorf("state: got %q, want critical", s)
	}
}

func TestDiagnostics_TooFewSamplesIgnored(t *testing.T) {
	hints := computeDiagnostics(cacheState{
		stats:        cache.Stats{LoadErrors: 3, Misses: 5},
		notification: time.Second,
	})
	if len(hints) != 0 {
		t.Errorf("hints: got %v, want none", keys(hints))
	}
}

func TestDiagnostics_OrderedBySeverity(t *testing.T) {
	hints := computeDiagnostics(cacheState{
		stats: cache.Stats{
			PendingRemoved: 4,
			Loads:          18, LoadErrors: 2,
			Hits: 1, Misses: 30,
		},
		rules: 1,
	})
	got := keys(hints)
	want := []string{"load_errors", "notify_manual", "eviction_off", "low_hit_ratio"}
	if len(got) != len(want) {
		t.Fatalf("hints: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("hints[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
	if s := stateFromHints(hints); s != "degraded" {
		t.Errorf("state: got %q, want degraded", s)
	}
}

func TestDiagnostics_NoRules(t *testing.T) {
	hints := computeDiagnostics(cacheState{eviction: time.Minute, notification: time.Second})
	if len(hints) != 1 || hints[0].Key != "no_rules" {
		t.Errorf("hints: got %v, want [no_rules]", keys(hints))
	}
}
