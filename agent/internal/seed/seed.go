package seed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/obsidianstack/deltacache/agent/internal/config"
)

// maxFileSize bounds how much of a seed file is read.
const maxFileSize = 64 << 20

// Op is one write the shipper sends to the server: a put of Value under Key,
// or a delete of Key when Delete is set.
type Op struct {
	SourceID string
	Key      string
	Value    json.RawMessage
	Delete   bool
}

// Read parses the JSON object in path. Each member becomes one entry;
// values are compacted so formatting changes in the file are not changes.
func Read(path string) (map[string]json.RawMessage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("seed: %s: file larger than %d bytes", path, maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("seed: %s: want a JSON object: %w", path, err)
	}
	out := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if k == "" {
			return nil, fmt.Errorf("seed: %s: empty key", path)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("seed: %s: key %q: %w", path, k, err)
		}
		out[k] = buf.Bytes()
	}
	return out, nil
}

// Engine remembers what each source last contained and turns a fresh read
// into the writes needed to bring the cache up to date.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	states map[string]map[string]json.RawMessage
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{states: make(map[string]map[string]json.RawMessage)}
}

// Process compares values with the previous call for src and returns the
// ops that changed, sorted by key with puts before deletes. The first call
// for a source puts everything. Keys that vanished are deleted only when
// src.Prune is set.
func (e *Engine) Process(src config.Source, values map[string]json.RawMessage) []Op {
	return e.diff(src, values, false)
}

// Resync is Process that puts every key again, changed or not. It restores
// keys whose earlier ops never reached the server or that the server has
// since evicted. Pruning still compares against the previous read.
func (e *Engine) Resync(src config.Source, values map[string]json.RawMessage) []Op {
	return e.diff(src, values, true)
}

func (e *Engine) diff(src config.Source, values map[string]json.RawMessage, full bool) []Op {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.states[src.ID]
	next := make(map[string]json.RawMessage, len(values))

	var puts, deletes []Op
	for k, v := range values {
		key := src.Prefix + k
		next[key] = v
		if old, ok := prev[key]; ok && !full && bytes.Equal(old, v) {
			continue
		}
		puts = append(puts, Op{SourceID: src.ID, Key: key, Value: v})
	}
	for key := range prev {
		if _, ok := next[key]; ok {
			continue
		}
		if src.Prune {
			deletes = append(deletes, Op{SourceID: src.ID, Key: key, Delete: true})
		}
	}

	e.states[src.ID] = next

	sort.Slice(puts, func(i, j int) bool { return puts[i].Key < puts[j].Key })
	sort.Slice(deletes, func(i, j int) bool { return deletes[i].Key < deletes[j].Key })

	if len(puts)+len(deletes) > 0 {
		slog.Debug("seed: source changed",
			"source", src.ID, "puts", len(puts), "deletes", len(deletes))
	}
	return append(puts, deletes...)
}

// Forget drops the remembered state for id, so the next Process puts
// everything again.
func (e *Engine) Forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, id)
}

// Retain forgets every source not in ids, typically after a config reload
// removed some.
func (e *Engine) Retain(ids ...string) {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.states {
		if !keep[id] {
			delete(e.states, id)
		}
	}
}
