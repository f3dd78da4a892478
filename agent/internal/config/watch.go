package config

import (
	"context"

	"github.com/obsidianstack/deltacache/pkg/filewatch"
)

// Watch calls onChange with the newly loaded Config each time the file at
// path is written. It runs until ctx is cancelled.
//
// A reload that fails to parse or validate is logged and skipped; the agent
// keeps its previous sources.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return filewatch.Watch(ctx, path, Load, onChange)
}
