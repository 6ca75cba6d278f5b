package watcher

import (
	"context"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a single Markdown file event.
type FileEvent struct {
	// Path is the vault-relative docUri.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Watcher subscribes to filesystem events for .md files under a vault.
type Watcher interface {
	// Start begins watching the given vault root recursively.
	// Runs until Stop is called or ctx is cancelled.
	Start(ctx context.Context, path string) error

	// Stop cancels any pending debounce timer and releases the
	// subscription. Idempotent.
	Stop() error

	// Batches returns the channel of coalesced, debounced event batches.
	// The channel is not closed when the watcher stops.
	Batches() <-chan []FileEvent

	// Errors returns non-fatal watcher errors. The channel is not closed
	// when the watcher stops.
	Errors() <-chan error
}

// Options configures watcher behavior, per spec §4.13/§6.
type Options struct {
	// DebounceWindow is the coalescing window. Default 2000ms, must be
	// configurable down to a 100ms floor.
	DebounceWindow time.Duration

	// PollInterval is the interval for the polling fallback.
	PollInterval time.Duration

	// EventBufferSize is not read by HybridWatcher; its channel buffers
	// have fixed sizes.
	EventBufferSize int

	// ExcludeDirs mirrors the scanner's excluded directory names.
	ExcludeDirs []string

	// ExcludeGlobs mirrors the scanner's excluded glob patterns.
	ExcludeGlobs []string
}

// DefaultOptions returns the default watcher options per spec §6.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  2000 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

// WithDefaults fills zero-valued fields with defaults.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// Validate enforces the configurable debounce floor (spec §4.13: "≥ 100 ms").
func (o Options) Validate() error {
	if o.DebounceWindow != 0 && o.DebounceWindow < 100*time.Millisecond {
		return errDebounceTooLow
	}
	return nil
}
