package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ostanlabs/msrl/internal/scanner"
)

var errDebounceTooLow = errors.New("watcher: DebounceWindow must be >= 100ms")

// HybridWatcher implements Watcher using fsnotify as the primary mechanism,
// falling back to polling when fsnotify fails to initialize (e.g. inotify
// watch limits exhausted), grounded on the teacher's fsnotify+polling split.
type HybridWatcher struct {
	fsWatcher   *fsnotify.Watcher
	pollWatcher *PollingWatcher
	useFsnotify bool

	debouncer *Debouncer
	excludes  *excludeSet

	batches chan []FileEvent
	errorsC chan error
	stopCh  chan struct{}

	rootPath string
	opts     Options

	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

var _ Watcher = (*HybridWatcher)(nil)

// NewHybridWatcher constructs a watcher, preferring fsnotify and falling
// back to polling if fsnotify can't be initialized.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		excludes:  newExcludeSet(opts.ExcludeDirs, opts.ExcludeGlobs),
		batches:   make(chan []FileEvent, 16),
		errorsC:   make(chan error, 16),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	if fsw, err := fsnotify.NewWatcher(); err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		h.pollWatcher = NewPollingWatcher(opts.PollInterval)
		h.useFsnotify = false
	}

	return h, nil
}

// Start begins watching path recursively.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watcher: resolving path: %w", err)
	}
	h.rootPath = absPath

	go h.pumpDebouncerOutput(ctx)

	if h.useFsnotify {
		if err := h.watchDirTree(absPath); err != nil {
			return fmt.Errorf("watcher: fsnotify setup: %w", err)
		}
		go h.runFsnotify(ctx)
		return nil
	}

	go func() {
		if err := h.pollWatcher.Start(ctx, absPath); err != nil && ctx.Err() == nil {
			h.sendError(err)
		}
	}()
	go h.bridgePolling(ctx)
	return nil
}

// watchDirTree registers every non-excluded directory under root with fsnotify.
func (h *HybridWatcher) watchDirTree(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable subtrees
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if p != root && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		for _, ex := range h.excludes.dirs {
			if name == ex {
				return filepath.SkipDir
			}
		}
		return h.fsWatcher.Add(p)
	})
}

// runFsnotify is the fsnotify event loop; it (re)watches new directories as
// they're created and feeds coalesced events into the debouncer.
func (h *HybridWatcher) runFsnotify(ctx context.Context) {
	defer func() { _ = h.fsWatcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return
			}
			h.handleFsEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return
			}
			h.sendError(err)
		}
	}
}

func (h *HybridWatcher) handleFsEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = h.fsWatcher.Add(event.Name)
			return
		}
	}

	docURI, err := scanner.ToDocURI(h.rootPath, event.Name)
	if err != nil || !strings.HasSuffix(strings.ToLower(docURI), ".md") || h.excludes.Match(docURI) {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = OpDelete
	default:
		return
	}

	h.debouncer.Add(FileEvent{Path: docURI, Operation: op, Timestamp: time.Now()})
}

func (h *HybridWatcher) bridgePolling(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case ev, ok := <-h.pollWatcher.Events():
			if !ok {
				return
			}
			docURI, err := scanner.ToDocURI(h.rootPath, filepath.Join(h.rootPath, ev.Path))
			if err != nil || !strings.HasSuffix(strings.ToLower(docURI), ".md") || h.excludes.Match(docURI) {
				continue
			}
			h.debouncer.Add(FileEvent{Path: docURI, Operation: ev.Operation, Timestamp: ev.Timestamp})
		case err, ok := <-h.pollWatcher.Errors():
			if !ok {
				return
			}
			h.sendError(err)
		}
	}
}

// pumpDebouncerOutput forwards coalesced batches from the debouncer to the
// public Batches() channel.
func (h *HybridWatcher) pumpDebouncerOutput(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case batch, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			select {
			case h.batches <- batch:
			default:
				h.droppedBatches.Add(1)
			}
		}
	}
}

func (h *HybridWatcher) sendError(err error) {
	select {
	case h.errorsC <- err:
	default:
	}
}

// Stop cancels the debounce timer and releases the subscription. Idempotent.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)
	h.debouncer.Stop()
	if h.useFsnotify {
		return h.fsWatcher.Close()
	}
	return h.pollWatcher.Stop()
}

func (h *HybridWatcher) Batches() <-chan []FileEvent { return h.batches }
func (h *HybridWatcher) Errors() <-chan error        { return h.errorsC }

// DroppedBatches reports how many coalesced batches were dropped because the
// consumer wasn't keeping up.
func (h *HybridWatcher) DroppedBatches() uint64 { return h.droppedBatches.Load() }
