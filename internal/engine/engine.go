// Package engine implements the Engine (C15): the top-level orchestrator
// tying the config, snapshot lifecycle, retrieval pipeline, and file
// watcher into the public API from spec §4.15/§6.
package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ostanlabs/msrl/internal/chunk"
	"github.com/ostanlabs/msrl/internal/config"
	"github.com/ostanlabs/msrl/internal/embed"
	msrlerrors "github.com/ostanlabs/msrl/internal/errors"
	"github.com/ostanlabs/msrl/internal/logging"
	"github.com/ostanlabs/msrl/internal/scanner"
	"github.com/ostanlabs/msrl/internal/search"
	"github.com/ostanlabs/msrl/internal/snapshot"
	"github.com/ostanlabs/msrl/internal/store"
	"github.com/ostanlabs/msrl/internal/telemetry"
	"github.com/ostanlabs/msrl/internal/vectorindex"
	"github.com/ostanlabs/msrl/internal/watcher"
)

// State is getStatus's top-level state, per spec §4.15.
type State string

const (
	StateReady    State = "ready"
	StateBuilding State = "building"
	StateError    State = "error"
)

// Status is the getStatus() response, per spec §4.15/§6.
type Status struct {
	State            State
	SnapshotID       string
	SnapshotTimestamp string
	Stats            snapshot.Stats
	WatcherEnabled   bool
	WatcherDebounceMs int
	Error            string
	FilesFailed      int
	LastError        string
}

// ReindexParams are reindex()'s inputs, per spec §4.14/§4.15/§6.
type ReindexParams struct {
	Wait   bool
	Force  bool
	Scope  string // "changed" (default), "full", "prefix"
	Prefix string
}

// ReindexResult is reindex()'s output.
type ReindexResult struct {
	Completed  bool
	SnapshotID string
	Stats      snapshot.Stats
}

// loaded bundles everything a query needs against one active snapshot, held
// behind Engine.active as a single atomic reference per spec §5.
type loaded struct {
	snapshotID string
	manifest   snapshot.Manifest
	metadata   store.MetadataStore
	bm25       store.BM25Index
	outline    *vectorindex.Outline
	shards     *shardCache
	pipeline   *search.Pipeline
}

func (l *loaded) close() {
	if l == nil {
		return
	}
	if l.metadata != nil {
		_ = l.metadata.Close()
	}
	if l.bm25 != nil {
		_ = l.bm25.Close()
	}
	if l.outline != nil {
		_ = l.outline.Close()
	}
	if l.shards != nil {
		l.shards.Close()
	}
}

// Engine is the C15 top-level orchestrator.
type Engine struct {
	cfg      *config.Config
	manager  *snapshot.Manager
	embedder embed.Embedder

	active atomic.Pointer[loaded]

	// shutdownMu lets Shutdown wait for in-flight Query calls to finish
	// before closing the active snapshot's handles: Query holds the read
	// side for its whole call, Shutdown takes the write side once before
	// swapping active to nil and closing, per spec.md:154's "wait for
	// in-flight readers."
	shutdownMu sync.RWMutex

	buildMu        sync.Mutex
	building       bool
	buildStartedAt time.Time
	lastError      string

	watchMu     sync.Mutex
	watchHandle watcher.Watcher
	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchEnabled bool
	watchDebounceMs int

	gracePeriod time.Duration

	loggingCleanup func()

	telemetryStore *telemetry.SQLiteStore
	telemetry      *telemetry.Recorder
}

// Create implements create(config): validates config, ensures the
// snapshot root, loads the embedder, recovers the latest snapshot if any,
// starts the watcher if enabled, and triggers an initial full build if no
// snapshot exists. Per spec §4.15.
func Create(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	manager := snapshot.NewManager(cfg.SnapshotDir, 3)
	if err := manager.Ensure(); err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig(cfg.SnapshotDir)
	logCfg.Level = cfg.LogLevel
	logger, loggingCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	var telemetryStore *telemetry.SQLiteStore
	var telemetryStoreIface telemetry.Store
	if s, err := telemetry.OpenSQLiteStore(filepath.Join(cfg.SnapshotDir, "telemetry.sqlite")); err != nil {
		slog.Warn("engine: telemetry disabled", slog.String("error", err.Error()))
	} else {
		telemetryStore = s
		telemetryStoreIface = s
	}
	telemetryRecorder, err := telemetry.NewRecorder(telemetryStoreIface)
	if err != nil {
		slog.Warn("engine: telemetry disabled", slog.String("error", err.Error()))
		telemetryRecorder = nil
	}

	e := &Engine{
		cfg:             cfg,
		manager:         manager,
		embedder:        embed.NewCachedEmbedderWithDefaults(embed.NewStaticEmbedder()),
		gracePeriod:     5 * time.Second,
		watchEnabled:    cfg.Watcher.Enabled,
		watchDebounceMs: cfg.Watcher.DebounceMs,
		loggingCleanup:  loggingCleanup,
		telemetryStore:  telemetryStore,
		telemetry:       telemetryRecorder,
	}

	snapshotID, err := manager.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if snapshotID != "" {
		if err := e.loadSnapshot(snapshotID); err != nil {
			slog.Warn("engine: failed to load recovered snapshot", slog.String("error", err.Error()))
		}
	}

	if e.active.Load() == nil {
		if _, err := e.Reindex(ctx, ReindexParams{Wait: true, Force: true, Scope: "full"}); err != nil {
			slog.Warn("engine: initial build failed", slog.String("error", err.Error()))
		}
	}

	if e.watchEnabled {
		if err := e.startWatcher(e.watchDebounceMs); err != nil {
			slog.Warn("engine: failed to start watcher", slog.String("error", err.Error()))
		}
	}

	return e, nil
}

func (e *Engine) loadSnapshot(snapshotID string) error {
	manifest, err := e.manager.Manifest(snapshotID)
	if err != nil {
		return err
	}
	dataDir := e.manager.SnapshotDataDir(snapshotID)

	metadata, err := store.OpenMetadataStore(filepath.Join(dataDir, "meta.sqlite"))
	if err != nil {
		return err
	}
	bm25, err := store.OpenBM25Index(filepath.Join(dataDir, "bm25.bleve"))
	if err != nil {
		_ = metadata.Close()
		return err
	}

	outline := vectorindex.NewOutline(e.embedder.Dimensions())
	if manifest.Stats.Nodes > 0 {
		if err := outline.Load(filepath.Join(dataDir, "outline.ann")); err != nil {
			_ = metadata.Close()
			_ = bm25.Close()
			return err
		}
	}

	shards := newShardCache(dataDir, e.cfg.Faiss.MaxCachedShards, e.embedder.Dimensions())

	scorer, err := search.NewHybridScorer(e.cfg.Retrieval.VectorWeight, e.cfg.Retrieval.BM25Weight)
	if err != nil {
		_ = metadata.Close()
		_ = bm25.Close()
		_ = outline.Close()
		return err
	}

	pipelineCfg := search.Config{
		FetchMultiplier: 3,
		TopNodes:        8,
		MaxShards:       e.cfg.Sharding.MaxShardsPerQuery,
		MaxExcerptChars: e.cfg.Retrieval.DefaultMaxExcerptChars,
		SpanMergeGap:    e.cfg.Retrieval.SpanMergeGapThreshold,
	}
	pipeline := search.New(
		asQueryEmbedder(e.embedder),
		outline,
		shards,
		bm25,
		metadata,
		newVaultSource(e.cfg.VaultRoot),
		scorer,
		pipelineCfg,
	)

	l := &loaded{
		snapshotID: snapshotID,
		manifest:   manifest,
		metadata:   metadata,
		bm25:       bm25,
		outline:    outline,
		shards:     shards,
		pipeline:   pipeline,
	}
	e.swapActive(l)
	return nil
}

// swapActive installs l as the new active snapshot and releases the prior
// one after a grace period, per spec §5's deferred-reclamation policy.
func (e *Engine) swapActive(l *loaded) {
	old := e.active.Swap(l)
	if old != nil {
		time.AfterFunc(e.gracePeriod, old.close)
	}
}

// queryEmbedder adapts embed.Embedder (which also exposes EmbedBatch/Close
// etc.) down to search.Embedder's single-method contract.
type queryEmbedder struct{ inner embed.Embedder }

func asQueryEmbedder(e embed.Embedder) search.Embedder { return queryEmbedder{inner: e} }

func (q queryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return q.inner.Embed(ctx, text)
}

// Query implements query(params), per spec §4.15: fails with NOT_INDEXED
// if no snapshot is loaded; validates topK and maxExcerptChars bounds. An
// empty/whitespace query is not an error (spec invariant 12): it reaches
// the pipeline, which returns zero results.
func (e *Engine) Query(ctx context.Context, params search.QueryParams) (search.Response, error) {
	e.shutdownMu.RLock()
	defer e.shutdownMu.RUnlock()

	l := e.active.Load()
	if l == nil {
		return search.Response{}, msrlerrors.NotIndexed()
	}

	if params.Limit == 0 {
		params.Limit = e.cfg.Retrieval.DefaultTopK
	}
	if params.Limit < 1 || params.Limit > e.cfg.Retrieval.MaxTopK {
		return search.Response{}, msrlerrors.InvalidArgument("topK", params.Limit, "must be in [1, maxTopK]")
	}

	if params.MaxExcerptChars == 0 {
		params.MaxExcerptChars = e.cfg.Retrieval.DefaultMaxExcerptChars
	}
	if params.MaxExcerptChars < 200 || params.MaxExcerptChars > e.cfg.Retrieval.MaxMaxExcerptChars {
		return search.Response{}, msrlerrors.InvalidArgument("maxExcerptChars", params.MaxExcerptChars, "must be in [200, maxMaxExcerptChars]")
	}

	resp, err := l.pipeline.Query(ctx, params)
	if err == nil && e.telemetry != nil {
		e.telemetry.Record(telemetry.QueryEvent{
			Query:       params.Query,
			ResultCount: len(resp.Results),
			Latency:     time.Duration(resp.Meta.TookMs) * time.Millisecond,
			Timestamp:   time.Now(),
		})
	}
	return resp, err
}

// QueryMetrics returns a snapshot of local query telemetry (latency
// buckets, top terms, zero-result queries). Returns nil if telemetry is
// disabled.
func (e *Engine) QueryMetrics() *telemetry.Snapshot {
	if e.telemetry == nil {
		return nil
	}
	return e.telemetry.Snapshot()
}

// GetStatus implements getStatus(), per spec §4.15/§6.
func (e *Engine) GetStatus() Status {
	e.buildMu.Lock()
	building := e.building
	lastErr := e.lastError
	e.buildMu.Unlock()

	status := Status{
		WatcherEnabled:    e.watchEnabled,
		WatcherDebounceMs: e.watchDebounceMs,
		LastError:         lastErr,
	}

	if building {
		status.State = StateBuilding
	}

	if l := e.active.Load(); l != nil {
		status.SnapshotID = l.snapshotID
		status.SnapshotTimestamp = l.manifest.CreatedAt
		status.Stats = l.manifest.Stats
		status.FilesFailed = l.manifest.FilesFailed
		if !building {
			status.State = StateReady
		}
	} else if !building {
		status.State = StateError
		status.Error = "no snapshot is loaded"
	}

	return status
}

// Reindex implements reindex({wait, force, scope, prefix}), per spec
// §4.14/§4.15/§6: a single-build mutex; wait=false while busy fails fast
// with INDEX_BUSY; wait=true queues after the current build (no
// piggybacking on an in-flight build's result).
func (e *Engine) Reindex(ctx context.Context, params ReindexParams) (ReindexResult, error) {
	if !e.tryStartBuild() {
		if !params.Wait {
			e.buildMu.Lock()
			startedAt := e.buildStartedAt
			e.buildMu.Unlock()
			return ReindexResult{}, msrlerrors.IndexBusy(startedAt.Format(time.RFC3339))
		}
		e.buildMu.Lock()
		for e.building {
			e.buildMu.Unlock()
			time.Sleep(50 * time.Millisecond)
			e.buildMu.Lock()
		}
		e.buildMu.Unlock()
		if !e.tryStartBuild() {
			return ReindexResult{}, msrlerrors.Internal("failed to acquire build lock after wait", nil)
		}
	}
	defer e.finishBuild()

	manifest, snapshotID, err := e.runBuild(ctx, params)
	if err != nil {
		e.buildMu.Lock()
		e.lastError = err.Error()
		e.buildMu.Unlock()
		return ReindexResult{}, err
	}

	if err := e.loadSnapshot(snapshotID); err != nil {
		return ReindexResult{}, err
	}
	_ = e.manager.CleanupOldSnapshots()

	return ReindexResult{Completed: true, SnapshotID: snapshotID, Stats: manifest.Stats}, nil
}

func (e *Engine) tryStartBuild() bool {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	if e.building {
		return false
	}
	e.building = true
	e.buildStartedAt = time.Now()
	return true
}

func (e *Engine) finishBuild() {
	e.buildMu.Lock()
	e.building = false
	e.buildMu.Unlock()
}

func (e *Engine) runBuild(ctx context.Context, params ReindexParams) (snapshot.Manifest, string, error) {
	files, err := e.scanVault(ctx, params.Prefix)
	if err != nil {
		return snapshot.Manifest{}, "", err
	}

	builder := snapshot.NewBuilder(e.cfg.VaultRoot, e.embedder, chunkConfigFrom(e.cfg), e.cfg.Embedding.BatchSize)
	id := snapshot.NewSnapshotID(time.Now())

	prev := e.active.Load()
	scope := params.Scope
	if scope == "" {
		scope = "changed"
	}

	if params.Force || prev == nil || scope == "full" {
		stagingDir, err := e.manager.CreateSnapshot(id)
		if err != nil {
			return snapshot.Manifest{}, "", err
		}
		manifest, err := builder.BuildFull(ctx, stagingDir, files)
		if err != nil {
			_ = e.manager.Abort(id)
			return snapshot.Manifest{}, "", err
		}
		if err := e.manager.Finalize(id, manifest); err != nil {
			return snapshot.Manifest{}, "", err
		}
		return manifest, id, nil
	}

	prevFiles := make(map[string]scanner.FileInfo)
	for _, doc := range e.allDocsSnapshot(ctx, prev) {
		prevFiles[doc.DocURI] = scanner.FileInfo{DocURI: doc.DocURI, Size: doc.Size, MtimeMs: doc.Mtime}
	}
	changes := scanner.DetectChanges(prevFiles, files)

	byURI := make(map[string]scanner.FileInfo, len(files))
	for _, f := range files {
		byURI[f.DocURI] = f
	}
	var changedFiles []scanner.FileInfo
	for _, uri := range append(append([]string{}, changes.Added...), changes.Modified...) {
		if f, ok := byURI[uri]; ok {
			changedFiles = append(changedFiles, f)
		}
	}

	stagingDir, err := e.manager.CreateSnapshot(id)
	if err != nil {
		return snapshot.Manifest{}, "", err
	}
	manifest, err := builder.BuildIncremental(ctx, e.manager.SnapshotDataDir(prev.snapshotID), stagingDir, changes, changedFiles)
	if err != nil {
		_ = e.manager.Abort(id)
		return snapshot.Manifest{}, "", err
	}
	manifest.PreviousSnapshotID = prev.snapshotID
	if err := e.manager.Finalize(id, manifest); err != nil {
		return snapshot.Manifest{}, "", err
	}
	return manifest, id, nil
}

func (e *Engine) allDocsSnapshot(ctx context.Context, l *loaded) []store.Doc {
	if l == nil {
		return nil
	}
	docs, err := l.metadata.AllDocs(ctx)
	if err != nil {
		return nil
	}
	return docs
}

func (e *Engine) scanVault(ctx context.Context, prefix string) ([]scanner.FileInfo, error) {
	s := scanner.New()
	results, err := s.Scan(ctx, &scanner.ScanOptions{RootDir: e.cfg.VaultRoot})
	if err != nil {
		return nil, err
	}
	var files []scanner.FileInfo
	for r := range results {
		if r.Error != nil {
			continue
		}
		if prefix != "" && !hasPrefix(r.File.DocURI, prefix) {
			continue
		}
		files = append(files, *r.File)
	}
	return files, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func chunkConfigFrom(cfg *config.Config) chunk.Config {
	return chunk.Config{
		TargetMin:     cfg.Chunking.TargetMin,
		TargetMax:     cfg.Chunking.TargetMax,
		HardMax:       cfg.Chunking.HardMax,
		MinPreferred:  cfg.Chunking.MinPreferred,
		OverlapTokens: cfg.Chunking.Overlap,
	}
}

// SetWatch implements setWatch({enabled, debounceMs}), per spec §4.15: not
// persisted across Create, changing debounce restarts the watcher.
func (e *Engine) SetWatch(enabled bool, debounceMs int) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	e.stopWatcherLocked()
	e.watchEnabled = enabled
	if debounceMs > 0 {
		e.watchDebounceMs = debounceMs
	}
	if !enabled {
		return nil
	}
	return e.startWatcherLocked(e.watchDebounceMs)
}

func (e *Engine) startWatcher(debounceMs int) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()
	return e.startWatcherLocked(debounceMs)
}

func (e *Engine) startWatcherLocked(debounceMs int) error {
	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: time.Duration(debounceMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx, e.cfg.VaultRoot); err != nil {
		cancel()
		return err
	}
	e.watchHandle = w
	e.watchCtx = ctx
	e.watchCancel = cancel
	go e.consumeWatcherBatches(ctx, w)
	return nil
}

func (e *Engine) stopWatcherLocked() {
	if e.watchHandle != nil {
		_ = e.watchHandle.Stop()
		e.watchHandle = nil
	}
	if e.watchCancel != nil {
		e.watchCancel()
		e.watchCancel = nil
	}
}

// consumeWatcherBatches triggers a changed-scope reindex for every
// debounced batch of file events, logging (not crashing) on failure, per
// spec §7's watcher-triggered-reindex recovery rule.
func (e *Engine) consumeWatcherBatches(ctx context.Context, w watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Batches():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			if _, err := e.Reindex(ctx, ReindexParams{Wait: true, Scope: "changed"}); err != nil {
				slog.Warn("engine: watcher-triggered reindex failed", slog.String("error", err.Error()))
			}
		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			slog.Warn("engine: watcher error", slog.String("error", err.Error()))
		}
	}
}

// Shutdown implements shutdown(): stop the watcher, wait for every
// in-flight Query to return, then close the store and release the
// embedder. Per spec.md:154, "wait for in-flight readers" — unlike the
// grace-period deferral swapActive uses for ordinary reindex swaps,
// this wait is unconditional: shutdownMu.Lock() cannot succeed while any
// Query still holds its RLock.
func (e *Engine) Shutdown() error {
	e.watchMu.Lock()
	e.stopWatcherLocked()
	e.watchMu.Unlock()

	e.shutdownMu.Lock()
	l := e.active.Swap(nil)
	e.shutdownMu.Unlock()
	if l != nil {
		l.close()
	}

	err := e.embedder.Close()
	if e.telemetry != nil {
		_ = e.telemetry.Close()
	}
	if e.telemetryStore != nil {
		_ = e.telemetryStore.Close()
	}
	if e.loggingCleanup != nil {
		e.loggingCleanup()
	}
	return err
}
