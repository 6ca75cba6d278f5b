// Package telemetry collects local query-pattern statistics: latency
// buckets, top query terms, zero-result queries, and exact-repeat rate.
// It is purely observational — nothing here feeds back into ranking or
// retrieval (spec §8, "host RPC/tool surface... wrap but do not alter
// the core").
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket classifies a query's latency into a coarse histogram bucket.
type LatencyBucket string

const (
	LatencyP10   LatencyBucket = "p10"  // <10ms
	LatencyP50   LatencyBucket = "p50"  // <50ms
	LatencyP100  LatencyBucket = "p100" // <100ms
	LatencyP500  LatencyBucket = "p500" // <500ms
	LatencyP1000 LatencyBucket = "p1000"
)

// LatencyToBucket maps a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return LatencyP10
	case ms < 50:
		return LatencyP50
	case ms < 100:
		return LatencyP100
	case ms < 500:
		return LatencyP500
	default:
		return LatencyP1000
	}
}

// QueryEvent is a single completed query, passed to Recorder.Record.
type QueryEvent struct {
	Query       string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer of the most recent items.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends an item, evicting the oldest item once at capacity.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := (b.head + b.size) % b.capacity
	b.items[idx] = item
	if b.size < b.capacity {
		b.size++
	} else {
		b.head = (b.head + 1) % b.capacity
	}
}

// Items returns the buffered items oldest-first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%b.capacity]
	}
	return out
}

// Size returns the number of items currently buffered.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms lowercases and splits a query into terms of at least 3
// characters, for term-frequency tracking.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(strings.TrimSpace(query))) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount pairs a query term with its observed frequency.
type TermCount struct {
	Term  string
	Count int64
}

// Snapshot is a point-in-time read of the in-memory metrics.
type Snapshot struct {
	TopTerms            []TermCount
	ZeroResultQueries   []string
	LatencyDistribution map[LatencyBucket]int64
	TotalQueries        int64
	ZeroResultCount     int64
	Since               time.Time
	ExactRepeatCount    int64
	ExactRepeatRate     float64
	UniqueQueryCount    int64
}

// ZeroResultPercentage returns the share of queries that returned nothing, 0-100.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Store persists aggregated metrics across process restarts.
type Store interface {
	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)
	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// Config tunes the in-memory recorder's capacities and flush cadence.
type Config struct {
	TopTermsCapacity      int
	ZeroResultsCapacity   int
	RecentQueriesCapacity int
	FlushInterval         time.Duration
}

// DefaultConfig mirrors the teacher's defaults: 100 top terms, 100
// zero-result queries remembered, 500 recent queries for repeat
// detection, flushed to the store once a minute.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// Recorder aggregates QueryEvents in memory and periodically flushes
// them to a Store. All methods are safe for concurrent use.
type Recorder struct {
	mu sync.RWMutex

	topTerms    *lru.Cache[string, int64]
	zeroResults *CircularBuffer[string]
	latencies   map[LatencyBucket]int64

	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time

	recentQueries    *lru.Cache[string, struct{}]
	exactRepeatCount int64

	store       Store
	config      Config
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewRecorder creates a Recorder with default capacities. store may be
// nil, in which case metrics are kept in memory only and never flushed.
func NewRecorder(store Store) (*Recorder, error) {
	return NewRecorderWithConfig(store, DefaultConfig())
}

// NewRecorderWithConfig creates a Recorder with the given Config.
func NewRecorderWithConfig(store Store, cfg Config) (*Recorder, error) {
	topTerms, err := lru.New[string, int64](cfg.TopTermsCapacity)
	if err != nil {
		return nil, err
	}
	recentQueries, err := lru.New[string, struct{}](cfg.RecentQueriesCapacity)
	if err != nil {
		return nil, err
	}

	m := &Recorder{
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:     make(map[LatencyBucket]int64),
		startTime:     time.Now(),
		recentQueries: recentQueries,
		store:         store,
		config:        cfg,
		stopCh:        make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}

	return m, nil
}

func (m *Recorder) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record adds a completed query to the running totals under the recorder's
// lock; a zero-result query is also written to the Store, when one is
// configured, before Record returns.
func (m *Recorder) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.totalQueries++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		if m.store != nil {
			_ = m.store.AddZeroResultQuery(event.Query, event.Timestamp)
		}
	}

	m.latencies[LatencyToBucket(event.Latency)]++

	queryHash := hashQuery(event.Query)
	if _, exists := m.recentQueries.Get(queryHash); exists {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(queryHash, struct{}{})
}

// hashQuery normalizes and hashes a query for repetition detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns a copy of the current metrics.
func (m *Recorder) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	for i := 0; i < len(topTerms); i++ {
		for j := i + 1; j < len(topTerms); j++ {
			if topTerms[j].Count > topTerms[i].Count {
				topTerms[i], topTerms[j] = topTerms[j], topTerms[i]
			}
		}
	}

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var exactRepeatRate float64
	if m.totalQueries > 0 {
		exactRepeatRate = float64(m.exactRepeatCount) / float64(m.totalQueries)
	}

	return &Snapshot{
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		Since:               m.startTime,
		ExactRepeatCount:    m.exactRepeatCount,
		ExactRepeatRate:     exactRepeatRate,
		UniqueQueryCount:    int64(m.recentQueries.Len()),
	}
}

// Flush persists the in-memory snapshot to the Store. A no-op if no
// Store was configured.
func (m *Recorder) Flush() error {
	if m.store == nil {
		return nil
	}

	snapshot := m.Snapshot()

	termCounts := make(map[string]int64, len(snapshot.TopTerms))
	for _, tc := range snapshot.TopTerms {
		termCounts[tc.Term] = tc.Count
	}
	if err := m.store.UpsertTermCounts(termCounts); err != nil {
		return err
	}

	today := time.Now().Format("2006-01-02")
	return m.store.SaveLatencyCounts(today, snapshot.LatencyDistribution)
}

// Close stops the flush loop, flushes once more, and returns.
func (m *Recorder) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}

	return m.Flush()
}
