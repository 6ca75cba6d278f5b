package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_MaintainsCapacity(t *testing.T) {
	buf := NewCircularBuffer[string](3)

	buf.Add("a")
	buf.Add("b")
	buf.Add("c")
	buf.Add("d") // evicts "a"

	items := buf.Items()
	assert.Equal(t, []string{"b", "c", "d"}, items)
}

func TestExtractTerms_DropsShortWords(t *testing.T) {
	terms := ExtractTerms("Go is a  FAST language")
	assert.Equal(t, []string{"fast", "language"}, terms)
}

func TestLatencyToBucket(t *testing.T) {
	cases := map[time.Duration]LatencyBucket{
		5 * time.Millisecond:   LatencyP10,
		20 * time.Millisecond:  LatencyP50,
		75 * time.Millisecond:  LatencyP100,
		200 * time.Millisecond: LatencyP500,
		2 * time.Second:        LatencyP1000,
	}
	for d, want := range cases {
		assert.Equal(t, want, LatencyToBucket(d), "duration %s", d)
	}
}

func TestRecorder_RecordAndSnapshot(t *testing.T) {
	m, err := NewRecorderWithConfig(nil, DefaultConfig())
	require.NoError(t, err)

	m.Record(QueryEvent{Query: "error handling patterns", ResultCount: 3, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "nonexistent topic", ResultCount: 0, Latency: 5 * time.Millisecond})

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"nonexistent topic"}, snap.ZeroResultQueries)
	assert.Equal(t, int64(1), snap.LatencyDistribution[LatencyP50])
	assert.Equal(t, int64(1), snap.LatencyDistribution[LatencyP10])

	var sawErrorTerm bool
	for _, tc := range snap.TopTerms {
		if tc.Term == "error" {
			sawErrorTerm = true
			assert.Equal(t, int64(1), tc.Count)
		}
	}
	assert.True(t, sawErrorTerm, "expected term 'error' to be tracked")
}

func TestRecorder_ExactRepeatDetection(t *testing.T) {
	m, err := NewRecorderWithConfig(nil, DefaultConfig())
	require.NoError(t, err)

	m.Record(QueryEvent{Query: "  How do I reset a password?  ", ResultCount: 2})
	m.Record(QueryEvent{Query: "how do i reset a password?", ResultCount: 2})

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.ExactRepeatCount)
}

func TestRecorder_CloseIsIdempotent(t *testing.T) {
	m, err := NewRecorderWithConfig(nil, DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	// Recording after close is a silent no-op, not a panic.
	m.Record(QueryEvent{Query: "after close", ResultCount: 1})
	assert.Equal(t, int64(0), m.Snapshot().TotalQueries)
}
