package assemble_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramhq/engram/assemble"
	"github.com/engramhq/engram/config"
	"github.com/engramhq/engram/errors"
	"github.com/engramhq/engram/memory"
)

type fakeSearcher struct {
	got    memory.SearchOptions
	units  []memory.ScoredUnit
	err    error
	search func(ctx context.Context, opts memory.SearchOptions) ([]memory.ScoredUnit, error)
}

func (f *fakeSearcher) Search(ctx context.Context, opts memory.SearchOptions) ([]memory.ScoredUnit, error) {
	f.got = opts
	if f.search != nil {
		return f.search(ctx, opts)
	}
	return f.units, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scoredUnit(id, content string, score float64) memory.ScoredUnit {
	return memory.ScoredUnit{
		Unit:       &memory.Unit{ID: id, Content: content},
		Similarity: score,
		Score:      score,
	}
}

func turnAt(role, content string, ago time.Duration) assemble.Turn {
	return assemble.Turn{Role: role, Content: content, Timestamp: time.Now().Add(-ago)}
}

func TestAssembler_HistoryThenRetrieved(t *testing.T) {
	search := &fakeSearcher{units: []memory.ScoredUnit{
		scoredUnit("unit-high", "memory units persist across sessions", 0.9),
		scoredUnit("unit-low", "graph edges decay over time", 0.4),
	}}
	a := assemble.NewAssembler(config.NewAssembleConfig(), search, quietLogger())

	// Turns arrive out of order; the result is chronological.
	history := []assemble.Turn{
		turnAt("assistant", "it stores memory units", 2*time.Minute),
		turnAt("user", "what does engram do", 5*time.Minute),
	}
	result, err := a.Assemble(t.Context(), "how does engram store things", history, assemble.Options{})
	require.NoError(t, err)

	assert.Equal(t,
		"user: what does engram do\n\n"+
			"assistant: it stores memory units\n\n"+
			"memory units persist across sessions\n\n"+
			"graph edges decay over time",
		result.Text)
	assert.Equal(t, []string{"unit-high", "unit-low"}, result.IncludedUnitIDs)
	assert.False(t, result.Truncated)
	assert.Equal(t, 2, result.Stats.HistoryTurns)
	assert.Equal(t, 2, result.Stats.RetrievedUnits)
	assert.Zero(t, result.Stats.Duplicates)
	assert.Zero(t, result.Stats.OverlapRate)

	// Retrieval is scoped to the query, the default limit, and units older
	// than the history window.
	assert.Equal(t, "how does engram store things", search.got.Query)
	assert.Equal(t, 8, search.got.Limit)
	assert.WithinDuration(t, time.Now().Add(-15*time.Minute), search.got.CreatedBefore, 2*time.Second)
}

func TestAssembler_CutoffFiltersHistory(t *testing.T) {
	search := &fakeSearcher{}
	a := assemble.NewAssembler(config.NewAssembleConfig(), search, quietLogger())

	history := []assemble.Turn{
		turnAt("user", "old question", 20*time.Minute),
		turnAt("user", "fresh question", time.Minute),
	}

	result, err := a.Assemble(t.Context(), "anything", history, assemble.Options{})
	require.NoError(t, err)
	assert.Equal(t, "user: fresh question", result.Text)
	assert.Equal(t, 1, result.Stats.HistoryTurns)

	// Widening the window per call brings the old turn back.
	result, err = a.Assemble(t.Context(), "anything", history, assemble.Options{Cutoff: 30 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.HistoryTurns)
	assert.Contains(t, result.Text, "old question")
}

func TestAssembler_DropsRetrievedDuplicates(t *testing.T) {
	search := &fakeSearcher{units: []memory.ScoredUnit{
		scoredUnit("unit-dup", "The  Deploy runs\nat MIDNIGHT", 0.9),
		scoredUnit("unit-new", "rollbacks need a manual approval", 0.5),
	}}
	a := assemble.NewAssembler(config.NewAssembleConfig(), search, quietLogger())

	// Case and whitespace differences still collide; history wins.
	history := []assemble.Turn{turnAt("user", "the deploy runs at midnight", time.Minute)}
	result, err := a.Assemble(t.Context(), "deploy schedule", history, assemble.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"unit-new"}, result.IncludedUnitIDs)
	assert.NotContains(t, result.Text, "MIDNIGHT")
	assert.Contains(t, result.Text, "the deploy runs at midnight")
	assert.Equal(t, 1, result.Stats.Duplicates)
	assert.Equal(t, 0.5, result.Stats.OverlapRate)
	assert.Equal(t, 1, result.Stats.RetrievedUnits)
}

func TestAssembler_DedupsWithinRetrieval(t *testing.T) {
	search := &fakeSearcher{units: []memory.ScoredUnit{
		scoredUnit("unit-first", "disk fills every friday", 0.9),
		scoredUnit("unit-echo", "Disk fills every FRIDAY", 0.8),
	}}
	a := assemble.NewAssembler(config.NewAssembleConfig(), search, quietLogger())

	result, err := a.Assemble(t.Context(), "disk", nil, assemble.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"unit-first"}, result.IncludedUnitIDs)
	assert.Equal(t, 1, result.Stats.Duplicates)
}

func TestAssembler_TruncatesLeastRelevantFirst(t *testing.T) {
	search := &fakeSearcher{units: []memory.ScoredUnit{
		scoredUnit("unit-high", "memory units persist", 0.9),
		scoredUnit("unit-low", "graph edges decay", 0.4),
	}}
	a := assemble.NewAssembler(config.NewAssembleConfig(), search, quietLogger())

	history := []assemble.Turn{turnAt("user", "what is engram", time.Minute)}
	result, err := a.Assemble(t.Context(), "engram", history, assemble.Options{MaxChars: 45})
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Equal(t, []string{"unit-low"}, result.DroppedUnitIDs)
	assert.Equal(t, []string{"unit-high"}, result.IncludedUnitIDs)
	assert.Equal(t, "user: what is engram\n\nmemory units persist", result.Text)
	assert.Equal(t, 1, result.Stats.RetrievedUnits)
}

func TestAssembler_TruncatesOversizedHistory(t *testing.T) {
	a := assemble.NewAssembler(config.NewAssembleConfig(), &fakeSearcher{}, quietLogger())

	history := []assemble.Turn{{Content: "abcdefghij", Timestamp: time.Now()}}
	result, err := a.Assemble(t.Context(), "", history, assemble.Options{MaxChars: 4})
	require.NoError(t, err)

	assert.Equal(t, "abcd", result.Text)
	assert.True(t, result.Truncated)
	assert.Empty(t, result.IncludedUnitIDs)
}

func TestAssembler_EmptyInputs(t *testing.T) {
	search := &fakeSearcher{}
	a := assemble.NewAssembler(config.NewAssembleConfig(), search, quietLogger())

	result, err := a.Assemble(t.Context(), "", nil, assemble.Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Text)
	assert.Empty(t, result.IncludedUnitIDs)
	assert.False(t, result.Truncated)

	// An empty query skips retrieval entirely.
	assert.Empty(t, search.got.Query)
}

func TestAssembler_RetrievalTimeoutDegrades(t *testing.T) {
	conf := config.NewAssembleConfig()
	conf.RetrieveTimeout = 10 * time.Millisecond
	search := &fakeSearcher{
		search: func(ctx context.Context, _ memory.SearchOptions) ([]memory.ScoredUnit, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	a := assemble.NewAssembler(conf, search, quietLogger())

	history := []assemble.Turn{turnAt("user", "still here", time.Minute)}
	result, err := a.Assemble(t.Context(), "slow query", history, assemble.Options{})
	require.NoError(t, err)
	assert.Equal(t, "user: still here", result.Text)
	assert.Zero(t, result.Stats.RetrievedUnits)
}

func TestAssembler_RetrievalFailurePropagates(t *testing.T) {
	search := &fakeSearcher{err: errors.New("store offline")}
	a := assemble.NewAssembler(config.NewAssembleConfig(), search, quietLogger())

	_, err := a.Assemble(t.Context(), "anything", nil, assemble.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store offline")
}
