package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/trend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "bubbleads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStackCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetStack(ctx, "a.example", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutStack(ctx, "a.example", fedi.StackMisskey))
	require.NoError(t, s.PutStack(ctx, "a.example", fedi.StackMastodon))

	stack, ok, err := s.GetStack(ctx, "a.example", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fedi.StackMastodon, stack)

	_, ok, err = s.GetStack(ctx, "a.example", time.Nanosecond)
	require.NoError(t, err)
	assert.False(t, ok, "expired entries are misses")
}

func TestTrendSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	earlier := time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.AddTrendSnapshots(ctx, earlier, []trend.Merged{
		{Tag: "cats", Score: 1.5, SourceCount: 1, Total: 50, SourceDomains: []string{"a"}},
	}))
	require.NoError(t, s.AddTrendSnapshots(ctx, time.Now(), []trend.Merged{
		{Tag: "dogs", Score: 2.6, SourceCount: 2, Total: 20, SourceDomains: []string{"a", "b"}},
		{Tag: "cats", Score: 1.5, SourceCount: 1, Total: 50, SourceDomains: []string{"a"}},
	}))

	all, err := s.TrendHistory(ctx, HistoryOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "dogs", all[0].Tag)
	assert.Equal(t, 1, all[0].Rank)
	assert.Equal(t, []string{"a", "b"}, all[0].Domains)

	cats, err := s.TrendHistory(ctx, HistoryOpts{Tag: "#Cats"})
	require.NoError(t, err)
	assert.Len(t, cats, 2)

	recent, err := s.TrendHistory(ctx, HistoryOpts{Since: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestStageRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.StartRun(ctx, "trends")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, ok, map[string]int{"merged": 12}, nil))

	bad, err := s.StartRun(ctx, "ads")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, bad, nil, errors.New("boom")))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "ads", runs[0].Stage)
	assert.Equal(t, RunFailed, runs[0].Status)
	assert.Equal(t, "boom", runs[0].Error)
	assert.True(t, runs[0].FinishedAt.Valid)

	assert.Equal(t, RunOK, runs[1].Status)
	assert.Equal(t, map[string]int{"merged": 12}, runs[1].Summary)
}
