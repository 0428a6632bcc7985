package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/trend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONReplacesWholeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, WriteJSON(path, map[string]string{"title": "<Cats> — featured"}))
	require.NoError(t, WriteJSON(path, map[string]int{"n": 2}))

	var got map[string]int
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, map[string]int{"n": 2}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteJSONDoesNotEscapeHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.json")
	require.NoError(t, WriteJSON(path, map[string]string{"t": "<a>&"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<a>&")
}

func TestReadJSONErrors(t *testing.T) {
	dir := t.TempDir()
	var v map[string]any

	err := ReadJSON(filepath.Join(dir, "missing.json"), &v)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	err = ReadJSON(bad, &v)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDedupeIndexLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), IndexFile)

	idx, err := LoadIndex(path)
	require.NoError(t, err)
	assert.Zero(t, idx.Len())

	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	idx.Put("abc", IndexEntry{FileID: "f1", FileName: "x.png", URL: "https://d/x.png", UploadedAt: at})
	require.NoError(t, idx.Save(path))

	again, err := LoadIndex(path)
	require.NoError(t, err)
	e, ok := again.Lookup("abc")
	require.True(t, ok)
	assert.Equal(t, "f1", e.FileID)
	assert.True(t, at.Equal(e.UploadedAt))

	_, ok = again.Lookup("nope")
	assert.False(t, ok)
}

func TestLoadIndexCorruptIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), IndexFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"by_hash": [`), 0o644))

	_, err := LoadIndex(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadIndexAcceptsEmptyObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), IndexFile)
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	idx, err := LoadIndex(path)
	require.NoError(t, err)
	idx.Put("k", IndexEntry{FileID: "1"})
	assert.Equal(t, 1, idx.Len())
}

func TestNewSelectedTags(t *testing.T) {
	now := time.Now().UTC()
	sel := NewSelectedTags([]trend.Merged{{Tag: "dogs", Score: 2.6, SourceCount: 2}}, now)
	assert.Equal(t, []SelectedTag{{Tag: "dogs", Score: 2.6, SourceCount: 2}}, sel.Tags)
}

func TestAdReportCounts(t *testing.T) {
	var r AdReport
	r.Add(AdResult{Tag: "a", Action: AdCreated})
	r.Add(AdResult{Tag: "b", Action: AdUpdated})
	r.Add(AdResult{Tag: "c", Action: AdFailed})
	r.Add(AdResult{Tag: "d", Action: AdExpired})
	assert.Equal(t, 1, r.Created)
	assert.Equal(t, 1, r.Updated)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Expired)
	assert.Len(t, r.Results, 4)
}
