package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/artifact"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/store"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/images"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/trend"
)

type fakeGatherer struct {
	gotTag     string
	gotDomains []string
	err        error
}

func (f *fakeGatherer) Gather(ctx context.Context, tag string, domains []string) (*images.Gathered, error) {
	f.gotTag, f.gotDomains = tag, domains
	if f.err != nil {
		return nil, f.err
	}
	post := fedi.Post{Domain: domains[0], ID: "1", MediaURL: "https://media.example/cat.png", Engagement: 7}
	return &images.Gathered{
		Tag:        tag,
		Scanned:    3,
		Candidates: []images.Candidate{{Fingerprint: "fp", Domains: []string{"a.example", "b.example"}, Best: post}},
	}, nil
}

func setup(t *testing.T) (*Server, *store.SQLiteStore, *fakeGatherer, artifact.Paths) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	g := &fakeGatherer{}
	paths := artifact.Paths{Dir: dir}
	return New(st, paths, g, []string{"a.example", "b.example"}, 0, nil), st, g, paths
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealth(t *testing.T) {
	s, _, _, _ := setup(t)
	rec, body := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestTrendsReadsArtifact(t *testing.T) {
	s, _, _, paths := setup(t)
	h := s.Handler()

	rec, _ := get(t, h, "/api/v1/trends")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	report := artifact.TrendsReport{
		GeneratedAt: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
		Merged:      []trend.Merged{{Tag: "cats", Score: 2.6, SourceCount: 2, Total: 15}},
	}
	require.NoError(t, artifact.WriteJSON(paths.Trends(), report))

	rec, body := get(t, h, "/api/v1/trends")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestHistoryAndRuns(t *testing.T) {
	s, st, _, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, st.AddTrendSnapshots(ctx, time.Now().UTC(), []trend.Merged{
		{Tag: "cats", Score: 2.6, SourceCount: 2, Total: 15, SourceDomains: []string{"a.example"}},
		{Tag: "dogs", Score: 1.5, SourceCount: 1, Total: 3, SourceDomains: []string{"b.example"}},
	}))
	id, err := st.StartRun(ctx, "trends")
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, id, map[string]int{"merged": 2}, nil))

	h := s.Handler()
	rec, body := get(t, h, "/api/v1/trends/history?tag=%23Cats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = get(t, h, "/api/v1/runs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestCandidates(t *testing.T) {
	s, _, g, _ := setup(t)
	h := s.Handler()

	rec, _ := get(t, h, "/api/v1/candidates")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, h, "/api/v1/candidates?tag=cats&domain=elsewhere.example")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := get(t, h, "/api/v1/candidates?tag=%23Cats&domain=B.example")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cats", g.gotTag)
	assert.Equal(t, []string{"b.example"}, g.gotDomains)

	data := body["data"].([]any)
	require.Len(t, data, 1)
	first := data[0].(map[string]any)
	assert.Equal(t, float64(2), first["consensus"])
	assert.Equal(t, float64(7), first["engagement"])

	g.err = errors.New("all down")
	rec, _ = get(t, h, "/api/v1/candidates?tag=cats")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _, _ := setup(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
