// Package server exposes a read-only preview API over the pipeline's
// artifacts, history and live image candidates.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/artifact"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/store"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/images"
)

// CandidateSource finds image candidates for a tag.
type CandidateSource interface {
	Gather(ctx context.Context, tag string, domains []string) (*images.Gathered, error)
}

const maxPreview = 10

// Server provides the HTTP API.
type Server struct {
	store    store.Store
	paths    artifact.Paths
	gatherer CandidateSource
	domains  []string
	port     int
	logger   logging.Logger
}

// New creates a new HTTP server. domains bounds the candidate preview.
func New(s store.Store, paths artifact.Paths, gatherer CandidateSource, domains []string, port int, logger logging.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:    s,
		paths:    paths,
		gatherer: gatherer,
		domains:  domains,
		port:     port,
		logger:   logging.OrDiscard(logger),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/trends", s.handleTrends)
	mux.HandleFunc("/api/v1/trends/history", s.handleHistory)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/candidates", s.handleCandidates)
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", srv.Addr).Info("preview server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	var report artifact.TrendsReport
	if err := artifact.ReadJSON(s.paths.Trends(), &report); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":         report.Merged,
		"count":        len(report.Merged),
		"generated_at": report.GeneratedAt,
		"failed":       report.FailedDomains,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	q := r.URL.Query()
	opts := store.HistoryOpts{Tag: fedi.NormalizeTag(q.Get("tag")), Limit: intParam(q.Get("limit"), 100)}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = t
		}
	}

	snaps, err := s.store.TrendHistory(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  snaps,
		"count": len(snaps),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	runs, err := s.store.ListRuns(r.Context(), intParam(r.URL.Query().Get("limit"), 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  runs,
		"count": len(runs),
	})
}

// handleCandidates previews the images the uploader would consider for a
// tag, optionally restricted to one bubble domain.
func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	q := r.URL.Query()
	tag := fedi.NormalizeTag(q.Get("tag"))
	if tag == "" {
		writeError(w, http.StatusBadRequest, errors.New("tag is required"))
		return
	}

	domains := s.domains
	if d := strings.ToLower(strings.TrimSpace(q.Get("domain"))); d != "" {
		if !contains(s.domains, d) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%s is not a bubble domain", d))
			return
		}
		domains = []string{d}
	}

	g, err := s.gatherer.Gather(r.Context(), tag, domains)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if len(g.Candidates) > maxPreview {
		g.Candidates = g.Candidates[:maxPreview]
	}

	type preview struct {
		images.Candidate
		Consensus  int `json:"consensus"`
		Engagement int `json:"engagement"`
	}
	data := make([]preview, 0, len(g.Candidates))
	for _, c := range g.Candidates {
		data = append(data, preview{Candidate: c, Consensus: c.Consensus(), Engagement: c.Best.Engagement})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tag":            g.Tag,
		"data":           data,
		"count":          len(data),
		"scanned":        g.Scanned,
		"excluded":       g.Excluded,
		"failed_domains": g.FailedDomains,
	})
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return false
	}
	return true
}

func intParam(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
