package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/trend"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Snapshot is one tag's position in a past merged ranking.
type Snapshot struct {
	ID          int64     `db:"id" json:"id"`
	RunAt       time.Time `db:"run_at" json:"run_at"`
	Tag         string    `db:"tag" json:"tag"`
	Rank        int       `db:"rank" json:"rank"`
	Score       float64   `db:"score" json:"score"`
	SourceCount int       `db:"source_count" json:"source_count"`
	Total       int       `db:"total" json:"total"`
	DomainsJSON string    `db:"domains" json:"-"`
	Domains     []string  `db:"-" json:"domains"`
}

// Run statuses.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunFailed  = "failed"
)

// Run records one execution of a pipeline stage.
type Run struct {
	ID          int64          `db:"id" json:"id"`
	Stage       string         `db:"stage" json:"stage"`
	StartedAt   time.Time      `db:"started_at" json:"started_at"`
	FinishedAt  sql.NullTime   `db:"finished_at" json:"-"`
	Status      string         `db:"status" json:"status"`
	SummaryJSON string         `db:"summary" json:"-"`
	Summary     map[string]int `db:"-" json:"summary"`
	Error       string         `db:"error" json:"error,omitempty"`
}

// HistoryOpts controls snapshot listing.
type HistoryOpts struct {
	Tag   string
	Since time.Time
	Limit int
}

// Store is the persistence interface.
type Store interface {
	GetStack(ctx context.Context, domain string, maxAge time.Duration) (fedi.Stack, bool, error)
	PutStack(ctx context.Context, domain string, stack fedi.Stack) error

	AddTrendSnapshots(ctx context.Context, runAt time.Time, merged []trend.Merged) error
	TrendHistory(ctx context.Context, opts HistoryOpts) ([]Snapshot, error)

	StartRun(ctx context.Context, stage string) (int64, error)
	FinishRun(ctx context.Context, id int64, summary map[string]int, runErr error) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetStack returns the cached stack for domain unless it is older than maxAge.
// A zero maxAge never expires.
func (s *SQLiteStore) GetStack(ctx context.Context, domain string, maxAge time.Duration) (fedi.Stack, bool, error) {
	var row struct {
		Stack    string    `db:"stack"`
		ProbedAt time.Time `db:"probed_at"`
	}
	err := s.db.GetContext(ctx, &row, "SELECT stack, probed_at FROM domain_stacks WHERE domain = ?", domain)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get stack %s: %w", domain, err)
	}
	if maxAge > 0 && time.Since(row.ProbedAt) > maxAge {
		return "", false, nil
	}
	return fedi.Stack(row.Stack), true, nil
}

func (s *SQLiteStore) PutStack(ctx context.Context, domain string, stack fedi.Stack) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domain_stacks (domain, stack, probed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			stack = excluded.stack,
			probed_at = excluded.probed_at
	`, domain, string(stack), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("put stack %s: %w", domain, err)
	}
	return nil
}

// AddTrendSnapshots stores a merged ranking in one transaction.
func (s *SQLiteStore) AddTrendSnapshots(ctx context.Context, runAt time.Time, merged []trend.Merged) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	for i, m := range merged {
		domainsJSON, _ := json.Marshal(m.SourceDomains)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trend_snapshots (run_at, tag, rank, score, source_count, total, domains)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runAt.UTC(), m.Tag, i+1, m.Score, m.SourceCount, m.Total, string(domainsJSON))
		if err != nil {
			return fmt.Errorf("insert snapshot %s: %w", m.Tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshots: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TrendHistory(ctx context.Context, opts HistoryOpts) ([]Snapshot, error) {
	query := "SELECT * FROM trend_snapshots WHERE 1=1"
	var args []any

	if opts.Tag != "" {
		query += " AND tag = ?"
		args = append(args, fedi.NormalizeTag(opts.Tag))
	}
	if !opts.Since.IsZero() {
		query += " AND run_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	query += " ORDER BY run_at DESC, rank ASC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var snaps []Snapshot
	if err := s.db.SelectContext(ctx, &snaps, query, args...); err != nil {
		return nil, fmt.Errorf("trend history: %w", err)
	}

	for i := range snaps {
		json.Unmarshal([]byte(snaps[i].DomainsJSON), &snaps[i].Domains)
	}
	return snaps, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, stage string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_runs (stage, started_at, status)
		VALUES (?, ?, ?)
	`, stage, time.Now().UTC(), RunRunning)
	if err != nil {
		return 0, fmt.Errorf("start run %s: %w", stage, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id int64, summary map[string]int, runErr error) error {
	summaryJSON, _ := json.Marshal(summary)
	status, msg := RunOK, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE stage_runs SET finished_at = ?, status = ?, summary = ?, error = ?
		WHERE id = ?
	`, time.Now().UTC(), status, string(summaryJSON), msg, id)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	var runs []Run
	err := s.db.SelectContext(ctx, &runs, "SELECT * FROM stage_runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	for i := range runs {
		json.Unmarshal([]byte(runs[i].SummaryJSON), &runs[i].Summary)
	}
	return runs, nil
}
