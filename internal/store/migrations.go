package store

const schema = `
CREATE TABLE IF NOT EXISTS domain_stacks (
    domain     TEXT PRIMARY KEY,
    stack      TEXT NOT NULL,
    probed_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trend_snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    run_at        DATETIME NOT NULL,
    tag           TEXT NOT NULL,
    rank          INTEGER NOT NULL,
    score         REAL NOT NULL DEFAULT 0,
    source_count  INTEGER NOT NULL DEFAULT 0,
    total         INTEGER NOT NULL DEFAULT 0,
    domains       TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_snapshots_tag ON trend_snapshots(tag);
CREATE INDEX IF NOT EXISTS idx_snapshots_run_at ON trend_snapshots(run_at);

CREATE TABLE IF NOT EXISTS stage_runs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    stage        TEXT NOT NULL,
    started_at   DATETIME NOT NULL,
    finished_at  DATETIME,
    status       TEXT NOT NULL DEFAULT 'running',
    summary      TEXT NOT NULL DEFAULT '{}',
    error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_stage ON stage_runs(stage);
CREATE INDEX IF NOT EXISTS idx_runs_started ON stage_runs(started_at);
`
