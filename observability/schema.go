// Package observability records couponclip runs in SQLite: one row per
// engine operation with its outcome, for operators to query after the fact.
// Rows are written asynchronously so a slow disk never delays a run.
package observability

// Schema is the run event DDL. It lives in the same database as the store
// registry.
const Schema = `
CREATE TABLE IF NOT EXISTS run_events (
    event_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    op TEXT NOT NULL,
    user_id INTEGER NOT NULL DEFAULT 0,
    store TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    clipped INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    transport TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_run_events_time ON run_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_run_events_op ON run_events(op, status);
CREATE INDEX IF NOT EXISTS idx_run_events_user ON run_events(user_id, timestamp DESC);
`
