// Package storage provides durable state for targets, jobs, slices,
// readings and subscriptions using SQLite. All state transitions of the
// crawl pipeline live here; callers never issue SQL of their own.
package storage

// SchemaV1 is the initial database schema
const SchemaV1 = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	pw_hash TEXT NOT NULL,
	created_ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_targets (
	hashed_dir TEXT PRIMARY KEY,
	canonical_id TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	last_crawled_ts INTEGER
);

CREATE TABLE IF NOT EXISTS crawl_jobs (
	id TEXT PRIMARY KEY,
	created_ts INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	total_slices INTEGER NOT NULL,
	finished_slices INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS crawl_slices (
	job_id TEXT NOT NULL,
	slice_index INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	payload TEXT NOT NULL,
	lease_expires_ts INTEGER,
	PRIMARY KEY (job_id, slice_index)
);

CREATE TABLE IF NOT EXISTS crawl_failures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	hashed_dir TEXT NOT NULL,
	reason TEXT NOT NULL,
	ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS readings (
	hashed_dir TEXT NOT NULL,
	ts INTEGER NOT NULL,
	kwh REAL NOT NULL,
	ok INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (hashed_dir, ts)
);

CREATE TABLE IF NOT EXISTS dorm_latest (
	hashed_dir TEXT PRIMARY KEY,
	last_ts INTEGER NOT NULL,
	last_kwh REAL NOT NULL,
	last_kw REAL,
	r2 REAL
);

CREATE TABLE IF NOT EXISTS subscriptions (
	user_id TEXT NOT NULL,
	hashed_dir TEXT NOT NULL,
	canonical_id TEXT NOT NULL,
	created_ts INTEGER NOT NULL,
	notify_channel TEXT NOT NULL DEFAULT 'none',
	notify_token TEXT,
	threshold_kwh REAL NOT NULL DEFAULT 0,
	within_hours REAL NOT NULL DEFAULT 0,
	cooldown_sec INTEGER NOT NULL DEFAULT 43200,
	last_alert_ts INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, hashed_dir)
);

CREATE INDEX IF NOT EXISTS idx_slices_job_status ON crawl_slices(job_id, status);
CREATE INDEX IF NOT EXISTS idx_failures_job ON crawl_failures(job_id);
CREATE INDEX IF NOT EXISTS idx_readings_dir_ts ON readings(hashed_dir, ts);
CREATE INDEX IF NOT EXISTS idx_subs_dir ON subscriptions(hashed_dir);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`

// Migrations represents all available migrations
var Migrations = []struct {
	Version int
	SQL     string
}{
	{
		Version: 1,
		SQL:     SchemaV1,
	},
}
