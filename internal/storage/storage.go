// Package storage is the persistent run repository: runs, their tagged
// history snapshots, the reports attached to each snapshot, per-finding
// detection statuses, and user-authored review-status rules.
//
// All coordination between concurrent writers happens here. A store for
// one run name is a single serializable transaction; stores to
// different run names and all read queries proceed independently.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // CGO-free SQLite driver
)

// Sentinel errors for repository operations.
var (
	// ErrUnknownRun indicates a run name with no stored run.
	ErrUnknownRun = errors.New("unknown run")
	// ErrUnknownTag indicates a tag that matches no history entry of the run.
	ErrUnknownTag = errors.New("unknown tag")
	// ErrUnknownRule indicates a context hash with no review-status rule.
	ErrUnknownRule = errors.New("unknown review-status rule")
	// ErrRuleHasLiveMatches indicates a rule deletion that would affect
	// live reports without the explicit confirmation flag.
	ErrRuleHasLiveMatches = errors.New("review-status rule has live matching reports")
)

// OrphanRuleConflictError rejects an unconfirmed deletion of a rule
// that still matches live reports.
type OrphanRuleConflictError struct {
	ContextHash string
	LiveMatches int
}

// Error implements the error interface.
func (e *OrphanRuleConflictError) Error() string {
	return fmt.Sprintf("rule %s has %d live matching reports; deletion requires confirmation",
		e.ContextHash, e.LiveMatches)
}

// Unwrap allows errors.Is checks against ErrRuleHasLiveMatches.
func (e *OrphanRuleConflictError) Unwrap() error {
	return ErrRuleHasLiveMatches
}

// Store is the SQLite-backed run repository.
type Store struct {
	db *sql.DB

	// nameLocks serializes StoreRun calls per run name within this
	// process. Cross-process writers serialize on the immediate
	// transaction lock of the database itself.
	nameLocks sync.Map

	// storeFailpoint, when non-nil, is invoked inside the StoreRun
	// transaction after reports are written and before detection
	// statuses are computed. Tests use it to verify atomicity.
	storeFailpoint func() error

	// ruleFailpoint is the SetReviewRules counterpart, invoked after
	// the upserts and before the commit.
	ruleFailpoint func() error
}

// Open opens (and creates if missing) the repository at path.
func Open(path string) (*Store, error) {
	// Pragmas ride the DSN to stay portable with the modernc driver.
	// _txlock=immediate makes write transactions take the database
	// lock at BEGIN, so two stores of the same run serialize cleanly.
	dsn := "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	store := &Store{db: db}

	schemaErr := store.createSchema()
	if schemaErr != nil {
		_ = db.Close() //nolint:errcheck // open failed, close is best effort

		return nil, schemaErr
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close repository: %w", err)
	}

	return nil
}

// Ping verifies the repository is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("ping repository: %w", err)
	}

	return nil
}

// createSchema ensures all tables and indexes exist.
func (s *Store) createSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id                INTEGER PRIMARY KEY AUTOINCREMENT,
  name              TEXT UNIQUE NOT NULL,
  created_at        TEXT NOT NULL,             -- RFC3339Nano
  latest_history_id INTEGER
);

CREATE TABLE IF NOT EXISTS run_history (
  id               INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id           INTEGER NOT NULL,
  stored_at        TEXT NOT NULL,              -- RFC3339Nano
  tag              TEXT,
  analyzer_version TEXT,
  duration_ms      INTEGER NOT NULL DEFAULT 0,
  file_count       INTEGER NOT NULL DEFAULT 0,
  new_count        INTEGER NOT NULL DEFAULT 0,
  resolved_count   INTEGER NOT NULL DEFAULT 0,
  unresolved_count INTEGER NOT NULL DEFAULT 0,
  FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_history_run ON run_history(run_id);

CREATE TABLE IF NOT EXISTS reports (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  history_id   INTEGER NOT NULL,
  run_id       INTEGER NOT NULL,
  context_hash TEXT NOT NULL,
  path_hash    TEXT NOT NULL,
  checker_name TEXT NOT NULL,
  severity     TEXT NOT NULL,
  file         TEXT NOT NULL,
  line         INTEGER NOT NULL,
  col          INTEGER NOT NULL,
  message      TEXT NOT NULL,
  degraded     INTEGER NOT NULL DEFAULT 0,
  bug_path     BLOB NOT NULL,                  -- lz4-compressed JSON
  FOREIGN KEY(history_id) REFERENCES run_history(id) ON DELETE CASCADE,
  FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_reports_history ON reports(history_id);
CREATE INDEX IF NOT EXISTS idx_reports_hash ON reports(context_hash);

CREATE TABLE IF NOT EXISTS detections (
  run_id       INTEGER NOT NULL,
  context_hash TEXT NOT NULL,
  checker_name TEXT NOT NULL,
  file         TEXT NOT NULL,
  status       TEXT NOT NULL,
  detected_at  TEXT NOT NULL,                  -- RFC3339Nano
  fixed_at     TEXT,
  PRIMARY KEY (run_id, context_hash),
  FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS review_rules (
  context_hash  TEXT PRIMARY KEY,
  status        TEXT NOT NULL,
  message       TEXT,
  author        TEXT,
  created_at    TEXT NOT NULL,                 -- RFC3339Nano
  checker_scope TEXT,
  file_scope    TEXT
);
`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// nameLock returns the per-run-name store mutex.
func (s *Store) nameLock(name string) *sync.Mutex {
	lock, _ := s.nameLocks.LoadOrStore(name, &sync.Mutex{})

	mu, ok := lock.(*sync.Mutex)
	if !ok {
		// Unreachable: the map only ever holds *sync.Mutex.
		panic("storage: name lock map holds a non-mutex value")
	}

	return mu
}
