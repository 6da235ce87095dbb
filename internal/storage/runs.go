package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bugledger/bugledger/internal/lifecycle"
	"github.com/bugledger/bugledger/internal/report"
)

// Run is a named, mutable pointer to the latest stored analysis for a
// logical target.
type Run struct {
	ID              int64
	Name            string
	CreatedAt       time.Time
	AnalyzerVersion string
	Duration        time.Duration
	FileCount       int
	ReportCount     int
}

// RunHistoryEntry is the immutable snapshot recorded at each store.
type RunHistoryEntry struct {
	ID              int64
	RunID           int64
	RunName         string
	StoredAt        time.Time
	Tag             string
	AnalyzerVersion string
	Duration        time.Duration
	FileCount       int

	// Diff against the previous snapshot of the same run.
	NewCount        int
	ResolvedCount   int
	UnresolvedCount int
}

// StoredReport is a persisted report together with its computed
// detection status.
type StoredReport struct {
	report.Report

	DetectionStatus report.DetectionStatus
}

// refSeparator splits a "run:tag" reference.
const refSeparator = ":"

// StoreRun atomically replaces the live report set of the named run
// with the snapshot and appends a history entry. Either every report of
// the snapshot becomes the live set with matching detection statuses,
// or the run is left exactly as before the call. Concurrent stores to
// the same run name serialize; stores to other names are unaffected.
func (s *Store) StoreRun(ctx context.Context, name string, snap *report.Snapshot, tag string) (RunHistoryEntry, error) {
	mu := s.nameLock(name)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RunHistoryEntry{}, fmt.Errorf("begin store transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after commit

	now := time.Now().UTC()

	runID, runErr := ensureRun(ctx, tx, name, now)
	if runErr != nil {
		return RunHistoryEntry{}, runErr
	}

	tracked, trackedErr := loadTracked(ctx, tx, runID)
	if trackedErr != nil {
		return RunHistoryEntry{}, trackedErr
	}

	entry, historyErr := insertHistory(ctx, tx, runID, name, snap.Analysis, tag, now)
	if historyErr != nil {
		return RunHistoryEntry{}, historyErr
	}

	insertErr := insertReports(ctx, tx, runID, entry.ID, snap.Reports)
	if insertErr != nil {
		return RunHistoryEntry{}, insertErr
	}

	if s.storeFailpoint != nil {
		failErr := s.storeFailpoint()
		if failErr != nil {
			return RunHistoryEntry{}, fmt.Errorf("store interrupted: %w", failErr)
		}
	}

	statuses := lifecycle.Compute(tracked, incomingFindings(snap.Reports), snap.Analysis)

	countsErr := persistDetections(ctx, tx, runID, snap.Reports, statuses, now, &entry)
	if countsErr != nil {
		return RunHistoryEntry{}, countsErr
	}

	_, updateErr := tx.ExecContext(ctx,
		`UPDATE runs SET latest_history_id = ? WHERE id = ?`, entry.ID, runID)
	if updateErr != nil {
		return RunHistoryEntry{}, fmt.Errorf("update run pointer: %w", updateErr)
	}

	_, countErr := tx.ExecContext(ctx,
		`UPDATE run_history SET new_count = ?, resolved_count = ?, unresolved_count = ? WHERE id = ?`,
		entry.NewCount, entry.ResolvedCount, entry.UnresolvedCount, entry.ID)
	if countErr != nil {
		return RunHistoryEntry{}, fmt.Errorf("update history counts: %w", countErr)
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return RunHistoryEntry{}, fmt.Errorf("commit store: %w", commitErr)
	}

	return entry, nil
}

// ensureRun returns the run id for name, creating the run if missing.
func ensureRun(ctx context.Context, tx *sql.Tx, name string, now time.Time) (int64, error) {
	var id int64

	err := tx.QueryRowContext(ctx, `SELECT id FROM runs WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("look up run %q: %w", name, err)
	}

	res, insertErr := tx.ExecContext(ctx,
		`INSERT INTO runs (name, created_at) VALUES (?, ?)`,
		name, now.Format(time.RFC3339Nano))
	if insertErr != nil {
		return 0, fmt.Errorf("create run %q: %w", name, insertErr)
	}

	id, idErr := res.LastInsertId()
	if idErr != nil {
		return 0, fmt.Errorf("create run %q: %w", name, idErr)
	}

	return id, nil
}

// loadTracked reads the detection rows of a run for the lifecycle pass.
func loadTracked(ctx context.Context, tx *sql.Tx, runID int64) ([]lifecycle.TrackedFinding, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT context_hash, checker_name, file, status, fixed_at IS NOT NULL
		 FROM detections WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("load tracked findings: %w", err)
	}
	defer rows.Close()

	var tracked []lifecycle.TrackedFinding

	for rows.Next() {
		var (
			tf     lifecycle.TrackedFinding
			status string
		)

		scanErr := rows.Scan(&tf.ContextHash, &tf.CheckerName, &tf.File, &status, &tf.WasResolved)
		if scanErr != nil {
			return nil, fmt.Errorf("scan tracked finding: %w", scanErr)
		}

		tf.Status = report.DetectionStatus(status)
		tracked = append(tracked, tf)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("load tracked findings: %w", rowsErr)
	}

	return tracked, nil
}

// insertHistory appends the history entry for this store.
func insertHistory(ctx context.Context, tx *sql.Tx, runID int64, name string, info report.AnalysisInfo, tag string, now time.Time) (RunHistoryEntry, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_history (run_id, stored_at, tag, analyzer_version, duration_ms, file_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, now.Format(time.RFC3339Nano), nullable(tag),
		nullable(info.AnalyzerVersion), info.Duration.Milliseconds(), len(info.AnalyzedFiles))
	if err != nil {
		return RunHistoryEntry{}, fmt.Errorf("append history: %w", err)
	}

	id, idErr := res.LastInsertId()
	if idErr != nil {
		return RunHistoryEntry{}, fmt.Errorf("append history: %w", idErr)
	}

	return RunHistoryEntry{
		ID:              id,
		RunID:           runID,
		RunName:         name,
		StoredAt:        now,
		Tag:             tag,
		AnalyzerVersion: info.AnalyzerVersion,
		Duration:        info.Duration,
		FileCount:       len(info.AnalyzedFiles),
	}, nil
}

// insertReports writes the snapshot's report rows.
func insertReports(ctx context.Context, tx *sql.Tx, runID, historyID int64, reports []report.Report) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reports
		(history_id, run_id, context_hash, path_hash, checker_name, severity, file, line, col, message, degraded, bug_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare report insert: %w", err)
	}
	defer stmt.Close()

	for i := range reports {
		rep := &reports[i]
		final := rep.FinalEvent()

		blob, blobErr := encodeBugPath(rep)
		if blobErr != nil {
			return blobErr
		}

		_, execErr := stmt.ExecContext(ctx,
			historyID, runID, rep.ContextHash, rep.PathHash, rep.CheckerName,
			rep.Severity.String(), final.File, final.Line, final.Column,
			final.Message, boolToInt(rep.ContextHashDegraded), blob)
		if execErr != nil {
			return fmt.Errorf("insert report %s: %w", rep.ContextHash, execErr)
		}
	}

	return nil
}

// incomingFindings projects reports into the lifecycle input shape.
func incomingFindings(reports []report.Report) []lifecycle.IncomingFinding {
	incoming := make([]lifecycle.IncomingFinding, 0, len(reports))
	for i := range reports {
		incoming = append(incoming, lifecycle.IncomingFinding{
			ContextHash: reports[i].ContextHash,
			CheckerName: reports[i].CheckerName,
			File:        reports[i].FinalEvent().File,
		})
	}

	return incoming
}

// persistDetections upserts the recomputed statuses and accumulates the
// entry's new/resolved/unresolved counts.
func persistDetections(ctx context.Context, tx *sql.Tx, runID int64, reports []report.Report, statuses map[string]report.DetectionStatus, now time.Time, entry *RunHistoryEntry) error {
	byHash := make(map[string]*report.Report, len(reports))
	for i := range reports {
		byHash[reports[i].ContextHash] = &reports[i]
	}

	// fixed_at sticks once set: a later OFF or UNAVAILABLE store must
	// not erase the evidence that the hash was resolved, or a
	// reappearance after it would read UNRESOLVED instead of REOPENED.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (run_id, context_hash, checker_name, file, status, detected_at, fixed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, context_hash) DO UPDATE SET
		  status = excluded.status,
		  checker_name = excluded.checker_name,
		  file = excluded.file,
		  fixed_at = COALESCE(excluded.fixed_at, detections.fixed_at)`)
	if err != nil {
		return fmt.Errorf("prepare detection upsert: %w", err)
	}
	defer stmt.Close()

	nowStr := now.Format(time.RFC3339Nano)

	for hash, status := range statuses {
		var (
			checker string
			file    string
			fixedAt any
		)

		if rep, present := byHash[hash]; present {
			checker = rep.CheckerName
			file = rep.FinalEvent().File
		} else {
			// Absent hash: keep the tracked checker and file.
			row := tx.QueryRowContext(ctx,
				`SELECT checker_name, file FROM detections WHERE run_id = ? AND context_hash = ?`,
				runID, hash)

			scanErr := row.Scan(&checker, &file)
			if scanErr != nil {
				return fmt.Errorf("look up tracked detection %s: %w", hash, scanErr)
			}
		}

		if status == report.DetectionResolved {
			fixedAt = nowStr
		}

		_, execErr := stmt.ExecContext(ctx, runID, hash, checker, file, string(status), nowStr, fixedAt)
		if execErr != nil {
			return fmt.Errorf("upsert detection %s: %w", hash, execErr)
		}

		switch status {
		case report.DetectionNew, report.DetectionReopened:
			entry.NewCount++
		case report.DetectionResolved:
			entry.ResolvedCount++
		case report.DetectionUnresolved:
			entry.UnresolvedCount++
		case report.DetectionOff, report.DetectionUnavailable:
			// Neither new nor fixed; excluded from the entry counts.
		}
	}

	return nil
}

// GetRun returns the run metadata for name.
func (s *Store) GetRun(ctx context.Context, name string) (Run, error) {
	var (
		run       Run
		createdAt string
		latest    sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, latest_history_id FROM runs WHERE name = ?`, name).
		Scan(&run.ID, &run.Name, &createdAt, &latest)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %q", ErrUnknownRun, name)
	}

	if err != nil {
		return Run{}, fmt.Errorf("get run %q: %w", name, err)
	}

	run.CreatedAt = parseTime(createdAt)

	if !latest.Valid {
		return run, nil
	}

	var durationMS int64

	var version sql.NullString

	metaErr := s.db.QueryRowContext(ctx,
		`SELECT analyzer_version, duration_ms, file_count,
		        (SELECT COUNT(*) FROM reports WHERE history_id = run_history.id)
		 FROM run_history WHERE id = ?`, latest.Int64).
		Scan(&version, &durationMS, &run.FileCount, &run.ReportCount)
	if metaErr != nil {
		return Run{}, fmt.Errorf("get run %q metadata: %w", name, metaErr)
	}

	run.AnalyzerVersion = version.String
	run.Duration = time.Duration(durationMS) * time.Millisecond

	return run, nil
}

// ListRuns returns every stored run ordered by name.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM runs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var names []string

	for rows.Next() {
		var name string

		scanErr := rows.Scan(&name)
		if scanErr != nil {
			return nil, fmt.Errorf("scan run name: %w", scanErr)
		}

		names = append(names, name)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list runs: %w", rowsErr)
	}

	runs := make([]Run, 0, len(names))

	for _, name := range names {
		run, getErr := s.GetRun(ctx, name)
		if getErr != nil {
			return nil, getErr
		}

		runs = append(runs, run)
	}

	return runs, nil
}

// ListHistory returns the run's history entries ordered by store time.
func (s *Store) ListHistory(ctx context.Context, name string) ([]RunHistoryEntry, error) {
	runID, err := s.runID(ctx, name)
	if err != nil {
		return nil, err
	}

	rows, queryErr := s.db.QueryContext(ctx,
		`SELECT id, run_id, stored_at, tag, analyzer_version, duration_ms, file_count,
		        new_count, resolved_count, unresolved_count
		 FROM run_history WHERE run_id = ? ORDER BY stored_at, id`, runID)
	if queryErr != nil {
		return nil, fmt.Errorf("list history of %q: %w", name, queryErr)
	}
	defer rows.Close()

	var entries []RunHistoryEntry

	for rows.Next() {
		var (
			entry      RunHistoryEntry
			storedAt   string
			tag        sql.NullString
			version    sql.NullString
			durationMS int64
		)

		scanErr := rows.Scan(&entry.ID, &entry.RunID, &storedAt, &tag, &version,
			&durationMS, &entry.FileCount, &entry.NewCount, &entry.ResolvedCount,
			&entry.UnresolvedCount)
		if scanErr != nil {
			return nil, fmt.Errorf("scan history entry: %w", scanErr)
		}

		entry.RunName = name
		entry.StoredAt = parseTime(storedAt)
		entry.Tag = tag.String
		entry.AnalyzerVersion = version.String
		entry.Duration = time.Duration(durationMS) * time.Millisecond

		entries = append(entries, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list history of %q: %w", name, rowsErr)
	}

	return entries, nil
}

// RemoveRun deletes the run, its history, reports, and detection
// statuses. Review-status rules survive removal.
func (s *Store) RemoveRun(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("remove run %q: %w", name, err)
	}

	affected, affErr := res.RowsAffected()
	if affErr != nil {
		return fmt.Errorf("remove run %q: %w", name, affErr)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownRun, name)
	}

	return nil
}

// LiveReports returns the current live report set of a run reference.
// A reference is either a run name or "name:tag" selecting the tagged
// history snapshot instead of the latest one.
func (s *Store) LiveReports(ctx context.Context, ref string) ([]StoredReport, error) {
	name, tag := splitRef(ref)

	historyID, err := s.resolveHistoryID(ctx, name, tag)
	if err != nil {
		return nil, err
	}

	runID, runErr := s.runID(ctx, name)
	if runErr != nil {
		return nil, runErr
	}

	rows, queryErr := s.db.QueryContext(ctx,
		`SELECT r.context_hash, r.path_hash, r.checker_name, r.severity, r.degraded, r.bug_path,
		        COALESCE(d.status, '')
		 FROM reports r
		 LEFT JOIN detections d ON d.run_id = ? AND d.context_hash = r.context_hash
		 WHERE r.history_id = ?
		 ORDER BY r.id`, runID, historyID)
	if queryErr != nil {
		return nil, fmt.Errorf("load reports of %q: %w", ref, queryErr)
	}
	defer rows.Close()

	var result []StoredReport

	for rows.Next() {
		var (
			stored   StoredReport
			severity string
			degraded int
			blob     []byte
			status   string
		)

		scanErr := rows.Scan(&stored.ContextHash, &stored.PathHash, &stored.CheckerName,
			&severity, &degraded, &blob, &status)
		if scanErr != nil {
			return nil, fmt.Errorf("scan report: %w", scanErr)
		}

		sev, sevErr := report.ParseSeverity(severity)
		if sevErr != nil {
			return nil, sevErr
		}

		stored.Severity = sev
		stored.ContextHashDegraded = degraded != 0
		stored.DetectionStatus = report.DetectionStatus(status)

		decodeErr := decodeBugPath(blob, &stored.Report)
		if decodeErr != nil {
			return nil, decodeErr
		}

		result = append(result, stored)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("load reports of %q: %w", ref, rowsErr)
	}

	return result, nil
}

// DetectionStatus returns the tracked status of a context hash within a run.
func (s *Store) DetectionStatus(ctx context.Context, contextHash, runName string) (report.DetectionStatus, error) {
	runID, err := s.runID(ctx, runName)
	if err != nil {
		return "", err
	}

	var status string

	scanErr := s.db.QueryRowContext(ctx,
		`SELECT status FROM detections WHERE run_id = ? AND context_hash = ?`,
		runID, contextHash).Scan(&status)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no detection for %s in %q", ErrUnknownRun, contextHash, runName)
	}

	if scanErr != nil {
		return "", fmt.Errorf("detection status of %s: %w", contextHash, scanErr)
	}

	return report.DetectionStatus(status), nil
}

// runID resolves a run name to its id.
func (s *Store) runID(ctx context.Context, name string) (int64, error) {
	var id int64

	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRun, name)
	}

	if err != nil {
		return 0, fmt.Errorf("look up run %q: %w", name, err)
	}

	return id, nil
}

// resolveHistoryID resolves a run name plus optional tag to the history
// entry holding its report set.
func (s *Store) resolveHistoryID(ctx context.Context, name, tag string) (int64, error) {
	if tag == "" {
		var latest sql.NullInt64

		err := s.db.QueryRowContext(ctx,
			`SELECT latest_history_id FROM runs WHERE name = ?`, name).Scan(&latest)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %q", ErrUnknownRun, name)
		}

		if err != nil {
			return 0, fmt.Errorf("resolve run %q: %w", name, err)
		}

		if !latest.Valid {
			return 0, fmt.Errorf("%w: %q has no stored snapshot", ErrUnknownRun, name)
		}

		return latest.Int64, nil
	}

	runID, runErr := s.runID(ctx, name)
	if runErr != nil {
		return 0, runErr
	}

	var id int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM run_history WHERE run_id = ? AND tag = ? ORDER BY stored_at DESC, id DESC LIMIT 1`,
		runID, tag).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q on run %q", ErrUnknownTag, tag, name)
	}

	if err != nil {
		return 0, fmt.Errorf("resolve tag %q on %q: %w", tag, name, err)
	}

	return id, nil
}

// splitRef splits "name:tag" into its parts; a bare name has no tag.
func splitRef(ref string) (name, tag string) {
	idx := strings.Index(ref, refSeparator)
	if idx < 0 {
		return ref, ""
	}

	return ref[:idx], ref[idx+1:]
}

// nullable maps the empty string to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}

// boolToInt stores booleans the SQLite way.
func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// parseTime decodes an RFC3339Nano timestamp, tolerating empty values.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}

	return t
}
