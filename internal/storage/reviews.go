package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bugledger/bugledger/internal/report"
)

// RuleWithMatches is a review rule plus its live match count across all
// stored runs. A count of zero marks the rule as orphaned.
type RuleWithMatches struct {
	report.ReviewRule

	LiveMatches int
}

// SetReviewRule creates or replaces the rule for its context hash.
func (s *Store) SetReviewRule(ctx context.Context, rule report.ReviewRule) error {
	return s.SetReviewRules(ctx, []report.ReviewRule{rule})
}

// SetReviewRules creates or replaces a batch of rules in a single
// transaction. Either every rule of the batch is applied or none is;
// a bulk import never leaves a half-applied document behind.
func (s *Store) SetReviewRules(ctx context.Context, rules []report.ReviewRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rule batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after commit

	stmt, prepErr := tx.PrepareContext(ctx, `
		INSERT INTO review_rules (context_hash, status, message, author, created_at, checker_scope, file_scope)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(context_hash) DO UPDATE SET
		  status = excluded.status,
		  message = excluded.message,
		  author = excluded.author,
		  checker_scope = excluded.checker_scope,
		  file_scope = excluded.file_scope`)
	if prepErr != nil {
		return fmt.Errorf("prepare rule upsert: %w", prepErr)
	}
	defer stmt.Close()

	now := time.Now().UTC()

	for _, rule := range rules {
		createdAt := rule.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		_, execErr := stmt.ExecContext(ctx,
			rule.ContextHash, string(rule.Status), nullable(rule.Message), nullable(rule.Author),
			createdAt.Format(time.RFC3339Nano), nullable(rule.CheckerScope), nullable(rule.FileScope))
		if execErr != nil {
			return fmt.Errorf("set review rule %s: %w", rule.ContextHash, execErr)
		}
	}

	if s.ruleFailpoint != nil {
		failErr := s.ruleFailpoint()
		if failErr != nil {
			return fmt.Errorf("rule batch interrupted: %w", failErr)
		}
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("commit rule batch: %w", commitErr)
	}

	return nil
}

// GetReviewRule returns the rule for a context hash, or nil when no
// rule exists. Absence of a rule is not an error: review status then
// falls through to in-source annotations.
func (s *Store) GetReviewRule(ctx context.Context, contextHash string) (*report.ReviewRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT context_hash, status, message, author, created_at, checker_scope, file_scope
		FROM review_rules WHERE context_hash = ?`, contextHash)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("get review rule %s: %w", contextHash, err)
	}

	return &rule, nil
}

// ReviewRules returns the rules for a set of context hashes in one
// query. Hashes without a rule are simply absent from the result.
func (s *Store) ReviewRules(ctx context.Context, contextHashes []string) (map[string]report.ReviewRule, error) {
	rules := make(map[string]report.ReviewRule, len(contextHashes))
	if len(contextHashes) == 0 {
		return rules, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(contextHashes)), ",")

	args := make([]any, len(contextHashes))
	for i, hash := range contextHashes {
		args[i] = hash
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT context_hash, status, message, author, created_at, checker_scope, file_scope
		FROM review_rules WHERE context_hash IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load review rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rule      report.ReviewRule
			status    string
			message   sql.NullString
			author    sql.NullString
			createdAt string
			checker   sql.NullString
			file      sql.NullString
		)

		scanErr := rows.Scan(&rule.ContextHash, &status, &message, &author, &createdAt, &checker, &file)
		if scanErr != nil {
			return nil, fmt.Errorf("scan review rule: %w", scanErr)
		}

		rule.Status = report.ReviewStatus(status)
		rule.Message = message.String
		rule.Author = author.String
		rule.CreatedAt = parseTime(createdAt)
		rule.CheckerScope = checker.String
		rule.FileScope = file.String

		rules[rule.ContextHash] = rule
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("load review rules: %w", rowsErr)
	}

	return rules, nil
}

// ListReviewRules returns every rule with its live match count.
func (s *Store) ListReviewRules(ctx context.Context) ([]RuleWithMatches, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rr.context_hash, rr.status, rr.message, rr.author, rr.created_at,
		       rr.checker_scope, rr.file_scope,
		       (SELECT COUNT(*) FROM reports r
		        JOIN runs ON runs.latest_history_id = r.history_id
		        WHERE r.context_hash = rr.context_hash)
		FROM review_rules rr
		ORDER BY rr.created_at, rr.context_hash`)
	if err != nil {
		return nil, fmt.Errorf("list review rules: %w", err)
	}
	defer rows.Close()

	var result []RuleWithMatches

	for rows.Next() {
		var (
			rwm       RuleWithMatches
			status    string
			message   sql.NullString
			author    sql.NullString
			createdAt string
			checker   sql.NullString
			file      sql.NullString
		)

		scanErr := rows.Scan(&rwm.ContextHash, &status, &message, &author, &createdAt,
			&checker, &file, &rwm.LiveMatches)
		if scanErr != nil {
			return nil, fmt.Errorf("scan review rule: %w", scanErr)
		}

		rwm.Status = report.ReviewStatus(status)
		rwm.Message = message.String
		rwm.Author = author.String
		rwm.CreatedAt = parseTime(createdAt)
		rwm.CheckerScope = checker.String
		rwm.FileScope = file.String

		result = append(result, rwm)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list review rules: %w", rowsErr)
	}

	return result, nil
}

// LiveMatchCount counts live reports matching a context hash across all runs.
func (s *Store) LiveMatchCount(ctx context.Context, contextHash string) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reports r
		JOIN runs ON runs.latest_history_id = r.history_id
		WHERE r.context_hash = ?`, contextHash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count live matches of %s: %w", contextHash, err)
	}

	return count, nil
}

// RemoveReviewRule deletes a rule. Deleting a rule with zero live
// matches is the safe path and needs no confirmation. Deleting one with
// live matches requires confirm; the affected reports' review status
// falls back to UNREVIEWED the instant the deleting transaction
// commits, because review status is derived from rules at read time.
// No partial effect is ever visible to a concurrent reader.
func (s *Store) RemoveReviewRule(ctx context.Context, contextHash string, confirm bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rule deletion: %w", err)
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after commit

	var exists int

	existsErr := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_rules WHERE context_hash = ?`, contextHash).Scan(&exists)
	if existsErr != nil {
		return fmt.Errorf("look up rule %s: %w", contextHash, existsErr)
	}

	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRule, contextHash)
	}

	var live int

	liveErr := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reports r
		JOIN runs ON runs.latest_history_id = r.history_id
		WHERE r.context_hash = ?`, contextHash).Scan(&live)
	if liveErr != nil {
		return fmt.Errorf("count live matches of %s: %w", contextHash, liveErr)
	}

	if live > 0 && !confirm {
		return &OrphanRuleConflictError{ContextHash: contextHash, LiveMatches: live}
	}

	_, deleteErr := tx.ExecContext(ctx, `DELETE FROM review_rules WHERE context_hash = ?`, contextHash)
	if deleteErr != nil {
		return fmt.Errorf("delete rule %s: %w", contextHash, deleteErr)
	}

	commitErr := tx.Commit()
	if commitErr != nil {
		return fmt.Errorf("commit rule deletion: %w", commitErr)
	}

	return nil
}

// CleanupOrphanRules removes every rule with zero live matches and
// returns how many were deleted.
func (s *Store) CleanupOrphanRules(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM review_rules
		WHERE (SELECT COUNT(*) FROM reports r
		       JOIN runs ON runs.latest_history_id = r.history_id
		       WHERE r.context_hash = review_rules.context_hash) = 0`)
	if err != nil {
		return 0, fmt.Errorf("cleanup orphan rules: %w", err)
	}

	affected, affErr := res.RowsAffected()
	if affErr != nil {
		return 0, fmt.Errorf("cleanup orphan rules: %w", affErr)
	}

	return int(affected), nil
}

// scanRule reads one rule row.
func scanRule(row *sql.Row) (report.ReviewRule, error) {
	var (
		rule      report.ReviewRule
		status    string
		message   sql.NullString
		author    sql.NullString
		createdAt string
		checker   sql.NullString
		file      sql.NullString
	)

	err := row.Scan(&rule.ContextHash, &status, &message, &author, &createdAt, &checker, &file)
	if err != nil {
		return report.ReviewRule{}, err //nolint:wrapcheck // caller adds context
	}

	rule.Status = report.ReviewStatus(status)
	rule.Message = message.String
	rule.Author = author.String
	rule.CreatedAt = parseTime(createdAt)
	rule.CheckerScope = checker.String
	rule.FileScope = file.String

	return rule, nil
}
