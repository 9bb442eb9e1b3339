package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lineup/internal/stream"
)

// AppendAudit adds one record to the audit log. The log has no update or
// delete path anywhere in this package.
func (s *Store) AppendAudit(ctx context.Context, channelID int64, category, detail, before, after string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO audit_log (channel_id, category, detail, before_json, after_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		channelID, category, nullableString(detail), nullableString(before), nullableString(after),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AuditForChannel returns a channel's audit records oldest first.
func (s *Store) AuditForChannel(ctx context.Context, channelID int64) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, channel_id, category, detail, before_json, after_json, created_at
         FROM audit_log WHERE channel_id = ? ORDER BY id`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RecentAudit returns the newest audit records across all channels.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, channel_id, category, detail, before_json, after_json, created_at
         FROM audit_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAudit(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var (
		entry      AuditEntry
		detail     sql.NullString
		before     sql.NullString
		after      sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&entry.ID, &entry.ChannelID, &entry.Category, &detail, &before, &after, &createdRaw); err != nil {
		return AuditEntry{}, err
	}
	entry.Detail = detail.String
	entry.Before = before.String
	entry.After = after.String
	if created, err := parseTimeString(createdRaw); err == nil {
		entry.CreatedAt = created
	}
	return entry, nil
}

// diagnosticRetainRuns bounds the diagnostics table: saving a run prunes
// every run older than this many.
const diagnosticRetainRuns = 20

// SaveDiagnostics persists one run's skip records and prunes superseded runs.
func (s *Store) SaveDiagnostics(ctx context.Context, runID string, diags []stream.Diagnostic) error {
	if len(diags) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin diagnostics tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	for _, d := range diags {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO diagnostics (run_id, stream_id, stream_text, reason, team1, team2, tier, leagues, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, nullableString(d.StreamID), d.StreamText, string(d.Reason),
			nullableString(d.ParsedTeam1), nullableString(d.ParsedTeam2),
			nullableString(d.TierReached), nullableString(d.LeaguesCheckedString()),
			timestamp,
		); err != nil {
			return fmt.Errorf("insert diagnostic: %w", err)
		}
	}
	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM diagnostics WHERE run_id NOT IN (
             SELECT run_id FROM (
                 SELECT run_id, MAX(id) AS latest FROM diagnostics
                 GROUP BY run_id ORDER BY latest DESC LIMIT ?
             )
         )`,
		diagnosticRetainRuns,
	); err != nil {
		return fmt.Errorf("prune diagnostics: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit diagnostics: %w", err)
	}
	return nil
}

// DiagnosticsForRun returns one run's skip records in insertion order. An
// empty run id selects the most recent run.
func (s *Store) DiagnosticsForRun(ctx context.Context, runID string) ([]StoredDiagnostic, error) {
	if runID == "" {
		row := s.db.QueryRowContext(ctx, `SELECT run_id FROM diagnostics ORDER BY id DESC LIMIT 1`)
		if err := row.Scan(&runID); err != nil {
			return nil, nil
		}
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, stream_id, stream_text, reason, team1, team2, tier, leagues, created_at
         FROM diagnostics WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	var out []StoredDiagnostic
	for rows.Next() {
		var (
			d          StoredDiagnostic
			streamID   sql.NullString
			team1      sql.NullString
			team2      sql.NullString
			tier       sql.NullString
			leagues    sql.NullString
			createdRaw string
		)
		if err := rows.Scan(&d.ID, &d.RunID, &streamID, &d.StreamText, &d.Reason,
			&team1, &team2, &tier, &leagues, &createdRaw); err != nil {
			return nil, err
		}
		d.StreamID = streamID.String
		d.Team1, d.Team2 = team1.String, team2.String
		d.Tier, d.Leagues = tier.String, leagues.String
		if created, err := parseTimeString(createdRaw); err == nil {
			d.CreatedAt = created
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
