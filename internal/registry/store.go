// Package registry persists managed channels, their stream memberships,
// the append-only audit log, and per-run diagnostics in SQLite.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"lineup/internal/config"
)

// Store manages channel registry persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the registry database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "registry.db"))
}

// OpenPath opens a registry database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// CreateChannel inserts a new channel in the created state and returns the
// stored row.
func (s *Store) CreateChannel(ctx context.Context, ch Channel) (*Channel, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO channels (
            group_id, event_id, league, sport, event_start, name, number,
            marker, canonical_keyword, primary_stream_id, external_id,
            lifecycle, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.Identity.GroupID,
		ch.Identity.EventID,
		ch.League,
		nullableString(ch.Sport),
		nullableTime(&ch.EventStart),
		ch.Name,
		ch.Number,
		ch.Marker,
		nullableString(ch.Identity.CanonicalKeyword),
		nullableString(ch.Identity.PrimaryStreamID),
		nullableString(ch.ExternalID),
		LifecycleCreated,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetChannel(ctx, id)
}

// GetChannel fetches a channel by identifier, nil when absent.
func (s *Store) GetChannel(ctx context.Context, id int64) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

// FindByIdentity returns the live channel with the given identity key, nil
// when no such channel exists. Deleted channels never match.
func (s *Store) FindByIdentity(ctx context.Context, key Identity) (*Channel, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+channelColumns+` FROM channels
         WHERE group_id = ? AND event_id = ?
           AND COALESCE(primary_stream_id, '') = ?
           AND COALESCE(canonical_keyword, '') = ? COLLATE NOCASE
           AND lifecycle != ?`,
		key.GroupID, key.EventID, key.PrimaryStreamID, key.CanonicalKeyword, LifecycleDeleted,
	)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by identity: %w", err)
	}
	return ch, nil
}

// ChannelsForEvent returns live channels for a (group, event) pair ordered
// by channel number.
func (s *Store) ChannelsForEvent(ctx context.Context, groupID int64, eventID string) ([]*Channel, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+channelColumns+` FROM channels
         WHERE group_id = ? AND event_id = ? AND lifecycle != ? ORDER BY number, id`,
		groupID, eventID, LifecycleDeleted,
	)
	if err != nil {
		return nil, fmt.Errorf("query channels for event: %w", err)
	}
	return collectChannels(rows)
}

// List returns channels filtered by lifecycle (all channels when none is
// given), ordered by creation time.
func (s *Store) List(ctx context.Context, lifecycles ...Lifecycle) ([]*Channel, error) {
	baseQuery := `SELECT ` + channelColumns + ` FROM channels`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(lifecycles) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(lifecycles))
		args := make([]any, len(lifecycles))
		for i, lc := range lifecycles {
			args[i] = lc
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE lifecycle IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return collectChannels(rows)
}

// Live returns every channel not in the deleted state.
func (s *Store) Live(ctx context.Context) ([]*Channel, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+channelColumns+` FROM channels WHERE lifecycle != ? ORDER BY created_at, id`,
		LifecycleDeleted,
	)
	if err != nil {
		return nil, fmt.Errorf("list live channels: %w", err)
	}
	return collectChannels(rows)
}

// SetExternal records the external system's channel id and assigned number
// after a successful create.
func (s *Store) SetExternal(ctx context.Context, id int64, externalID string, number int64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE channels SET external_id = ?, number = ?, updated_at = ? WHERE id = ?`,
		externalID, number, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("set external id: %w", err)
	}
	return nil
}

// SetLastError records the failure message from a rejected external write.
func (s *Store) SetLastError(ctx context.Context, id int64, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE channels SET last_error = ?, updated_at = ? WHERE id = ?`,
		nullableString(message), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("set last error: %w", err)
	}
	return nil
}

// SetDeleteAfter schedules a channel for deletion at the given instant.
func (s *Store) SetDeleteAfter(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE channels SET delete_after = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("set delete after: %w", err)
	}
	return nil
}

// DueForDeletion returns live channels whose scheduled delete time has
// passed.
func (s *Store) DueForDeletion(ctx context.Context, now time.Time) ([]*Channel, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+channelColumns+` FROM channels
         WHERE lifecycle != ? AND delete_after IS NOT NULL AND delete_after <= ?
         ORDER BY delete_after`,
		LifecycleDeleted, now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query due deletions: %w", err)
	}
	return collectChannels(rows)
}

// Transition moves a channel to a new lifecycle state. Invalid transitions
// are rejected; every accepted transition appends an audit row. This is the
// only path to the deleted state.
func (s *Store) Transition(ctx context.Context, id int64, to Lifecycle) error {
	ch, err := s.GetChannel(ctx, id)
	if err != nil {
		return err
	}
	if ch == nil {
		return fmt.Errorf("channel %d not found", id)
	}
	if !CanTransition(ch.Lifecycle, to) {
		return fmt.Errorf("invalid lifecycle transition %s -> %s for channel %d", ch.Lifecycle, to, id)
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE channels SET lifecycle = ?, updated_at = ? WHERE id = ?`,
		to, now.Format(time.RFC3339Nano), id,
	); err != nil {
		return fmt.Errorf("update lifecycle: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO audit_log (channel_id, category, detail, before_json, after_json, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, "lifecycle", fmt.Sprintf("%s -> %s", ch.Lifecycle, to),
		string(ch.Lifecycle), string(to), now.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("append lifecycle audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// MaxNumber returns the highest channel number among non-deleted channels,
// or zero when none exist.
func (s *Store) MaxNumber(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(number) FROM channels WHERE lifecycle != ?`, LifecycleDeleted,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("registry max number: %w", err)
	}
	return max.Int64, nil
}

// Stats returns a count of channels grouped by lifecycle.
func (s *Store) Stats(ctx context.Context) (map[Lifecycle]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT lifecycle, COUNT(1) FROM channels GROUP BY lifecycle`)
	if err != nil {
		return nil, fmt.Errorf("registry stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Lifecycle]int)
	for rows.Next() {
		var lc Lifecycle
		var count int
		if err := rows.Scan(&lc, &count); err != nil {
			return nil, err
		}
		stats[lc] = count
	}
	return stats, rows.Err()
}

const channelColumns = "id, group_id, event_id, league, sport, event_start, name, number, marker, canonical_keyword, primary_stream_id, external_id, lifecycle, last_error, delete_after, created_at, updated_at"

func scanChannel(scanner interface{ Scan(dest ...any) error }) (*Channel, error) {
	var (
		id           int64
		groupID      int64
		eventID      string
		league       string
		sport        sql.NullString
		eventStart   sql.NullString
		name         string
		number       int64
		marker       string
		keyword      sql.NullString
		primaryID    sql.NullString
		externalID   sql.NullString
		lifecycleStr string
		lastError    sql.NullString
		deleteAfter  sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id, &groupID, &eventID, &league, &sport, &eventStart, &name, &number,
		&marker, &keyword, &primaryID, &externalID, &lifecycleStr, &lastError,
		&deleteAfter, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	ch := &Channel{
		ID: id,
		Identity: Identity{
			GroupID:          groupID,
			EventID:          eventID,
			PrimaryStreamID:  primaryID.String,
			CanonicalKeyword: keyword.String,
		},
		League:     league,
		Sport:      sport.String,
		Name:       name,
		Number:     number,
		Marker:     marker,
		ExternalID: externalID.String,
		Lifecycle:  Lifecycle(lifecycleStr),
		LastError:  lastError.String,
	}
	if start, err := parseTimeString(eventStart.String); err == nil {
		ch.EventStart = start
	}
	if deleteAfter.Valid {
		if at, err := parseTimeString(deleteAfter.String); err == nil {
			ch.DeleteAfter = &at
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		ch.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		ch.UpdatedAt = updated
	}
	return ch, nil
}

func collectChannels(rows *sql.Rows) ([]*Channel, error) {
	defer rows.Close()
	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
