package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddStream attaches a stream to a channel and returns its assigned
// priority. Membership is a set: re-adding an existing stream id is a no-op
// returning its current priority. Own-group streams always order before
// child-group streams; within a source kind, discovery order is kept.
func (s *Store) AddStream(ctx context.Context, channelID int64, streamID string, source StreamSource) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin add stream tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(
		ctx,
		`SELECT priority FROM channel_streams WHERE channel_id = ? AND stream_id = ?`,
		channelID, streamID,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("check stream membership: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO channel_streams (channel_id, stream_id, priority, source_kind, added_at)
         VALUES (?, ?, ?, ?, ?)`,
		channelID, streamID, 1<<30, source, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, fmt.Errorf("insert stream: %w", err)
	}
	if err := resequence(ctx, tx, channelID); err != nil {
		return 0, err
	}

	var priority int
	if err := tx.QueryRowContext(
		ctx,
		`SELECT priority FROM channel_streams WHERE channel_id = ? AND stream_id = ?`,
		channelID, streamID,
	).Scan(&priority); err != nil {
		return 0, fmt.Errorf("read assigned priority: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit add stream: %w", err)
	}
	return priority, nil
}

// RemoveStream detaches a stream and closes the priority gap it leaves.
func (s *Store) RemoveStream(ctx context.Context, channelID int64, streamID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin remove stream tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`DELETE FROM channel_streams WHERE channel_id = ? AND stream_id = ?`,
		channelID, streamID,
	)
	if err != nil {
		return false, fmt.Errorf("delete stream: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if err := resequence(ctx, tx, channelID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit remove stream: %w", err)
	}
	return true, nil
}

// Streams returns a channel's streams ordered by priority.
func (s *Store) Streams(ctx context.Context, channelID int64) ([]ChannelStream, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT channel_id, stream_id, priority, source_kind, added_at
         FROM channel_streams WHERE channel_id = ? ORDER BY priority`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	var streams []ChannelStream
	for rows.Next() {
		var (
			cs       ChannelStream
			source   string
			addedRaw string
		)
		if err := rows.Scan(&cs.ChannelID, &cs.StreamID, &cs.Priority, &source, &addedRaw); err != nil {
			return nil, err
		}
		cs.Source = StreamSource(source)
		if added, err := parseTimeString(addedRaw); err == nil {
			cs.AddedAt = added
		}
		streams = append(streams, cs)
	}
	return streams, rows.Err()
}

// MoveStreams reattaches one channel's streams to another, dropping ids the
// target already holds, and resequences the target. Used by duplicate
// reconciliation so no stream is ever lost in a merge.
func (s *Store) MoveStreams(ctx context.Context, fromChannelID, toChannelID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move streams tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM channel_streams
         WHERE channel_id = ? AND stream_id IN (
             SELECT stream_id FROM channel_streams WHERE channel_id = ?)`,
		fromChannelID, toChannelID,
	); err != nil {
		return fmt.Errorf("drop overlapping streams: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE channel_streams SET channel_id = ? WHERE channel_id = ?`,
		toChannelID, fromChannelID,
	); err != nil {
		return fmt.Errorf("move streams: %w", err)
	}
	if err := resequence(ctx, tx, toChannelID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move streams: %w", err)
	}
	return nil
}

// resequence rewrites a channel's priorities as a dense 0..N-1 sequence
// ordered own-group first, then discovery order.
func resequence(ctx context.Context, tx *sql.Tx, channelID int64) error {
	rows, err := tx.QueryContext(
		ctx,
		`SELECT stream_id FROM channel_streams
         WHERE channel_id = ?
         ORDER BY CASE source_kind WHEN 'own' THEN 0 ELSE 1 END, added_at, rowid`,
		channelID,
	)
	if err != nil {
		return fmt.Errorf("query for resequence: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for priority, id := range ids {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE channel_streams SET priority = ? WHERE channel_id = ? AND stream_id = ?`,
			priority, channelID, id,
		); err != nil {
			return fmt.Errorf("resequence priority: %w", err)
		}
	}
	return nil
}
