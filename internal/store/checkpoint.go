package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetCursor returns the checkpointed stream cursor for service.
// ok is false when no checkpoint exists.
func (s *Store) GetCursor(ctx context.Context, service string) (cursor int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT cursor FROM subscription_state WHERE service = ?`,
		service,
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cursor %s: %w", service, err)
	}
	return cursor, true, nil
}

// UpsertCursor records cursor as the checkpoint for service. There is at
// most one row per service.
func (s *Store) UpsertCursor(ctx context.Context, service string, cursor int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert cursor: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscription_state (service, cursor)
		VALUES (?, ?)
		ON CONFLICT(service) DO UPDATE SET cursor = excluded.cursor
	`, service, cursor)
	if err != nil {
		return fmt.Errorf("upsert cursor %s: %w", service, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert cursor: commit: %w", err)
	}
	return nil
}

// DeleteCursor drops the checkpoint for service so the next subscription
// starts from the live head. It reports whether a row was removed.
func (s *Store) DeleteCursor(ctx context.Context, service string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscription_state WHERE service = ?`, service)
	if err != nil {
		return false, fmt.Errorf("delete cursor %s: %w", service, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cursor %s: rows affected: %w", service, err)
	}
	return n > 0, nil
}
