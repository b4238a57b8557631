package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const windowColumns = "id, trainer_id, day_of_week, start_time, end_time, active"

func scanWindows(rows *sql.Rows) ([]AvailabilityWindow, error) {
	defer rows.Close()
	windows := []AvailabilityWindow{}
	for rows.Next() {
		var w AvailabilityWindow
		if err := rows.Scan(&w.ID, &w.TrainerID, &w.DayOfWeek, &w.StartTime, &w.EndTime, &w.Active); err != nil {
			return nil, fmt.Errorf("failed to scan availability row: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// ListAvailability returns the trainer's active windows ordered by day and start.
func (s *SQLStore) ListAvailability(ctx context.Context, trainerID int64) ([]AvailabilityWindow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+windowColumns+" FROM trainer_availability WHERE trainer_id = ? AND active = TRUE ORDER BY day_of_week, start_time"), trainerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability: %w", err)
	}
	return scanWindows(rows)
}

// ListAvailabilityForDay returns the trainer's active windows on dayOfWeek.
func (s *SQLStore) ListAvailabilityForDay(ctx context.Context, trainerID int64, dayOfWeek int) ([]AvailabilityWindow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+windowColumns+" FROM trainer_availability WHERE trainer_id = ? AND day_of_week = ? AND active = TRUE ORDER BY start_time"), trainerID, dayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability for day: %w", err)
	}
	return scanWindows(rows)
}

// CreateAvailabilityWindow inserts an active window. Overlap with another
// active window of the same trainer and day yields ErrConflict.
func (s *SQLStore) CreateAvailabilityWindow(ctx context.Context, w *AvailabilityWindow) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockTrainer(ctx, tx, w.TrainerID); err != nil {
			return err
		}
		var overlapping int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM trainer_availability
			WHERE trainer_id = ? AND day_of_week = ? AND active = TRUE AND start_time < ? AND end_time > ?`),
			w.TrainerID, w.DayOfWeek, w.EndTime, w.StartTime).Scan(&overlapping)
		if err != nil {
			return fmt.Errorf("failed to check window overlap: %w", err)
		}
		if overlapping > 0 {
			return fmt.Errorf("availability window overlaps an existing one: %w", ErrConflict)
		}
		err = tx.QueryRowContext(ctx, s.rebind("INSERT INTO trainer_availability (trainer_id, day_of_week, start_time, end_time, active) VALUES (?, ?, ?, ?, TRUE) RETURNING id"),
			w.TrainerID, w.DayOfWeek, w.StartTime, w.EndTime).Scan(&w.ID)
		if err != nil {
			return wrap("failed to insert availability window", err)
		}
		w.Active = true
		return nil
	})
}

func (s *SQLStore) GetAvailabilityWindow(ctx context.Context, id int64) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT "+windowColumns+" FROM trainer_availability WHERE id = ?"), id).
		Scan(&w.ID, &w.TrainerID, &w.DayOfWeek, &w.StartTime, &w.EndTime, &w.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get availability window: %w", err)
	}
	return &w, nil
}

func (s *SQLStore) DeleteAvailabilityWindow(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM trainer_availability WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete availability window: %w", err)
	}
	return nil
}

// lockTrainer serializes schedule writes for one trainer. SQLite transactions
// already hold the write lock (BEGIN IMMEDIATE); Postgres takes a
// transaction-scoped advisory lock.
func (s *SQLStore) lockTrainer(ctx context.Context, tx *sql.Tx, trainerID int64) error {
	if s.driver != DriverPostgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", trainerID); err != nil {
		return fmt.Errorf("failed to lock trainer schedule: %w", err)
	}
	return nil
}
