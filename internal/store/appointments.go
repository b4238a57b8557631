package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const appointmentColumns = "a.id, a.trainer_id, a.client_id, a.appointment_date, a.start_time, a.end_time, a.status, a.notes, a.created_at, a.updated_at"

func scanAppointment(row interface{ Scan(...any) error }, extra ...any) (*Appointment, error) {
	var a Appointment
	var notes sql.NullString
	dest := []any{&a.ID, &a.TrainerID, &a.ClientID, &a.Date, &a.StartTime, &a.EndTime, &a.Status, &notes, &a.CreatedAt, &a.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	a.Notes = stringPtr(notes)
	return &a, nil
}

// ListBookedIntervals returns the pending and confirmed appointments of a
// trainer on date, ordered by start time.
func (s *SQLStore) ListBookedIntervals(ctx context.Context, trainerID int64, date string) ([]Appointment, error) {
	return s.listBooked(ctx, s.db, trainerID, date)
}

func (s *SQLStore) listBooked(ctx context.Context, q querier, trainerID int64, date string) ([]Appointment, error) {
	rows, err := q.QueryContext(ctx, s.rebind("SELECT "+appointmentColumns+` FROM appointments a
		WHERE a.trainer_id = ? AND a.appointment_date = ? AND a.status IN (?, ?) ORDER BY a.start_time`),
		trainerID, date, StatusPending, StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to query booked intervals: %w", err)
	}
	defer rows.Close()
	booked := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment row: %w", err)
		}
		booked = append(booked, *a)
	}
	return booked, rows.Err()
}

// hasOverlap reports whether [start, end) overlaps a pending or confirmed
// appointment of the trainer on date, other than excludeID.
func (s *SQLStore) hasOverlap(ctx context.Context, q querier, trainerID int64, date, start, end string, excludeID int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM appointments
		WHERE trainer_id = ? AND appointment_date = ? AND status IN (?, ?) AND start_time < ? AND end_time > ? AND id <> ?`),
		trainerID, date, StatusPending, StatusConfirmed, end, start, excludeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check appointment overlap: %w", err)
	}
	return n > 0, nil
}

func holdsSlot(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

// CreateAppointment inserts a pending appointment. The overlap check and the
// insert share one transaction holding the trainer's schedule lock; a
// conflict found there or raised by the active-slot unique index wraps
// ErrConflict.
func (s *SQLStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	now := time.Now().UTC()
	a.Status = StatusPending
	a.CreatedAt, a.UpdatedAt = now, now
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockTrainer(ctx, tx, a.TrainerID); err != nil {
			return err
		}
		overlap, err := s.hasOverlap(ctx, tx, a.TrainerID, a.Date, a.StartTime, a.EndTime, 0)
		if err != nil {
			return err
		}
		if overlap {
			return fmt.Errorf("slot already booked: %w", ErrConflict)
		}
		err = tx.QueryRowContext(ctx, s.rebind(`INSERT INTO appointments
			(trainer_id, client_id, appointment_date, start_time, end_time, status, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			a.TrainerID, a.ClientID, a.Date, a.StartTime, a.EndTime, a.Status, nullableString(a.Notes), now, now).Scan(&a.ID)
		if err != nil {
			return wrap("failed to insert appointment", err)
		}
		return nil
	})
}

func (s *SQLStore) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	a, err := scanAppointment(s.db.QueryRowContext(ctx, s.rebind("SELECT "+appointmentColumns+" FROM appointments a WHERE a.id = ?"), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return a, nil
}

// UpdateAppointment applies the non-nil fields and returns the updated row,
// or nil if the appointment does not exist. Moving an inactive appointment
// back to pending or confirmed re-checks its interval under the trainer's
// schedule lock and wraps ErrConflict when the slot was taken meanwhile.
func (s *SQLStore) UpdateAppointment(ctx context.Context, id int64, status, notes *string) (*Appointment, error) {
	found := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanAppointment(tx.QueryRowContext(ctx, s.rebind("SELECT "+appointmentColumns+" FROM appointments a WHERE a.id = ?"), id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load appointment: %w", err)
		}
		found = true

		if status != nil && holdsSlot(*status) && !holdsSlot(current.Status) {
			if err := s.lockTrainer(ctx, tx, current.TrainerID); err != nil {
				return err
			}
			overlap, err := s.hasOverlap(ctx, tx, current.TrainerID, current.Date, current.StartTime, current.EndTime, current.ID)
			if err != nil {
				return err
			}
			if overlap {
				return fmt.Errorf("slot was booked while appointment %d was %s: %w", id, current.Status, ErrConflict)
			}
		}

		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE appointments
			SET status = COALESCE(?, status), notes = COALESCE(?, notes), updated_at = ?
			WHERE id = ?`),
			nullableString(status), nullableString(notes), time.Now().UTC(), id)
		if err != nil {
			return wrap("failed to update appointment", err)
		}
		return nil
	})
	if err != nil || !found {
		return nil, err
	}
	return s.GetAppointment(ctx, id)
}

func (s *SQLStore) DeleteAppointment(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM appointments WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}
	return nil
}

// ListAppointmentsForClient returns the client's appointments, newest first,
// joined with the trainer's profile and whether the client already rated it.
func (s *SQLStore) ListAppointmentsForClient(ctx context.Context, clientID int64, limit int) ([]AppointmentListing, error) {
	query := "SELECT " + appointmentColumns + `, u.name, u.email, u.avatar_url,
		EXISTS (SELECT 1 FROM ratings r WHERE r.appointment_id = a.id)
		FROM appointments a LEFT JOIN users u ON u.id = a.trainer_id
		WHERE a.client_id = ? ORDER BY a.appointment_date DESC, a.start_time DESC LIMIT ?`
	return s.listListings(ctx, query, true, clientID, limit)
}

// ListAppointmentsForTrainer returns the trainer's appointments, newest first,
// joined with each client's profile.
func (s *SQLStore) ListAppointmentsForTrainer(ctx context.Context, trainerID int64, limit int) ([]AppointmentListing, error) {
	query := "SELECT " + appointmentColumns + `, u.name, u.email, u.avatar_url
		FROM appointments a LEFT JOIN users u ON u.id = a.client_id
		WHERE a.trainer_id = ? ORDER BY a.appointment_date DESC, a.start_time DESC LIMIT ?`
	return s.listListings(ctx, query, false, trainerID, limit)
}

func (s *SQLStore) listListings(ctx context.Context, query string, withRated bool, id int64, limit int) ([]AppointmentListing, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()
	listings := []AppointmentListing{}
	for rows.Next() {
		var name, email, avatar sql.NullString
		var rated bool
		extra := []any{&name, &email, &avatar}
		if withRated {
			extra = append(extra, &rated)
		}
		a, err := scanAppointment(rows, extra...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment row: %w", err)
		}
		l := AppointmentListing{
			Appointment:       *a,
			CounterpartName:   stringPtr(name),
			CounterpartEmail:  stringPtr(email),
			CounterpartAvatar: stringPtr(avatar),
		}
		if withRated {
			l.Rated = &rated
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// ListTrainerAppointmentsOn returns the trainer's non-cancelled appointments
// on date ordered by start time.
func (s *SQLStore) ListTrainerAppointmentsOn(ctx context.Context, trainerID int64, date string) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+appointmentColumns+` FROM appointments a
		WHERE a.trainer_id = ? AND a.appointment_date = ? AND a.status <> ? ORDER BY a.start_time`),
		trainerID, date, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to query trainer appointments: %w", err)
	}
	defer rows.Close()
	out := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment row: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
