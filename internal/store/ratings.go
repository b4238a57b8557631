package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRating inserts a rating. A second rating for the same appointment
// wraps ErrConflict.
func (s *SQLStore) CreateRating(ctx context.Context, r *Rating) error {
	r.CreatedAt = time.Now().UTC()
	err := s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO ratings
		(appointment_id, author_id, target_trainer_id, professional_score, training_score, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		r.AppointmentID, r.AuthorID, r.TargetTrainerID, r.ProfessionalScore, r.TrainingScore, r.Comment, r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return wrap("failed to insert rating", err)
	}
	return nil
}

// TrainerRatingAggregate computes the average professional score and the
// number of ratings received by a trainer.
func (s *SQLStore) TrainerRatingAggregate(ctx context.Context, trainerID int64) (float64, int, error) {
	var avg sql.NullFloat64
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT AVG(professional_score), COUNT(*) FROM ratings WHERE target_trainer_id = ?"), trainerID).
		Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate ratings: %w", err)
	}
	return avg.Float64, count, nil
}

// SetTrainerRating upserts the cached aggregate on the trainer's profile.
func (s *SQLStore) SetTrainerRating(ctx context.Context, trainerID int64, rating float64, total int) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO trainer_profiles (trainer_id, rating, total_ratings, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (trainer_id) DO UPDATE SET rating = excluded.rating, total_ratings = excluded.total_ratings, updated_at = excluded.updated_at`),
		trainerID, rating, total, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update trainer rating: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTrainerRating(ctx context.Context, trainerID int64) (*TrainerRating, error) {
	var tr TrainerRating
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT trainer_id, rating, total_ratings, updated_at FROM trainer_profiles WHERE trainer_id = ?"), trainerID).
		Scan(&tr.TrainerID, &tr.Rating, &tr.TotalRatings, &tr.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trainer rating: %w", err)
	}
	return &tr, nil
}
