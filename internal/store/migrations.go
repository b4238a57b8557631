package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

type migration struct {
	version    int
	name       string
	statements []string
}

// Column types differ between SQLite and Postgres; statements use these
// tokens and are expanded per driver.
var sqliteTypes = strings.NewReplacer(
	"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
	"{{bigint}}", "INTEGER",
	"{{ts}}", "DATETIME",
	"{{float}}", "REAL",
)

var postgresTypes = strings.NewReplacer(
	"{{pk}}", "BIGSERIAL PRIMARY KEY",
	"{{bigint}}", "BIGINT",
	"{{ts}}", "TIMESTAMPTZ",
	"{{float}}", "DOUBLE PRECISION",
)

var migrations = []migration{
	{
		version: 1,
		name:    "users and identity mappings",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id {{pk}},
				email TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL DEFAULT '',
				avatar_url TEXT,
				password_hash TEXT NOT NULL DEFAULT '',
				session_id TEXT UNIQUE,
				created_at {{ts}} NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS identity_mappings (
				local_user_id {{bigint}} PRIMARY KEY REFERENCES users (id) ON DELETE CASCADE,
				external_uuid TEXT NOT NULL UNIQUE,
				degraded BOOLEAN NOT NULL DEFAULT FALSE,
				created_at {{ts}} NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "availability, appointments and ratings",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS trainer_availability (
				id {{pk}},
				trainer_id {{bigint}} NOT NULL REFERENCES users (id) ON DELETE CASCADE,
				day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
				start_time TEXT NOT NULL,
				end_time TEXT NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				CHECK (start_time < end_time)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_trainer_availability_day
				ON trainer_availability (trainer_id, day_of_week)`,
			`CREATE TABLE IF NOT EXISTS appointments (
				id {{pk}},
				trainer_id {{bigint}} NOT NULL REFERENCES users (id),
				client_id {{bigint}} NOT NULL REFERENCES users (id),
				appointment_date TEXT NOT NULL,
				start_time TEXT NOT NULL,
				end_time TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				notes TEXT,
				created_at {{ts}} NOT NULL,
				updated_at {{ts}} NOT NULL,
				CHECK (start_time < end_time)
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_active_slot
				ON appointments (trainer_id, appointment_date, start_time)
				WHERE status IN ('pending', 'confirmed')`,
			`CREATE INDEX IF NOT EXISTS idx_appointments_client ON appointments (client_id)`,
			`CREATE TABLE IF NOT EXISTS ratings (
				id {{pk}},
				appointment_id {{bigint}} NOT NULL UNIQUE REFERENCES appointments (id) ON DELETE CASCADE,
				author_id {{bigint}} NOT NULL,
				target_trainer_id {{bigint}} NOT NULL,
				professional_score INTEGER NOT NULL,
				training_score INTEGER NOT NULL,
				comment TEXT NOT NULL DEFAULT '',
				created_at {{ts}} NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ratings_target ON ratings (target_trainer_id)`,
			`CREATE TABLE IF NOT EXISTS trainer_profiles (
				trainer_id {{bigint}} PRIMARY KEY REFERENCES users (id) ON DELETE CASCADE,
				rating {{float}} NOT NULL DEFAULT 0,
				total_ratings INTEGER NOT NULL DEFAULT 0,
				updated_at {{ts}} NOT NULL
			)`,
		},
	},
	{
		version: 3,
		name:    "chat threads and messages",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS chat_threads (
				id TEXT PRIMARY KEY, -- UUID
				participant1_id TEXT NOT NULL,
				participant2_id TEXT NOT NULL,
				pair_low TEXT NOT NULL,
				pair_high TEXT NOT NULL,
				last_message TEXT,
				last_timestamp {{ts}},
				unread_count_p1 INTEGER NOT NULL DEFAULT 0,
				unread_count_p2 INTEGER NOT NULL DEFAULT 0,
				last_sender_id TEXT,
				created_at {{ts}} NOT NULL,
				UNIQUE (pair_low, pair_high)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_threads_p1 ON chat_threads (participant1_id)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_threads_p2 ON chat_threads (participant2_id)`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id TEXT PRIMARY KEY, -- UUID
				chat_id TEXT NOT NULL REFERENCES chat_threads (id) ON DELETE CASCADE,
				sender_id TEXT NOT NULL,
				text TEXT,
				image_url TEXT,
				created_at {{ts}} NOT NULL,
				is_read BOOLEAN NOT NULL DEFAULT FALSE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_chat ON chat_messages (chat_id, created_at)`,
		},
	},
}

// Migrate applies every migration newer than the recorded schema version.
// It runs once at startup; request paths never probe the schema.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.expand(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at {{ts}} NOT NULL
	)`)); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, s.expand(stmt)); err != nil {
					return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
				}
			}
			_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`),
				m.version, m.name, time.Now().UTC())
			return err
		})
		if err != nil {
			return err
		}
		log.Printf("Applied migration %d: %s", m.version, m.name)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) expand(stmt string) string {
	if s.driver == DriverPostgres {
		return postgresTypes.Replace(stmt)
	}
	return sqliteTypes.Replace(stmt)
}
